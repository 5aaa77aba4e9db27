package ports

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client asks a running portd for free ports over its unix socket. The
// request URL host is a placeholder; all traffic dials the socket.
type Client struct {
	http *http.Client
}

// NewClient creates a client for the portd socket at the given path
func NewClient(socket string) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socket)
				},
			},
		},
	}
}

// FreePort returns one free TCP port outside the blacklist
func (c *Client) FreePort(ctx context.Context, blacklist []int) (int, error) {
	params := url.Values{}
	for _, p := range blacklist {
		params.Add("blacklist", strconv.Itoa(p))
	}

	u := url.URL{Scheme: "http", Host: "portd", Path: "/", RawQuery: params.Encode()}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build portd request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("portd request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read portd response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("portd returned %d: %s", resp.StatusCode, body)
	}

	port, err := strconv.Atoi(string(body))
	if err != nil {
		return 0, fmt.Errorf("portd returned a non-numeric port %q: %w", body, err)
	}
	if port <= 0 {
		return 0, fmt.Errorf("portd returned port %d out of range", port)
	}
	return port, nil
}
