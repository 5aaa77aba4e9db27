package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cuemby/corral/pkg/types"
)

var (
	// ErrNotFound is returned when the world's artifact does not exist:
	// the peer config has not been written yet, or the VPN service is
	// not in the swarm.
	ErrNotFound = errors.New("not found")

	// ErrInvalidName is returned when corrald rejects an event or user
	// name before doing any work.
	ErrInvalidName = errors.New("invalid name")
)

// Status is one world's state as reported by corrald. Health is only
// present while the world is running.
type Status struct {
	State  types.WorldState  `json:"state"`
	Health types.WorldHealth `json:"health,omitempty"`
}

// Client is a typed client for corrald's REST API.
//
// Calls carry no internal timeout: a create request legitimately stays
// open across a full stack deploy, so deadlines are the caller's job
// via the context.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the corrald instance at baseURL, such as
// "http://127.0.0.1:5000".
func New(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{},
	}
}

// CreateWorld builds the world if needed, starts it if it is stopped,
// and returns its VPN peer config. Replaying it on a live world just
// returns the config again.
func (c *Client) CreateWorld(ctx context.Context, event, user string) (string, error) {
	return c.text(ctx, http.MethodPost, c.worldPath(event, "create", user))
}

// ResetWorld bounces the world (stop if running, then start) and
// returns the status at the moment of reply.
func (c *Client) ResetWorld(ctx context.Context, event, user string) (Status, error) {
	return c.status(ctx, http.MethodPost, c.worldPath(event, "reset", user))
}

// WorldStatus returns the world's current state, with live health while
// it is running.
func (c *Client) WorldStatus(ctx context.Context, event, user string) (Status, error) {
	return c.status(ctx, http.MethodGet, c.worldPath(event, "status", user))
}

// PeerConfig returns the world's VPN peer config.
func (c *Client) PeerConfig(ctx context.Context, event, user string) (string, error) {
	return c.text(ctx, http.MethodGet, c.worldPath(event, "config", user))
}

// WireguardNetworks returns the world VPN service's virtual IP per
// attached network.
func (c *Client) WireguardNetworks(ctx context.Context, event, user string) (map[string]string, error) {
	path := fmt.Sprintf("/%s/wireguard/%s/network", url.PathEscape(event), url.PathEscape(user))
	body, err := c.do(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	var networks map[string]string
	if err := json.Unmarshal(body, &networks); err != nil {
		return nil, fmt.Errorf("failed to parse network response: %w", err)
	}
	return networks, nil
}

func (c *Client) worldPath(event, op, user string) string {
	return fmt.Sprintf("/%s/%s/%s", url.PathEscape(event), op, url.PathEscape(user))
}

func (c *Client) text(ctx context.Context, method, path string) (string, error) {
	body, err := c.do(ctx, method, path)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (c *Client) status(ctx context.Context, method, path string) (Status, error) {
	body, err := c.do(ctx, method, path)
	if err != nil {
		return Status{}, err
	}

	var st Status
	if err := json.Unmarshal(body, &st); err != nil {
		return Status{}, fmt.Errorf("failed to parse status response: %w", err)
	}
	return st, nil
}

// do performs one request and maps corrald's error codes to the
// package's sentinel errors.
func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	case http.StatusUnsupportedMediaType:
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrInvalidName)
	default:
		return nil, fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
