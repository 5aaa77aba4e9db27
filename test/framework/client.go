package framework

import (
	"context"
	"testing"

	"github.com/cuemby/corral/pkg/client"
	"github.com/cuemby/corral/pkg/types"
)

// Client wraps the corral REST client with test-friendly methods.
type Client struct {
	*client.Client
}

// NewClient creates a test client for the daemon at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{Client: client.New(baseURL)}
}

// MustCreate creates a world and fails the test if the daemon refuses.
// It returns the world's peer config.
func (c *Client) MustCreate(t *testing.T, event, user string) string {
	t.Helper()

	cfg, err := c.CreateWorld(context.Background(), event, user)
	if err != nil {
		t.Fatalf("Failed to create world %s/%s: %v", event, user, err)
	}
	return cfg
}

// MustStatus returns a world's status and fails the test on any error.
func (c *Client) MustStatus(t *testing.T, event, user string) client.Status {
	t.Helper()

	st, err := c.WorldStatus(context.Background(), event, user)
	if err != nil {
		t.Fatalf("Failed to get status of %s/%s: %v", event, user, err)
	}
	return st
}

// MustReset resets a world and fails the test on any error.
func (c *Client) MustReset(t *testing.T, event, user string) client.Status {
	t.Helper()

	st, err := c.ResetWorld(context.Background(), event, user)
	if err != nil {
		t.Fatalf("Failed to reset world %s/%s: %v", event, user, err)
	}
	return st
}

// State returns just the state of a world, failing the test on error.
func (c *Client) State(t *testing.T, event, user string) types.WorldState {
	t.Helper()
	return c.MustStatus(t, event, user).State
}
