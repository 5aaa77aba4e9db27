package framework

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cuemby/corral/pkg/client"
	"github.com/cuemby/corral/pkg/types"
)

// Assertions provides world-level assertion helpers over a test client.
type Assertions struct {
	t *testing.T
	c *Client
}

// NewAssertions creates an Assertions instance bound to one daemon.
func NewAssertions(t *testing.T, c *Client) *Assertions {
	return &Assertions{t: t, c: c}
}

// StateIs asserts a world's current lifecycle state.
func (a *Assertions) StateIs(event, user string, want types.WorldState) {
	a.t.Helper()

	got := a.c.State(a.t, event, user)
	if got != want {
		a.t.Fatalf("World %s/%s is %s, want %s", event, user, got, want)
	}
}

// HealthIs asserts the health a running world reports.
func (a *Assertions) HealthIs(event, user string, want types.WorldHealth) {
	a.t.Helper()

	st := a.c.MustStatus(a.t, event, user)
	if st.Health != want {
		a.t.Fatalf("World %s/%s reports health %q, want %q (state %s)", event, user, st.Health, want, st.State)
	}
}

// ConfigContains asserts the world's peer config is served and carries
// the given substring.
func (a *Assertions) ConfigContains(event, user, substr string) {
	a.t.Helper()

	cfg, err := a.c.PeerConfig(context.Background(), event, user)
	if err != nil {
		a.t.Fatalf("Failed to fetch peer config of %s/%s: %v", event, user, err)
	}
	if !strings.Contains(cfg, substr) {
		a.t.Fatalf("Peer config of %s/%s does not contain %q:\n%s", event, user, substr, cfg)
	}
}

// NoConfig asserts the world has no peer config to serve.
func (a *Assertions) NoConfig(event, user string) {
	a.t.Helper()

	_, err := a.c.PeerConfig(context.Background(), event, user)
	if !errors.Is(err, client.ErrNotFound) {
		a.t.Fatalf("Expected no peer config for %s/%s, got err=%v", event, user, err)
	}
}
