package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/corral/pkg/types"
)

// Waiter polls conditions with a timeout. The in-process daemon settles
// fast, so the defaults are tighter than they would be against a real
// cluster.
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a Waiter with the given timeout and polling interval.
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{timeout: timeout, interval: interval}
}

// DefaultWaiter returns a waiter suited to harness tests (5s timeout,
// 20ms interval).
func DefaultWaiter() *Waiter {
	return NewWaiter(5*time.Second, 20*time.Millisecond)
}

// WaitFor waits for a condition to become true.
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if condition() {
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitForState waits for a world to reach the given lifecycle state.
func (w *Waiter) WaitForState(ctx context.Context, c *Client, event, user string, state types.WorldState) error {
	return w.WaitFor(ctx, func() bool {
		st, err := c.WorldStatus(ctx, event, user)
		if err != nil {
			return false
		}
		return st.State == state
	}, fmt.Sprintf("world %s/%s to reach state %s", event, user, state))
}

// WaitForHealth waits for a running world to report the given health.
func (w *Waiter) WaitForHealth(ctx context.Context, c *Client, event, user string, health types.WorldHealth) error {
	return w.WaitFor(ctx, func() bool {
		st, err := c.WorldStatus(ctx, event, user)
		if err != nil {
			return false
		}
		return st.Health == health
	}, fmt.Sprintf("world %s/%s to report health %s", event, user, health))
}
