package health

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/types"
)

// VPNService is the service short-name of the wireguard gateway. It is
// excluded from health: the gateway being up says nothing about the
// challenges behind it.
const VPNService = "wireguard"

// Derive computes a world's health from its stack tasks. An empty task
// list means the stack is gone or was never deployed, which counts as
// down rather than an error.
func Derive(tasks []types.StackTask) types.WorldHealth {
	var total, up int
	for _, t := range tasks {
		if t.Service == VPNService {
			continue
		}
		total++
		if t.Up {
			up++
		}
	}

	switch {
	case total == 0:
		return types.HealthDown
	case up == total:
		return types.HealthUp
	case up > 0:
		return types.HealthDegraded
	default:
		return types.HealthDown
	}
}

// TaskLister is the slice of the orchestrator adapter the checker needs.
type TaskLister interface {
	StackTasks(ctx context.Context, stack string) ([]types.StackTask, error)
}

// Runner runs a blocking function off the caller's goroutine.
type Runner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Checker evaluates world health by listing the world's stack tasks
// through the blocking executor.
type Checker struct {
	tasks  TaskLister
	runner Runner
	logger zerolog.Logger
}

// NewChecker creates a checker over the given adapter and executor
func NewChecker(tasks TaskLister, runner Runner) *Checker {
	return &Checker{
		tasks:  tasks,
		runner: runner,
		logger: log.WithComponent("health"),
	}
}

// Evaluate returns the current health of a world. An adapter failure is
// returned as an error; callers map it to a fail signal or omit health
// from their response.
func (c *Checker) Evaluate(ctx context.Context, key types.WorldKey) (types.WorldHealth, error) {
	start := time.Now()

	var tasks []types.StackTask
	err := c.runner.Do(ctx, func(ctx context.Context) error {
		var err error
		tasks, err = c.tasks.StackTasks(ctx, key.StackName())
		return err
	})
	if err != nil {
		metrics.HealthChecksTotal.WithLabelValues("fail").Inc()
		c.logger.Error().Err(err).
			Str("event", key.Event).
			Str("user", key.User).
			Msg("Health evaluation failed")
		return "", err
	}

	h := Derive(tasks)
	metrics.HealthChecksTotal.WithLabelValues(string(h)).Inc()
	c.logger.Debug().
		Str("event", key.Event).
		Str("user", key.User).
		Str("health", string(h)).
		Int("tasks", len(tasks)).
		Dur("took", time.Since(start)).
		Msg("Health evaluated")
	return h, nil
}
