package executor

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/alitto/pond"
	"github.com/rs/zerolog"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/types"
)

// Op is a blocking lifecycle operation such as a stack deploy
type Op func(ctx context.Context) error

// SignalFunc feeds a completion signal back into the state machine
type SignalFunc func(ctx context.Context, key types.WorldKey, sig types.WorldSignal)

// Executor runs blocking operations on a bounded worker pool and maps
// each outcome to a state machine signal
type Executor struct {
	pool   *pond.WorkerPool
	logger zerolog.Logger
}

// New creates an executor with the given number of workers
func New(workers int) *Executor {
	return &Executor{
		pool:   pond.New(workers, 1000),
		logger: log.WithComponent("executor"),
	}
}

// Stop waits for in-flight operations and shuts the pool down
func (e *Executor) Stop() {
	e.pool.StopAndWait()
}

// Do runs fn on the pool and blocks until it returns. A panic inside fn
// is recovered, logged with its stack and returned as an error; it never
// reaches the pool worker. The parameter is the plain function type so
// the executor satisfies the narrow Runner interfaces other packages
// declare for it.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	e.pool.SubmitAndWait(func() {
		defer func() {
			if p := recover(); p != nil {
				e.logger.Error().
					Interface("panic", p).
					Str("stack", string(debug.Stack())).
					Msg("Recovered panic in blocking operation")
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		err = fn(ctx)
	})
	return err
}

// Run executes op on the pool, waits for it, and then dispatches the
// matching completion signal from the calling goroutine. A nil error
// sends ok, an error or a panic sends fail; either signal may be empty
// to skip dispatch. Errors are never returned to the caller.
func (e *Executor) Run(ctx context.Context, key types.WorldKey, name string, op Op, ok, fail types.WorldSignal, signal SignalFunc) {
	timer := metrics.NewTimer()
	err := e.Do(ctx, op)
	timer.ObserveDurationVec(metrics.OpDuration, name)

	if err != nil {
		e.logger.Error().
			Err(err).
			Str("event", key.Event).
			Str("user", key.User).
			Str("op", name).
			Msg("Operation failed")
		metrics.OpFailures.WithLabelValues(name).Inc()
		if fail != "" {
			signal(ctx, key, fail)
		}
		return
	}

	e.logger.Info().
		Str("event", key.Event).
		Str("user", key.User).
		Str("op", name).
		Msg("Operation succeeded")
	if ok != "" {
		signal(ctx, key, ok)
	}
}
