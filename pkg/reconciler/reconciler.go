package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/alitto/pond"
	"github.com/rs/zerolog"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/types"
)

// Machine is the slice of the state machine the reconciler drives.
type Machine interface {
	CheckIntegrity(ctx context.Context, key types.WorldKey)
}

// WorldLister enumerates the worlds present on disk. Implemented by
// pkg/store.
type WorldLister interface {
	Worlds() ([]types.WorldKey, error)
}

// Reconciler aligns tracked state with the on-disk world tree: once at
// startup, and optionally on a timer.
type Reconciler struct {
	machine  Machine
	store    WorldLister
	interval time.Duration
	parallel int

	stopCh chan struct{}
	done   chan struct{}
	logger zerolog.Logger
}

// New creates a reconciler. A zero interval disables the periodic
// sweep; Hydrate is unaffected.
func New(machine Machine, store WorldLister, interval time.Duration) *Reconciler {
	return &Reconciler{
		machine:  machine,
		store:    store,
		interval: interval,
		parallel: 8,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		logger:   log.WithComponent("reconciler"),
	}
}

// Hydrate runs one integrity pass over every world directory on disk
// and returns once all checks have settled. The daemon calls it after
// the queue workers start, so any create or stop the checks trigger has
// a consumer.
func (r *Reconciler) Hydrate(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration)
		metrics.ReconcileCyclesTotal.Inc()
	}()

	worlds, err := r.store.Worlds()
	if err != nil {
		return fmt.Errorf("enumerate worlds: %w", err)
	}
	if len(worlds) == 0 {
		r.logger.Info().Msg("No worlds on disk")
		return nil
	}

	r.logger.Info().Int("worlds", len(worlds)).Msg("Reconciling on-disk worlds")

	// The checks get their own pool. They funnel blocking docker calls
	// through the shared executor, so fanning out on that same pool
	// would have its workers waiting on themselves.
	pool := pond.New(r.parallel, len(worlds))
	group := pool.Group()
	for _, key := range worlds {
		key := key
		group.Submit(func() {
			r.machine.CheckIntegrity(ctx, key)
		})
	}
	group.Wait()
	pool.StopAndWait()

	r.logger.Info().Int("worlds", len(worlds)).Msg("Reconciliation pass done")
	return nil
}

// Start launches the periodic sweep goroutine. It must be paired with
// Stop even when the sweep is disabled.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop halts the periodic sweep and waits for an in-flight pass to
// finish.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.done
}

func (r *Reconciler) run() {
	defer close(r.done)

	if r.interval <= 0 {
		r.logger.Info().Msg("Periodic sweep disabled")
		<-r.stopCh
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("Periodic sweep running")
	for {
		select {
		case <-ticker.C:
			if err := r.Hydrate(context.Background()); err != nil {
				r.logger.Error().Err(err).Msg("Sweep failed")
			}
		case <-r.stopCh:
			return
		}
	}
}
