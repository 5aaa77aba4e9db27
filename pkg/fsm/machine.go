package fsm

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/executor"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/queue"
	"github.com/cuemby/corral/pkg/types"
)

// Ops runs the blocking world lifecycle commands. Implemented by
// pkg/lifecycle; faked in tests.
type Ops interface {
	Create(ctx context.Context, key types.WorldKey) error
	Start(ctx context.Context, key types.WorldKey) error
	Stop(ctx context.Context, key types.WorldKey) error
	Delete(ctx context.Context, key types.WorldKey) error
}

// HealthEvaluator reports a world's live health. Implemented by
// pkg/health.
type HealthEvaluator interface {
	Evaluate(ctx context.Context, key types.WorldKey) (types.WorldHealth, error)
}

// ConfigStore answers whether a world's peer config exists on disk,
// the persistent marker that the world has been created.
type ConfigStore interface {
	WorldExists(event, user string) bool
}

// Config carries the machine's collaborators.
type Config struct {
	Ops      Ops
	Health   HealthEvaluator
	Store    ConfigStore
	Executor *executor.Executor
	Broker   *events.Broker // optional; nil disables transition publishing
}

// effect is the side work a transition performs after its commit.
type effect int

const (
	effectNone          effect = iota
	effectEnqueueCreate        // push onto the create queue, await the ticket
	effectEnqueueStop          // push onto the stop queue, await the ticket
	effectCheck                // evaluate health, feed the result back as a signal
	effectStart                // run the start op; ok -> up, fail -> fail
	effectDeleteFirst          // run a cleanup delete, then commit
)

type transition struct {
	to     types.WorldState
	effect effect
}

// table is the authoritative transition table. A missing cell means the
// signal does not apply in that state: the machine re-commits the
// current state so the transition log stays complete, and nothing else
// happens.
var table = map[types.WorldState]map[types.WorldSignal]transition{
	types.StateNotFound: {
		types.SignalCreate: {types.StateCreating, effectEnqueueCreate},
		types.SignalCheck:  {types.StateChecking, effectCheck},
	},
	types.StateChecking: {
		types.SignalUp:   {types.StateRunning, effectNone},
		types.SignalDown: {types.StateStopped, effectNone},
		types.SignalFail: {types.StateNotFound, effectNone},
	},
	types.StateCreating: {
		types.SignalDown: {types.StateStopped, effectNone},
		types.SignalFail: {types.StateNotFound, effectDeleteFirst},
	},
	types.StateStopped: {
		types.SignalStart: {types.StateStarting, effectStart},
		types.SignalCheck: {types.StateChecking, effectCheck},
	},
	types.StateStarting: {
		types.SignalUp:   {types.StateRunning, effectNone},
		types.SignalFail: {types.StateStopped, effectNone},
	},
	types.StateRunning: {
		types.SignalStop:  {types.StateStopping, effectEnqueueStop},
		types.SignalCheck: {types.StateChecking, effectCheck},
	},
	types.StateStopping: {
		types.SignalDown: {types.StateStopped, effectNone},
		types.SignalFail: {types.StateStopped, effectNone},
	},
}

// Machine is the per-world state machine. All transitions flow through
// Signal, which serializes the decide-commit step under one mutex; the
// blocking work each transition triggers runs outside the mutex and
// re-enters through fresh signals.
type Machine struct {
	mu     sync.Mutex
	worlds map[types.WorldKey]types.WorldState

	ops    Ops
	health HealthEvaluator
	store  ConfigStore
	exec   *executor.Executor
	broker *events.Broker

	createQ *queue.Serializer
	stopQ   *queue.Serializer

	logger zerolog.Logger
}

// New creates a machine. Start must be called before any create or stop
// signal is sent, otherwise their tickets never resolve.
func New(cfg Config) *Machine {
	m := &Machine{
		worlds: make(map[types.WorldKey]types.WorldState),
		ops:    cfg.Ops,
		health: cfg.Health,
		store:  cfg.Store,
		exec:   cfg.Executor,
		broker: cfg.Broker,
		logger: log.WithComponent("fsm"),
	}

	// The queue consumers run the blocking command, feed its outcome
	// back as a signal, and only then resolve the ticket, so an awaiting
	// request observes the post-operation state.
	m.createQ = queue.NewSerializer("create", func(key types.WorldKey) {
		m.exec.Run(context.Background(), key, "create",
			bind(m.ops.Create, key), types.SignalDown, types.SignalFail, m.Signal)
	})
	m.stopQ = queue.NewSerializer("stop", func(key types.WorldKey) {
		m.exec.Run(context.Background(), key, "stop",
			bind(m.ops.Stop, key), types.SignalDown, types.SignalFail, m.Signal)
	})
	return m
}

// Start launches the create and stop queue consumers.
func (m *Machine) Start() {
	m.createQ.Start()
	m.stopQ.Start()
}

// Stop halts the queue consumers after any in-flight item finishes.
func (m *Machine) Stop() {
	m.createQ.Stop()
	m.stopQ.Stop()
}

// State returns the current state of a world. Worlds never seen before
// are notfound.
func (m *Machine) State(key types.WorldKey) types.WorldState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(key)
}

// StateCounts returns the number of tracked worlds per state. It backs
// the worlds-by-state gauge.
func (m *Machine) StateCounts() map[types.WorldState]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[types.WorldState]int, len(types.WorldStates))
	for _, s := range m.worlds {
		counts[s]++
	}
	return counts
}

// QueueDepths returns the number of pending creates and stops. Used by
// the readiness probe.
func (m *Machine) QueueDepths() (creates, stops int) {
	return m.createQ.Len(), m.stopQ.Len()
}

// Signal is the single funnel every state transition goes through. It
// returns once the signal has fully settled: for create and stop that
// includes the queued operation (or the caller's context expiring),
// for start the blocking deploy, for check the health evaluation and
// the follow-up signal it produces.
func (m *Machine) Signal(ctx context.Context, key types.WorldKey, sig types.WorldSignal) {
	m.mu.Lock()
	from := m.get(key)
	tr, ok := table[from][sig]
	if !ok {
		// No matching cell: re-commit the current state to get the
		// transition line, then stop.
		rec := m.commit(key, from, sig)
		m.mu.Unlock()
		metrics.NoopSignalsTotal.WithLabelValues(string(from), string(sig)).Inc()
		m.publish(rec)
		return
	}

	if tr.effect == effectDeleteFirst {
		// A failed create cleans its lingering files before the world
		// goes back to notfound; the state stays creating while the
		// delete runs.
		m.mu.Unlock()
		m.exec.Run(ctx, key, "delete", bind(m.ops.Delete, key), "", "", nil)
		m.mu.Lock()
		rec := m.commit(key, tr.to, sig)
		m.mu.Unlock()
		m.publish(rec)
		return
	}

	rec := m.commit(key, tr.to, sig)

	// Enqueueing happens under the mutex so the committed state and the
	// pending queue item appear together: a world in creating always
	// has exactly one item in flight.
	var ticket queue.Ticket
	switch tr.effect {
	case effectEnqueueCreate:
		ticket = m.createQ.Enqueue(key)
	case effectEnqueueStop:
		ticket = m.stopQ.Enqueue(key)
	}
	m.mu.Unlock()
	m.publish(rec)

	switch tr.effect {
	case effectEnqueueCreate:
		m.await(ctx, key, ticket, "create")
	case effectEnqueueStop:
		m.await(ctx, key, ticket, "stop")
	case effectCheck:
		m.runCheck(ctx, key)
	case effectStart:
		m.exec.Run(ctx, key, "start",
			bind(m.ops.Start, key), types.SignalUp, types.SignalFail, m.Signal)
	}
}

// CheckIntegrity aligns the tracked state with the on-disk truth. A
// peer config without tracked state, or tracked state without a peer
// config, injects a check signal; anything else is left alone.
func (m *Machine) CheckIntegrity(ctx context.Context, key types.WorldKey) {
	state := m.State(key)
	exists := m.store.WorldExists(key.Event, key.User)
	m.logger.Debug().
		Str("event", key.Event).
		Str("user", key.User).
		Str("state", string(state)).
		Bool("peer_config", exists).
		Msg("Integrity check")

	switch {
	case exists && state == types.StateNotFound:
		m.Signal(ctx, key, types.SignalCheck)
	case !exists && state != types.StateNotFound:
		m.logger.Warn().
			Str("event", key.Event).
			Str("user", key.User).
			Str("state", string(state)).
			Msg("World tracked but peer config missing")
		m.Signal(ctx, key, types.SignalCheck)
	}
}

// get reads the current state without inserting an entry.
func (m *Machine) get(key types.WorldKey) types.WorldState {
	if s, ok := m.worlds[key]; ok {
		return s
	}
	return types.StateNotFound
}

// commit writes the new state and emits the canonical transition line.
// The from state is read at commit time, which matters for the delayed
// commit after a cleanup delete. Callers must hold the mutex.
func (m *Machine) commit(key types.WorldKey, to types.WorldState, sig types.WorldSignal) *types.Transition {
	from := m.get(key)
	m.worlds[key] = to

	m.logger.Info().
		Str("event", key.Event).
		Str("user", key.User).
		Str("signal", string(sig)).
		Msgf("%s -> %s", from, to)
	metrics.TransitionsTotal.WithLabelValues(string(from), string(to), string(sig)).Inc()

	// The ULID is minted inside the funnel so journal order is commit
	// order even though publishing happens outside the mutex.
	return &types.Transition{
		ID:     ulid.Make().String(),
		Event:  key.Event,
		User:   key.User,
		From:   from,
		To:     to,
		Signal: sig,
		Time:   time.Now(),
	}
}

func (m *Machine) publish(rec *types.Transition) {
	if m.broker != nil {
		m.broker.Publish(rec)
	}
}

// await blocks on a queue ticket. A caller that gives up just stops
// observing; the queued work still runs to completion.
func (m *Machine) await(ctx context.Context, key types.WorldKey, ticket queue.Ticket, queueName string) {
	if err := ticket.Wait(ctx); err != nil {
		m.logger.Debug().
			Str("event", key.Event).
			Str("user", key.User).
			Str("queue", queueName).
			Msg("Waiter left before completion; work continues")
	}
}

// runCheck resolves the checking state by evaluating health and feeding
// the verdict back in. Degraded worlds count as alive.
func (m *Machine) runCheck(ctx context.Context, key types.WorldKey) {
	health, err := m.health.Evaluate(ctx, key)
	switch {
	case err != nil:
		m.Signal(ctx, key, types.SignalFail)
	case health == types.HealthDown:
		m.Signal(ctx, key, types.SignalDown)
	default:
		m.Signal(ctx, key, types.SignalUp)
	}
}

func bind(f func(context.Context, types.WorldKey) error, key types.WorldKey) executor.Op {
	return func(ctx context.Context) error { return f(ctx, key) }
}
