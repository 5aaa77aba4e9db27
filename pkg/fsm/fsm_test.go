package fsm

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/executor"
	"github.com/cuemby/corral/pkg/types"
)

type fakeOps struct {
	mu        sync.Mutex
	calls     []string
	active    int
	maxActive int

	delay     time.Duration
	createErr error
	startErr  error
	stopErr   error
	deleteErr error
}

func (f *fakeOps) run(name string, key types.WorldKey, err error) error {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.active--
	f.calls = append(f.calls, name+":"+key.Event+"/"+key.User)
	f.mu.Unlock()
	return err
}

func (f *fakeOps) Create(ctx context.Context, key types.WorldKey) error {
	return f.run("create", key, f.createErr)
}

func (f *fakeOps) Start(ctx context.Context, key types.WorldKey) error {
	return f.run("start", key, f.startErr)
}

func (f *fakeOps) Stop(ctx context.Context, key types.WorldKey) error {
	return f.run("stop", key, f.stopErr)
}

func (f *fakeOps) Delete(ctx context.Context, key types.WorldKey) error {
	return f.run("delete", key, f.deleteErr)
}

func (f *fakeOps) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeOps) MaxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

type fakeHealth struct {
	mu     sync.Mutex
	health types.WorldHealth
	err    error
	calls  int
}

func (f *fakeHealth) Evaluate(ctx context.Context, key types.WorldKey) (types.WorldHealth, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.health, f.err
}

func (f *fakeHealth) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	worlds map[types.WorldKey]bool
}

func (f *fakeStore) WorldExists(event, user string) bool {
	return f.worlds[types.WorldKey{Event: event, User: user}]
}

func newTestMachine(t *testing.T, ops Ops, health HealthEvaluator, store ConfigStore) *Machine {
	t.Helper()

	exec := executor.New(4)
	t.Cleanup(exec.Stop)

	m := New(Config{Ops: ops, Health: health, Store: store, Executor: exec})
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

func seed(m *Machine, key types.WorldKey, state types.WorldState) {
	m.mu.Lock()
	m.worlds[key] = state
	m.mu.Unlock()
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from   types.WorldState
		signal types.WorldSignal
		want   types.WorldState
	}{
		{types.StateChecking, types.SignalUp, types.StateRunning},
		{types.StateChecking, types.SignalDown, types.StateStopped},
		{types.StateChecking, types.SignalFail, types.StateNotFound},
		{types.StateCreating, types.SignalDown, types.StateStopped},
		{types.StateStarting, types.SignalUp, types.StateRunning},
		{types.StateStarting, types.SignalFail, types.StateStopped},
		{types.StateStopping, types.SignalDown, types.StateStopped},
		{types.StateStopping, types.SignalFail, types.StateStopped},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_"+string(tt.signal), func(t *testing.T) {
			m := newTestMachine(t, &fakeOps{}, &fakeHealth{health: types.HealthUp}, &fakeStore{})
			key := types.WorldKey{Event: "demo", User: "alice"}
			seed(m, key, tt.from)

			m.Signal(context.Background(), key, tt.signal)

			assert.Equal(t, tt.want, m.State(key))
		})
	}
}

func TestUnmatchedSignalsKeepState(t *testing.T) {
	tests := []struct {
		from   types.WorldState
		signal types.WorldSignal
	}{
		{types.StateNotFound, types.SignalStart},
		{types.StateNotFound, types.SignalStop},
		{types.StateNotFound, types.SignalUp},
		{types.StateNotFound, types.SignalDown},
		{types.StateNotFound, types.SignalFail},
		{types.StateCreating, types.SignalCreate},
		{types.StateCreating, types.SignalStart},
		{types.StateCreating, types.SignalStop},
		{types.StateCreating, types.SignalCheck},
		{types.StateCreating, types.SignalUp},
		{types.StateChecking, types.SignalCreate},
		{types.StateChecking, types.SignalCheck},
		{types.StateStopped, types.SignalCreate},
		{types.StateStopped, types.SignalStop},
		{types.StateStopped, types.SignalDown},
		{types.StateStarting, types.SignalStart},
		{types.StateStarting, types.SignalCheck},
		{types.StateStarting, types.SignalDown},
		{types.StateRunning, types.SignalCreate},
		{types.StateRunning, types.SignalStart},
		{types.StateRunning, types.SignalUp},
		{types.StateStopping, types.SignalStop},
		{types.StateStopping, types.SignalCheck},
		{types.StateStopping, types.SignalUp},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_"+string(tt.signal), func(t *testing.T) {
			ops := &fakeOps{}
			health := &fakeHealth{health: types.HealthUp}
			m := newTestMachine(t, ops, health, &fakeStore{})
			key := types.WorldKey{Event: "demo", User: "alice"}
			seed(m, key, tt.from)

			m.Signal(context.Background(), key, tt.signal)

			assert.Equal(t, tt.from, m.State(key))
			assert.Empty(t, ops.Calls())
			assert.Zero(t, health.Calls())
		})
	}
}

func TestCreateFlow(t *testing.T) {
	ops := &fakeOps{}
	m := newTestMachine(t, ops, &fakeHealth{health: types.HealthUp}, &fakeStore{})
	key := types.WorldKey{Event: "demo", User: "alice"}

	m.Signal(context.Background(), key, types.SignalCreate)
	assert.Equal(t, types.StateStopped, m.State(key))
	assert.Equal(t, []string{"create:demo/alice"}, ops.Calls())

	m.Signal(context.Background(), key, types.SignalStart)
	assert.Equal(t, types.StateRunning, m.State(key))
	assert.Equal(t, []string{"create:demo/alice", "start:demo/alice"}, ops.Calls())
}

func TestCreateFailureDeletesDebris(t *testing.T) {
	ops := &fakeOps{createErr: errors.New("stack deploy exploded")}
	m := newTestMachine(t, ops, &fakeHealth{health: types.HealthUp}, &fakeStore{})
	key := types.WorldKey{Event: "demo", User: "alice"}

	m.Signal(context.Background(), key, types.SignalCreate)

	assert.Equal(t, types.StateNotFound, m.State(key))
	assert.Equal(t, []string{"create:demo/alice", "delete:demo/alice"}, ops.Calls())
}

func TestStartFailureFallsBackToStopped(t *testing.T) {
	ops := &fakeOps{startErr: errors.New("no such file")}
	m := newTestMachine(t, ops, &fakeHealth{health: types.HealthUp}, &fakeStore{})
	key := types.WorldKey{Event: "demo", User: "alice"}
	seed(m, key, types.StateStopped)

	m.Signal(context.Background(), key, types.SignalStart)

	assert.Equal(t, types.StateStopped, m.State(key))
	assert.Equal(t, []string{"start:demo/alice"}, ops.Calls())
}

func TestStopFlow(t *testing.T) {
	ops := &fakeOps{}
	m := newTestMachine(t, ops, &fakeHealth{health: types.HealthUp}, &fakeStore{})
	key := types.WorldKey{Event: "demo", User: "alice"}
	seed(m, key, types.StateRunning)

	m.Signal(context.Background(), key, types.SignalStop)

	assert.Equal(t, types.StateStopped, m.State(key))
	assert.Equal(t, []string{"stop:demo/alice"}, ops.Calls())
}

func TestStopFailureStillLandsStopped(t *testing.T) {
	ops := &fakeOps{stopErr: errors.New("stack rm failed")}
	m := newTestMachine(t, ops, &fakeHealth{health: types.HealthUp}, &fakeStore{})
	key := types.WorldKey{Event: "demo", User: "alice"}
	seed(m, key, types.StateRunning)

	m.Signal(context.Background(), key, types.SignalStop)

	assert.Equal(t, types.StateStopped, m.State(key))
}

func TestCheckSignal(t *testing.T) {
	tests := []struct {
		name   string
		from   types.WorldState
		health types.WorldHealth
		err    error
		want   types.WorldState
	}{
		{"up promotes to running", types.StateNotFound, types.HealthUp, nil, types.StateRunning},
		{"degraded counts as alive", types.StateStopped, types.HealthDegraded, nil, types.StateRunning},
		{"down lands stopped", types.StateRunning, types.HealthDown, nil, types.StateStopped},
		{"probe failure resets tracking", types.StateStopped, "", errors.New("docker unreachable"), types.StateNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			health := &fakeHealth{health: tt.health, err: tt.err}
			m := newTestMachine(t, &fakeOps{}, health, &fakeStore{})
			key := types.WorldKey{Event: "demo", User: "alice"}
			seed(m, key, tt.from)

			m.Signal(context.Background(), key, types.SignalCheck)

			assert.Equal(t, tt.want, m.State(key))
			assert.Equal(t, 1, health.Calls())
		})
	}
}

func TestCreatesRunOneAtATime(t *testing.T) {
	ops := &fakeOps{delay: 20 * time.Millisecond}
	m := newTestMachine(t, ops, &fakeHealth{health: types.HealthUp}, &fakeStore{})

	users := []string{"alice", "bobby", "carol"}
	var wg sync.WaitGroup
	for _, user := range users {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			m.Signal(context.Background(), types.WorldKey{Event: "demo", User: user}, types.SignalCreate)
		}(user)
	}
	wg.Wait()

	assert.Equal(t, 1, ops.MaxActive(), "creates must never overlap")
	for _, user := range users {
		assert.Equal(t, types.StateStopped, m.State(types.WorldKey{Event: "demo", User: user}))
	}
	assert.Len(t, ops.Calls(), len(users))
}

func TestAbandonedCreateStillCompletes(t *testing.T) {
	ops := &fakeOps{delay: 30 * time.Millisecond}
	m := newTestMachine(t, ops, &fakeHealth{health: types.HealthUp}, &fakeStore{})
	key := types.WorldKey{Event: "demo", User: "alice"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Signal(ctx, key, types.SignalCreate)

	assert.Eventually(t, func() bool {
		return m.State(key) == types.StateStopped
	}, 2*time.Second, 10*time.Millisecond, "abandoned create should still finish")
	assert.Equal(t, []string{"create:demo/alice"}, ops.Calls())
}

func TestCheckIntegrity(t *testing.T) {
	key := types.WorldKey{Event: "demo", User: "alice"}

	t.Run("adopts world with orphan config", func(t *testing.T) {
		store := &fakeStore{worlds: map[types.WorldKey]bool{key: true}}
		health := &fakeHealth{health: types.HealthUp}
		m := newTestMachine(t, &fakeOps{}, health, store)

		m.CheckIntegrity(context.Background(), key)

		assert.Equal(t, types.StateRunning, m.State(key))
		assert.Equal(t, 1, health.Calls())
	})

	t.Run("reprobes tracked world with missing config", func(t *testing.T) {
		health := &fakeHealth{health: types.HealthDown}
		m := newTestMachine(t, &fakeOps{}, health, &fakeStore{})
		seed(m, key, types.StateRunning)

		m.CheckIntegrity(context.Background(), key)

		assert.Equal(t, types.StateStopped, m.State(key))
		assert.Equal(t, 1, health.Calls())
	})

	t.Run("aligned world left alone", func(t *testing.T) {
		store := &fakeStore{worlds: map[types.WorldKey]bool{key: true}}
		health := &fakeHealth{health: types.HealthUp}
		m := newTestMachine(t, &fakeOps{}, health, store)
		seed(m, key, types.StateRunning)

		m.CheckIntegrity(context.Background(), key)

		assert.Equal(t, types.StateRunning, m.State(key))
		assert.Zero(t, health.Calls())
	})

	t.Run("unknown world left alone", func(t *testing.T) {
		health := &fakeHealth{health: types.HealthUp}
		m := newTestMachine(t, &fakeOps{}, health, &fakeStore{})

		m.CheckIntegrity(context.Background(), key)

		assert.Equal(t, types.StateNotFound, m.State(key))
		assert.Zero(t, health.Calls())
	})
}

func TestStateCounts(t *testing.T) {
	m := newTestMachine(t, &fakeOps{}, &fakeHealth{health: types.HealthUp}, &fakeStore{})
	seed(m, types.WorldKey{Event: "demo", User: "alice"}, types.StateRunning)
	seed(m, types.WorldKey{Event: "demo", User: "bobby"}, types.StateRunning)
	seed(m, types.WorldKey{Event: "expo", User: "carol"}, types.StateStopped)

	counts := m.StateCounts()

	assert.Equal(t, 2, counts[types.StateRunning])
	assert.Equal(t, 1, counts[types.StateStopped])
	assert.Zero(t, counts[types.StateCreating])
}

func TestTransitionsArePublished(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	exec := executor.New(4)
	t.Cleanup(exec.Stop)
	m := New(Config{
		Ops:      &fakeOps{},
		Health:   &fakeHealth{health: types.HealthUp},
		Store:    &fakeStore{},
		Executor: exec,
		Broker:   broker,
	})
	m.Start()
	t.Cleanup(m.Stop)

	key := types.WorldKey{Event: "demo", User: "alice"}
	m.Signal(context.Background(), key, types.SignalCreate)

	var recs []*types.Transition
	for len(recs) < 2 {
		select {
		case tr := <-sub:
			recs = append(recs, tr)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for transitions, got %d", len(recs))
		}
	}

	// Delivery order is not guaranteed, commit order is: the ULID keys
	// sort records the way the journal stores them.
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })

	require.Len(t, recs, 2)
	assert.Equal(t, types.StateNotFound, recs[0].From)
	assert.Equal(t, types.StateCreating, recs[0].To)
	assert.Equal(t, types.SignalCreate, recs[0].Signal)
	assert.Equal(t, types.StateCreating, recs[1].From)
	assert.Equal(t, types.StateStopped, recs[1].To)
	assert.Equal(t, types.SignalDown, recs[1].Signal)
	assert.Less(t, recs[0].ID, recs[1].ID, "journal keys must sort in commit order")
}
