package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/corral/pkg/executor"
	"github.com/cuemby/corral/pkg/fsm"
	"github.com/cuemby/corral/pkg/store"
	"github.com/cuemby/corral/pkg/types"
)

// stackOps fakes the world lifecycle commands against the real on-disk
// tree: create writes the peer config the VPN container would produce,
// delete removes the world directory.
type stackOps struct {
	st *store.Store

	mu    sync.Mutex
	calls []string

	createErr error
	startErr  error

	// When set, Create blocks between these two channels so tests can
	// observe the daemon mid-create.
	createStarted chan struct{}
	createRelease chan struct{}
}

func (o *stackOps) record(name string, key types.WorldKey) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, name+":"+key.User)
}

func (o *stackOps) Calls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.calls...)
}

func (o *stackOps) Create(ctx context.Context, key types.WorldKey) error {
	if o.createStarted != nil {
		o.createStarted <- struct{}{}
		<-o.createRelease
	}
	o.record("create", key)
	if o.createErr != nil {
		return o.createErr
	}
	writePeerConfig(o.st, key, "[Interface]\nPrivateKey = "+key.User+"\n")
	return nil
}

func (o *stackOps) Start(ctx context.Context, key types.WorldKey) error {
	o.record("start", key)
	return o.startErr
}

func (o *stackOps) Stop(ctx context.Context, key types.WorldKey) error {
	o.record("stop", key)
	return nil
}

func (o *stackOps) Delete(ctx context.Context, key types.WorldKey) error {
	o.record("delete", key)
	return os.RemoveAll(o.st.WorldDir(key.Event, key.User))
}

func writePeerConfig(st *store.Store, key types.WorldKey, content string) {
	path := st.PeerConfigPath(key.Event, key.User)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		panic(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		panic(err)
	}
}

type fakeHealth struct {
	mu     sync.Mutex
	health types.WorldHealth
	err    error
}

func (f *fakeHealth) set(h types.WorldHealth, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health, f.err = h, err
}

func (f *fakeHealth) Evaluate(ctx context.Context, key types.WorldKey) (types.WorldHealth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health, f.err
}

type fakeNetworks struct {
	networks map[string]string
	err      error
	lastName string
}

func (f *fakeNetworks) WireguardNetworks(ctx context.Context, stack string) (map[string]string, error) {
	f.lastName = stack
	return f.networks, f.err
}

type env struct {
	st       *store.Store
	ops      *stackOps
	health   *fakeHealth
	networks *fakeNetworks
	machine  *fsm.Machine
	ts       *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()

	st := store.New(t.TempDir())
	exec := executor.New(4)
	t.Cleanup(exec.Stop)

	e := &env{
		st:       st,
		ops:      &stackOps{st: st},
		health:   &fakeHealth{health: types.HealthUp},
		networks: &fakeNetworks{},
	}
	e.machine = fsm.New(fsm.Config{Ops: e.ops, Health: e.health, Store: st, Executor: exec})
	e.machine.Start()
	t.Cleanup(e.machine.Stop)

	srv := NewServer(e.machine, st, e.networks, e.health, exec)
	e.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(e.ts.Close)
	return e
}

func (e *env) request(t *testing.T, method, path string) (int, string) {
	t.Helper()

	req, err := http.NewRequest(method, e.ts.URL+path, nil)
	require.NoError(t, err)
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestNameValidation(t *testing.T) {
	e := newEnv(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"three char user", "/demo/status/abc", http.StatusUnsupportedMediaType},
		{"three char event", "/abc/status/alice", http.StatusUnsupportedMediaType},
		{"thirty-three char user", "/demo/status/" + strings.Repeat("a", 33), http.StatusUnsupportedMediaType},
		{"dash in user", "/demo/status/al-ce", http.StatusUnsupportedMediaType},
		{"underscore in event", "/de_mo/status/alice", http.StatusUnsupportedMediaType},
		{"four chars pass", "/demo/status/alfa", http.StatusOK},
		{"thirty-two chars pass", "/demo/status/" + strings.Repeat("a", 32), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := e.request(t, http.MethodGet, tt.path)
			assert.Equal(t, tt.want, code)
		})
	}

	assert.Empty(t, e.ops.Calls(), "invalid names must not reach the state machine")
}

func TestNamesFoldToLowercase(t *testing.T) {
	e := newEnv(t)

	code, body := e.request(t, http.MethodPost, "/DEMO/create/ALICE")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "PrivateKey = alice")

	// The folded world is the one the machine tracks.
	assert.Equal(t, types.StateRunning, e.machine.State(types.WorldKey{Event: "demo", User: "alice"}))
	assert.True(t, e.st.WorldExists("demo", "alice"))
}

func TestStatusOfMissingWorld(t *testing.T) {
	e := newEnv(t)

	code, body := e.request(t, http.MethodGet, "/demo/status/bobby")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"state":"notfound"}`, body)
}

func TestFreshCreate(t *testing.T) {
	e := newEnv(t)

	code, body := e.request(t, http.MethodPost, "/demo/create/alice")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "[Interface]\nPrivateKey = alice\n", body)

	assert.Equal(t, types.StateRunning, e.machine.State(types.WorldKey{Event: "demo", User: "alice"}))
	assert.Equal(t, []string{"create:alice", "start:alice"}, e.ops.Calls())
}

func TestCreateIsIdempotent(t *testing.T) {
	e := newEnv(t)

	code, first := e.request(t, http.MethodPost, "/demo/create/alice")
	require.Equal(t, http.StatusOK, code)

	// Replaying create on a running world returns the config again and
	// does no orchestrator work.
	code, second := e.request(t, http.MethodPost, "/demo/create/alice")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, first, second)
	assert.Equal(t, types.StateRunning, e.machine.State(types.WorldKey{Event: "demo", User: "alice"}))
	assert.Equal(t, []string{"create:alice", "start:alice"}, e.ops.Calls())
}

func TestCreateAdoptsExistingWorld(t *testing.T) {
	e := newEnv(t)

	// The world is on disk from a previous daemon run; the stack reports
	// healthy. Create returns the config without building anything.
	key := types.WorldKey{Event: "demo", User: "alice"}
	writePeerConfig(e.st, key, "existing config\n")

	code, body := e.request(t, http.MethodPost, "/demo/create/alice")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "existing config\n", body)
	assert.Equal(t, types.StateRunning, e.machine.State(key))
	assert.Empty(t, e.ops.Calls())
}

func TestCreateFailureAnswers404(t *testing.T) {
	e := newEnv(t)
	e.ops.createErr = errors.New("stack deploy failed")

	code, _ := e.request(t, http.MethodPost, "/demo/create/alice")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, types.StateNotFound, e.machine.State(types.WorldKey{Event: "demo", User: "alice"}))
	assert.Equal(t, []string{"create:alice", "delete:alice"}, e.ops.Calls())
}

func TestResetRunningWorld(t *testing.T) {
	e := newEnv(t)

	code, _ := e.request(t, http.MethodPost, "/demo/create/alice")
	require.Equal(t, http.StatusOK, code)

	code, body := e.request(t, http.MethodPost, "/demo/reset/alice")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"state":"running","health":"up"}`, body)
	assert.Equal(t, []string{"create:alice", "start:alice", "stop:alice", "start:alice"}, e.ops.Calls())
}

func TestResetStoppedWorldJustStarts(t *testing.T) {
	e := newEnv(t)

	// Created but the stack is down: integrity adopts it as stopped.
	key := types.WorldKey{Event: "demo", User: "alice"}
	writePeerConfig(e.st, key, "cfg\n")
	e.health.set(types.HealthDown, nil)

	code, body := e.request(t, http.MethodPost, "/demo/reset/alice")
	require.Equal(t, http.StatusOK, code)

	// The start ran, and the probe taken right after still sees the
	// tasks converging.
	assert.JSONEq(t, `{"state":"running","health":"down"}`, body)
	assert.Equal(t, []string{"start:alice"}, e.ops.Calls())
}

func TestStatusHealthField(t *testing.T) {
	e := newEnv(t)

	code, _ := e.request(t, http.MethodPost, "/demo/create/alice")
	require.Equal(t, http.StatusOK, code)

	t.Run("degraded world reports degraded", func(t *testing.T) {
		e.health.set(types.HealthDegraded, nil)
		code, body := e.request(t, http.MethodGet, "/demo/status/alice")
		require.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `{"state":"running","health":"degraded"}`, body)
	})

	t.Run("probe failure omits health", func(t *testing.T) {
		e.health.set("", errors.New("docker unreachable"))
		code, body := e.request(t, http.MethodGet, "/demo/status/alice")
		require.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `{"state":"running"}`, body)
	})
}

func TestStatusDownWorldLandsStopped(t *testing.T) {
	e := newEnv(t)

	// World exists on disk but every challenge task is down: the
	// integrity check resolves it to stopped, with no health field.
	key := types.WorldKey{Event: "demo", User: "alice"}
	writePeerConfig(e.st, key, "cfg\n")
	e.health.set(types.HealthDown, nil)

	code, body := e.request(t, http.MethodGet, "/demo/status/alice")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"state":"stopped"}`, body)
}

func TestConfigEndpointAndAlias(t *testing.T) {
	e := newEnv(t)

	key := types.WorldKey{Event: "demo", User: "alice"}
	writePeerConfig(e.st, key, "wg config\n")

	for _, path := range []string{"/demo/config/alice", "/demo/wireguard/alice/config"} {
		code, body := e.request(t, http.MethodGet, path)
		require.Equal(t, http.StatusOK, code, path)
		assert.Equal(t, "wg config\n", body, path)
	}

	code, _ := e.request(t, http.MethodGet, "/demo/config/bobby")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestNetworkEndpoint(t *testing.T) {
	e := newEnv(t)

	t.Run("answers the VIP map", func(t *testing.T) {
		e.networks.networks = map[string]string{"internal": "10.0.9.3"}
		code, body := e.request(t, http.MethodGet, "/demo/wireguard/alice/network")
		require.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `{"internal":"10.0.9.3"}`, body)
		assert.Equal(t, "crl-demo-alice", e.networks.lastName)
	})

	t.Run("missing service answers 404", func(t *testing.T) {
		e.networks.networks = nil
		code, _ := e.request(t, http.MethodGet, "/demo/wireguard/alice/network")
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("adapter failure answers 500", func(t *testing.T) {
		e.networks.err = errors.New("docker daemon unreachable")
		code, _ := e.request(t, http.MethodGet, "/demo/wireguard/alice/network")
		assert.Equal(t, http.StatusInternalServerError, code)
	})
}

func TestRequestIDHeader(t *testing.T) {
	e := newEnv(t)

	t.Run("mints an ID when the caller sends none", func(t *testing.T) {
		resp, err := e.ts.Client().Get(e.ts.URL + "/demo/status/alice")
		require.NoError(t, err)
		resp.Body.Close()
		assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	})

	t.Run("echoes the caller's ID", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, e.ts.URL+"/demo/status/alice", nil)
		require.NoError(t, err)
		req.Header.Set("X-Request-Id", "proxy-7f3a")

		resp, err := e.ts.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "proxy-7f3a", resp.Header.Get("X-Request-Id"))
	})
}

func TestStatusNotBlockedByRunningCreate(t *testing.T) {
	e := newEnv(t)
	e.ops.createStarted = make(chan struct{})
	e.ops.createRelease = make(chan struct{})

	createDone := make(chan struct{})
	go func() {
		defer close(createDone)
		code, _ := e.request(t, http.MethodPost, "/demo/create/alice")
		assert.Equal(t, http.StatusOK, code)
	}()

	// alice's create is now blocked inside the worker.
	<-e.ops.createStarted

	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		code, body := e.request(t, http.MethodGet, "/demo/status/bobby")
		assert.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `{"state":"notfound"}`, body)
	}()

	select {
	case <-statusDone:
	case <-time.After(2 * time.Second):
		t.Fatal("status of an unrelated world blocked behind a create")
	}

	close(e.ops.createRelease)
	<-createDone
}
