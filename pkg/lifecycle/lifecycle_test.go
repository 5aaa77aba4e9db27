package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/corral/pkg/store"
	"github.com/cuemby/corral/pkg/types"
)

const eventDescriptor = `services:
  scoreboard:
    image: corral/scoreboard:1.2
    ports:
      - "5000:80"
x-world:
  services:
    wireguard:
      image: linuxserver/wireguard:latest
      ports:
        - "${WORLD_PORT}:51820/udp"
      volumes:
        - ${CONFIG_DIR}/Events/${WORLD_EVENT}/${WORLD_USER}/peer:/config
    challenge:
      image: corral/challenge:latest
      environment:
        WORLD_USER: ${WORLD_USER}
      restart: always
`

type deployCall struct {
	file  string
	stack string
}

type fakeSwarm struct {
	mu       sync.Mutex
	deploys  []deployCall
	removes  []string
	onDeploy func(file, stack string) error
	remErr   error
}

func (f *fakeSwarm) StackDeploy(ctx context.Context, composeFile, stack string) error {
	f.mu.Lock()
	f.deploys = append(f.deploys, deployCall{file: composeFile, stack: stack})
	f.mu.Unlock()

	if f.onDeploy != nil {
		return f.onDeploy(composeFile, stack)
	}
	return nil
}

func (f *fakeSwarm) StackRemove(ctx context.Context, stack string) error {
	f.mu.Lock()
	f.removes = append(f.removes, stack)
	f.mu.Unlock()
	return f.remErr
}

type fakePorts struct {
	port      int
	err       error
	blacklist []int
}

func (f *fakePorts) FreePort(ctx context.Context, blacklist []int) (int, error) {
	f.blacklist = blacklist
	return f.port, f.err
}

func writeEventDescriptor(t *testing.T, st *store.Store, event string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(st.EventDir(event), 0755))
	require.NoError(t, os.WriteFile(st.EventFile(event), []byte(eventDescriptor), 0644))
}

func writePeerConfig(t *testing.T, st *store.Store, key types.WorldKey) {
	t.Helper()
	path := st.PeerConfigPath(key.Event, key.User)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("peer\n"), 0644))
}

func newOps(st *store.Store, sw Swarm, ports PortSource) *Ops {
	o := New(st, sw, ports)
	o.peerWait = time.Second
	o.peerPoll = 5 * time.Millisecond
	return o
}

func TestCreateDeploysAndRenders(t *testing.T) {
	st := store.New(t.TempDir())
	writeEventDescriptor(t, st, "demo")

	key := types.WorldKey{Event: "demo", User: "alice"}
	sw := &fakeSwarm{}
	sw.onDeploy = func(file, stack string) error {
		// The VPN container writes the peer config shortly after the
		// world stack comes up.
		if stack == key.StackName() {
			writePeerConfig(t, st, key)
		}
		return nil
	}
	ports := &fakePorts{port: 42317}

	require.NoError(t, newOps(st, sw, ports).Create(context.Background(), key))

	require.Len(t, sw.deploys, 2)
	assert.Equal(t, deployCall{file: st.EventFile("demo"), stack: "crl-demo"}, sw.deploys[0])
	assert.Equal(t, deployCall{file: st.WorldFile("demo", "alice"), stack: "crl-demo-alice"}, sw.deploys[1])

	data, err := os.ReadFile(st.WorldFile("demo", "alice"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(data, &doc))
	services := doc["services"].(map[string]any)

	wg := services["wireguard"].(map[string]any)
	assert.Equal(t, []any{"42317:51820/udp"}, wg["ports"])
	assert.Equal(t, []any{st.Root() + "/Events/demo/alice/peer:/config"}, wg["volumes"])

	challenge := services["challenge"].(map[string]any)
	assert.Equal(t, map[string]any{"WORLD_USER": "alice"}, challenge["environment"])
	assert.NotContains(t, challenge, "restart", "stack deploy rejects restart")
}

func TestCreateBlacklistsPublishedPorts(t *testing.T) {
	st := store.New(t.TempDir())
	writeEventDescriptor(t, st, "demo")

	// bobby's world already publishes 5001.
	require.NoError(t, st.WriteWorldFile("demo", "bobby", []byte(
		"services:\n  wireguard:\n    image: x\n    ports:\n      - \"5001:51820/udp\"\n")))

	key := types.WorldKey{Event: "demo", User: "alice"}
	sw := &fakeSwarm{}
	sw.onDeploy = func(file, stack string) error {
		if stack == key.StackName() {
			writePeerConfig(t, st, key)
		}
		return nil
	}
	ports := &fakePorts{port: 42317}

	require.NoError(t, newOps(st, sw, ports).Create(context.Background(), key))
	assert.Equal(t, []int{5000, 5001}, ports.blacklist)
}

func TestCreateWithoutDescriptor(t *testing.T) {
	st := store.New(t.TempDir())
	o := newOps(st, &fakeSwarm{}, &fakePorts{port: 42317})

	err := o.Create(context.Background(), types.WorldKey{Event: "demo", User: "alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no descriptor")
}

func TestCreateWithoutWorldTemplate(t *testing.T) {
	st := store.New(t.TempDir())
	require.NoError(t, os.MkdirAll(st.EventDir("demo"), 0755))
	require.NoError(t, os.WriteFile(st.EventFile("demo"), []byte("services:\n  scoreboard:\n    image: x\n"), 0644))

	err := newOps(st, &fakeSwarm{}, &fakePorts{port: 42317}).
		Create(context.Background(), types.WorldKey{Event: "demo", User: "alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x-world")
}

func TestCreatePortAllocationFailure(t *testing.T) {
	st := store.New(t.TempDir())
	writeEventDescriptor(t, st, "demo")
	ports := &fakePorts{err: errors.New("portd unreachable")}

	err := newOps(st, &fakeSwarm{}, ports).
		Create(context.Background(), types.WorldKey{Event: "demo", User: "alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to allocate world port")
}

func TestCreatePeerConfigTimeout(t *testing.T) {
	st := store.New(t.TempDir())
	writeEventDescriptor(t, st, "demo")

	o := newOps(st, &fakeSwarm{}, &fakePorts{port: 42317})
	o.peerWait = 30 * time.Millisecond

	err := o.Create(context.Background(), types.WorldKey{Event: "demo", User: "alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "peer config did not appear")
}

func TestCreateAbandonedByCaller(t *testing.T) {
	st := store.New(t.TempDir())
	writeEventDescriptor(t, st, "demo")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := newOps(st, &fakeSwarm{}, &fakePorts{port: 42317}).
		Create(ctx, types.WorldKey{Event: "demo", User: "alice"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartRequiresComposeFile(t *testing.T) {
	st := store.New(t.TempDir())
	sw := &fakeSwarm{}
	o := newOps(st, sw, &fakePorts{})

	err := o.Start(context.Background(), types.WorldKey{Event: "demo", User: "alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no compose file")
	assert.Empty(t, sw.deploys)
}

func TestStartDeploysWorldStack(t *testing.T) {
	st := store.New(t.TempDir())
	require.NoError(t, st.WriteWorldFile("demo", "alice", []byte("services: {}\n")))
	sw := &fakeSwarm{}

	require.NoError(t, newOps(st, sw, &fakePorts{}).
		Start(context.Background(), types.WorldKey{Event: "demo", User: "alice"}))
	require.Len(t, sw.deploys, 1)
	assert.Equal(t, deployCall{file: st.WorldFile("demo", "alice"), stack: "crl-demo-alice"}, sw.deploys[0])
}

func TestStopRemovesStackKeepsFiles(t *testing.T) {
	st := store.New(t.TempDir())
	require.NoError(t, st.WriteWorldFile("demo", "alice", []byte("services: {}\n")))
	sw := &fakeSwarm{}

	require.NoError(t, newOps(st, sw, &fakePorts{}).
		Stop(context.Background(), types.WorldKey{Event: "demo", User: "alice"}))
	assert.Equal(t, []string{"crl-demo-alice"}, sw.removes)

	_, err := os.Stat(st.WorldFile("demo", "alice"))
	assert.NoError(t, err, "stop must not touch the world files")
}

func TestDeleteRemovesFilesEvenWhenStackRemoveFails(t *testing.T) {
	st := store.New(t.TempDir())
	require.NoError(t, st.WriteWorldFile("demo", "alice", []byte("services: {}\n")))
	sw := &fakeSwarm{remErr: errors.New("nothing found in stack: crl-demo-alice")}

	require.NoError(t, newOps(st, sw, &fakePorts{}).
		Delete(context.Background(), types.WorldKey{Event: "demo", User: "alice"}))
	assert.Equal(t, []string{"crl-demo-alice"}, sw.removes)

	_, err := os.Stat(st.WorldDir("demo", "alice"))
	assert.True(t, os.IsNotExist(err), "world directory must be gone")
}
