package framework

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/corral/pkg/api"
	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/executor"
	"github.com/cuemby/corral/pkg/fsm"
	"github.com/cuemby/corral/pkg/health"
	"github.com/cuemby/corral/pkg/journal"
	"github.com/cuemby/corral/pkg/lifecycle"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/ports"
	"github.com/cuemby/corral/pkg/reconciler"
	"github.com/cuemby/corral/pkg/store"
)

// DefaultEventDescriptor is the event compose file tests install under
// Events/<event>/docker-compose.yml: a scoreboard at the event level
// and a three-service world template in the x-world section.
const DefaultEventDescriptor = `services:
  scoreboard:
    image: corral/scoreboard:latest
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
    database:
      image: corral/database:latest
`

// Config tailors a harness.
type Config struct {
	// ConfigDir reuses an existing tree, simulating a daemon restart
	// over live worlds. Empty means a fresh directory.
	ConfigDir string
	// Swarm reuses a running simulated cluster across daemon restarts.
	// Nil means a fresh, empty cluster.
	Swarm *SimSwarm
	// CheckInterval enables the periodic integrity sweep.
	CheckInterval time.Duration
}

// Harness is a complete corrald running in-process: real store,
// executor, queues, state machine, lifecycle commands and REST API on
// an httptest listener, plus a real portd on a unix socket. Only the
// docker CLI is simulated.
type Harness struct {
	ConfigDir string
	Store     *store.Store
	Swarm     *SimSwarm
	Machine   *fsm.Machine
	Journal   *journal.Journal

	api    *httptest.Server
	portd  *ports.Server
	exec   *executor.Executor
	broker *events.Broker
	writer *journal.Writer
	recon  *reconciler.Reconciler

	stopOnce sync.Once
}

// Start builds and starts a full daemon. It is stopped automatically
// when the test ends; restart tests may stop it earlier.
func Start(t *testing.T, cfg Config) *Harness {
	t.Helper()

	level := os.Getenv("CORRAL_TEST_LOG")
	if level == "" {
		level = "error"
	}
	log.Init(log.Config{Level: log.ParseLevel(level)})

	dir := cfg.ConfigDir
	if dir == "" {
		dir = t.TempDir()
	}
	sim := cfg.Swarm
	if sim == nil {
		sim = NewSimSwarm()
	}

	st := store.New(dir)
	exec := executor.New(4)
	checker := health.NewChecker(sim, exec)

	socket := filepath.Join(dir, "portd.sock")
	portd := ports.NewServer(socket)
	go func() { _ = portd.ListenAndServe() }()
	waitForSocket(t, socket)

	jnl, err := journal.Open(filepath.Join(dir, "corrald.db"))
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	broker := events.NewBroker()
	writer := journal.NewWriter(jnl, broker)

	ops := lifecycle.New(st, sim, ports.NewClient(socket))
	machine := fsm.New(fsm.Config{
		Ops:      ops,
		Health:   checker,
		Store:    st,
		Executor: exec,
		Broker:   broker,
	})
	recon := reconciler.New(machine, st, cfg.CheckInterval)

	broker.Start()
	writer.Start()
	machine.Start()
	recon.Start()

	srv := api.NewServer(machine, st, sim, checker, exec)

	h := &Harness{
		ConfigDir: dir,
		Store:     st,
		Swarm:     sim,
		Machine:   machine,
		Journal:   jnl,
		api:       httptest.NewServer(srv.Handler()),
		portd:     portd,
		exec:      exec,
		broker:    broker,
		writer:    writer,
		recon:     recon,
	}
	t.Cleanup(h.Stop)
	return h
}

// InstallEvent writes the default event descriptor, making the event
// ready to host worlds.
func (h *Harness) InstallEvent(t *testing.T, event string) {
	t.Helper()
	if err := os.MkdirAll(h.Store.EventDir(event), 0755); err != nil {
		t.Fatalf("Failed to create event dir: %v", err)
	}
	if err := os.WriteFile(h.Store.EventFile(event), []byte(DefaultEventDescriptor), 0644); err != nil {
		t.Fatalf("Failed to write event descriptor: %v", err)
	}
}

// Hydrate runs the startup reconciliation pass and waits for it.
func (h *Harness) Hydrate(t *testing.T) {
	t.Helper()
	if err := h.recon.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydration failed: %v", err)
	}
}

// Client returns a REST client bound to this daemon.
func (h *Harness) Client() *Client {
	return NewClient(h.api.URL)
}

// Stop shuts the daemon down in production order. Safe to call more
// than once; the simulated cluster and the on-disk tree survive for a
// follow-up Start.
func (h *Harness) Stop() {
	h.stopOnce.Do(func() {
		h.api.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.portd.Shutdown(ctx)

		h.recon.Stop()
		h.Machine.Stop()
		h.exec.Stop()
		h.writer.Stop()
		h.broker.Stop()
		_ = h.Journal.Close()
	})
}

func waitForSocket(t *testing.T, socket string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socket); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("portd socket %s never appeared", socket)
}
