package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/types"
)

// Machine is the slice of the state machine the handlers drive.
type Machine interface {
	State(key types.WorldKey) types.WorldState
	Signal(ctx context.Context, key types.WorldKey, sig types.WorldSignal)
	CheckIntegrity(ctx context.Context, key types.WorldKey)
}

// ConfigReader returns peer configs from the on-disk tree. Implemented
// by pkg/store.
type ConfigReader interface {
	ReadPeerConfig(event, user string) (string, error)
}

// NetworkSource returns the VPN service's virtual IP per network for a
// stack. Implemented by pkg/swarm.
type NetworkSource interface {
	WireguardNetworks(ctx context.Context, stack string) (map[string]string, error)
}

// HealthEvaluator reports live world health for status bodies.
// Implemented by pkg/health.
type HealthEvaluator interface {
	Evaluate(ctx context.Context, key types.WorldKey) (types.WorldHealth, error)
}

// Runner moves slow adapter calls off the request goroutine and onto
// the blocking pool. Implemented by pkg/executor.
type Runner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Server is the REST control plane for world lifecycle requests.
type Server struct {
	machine  Machine
	configs  ConfigReader
	networks NetworkSource
	health   HealthEvaluator
	runner   Runner

	srv    *http.Server
	logger zerolog.Logger
}

// NewServer wires the REST surface over its collaborators.
func NewServer(machine Machine, configs ConfigReader, networks NetworkSource, health HealthEvaluator, runner Runner) *Server {
	s := &Server{
		machine:  machine,
		configs:  configs,
		networks: networks,
		health:   health,
		runner:   runner,
		logger:   log.WithComponent("api"),
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(s.logger))
	r.Use(chimiddleware.Recoverer)

	r.Post("/{event}/create/{user}", s.world(s.handleCreate))
	r.Post("/{event}/reset/{user}", s.world(s.handleReset))
	r.Get("/{event}/status/{user}", s.world(s.handleStatus))
	r.Get("/{event}/config/{user}", s.world(s.handleConfig))
	r.Get("/{event}/wireguard/{user}/config", s.world(s.handleConfig))
	r.Get("/{event}/wireguard/{user}/network", s.world(s.handleNetwork))

	s.srv = &http.Server{
		Handler: r,
		// Create requests stay open across a full stack deploy plus the
		// wait for the peer config, so no write timeout here.
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.srv.Addr = addr
	s.logger.Info().Str("addr", addr).Msg("REST API listening")

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// worldHandler is an endpoint that operates on one validated world.
type worldHandler func(w http.ResponseWriter, r *http.Request, key types.WorldKey)

// world validates the event and user path parameters and hands the
// folded world key to the endpoint. Invalid names answer 415 before any
// state machine involvement.
func (s *Server) world(next worldHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, err := types.ValidateName(chi.URLParam(r, "event"))
		if err != nil {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		user, err := types.ValidateName(chi.URLParam(r, "user"))
		if err != nil {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		next(w, r, types.WorldKey{Event: event, User: user})
	}
}

// handleCreate builds the world if it does not exist, starts it if it
// is stopped, and answers with the peer config either way. Calling it
// on a world that is already running just returns the config again.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, key types.WorldKey) {
	ctx := r.Context()
	s.machine.CheckIntegrity(ctx, key)

	if s.machine.State(key) == types.StateNotFound {
		s.machine.Signal(ctx, key, types.SignalCreate)
	}
	if s.machine.State(key) == types.StateStopped {
		s.machine.Signal(ctx, key, types.SignalStart)
	}

	s.writePeerConfig(w, key)
}

// handleReset bounces a running world: stop, then start. A stopped
// world is just started; anything else only reports its state.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request, key types.WorldKey) {
	ctx := r.Context()
	s.machine.CheckIntegrity(ctx, key)

	if s.machine.State(key) == types.StateRunning {
		s.machine.Signal(ctx, key, types.SignalStop)
	}
	if s.machine.State(key) == types.StateStopped {
		s.machine.Signal(ctx, key, types.SignalStart)
	}

	s.writeStatus(w, r, key)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, key types.WorldKey) {
	s.machine.CheckIntegrity(r.Context(), key)
	s.writeStatus(w, r, key)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request, key types.WorldKey) {
	s.machine.CheckIntegrity(r.Context(), key)
	s.writePeerConfig(w, key)
}

// handleNetwork answers the VPN service's virtual IP per attached
// network. A world whose wireguard service is not (yet) in the swarm
// answers 404.
func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request, key types.WorldKey) {
	ctx := r.Context()
	s.machine.CheckIntegrity(ctx, key)

	var networks map[string]string
	err := s.runner.Do(ctx, func(ctx context.Context) error {
		var err error
		networks, err = s.networks.WireguardNetworks(ctx, key.StackName())
		return err
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("event", key.Event).
			Str("user", key.User).
			Msg("Wireguard network lookup failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if len(networks) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	s.writeJSON(w, networks)
}

// statusBody is the response shape of status and reset. Health appears
// only while the world is running.
type statusBody struct {
	State  types.WorldState  `json:"state"`
	Health types.WorldHealth `json:"health,omitempty"`
}

// writeStatus reports the state the machine holds right now. For a
// running world the live health is attached; an evaluation failure
// leaves the health field out rather than failing the request.
func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, key types.WorldKey) {
	body := statusBody{State: s.machine.State(key)}
	if body.State == types.StateRunning {
		if h, err := s.health.Evaluate(r.Context(), key); err == nil {
			body.Health = h
		}
	}
	s.writeJSON(w, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// writePeerConfig answers the world's VPN peer config as plain text, or
// 404 while the config has not been written yet.
func (s *Server) writePeerConfig(w http.ResponseWriter, key types.WorldKey) {
	cfg, err := s.configs.ReadPeerConfig(key.Event, key.User)
	if errors.Is(err, fs.ErrNotExist) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).
			Str("event", key.Event).
			Str("user", key.User).
			Msg("Failed to read peer config")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, cfg)
}
