package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
)

// HealthServer serves the operational endpoints next to the REST API:
// liveness, readiness, component health and the Prometheus metrics.
type HealthServer struct {
	srv *http.Server
}

// NewHealthServer creates the health check HTTP server.
func NewHealthServer() *HealthServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

	return &HealthServer{
		srv: &http.Server{
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Handler returns the HTTP handler for embedding in other servers.
func (hs *HealthServer) Handler() http.Handler {
	return hs.srv.Handler
}

// Start serves on addr until Shutdown.
func (hs *HealthServer) Start(addr string) error {
	hs.srv.Addr = addr
	logger := log.WithComponent("health-api")
	logger.Info().Str("addr", addr).Msg("Health/metrics listening")

	if err := hs.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	return hs.srv.Shutdown(ctx)
}
