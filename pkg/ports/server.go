package ports

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/corral/pkg/log"
)

// Server serves the allocator over HTTP on a unix domain socket. One
// endpoint: GET /?blacklist=<n>&blacklist=<n> answers a free port as
// plain text.
type Server struct {
	socket string
	alloc  *Allocator
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer creates a server bound to the given socket path
func NewServer(socket string) *Server {
	s := &Server{
		socket: socket,
		alloc:  NewAllocator(),
		logger: log.WithComponent("portd"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleAllocate)

	s.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe creates the socket and serves until Shutdown. A stale
// socket file from a previous run is removed first; serving one request
// at a time is inherent in how the single client, corrald's serialized
// create worker, uses it.
func (s *Server) ListenAndServe() error {
	if err := os.MkdirAll(filepath.Dir(s.socket), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.Remove(s.socket); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socket)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socket, err)
	}

	s.logger.Info().Str("socket", s.socket).Msg("portd listening")
	if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and removes the socket file
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if rmErr := os.Remove(s.socket); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	blacklist := make(map[int]struct{})
	for _, v := range r.URL.Query()["blacklist"] {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("bad blacklist entry %q", v), http.StatusBadRequest)
			return
		}
		blacklist[n] = struct{}{}
	}

	port, err := s.alloc.Allocate(blacklist)
	if err != nil {
		s.logger.Error().Err(err).Msg("Allocation failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.logger.Info().Int("port", port).Int("blacklisted", len(blacklist)).Msg("Port handed out")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%d", port)
}
