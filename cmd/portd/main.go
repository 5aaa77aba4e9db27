package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/ports"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "portd",
	Short: "Corral port allocation service",
	Long: `portd hands out free host ports over a unix domain socket.

It binds :0, reads back the kernel-assigned port and repeats until the
port is outside the caller's blacklist, so a port already written into a
compose file but not yet bound by swarm is never handed out twice.
corrald is its only intended client.`,
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"portd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.Flags()
	flags.String("socket", config.DefaultPortdSocket, "Unix socket to serve on")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadPortd(cmd.Flags())
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSONOutput: true})
	logger := log.WithComponent("portd")
	logger.Info().Str("version", Version).Str("socket", cfg.Socket).Msg("portd starting")

	srv := ports.NewServer(cfg.Socket)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}
