package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/corral/pkg/api"
	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/executor"
	"github.com/cuemby/corral/pkg/fsm"
	"github.com/cuemby/corral/pkg/health"
	"github.com/cuemby/corral/pkg/journal"
	"github.com/cuemby/corral/pkg/lifecycle"
	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/ports"
	"github.com/cuemby/corral/pkg/reconciler"
	"github.com/cuemby/corral/pkg/store"
	"github.com/cuemby/corral/pkg/swarm"
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
	Use:   "corrald",
	Short: "Corral world lifecycle daemon",
	Long: `corrald manages per-user challenge worlds on a docker swarm cluster.

Each world is one docker stack rendered from its event's descriptor and
fronted by a wireguard gateway. corrald serves the REST control plane
the CTF platform calls, tracks every world through a lifecycle state
machine, and rebuilds that state from disk and the orchestrator when it
restarts.`,
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"corrald version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.Flags()
	flags.String("listen-addr", "0.0.0.0", "Address both HTTP listeners bind")
	flags.Int("port", 5000, "REST API port")
	flags.Int("metrics-port", 9100, "Health and metrics port")
	flags.String("config-dir", ".", "Directory holding the Events/ tree")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("journal-path", "corrald.db", "Transition journal file, empty to disable")
	flags.String("portd-socket", config.DefaultPortdSocket, "Port allocator unix socket")
	flags.Int("workers", 4, "Blocking operation pool size")
	flags.Duration("check-interval", 0, "Periodic integrity sweep interval, 0 to disable")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSONOutput: true})
	logger := log.WithComponent("corrald")
	logger.Info().
		Str("version", Version).
		Str("config_dir", cfg.ConfigDir).
		Str("addr", cfg.Addr()).
		Msg("corrald starting")
	metrics.SetVersion(Version)

	// The journal opens first: a daemon that cannot persist transitions
	// should not come up at all.
	var (
		jnl    *journal.Journal
		writer *journal.Writer
	)
	broker := events.NewBroker()
	if file := cfg.JournalFile(); file != "" {
		jnl, err = journal.Open(file)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		writer = journal.NewWriter(jnl, broker)
		metrics.RegisterComponent("journal", true, "")
	} else {
		logger.Warn().Msg("Transition journal disabled")
		metrics.RegisterComponent("journal", true, "disabled")
	}

	st := store.New(cfg.ConfigDir)
	sw := swarm.NewClient()
	exec := executor.New(cfg.Workers)
	checker := health.NewChecker(sw, exec)
	ops := lifecycle.New(st, sw, ports.NewClient(cfg.PortdSocket))

	machine := fsm.New(fsm.Config{
		Ops:      ops,
		Health:   checker,
		Store:    st,
		Executor: exec,
		Broker:   broker,
	})

	collector := metrics.NewCollector(machine)
	recon := reconciler.New(machine, st, cfg.CheckInterval)

	broker.Start()
	if writer != nil {
		writer.Start()
	}
	machine.Start()
	collector.Start()
	recon.Start()
	metrics.RegisterComponent("workers", true, "")

	// Hydration fans out in the background; the listeners come up while
	// it runs because every request handler re-checks its own world
	// anyway.
	hydrateCtx, cancelHydrate := context.WithCancel(context.Background())
	defer cancelHydrate()
	hydrated := make(chan struct{})
	go func() {
		defer close(hydrated)
		if err := recon.Hydrate(hydrateCtx); err != nil {
			logger.Error().Err(err).Msg("Startup reconciliation failed")
			metrics.UpdateComponent("reconciler", false, err.Error())
			return
		}
		metrics.UpdateComponent("reconciler", true, "")
	}()

	healthSrv := api.NewHealthServer()
	go func() {
		if err := healthSrv.Start(cfg.MetricsAddr()); err != nil {
			logger.Error().Err(err).Msg("Health server failed")
		}
	}()

	apiSrv := api.NewServer(machine, st, sw, checker, exec)
	errCh := make(chan error, 1)
	go func() {
		metrics.RegisterComponent("api", true, "")
		if err := apiSrv.Start(cfg.Addr()); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API shutdown failed")
	}
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Health server shutdown failed")
	}

	// In-flight integrity checks drain before the workers and pools
	// they feed go away.
	cancelHydrate()
	<-hydrated
	recon.Stop()
	machine.Stop()
	exec.Stop()
	collector.Stop()
	if writer != nil {
		writer.Stop()
	}
	broker.Stop()
	if jnl != nil {
		if err := jnl.Close(); err != nil {
			logger.Error().Err(err).Msg("Journal close failed")
		}
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}
