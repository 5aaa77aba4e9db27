/*
Package log provides structured logging for Corral using zerolog.

The log package wraps the zerolog library to provide JSON-structured
logging with component-specific loggers, configurable log levels, and
helper functions for common logging patterns. All logs include
timestamps and support filtering by severity level.

# Usage

Initializing the logger:

	import "github.com/cuemby/corral/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("corrald starting")
	log.Warn("peer config missing")
	log.Fatal("cannot open journal") // exits process

Structured logging:

	log.Logger.Info().
		Str("event", "demo").
		Str("user", "alice").
		Msg("world created")

Context loggers:

	fsmLog := log.WithComponent("fsm")
	fsmLog.Info().Msg("startup reconciliation complete")

	worldLog := log.WithWorld("demo", "alice")
	worldLog.Debug().Msg("peer config read")

# The transition line

Every committed FSM transition is logged at INFO with the movement as
the message and the world attached as fields:

	{"component":"fsm","event":"demo","user":"alice",
	 "signal":"create","message":"notfound -> creating"}

This line is the serialization of FSM history; log aggregation can
reconstruct any world's lifecycle from it, and pkg/journal persists the
same records to bbolt for offline auditing.

# Log levels

Debug is for reconciliation detail (config existence probes, task
listings), Info for transitions and worker progress, Warn for integrity
mismatches, Error for failed blocking ops and recovered panics. Fatal
logs and exits; it is reserved for unusable startup configuration.
*/
package log
