package ports

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
)

// Allocator hands out free TCP ports by asking the kernel for ephemeral
// ones. It keeps no state between calls; callers that need to avoid
// ports they have recorded but not yet bound pass them as a blacklist.
type Allocator struct {
	logger zerolog.Logger
}

// NewAllocator creates an allocator
func NewAllocator() *Allocator {
	return &Allocator{logger: log.WithComponent("allocator")}
}

// Allocate binds a TCP socket to port 0, reads the kernel-assigned port
// back, and closes the socket. It repeats until the port is outside the
// blacklist. The kernel never reuses an ephemeral port while another
// probe holds it, so the loop terminates as long as the blacklist does
// not cover the whole ephemeral range.
func (a *Allocator) Allocate(blacklist map[int]struct{}) (int, error) {
	attempts := 0
	for {
		attempts++
		l, err := net.Listen("tcp", ":0")
		if err != nil {
			return 0, fmt.Errorf("failed to bind probe socket: %w", err)
		}
		port := l.Addr().(*net.TCPAddr).Port
		l.Close()

		if _, banned := blacklist[port]; banned {
			a.logger.Debug().Int("port", port).Msg("Port blacklisted, retrying")
			continue
		}

		metrics.PortBindAttempts.Observe(float64(attempts))
		metrics.PortsAllocated.Inc()
		a.logger.Debug().Int("port", port).Int("attempts", attempts).Msg("Port allocated")
		return port, nil
	}
}
