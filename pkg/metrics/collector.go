package metrics

import (
	"time"

	"github.com/cuemby/corral/pkg/types"
)

// StateCounter reports how many worlds are in each lifecycle state
type StateCounter interface {
	StateCounts() map[types.WorldState]int
}

// Collector periodically refreshes the worlds-by-state gauge
type Collector struct {
	counter StateCounter
	stopCh  chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(counter StateCounter) *Collector {
	return &Collector{
		counter: counter,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counts := c.counter.StateCounts()

	// Absent states report zero
	for _, state := range types.WorldStates {
		WorldsByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
