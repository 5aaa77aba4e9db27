package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/corral/pkg/log"
	"github.com/cuemby/corral/pkg/metrics"
	"github.com/cuemby/corral/pkg/types"
)

// Ticket resolves when the queued world has been fully processed,
// including the completion signal the handler feeds back to the state
// machine.
type Ticket <-chan struct{}

// Wait blocks until the ticket resolves or the context is cancelled.
// A cancelled waiter abandons the ticket; the work itself still runs
// to completion.
func (t Ticket) Wait(ctx context.Context) error {
	select {
	case <-t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler processes one dequeued world. It must not return until all
// follow-up work, including state machine signals, has finished.
type Handler func(key types.WorldKey)

type item struct {
	key      types.WorldKey
	done     chan struct{}
	enqueued time.Time
}

// Serializer is an unbounded FIFO queue drained by a single consumer,
// so the work it carries runs one world at a time in arrival order.
type Serializer struct {
	name    string
	handler Handler
	logger  zerolog.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	items []item
	stop  bool

	done chan struct{}
}

// NewSerializer creates a serializer named after its worker, such as
// "create" or "stop"
func NewSerializer(name string, handler Handler) *Serializer {
	s := &Serializer{
		name:    name,
		handler: handler,
		logger:  log.WithComponent("worker_" + name),
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the consumer goroutine
func (s *Serializer) Start() {
	go s.run()
}

// Stop ends the consumer after any in-flight item finishes. Pending
// tickets never resolve once stopped.
func (s *Serializer) Stop() {
	s.mu.Lock()
	s.stop = true
	s.mu.Unlock()
	s.cond.Broadcast()
	<-s.done
}

// Enqueue adds a world to the queue and returns its ticket. Enqueue
// never blocks, so it is safe to call while holding the state machine
// mutex.
func (s *Serializer) Enqueue(key types.WorldKey) Ticket {
	it := item{
		key:      key,
		done:     make(chan struct{}),
		enqueued: time.Now(),
	}

	s.mu.Lock()
	s.items = append(s.items, it)
	depth := len(s.items)
	s.mu.Unlock()
	s.cond.Signal()

	metrics.QueueDepth.WithLabelValues(s.name).Set(float64(depth))
	return it.done
}

// Len returns the number of items waiting to be picked up
func (s *Serializer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Serializer) run() {
	defer close(s.done)
	s.logger.Info().Msgf("[worker_%s] waiting for work...", s.name)

	for {
		it, ok := s.next()
		if !ok {
			return
		}

		metrics.QueueDepth.WithLabelValues(s.name).Set(float64(s.Len()))
		metrics.QueueWaitSeconds.WithLabelValues(s.name).Observe(time.Since(it.enqueued).Seconds())

		s.logger.Info().
			Str("event", it.key.Event).
			Str("user", it.key.User).
			Msgf("[worker_%s] starting processing", s.name)

		s.handler(it.key)
		close(it.done)

		s.logger.Info().
			Str("event", it.key.Event).
			Str("user", it.key.User).
			Msgf("[worker_%s] done processing", s.name)
	}
}

func (s *Serializer) next() (item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.items) == 0 && !s.stop {
		s.cond.Wait()
	}
	if s.stop {
		return item{}, false
	}

	it := s.items[0]
	s.items = s.items[1:]
	return it, true
}
