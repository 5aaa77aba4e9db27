package journal

import (
	"github.com/cuemby/corral/pkg/events"
	"github.com/cuemby/corral/pkg/log"
)

// Writer subscribes to the transition broker and persists every record
type Writer struct {
	journal *Journal
	broker  *events.Broker
	sub     events.Subscriber
	done    chan struct{}
}

// NewWriter creates a writer bound to a broker and a journal
func NewWriter(j *Journal, b *events.Broker) *Writer {
	return &Writer{
		journal: j,
		broker:  b,
		done:    make(chan struct{}),
	}
}

// Start subscribes and begins persisting transitions
func (w *Writer) Start() {
	w.sub = w.broker.Subscribe()
	go w.run()
}

// Stop unsubscribes and waits for the pending record to be written
func (w *Writer) Stop() {
	w.broker.Unsubscribe(w.sub)
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)
	logger := log.WithComponent("journal")

	for tr := range w.sub {
		if err := w.journal.Record(tr); err != nil {
			logger.Error().Err(err).
				Str("event", tr.Event).
				Str("user", tr.User).
				Msg("Failed to record transition")
		}
	}
}
