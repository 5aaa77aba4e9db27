/*
Package events provides an in-memory broker for world transition records.

Every committed state transition is published here by the state machine.
Subscribers receive their own buffered channel; delivery is non-blocking,
so a slow subscriber drops transitions rather than stalling the machine.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for tr := range sub {
		// persist, forward, or inspect the transition
	}

The publish path buffers up to 100 transitions and each subscriber
another 50. The transition journal is the main consumer; anything else
that wants a live feed (debug tooling, future watchers) subscribes the
same way.

# See Also

  - pkg/fsm: publishes a record for every committed transition
  - pkg/journal: subscribes and persists records to the audit log
*/
package events
