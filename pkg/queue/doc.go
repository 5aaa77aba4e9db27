/*
Package queue provides the FIFO work queues that serialize world
creation and teardown.

Creates run one at a time so the port allocator can safely pick free
ports; stops run one at a time so teardown never races a create for the
same resources. Each concern gets its own Serializer: an unbounded
in-memory queue drained by a single consumer goroutine.

# Tickets

Enqueue returns a Ticket, a channel that closes when the item has been
fully processed. "Fully" includes the completion signal the handler
feeds back into the state machine, so a caller that waited on the
ticket observes the post-operation state, not the in-flight one:

	ticket := createQueue.Enqueue(key)
	// outside the state mutex:
	if err := ticket.Wait(r.Context()); err != nil {
		// waiter gave up; the create itself still completes
	}

Enqueue never blocks. That matters because the state machine enqueues
while holding its mutex: committing the queued state and adding the
queue item are one atomic step, so a world in state creating always has
exactly one item in flight.

# Worker logging

The consumer logs its lifecycle the same way for every queue:

	[worker_create] waiting for work...
	[worker_create] starting processing   event=demo user=alice
	[worker_create] done processing       event=demo user=alice

# See Also

  - pkg/fsm: enqueues from inside its mutex and awaits tickets outside it
  - pkg/executor: runs the blocking operation each handler wraps
*/
package queue
