/*
Package executor runs blocking operations off the request path.

Everything that shells out to docker is slow and synchronous: stack
deploys, stack removals, task listings. The executor owns a bounded
worker pool (alitto/pond) that such work is submitted to, so lifecycle
handlers and reconcilers block on a pool slot instead of spawning an
unbounded number of docker processes.

Do is the generic door: run a function, wait, get its error back. Run is
the lifecycle wrapper used by the state machine: run the operation, then
dispatch ok or fail back into the machine depending on the outcome.

	exec.Run(ctx, key, "start", ops.Start,
		types.SignalUp, types.SignalFail, machine.Signal)

Completion signals are dispatched from the calling goroutine after the
pool task has finished, never from inside a pool worker. That keeps a
signal whose transition runs another blocking op (a failed create runs a
cleanup delete) from waiting on the pool while occupying it.

Panics inside submitted work are recovered, logged with the stack, and
treated as a failed operation; they never unwind into a pool worker or
the caller.
*/
package executor
