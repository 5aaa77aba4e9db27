// Package fsm tracks every world's lifecycle state and drives all
// transitions between them.
//
// Each world moves through a fixed set of states:
//
//	notfound --create--> creating --down--> stopped --start--> starting --up--> running
//	    ^                    |                ^   ^                |                |
//	    +---fail (cleanup)---+                |   +------fail------+              stop
//	                                          |                                    |
//	                                          +------down/fail------- stopping <---+
//
// Any state except creating, starting and stopping also accepts check,
// which detours through checking and resolves to running, stopped or
// notfound depending on the observed stack health.
//
// Signal is the only way to move a world. It looks up the (state,
// signal) cell in the transition table, commits the new state under the
// machine's mutex, and then performs the cell's side effect outside the
// mutex: create and stop enqueue onto their serializer queue and await
// the ticket, start runs the blocking deploy on the executor, check
// evaluates stack health. Side effects report their outcome by calling
// Signal again, so every hop in a multi-step flow is an ordinary
// table-driven transition. Signals with no matching cell re-commit the
// current state and do nothing else, which makes duplicate requests
// harmless.
//
// A failed create is the one transition with work before its commit:
// the world's lingering files are deleted first, and only then does the
// state go back to notfound, so the world is never notfound while its
// debris is still on disk.
package fsm
