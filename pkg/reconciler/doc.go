// Package reconciler rebuilds tracked world state from the on-disk
// tree.
//
// The daemon keeps no lifecycle database: the world directories under
// Events/ plus the orchestrator are the truth. On startup Hydrate
// enumerates every world directory and runs the state machine's
// integrity check on each, so a daemon restarted over two hundred live
// worlds tracks all of them before the first request lands. The checks
// fan out on a bounded pool because each one may shell out to docker.
//
// An optional ticker repeats the pass, catching worlds changed behind
// the daemon's back between requests. Request handlers run the same
// integrity check per world, so the sweep is a safety net, not a
// requirement, and it ships disabled.
package reconciler
