/*
Package health derives a world's health from its swarm stack tasks.

A world is a stack of services fronted by a wireguard gateway. Health
looks only at the non-gateway services:

	no tasks          -> down
	all tasks up      -> up
	some tasks up     -> degraded
	no tasks up       -> down

Derive is the pure grading function. Checker wraps it with the adapter
call, run through the blocking executor so health never stalls the
request path on the docker CLI.

The state machine folds up and degraded into the same up signal; a
degraded world is alive, just limping. The distinction survives to HTTP
clients in the status body, which reports health verbatim when the
world is running.
*/
package health
