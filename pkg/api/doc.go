/*
Package api serves corrald's two HTTP surfaces.

Server is the REST control plane the CTF platform calls. Every route
names a world by its (event, user) path parameters:

	POST /{event}/create/{user}            build the world, answer its VPN peer config
	POST /{event}/reset/{user}             stop and start the world, answer its status
	GET  /{event}/status/{user}            {"state": ...} plus "health" while running
	GET  /{event}/config/{user}            the VPN peer config, text/plain
	GET  /{event}/wireguard/{user}/config  alias of config
	GET  /{event}/wireguard/{user}/network the VPN service's virtual IP per network

Names are validated and folded before anything else happens; a name that
breaks the rule answers 415 without touching the state machine. Valid
requests run an integrity check first, so a daemon restart or an
out-of-band docker change is absorbed on the next request for that
world rather than by a background scan.

Handlers block for as long as the work takes: a create request stays
open across the whole stack deploy and answers only once the peer
config exists. Clients that give up early are fine, the queued work
still completes.

HealthServer is the operational surface (liveness, readiness, component
health, Prometheus metrics), served on its own listener so operations
traffic is never queued behind a slow create.
*/
package api
