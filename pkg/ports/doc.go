/*
Package ports implements the port allocation service and its client.

World compose files publish challenge services on host ports. Picking a
port by binding :0 is race-free against other listeners, but not against
ports corral has already written into compose files that swarm has not
bound yet. The allocator closes that gap with a caller-supplied
blacklist: it keeps binding :0 until the kernel hands back a port not on
the list.

The service (cmd/portd) exposes the allocator over HTTP on a unix domain
socket:

	GET /?blacklist=5000&blacklist=5001  ->  200 "42317"

It is stateless; the safety of concurrent allocations comes from the
daemon side, where the create queue runs one world creation at a time
and each creation passes every port already recorded on disk as the
blacklist.

Client wraps the socket dialing so callers see an ordinary request
method:

	pc := ports.NewClient("/var/run/portd/portd.sock")
	port, err := pc.FreePort(ctx, []int{5000, 5001})

# See Also

  - pkg/lifecycle: collects the blacklist and allocates the world port
  - cmd/portd: the service binary
*/
package ports
