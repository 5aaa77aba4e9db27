/*
Package lifecycle implements the blocking world commands the state
machine schedules: create, start, stop and delete.

A world is one docker stack per (event, user). The event descriptor
Events/<event>/docker-compose.yml carries two things at once: the
event-level stack (scoreboard and shared services) and, in its x-world
extension section, the template every world of that event is rendered
from. Extension sections are ignored by stack deploy, so one file
serves both purposes.

Create is the long command. It deploys the event stack if needed,
allocates the world's VPN port from the port service (blacklisting
every host port already written into any descriptor under Events/),
expands the ${WORLD_EVENT}, ${WORLD_USER}, ${WORLD_PORT} and
${CONFIG_DIR} placeholders, strips the compose options stack deploy
rejects, writes Events/<event>/<user>/docker-compose.yml, deploys the
stack and waits for the VPN container to write the peer config. Only
that last file makes the world count as created.

Start and stop map to stack deploy and stack rm of the world's compose
file; the files stay, so a stopped world restarts with the same port
and keys. Delete removes the stack and then the directory, and is also
the cleanup path after a failed create.
*/
package lifecycle
