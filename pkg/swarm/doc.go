/*
Package swarm shells out to the docker CLI for stack operations.

Worlds run as swarm stacks named crl-<event>-<user>; events run as
crl-<event>. The client wraps the handful of docker commands the daemon
needs:

	docker stack ps --format=json --filter desired-state=running <stack>
	docker stack deploy -c <file> <stack>
	docker stack rm <stack>
	docker service ls --filter name=<n> --format=json
	docker inspect --format=json <id>

# Output Handling

stack ps and service ls emit one JSON object per line; the client parses
line by line into typed rows. inspect emits a JSON array on one line and
the client takes the first element.

A task counts as up when it has no error, its desired state is Running
and its current state starts with "Running" (docker appends a relative
age, "Running 12 minutes ago").

Querying a stack that does not exist fails on stderr with "nothing found
in stack"; the client maps that to an empty result rather than an error,
since an absent stack is an answer, not a failure. Every other command
failure is returned to the caller with stderr attached.

# Testing

The client executes through an internal run function that tests replace
with scripted output, so parsing and error mapping are covered without a
docker daemon.

# See Also

  - pkg/health: derives world health from StackTasks
  - pkg/lifecycle: deploys and removes world stacks
  - pkg/api: serves WireguardNetworks on the network endpoint
*/
package swarm
