/*
Package types defines the core data model shared by all Corral packages.

Corral manages per-user "worlds" inside named "events" on a docker swarm
cluster. The types here are deliberately plain records: enums are string
typed so they read well in logs and JSON, and structs carry no behavior
beyond naming helpers.

# World identity

A world is the pair (event, user), both validated names:

	key := types.WorldKey{Event: "demo", User: "alice"}
	key.StackName()              // "crl-demo-alice"
	types.EventStackName("demo") // "crl-demo"

Names are 4-32 characters of letters and digits, folded to lowercase by
ValidateName. The folded form is what appears in directory paths, stack
names and FSM keys.

# Lifecycle model

WorldState enumerates the seven lifecycle states:

	notfound -> creating -> stopped -> starting -> running -> stopping
	      \________ checking (reconciliation) ________/

WorldSignal enumerates the seven inputs that drive transitions between
them, and WorldHealth the three health grades derived from orchestrator
inspection. The transition table itself lives in pkg/fsm; a Transition
value records one committed step and is what the event broker publishes
and the journal persists.

# See Also

  - pkg/fsm - the state machine consuming these types
  - pkg/swarm - produces StackTask and ServiceSummary records
  - pkg/journal - persists Transition values
*/
package types
