package types

import (
	"fmt"
	"time"
)

// WorldState is the lifecycle state of a single world.
type WorldState string

const (
	StateNotFound WorldState = "notfound"
	StateChecking WorldState = "checking"
	StateCreating WorldState = "creating"
	StateStopped  WorldState = "stopped"
	StateStarting WorldState = "starting"
	StateRunning  WorldState = "running"
	StateStopping WorldState = "stopping"
)

// WorldStates lists every state a world can be in, in diagram order.
var WorldStates = []WorldState{
	StateNotFound,
	StateChecking,
	StateCreating,
	StateStopped,
	StateStarting,
	StateRunning,
	StateStopping,
}

// WorldSignal is an input to the world state machine. Signals come from
// HTTP handlers, from the health reconciler, and from blocking-op
// completions.
type WorldSignal string

const (
	SignalCreate WorldSignal = "create"
	SignalStart  WorldSignal = "start"
	SignalStop   WorldSignal = "stop"
	SignalCheck  WorldSignal = "check"
	SignalUp     WorldSignal = "up"
	SignalDown   WorldSignal = "down"
	SignalFail   WorldSignal = "fail"
)

// WorldHealth is derived from the orchestrator's view of a world's
// non-VPN services.
type WorldHealth string

const (
	HealthUp       WorldHealth = "up"
	HealthDegraded WorldHealth = "degraded"
	HealthDown     WorldHealth = "down"
)

// WorldKey identifies a world by its validated (event, user) pair.
type WorldKey struct {
	Event string
	User  string
}

func (k WorldKey) String() string {
	return k.Event + "/" + k.User
}

// StackName returns the orchestrator stack name for the world.
func (k WorldKey) StackName() string {
	return fmt.Sprintf("crl-%s-%s", k.Event, k.User)
}

// EventStackName returns the orchestrator stack name for an event-level
// stack.
func EventStackName(event string) string {
	return "crl-" + event
}

// Transition records one committed state change of a world, including
// no-op commits where the state is re-written unchanged.
type Transition struct {
	ID     string      `json:"id"`
	Event  string      `json:"event"`
	User   string      `json:"user"`
	From   WorldState  `json:"from"`
	To     WorldState  `json:"to"`
	Signal WorldSignal `json:"signal"`
	Time   time.Time   `json:"time"`
}

// Key returns the world the transition belongs to.
func (t Transition) Key() WorldKey {
	return WorldKey{Event: t.Event, User: t.User}
}

// StackTask is one running task of a world stack as reported by the
// orchestrator.
type StackTask struct {
	Service      string // short name, stack prefix and replica suffix stripped
	TaskID       string
	DesiredState string
	CurrentState string
	Error        string
	Up           bool
}

// ServiceSummary is one row of the orchestrator's service listing.
// Field tags match docker service ls --format=json output.
type ServiceSummary struct {
	ID   string `json:"ID"`
	Name string `json:"Name"`
}
