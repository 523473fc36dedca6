package server

import (
	"time"

	"github.com/google/uuid"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/plugin"
)

// StartStageKind tags a StartRequest's position in its state machine.
type StartStageKind int

const (
	StartQueued StartStageKind = iota
	StartAllocating
	StartCreating
)

// StartStage is the tagged union for a StartRequest's stage. Only the
// fields matching Kind are meaningful.
type StartStage struct {
	Kind    StartStageKind
	NodeIdx int                             // StartAllocating
	Call    *plugin.Call[[]plugin.Address]  // StartAllocating
	Create  *plugin.Call[plugin.StartOutcome] // StartCreating
}

// StartRequest carries a server through Queued -> Allocating -> Creating.
type StartRequest struct {
	Name  string
	UUID  uuid.UUID
	Group *string

	// Nodes is the priority-ordered candidate list; allocation never
	// retries the same node, failure moves to the next in list.
	Nodes []string

	Resources Resources
	Spec      Spec
	PortCount int
	Priority  int
	When      *time.Time
	Retention DiskRetention

	Stage StartStage

	// aborted is set once a concurrent StopRequest for the same server
	// arrives while this request is Allocating or Creating (a Queued request
	// is removed outright); a stop aborts any in-flight start of the same
	// server.
	aborted bool
}

func (r *StartRequest) Key() (group string, name string) {
	if r.Group != nil {
		group = *r.Group
	}
	return group, r.Name
}

// StopStageKind tags a StopRequest's position in its state machine.
type StopStageKind int

const (
	StopQueued StopStageKind = iota
	StopFreeing
	StopRunning
)

type StopStage struct {
	Kind   StopStageKind
	Free   *plugin.Call[struct{}] // StopFreeing (release ports)
	Stop   *plugin.Call[struct{}] // StopRunning (plugin.stop)
}

// StopRequest carries a server through Queued -> Freeing -> Running -> removed.
type StopRequest struct {
	Server uuid.UUID
	When   *time.Time
	Stage  StopStage

	// retryAfter is set when a Permanent server's stop failed in the
	// plugin's stop phase; the spec resolves the retry delay to
	// restart_timeout (see design notes).
	retryAfter *time.Time
}

// RestartStageKind tags a RestartRequest's position in its state machine.
type RestartStageKind int

const (
	RestartQueued RestartStageKind = iota
	RestartRunning
)

type RestartStage struct {
	Kind RestartStageKind
	Call *plugin.Call[struct{}]
}

// RestartRequest carries a server through Queued -> Running -> done. Does
// not reallocate ports; clears the ready flag and resets the heartbeat
// deadline once issued.
type RestartRequest struct {
	Server uuid.UUID
	When   *time.Time
	Stage  RestartStage
}
