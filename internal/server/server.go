// Package server implements the server lifecycle engine (C6): the queue of
// pending start/stop/restart actions, their staged state machines, and
// heartbeat-driven health tracking.
package server

import (
	"time"

	"github.com/google/uuid"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/plugin"
)

// State is the lifecycle stage of a running or starting server.
type State int

const (
	StateStarting State = iota
	StateRestarting
	StateRunning
	StateStopping
)

// DiskRetention decides whether a heartbeat timeout restarts or stops a
// server, and whether a stop-failure keeps retrying.
type DiskRetention int

const (
	Temporary DiskRetention = iota
	Permanent
)

// Resources is the resource envelope attached to a server's allocation.
type Resources = plugin.Resources

// Spec is the server template (image/env/settings) attached to a server's
// allocation.
type Spec = plugin.Spec

// Allocation is owned exclusively by its server; its addresses are handed
// back to the node's plugin through Free when the allocation is released.
type Allocation struct {
	Addresses []plugin.Address
	Resources Resources
	Spec      Spec
}

// Server is a single running workload instance.
type Server struct {
	Name string
	UUID uuid.UUID

	Group *string // owning group name, if any; groups hold only the UUID
	Node  string

	Allocation Allocation
	Retention  DiskRetention

	Token string

	State State
	Ready bool

	ConnectedUsers int

	NextCheck time.Time
	Timeout   time.Duration

	// StopAt is the group-set deferred stop instant (the "stop-flag").
	// Nil means no pending stop is scheduled by the scaler.
	StopAt *time.Time
}

// IsFree reports whether this server still has headroom under maxPlayers at
// the given start threshold, per the group scaler's "free" definition
// (connected_users < max_players * start_threshold).
func (s *Server) IsFree(maxPlayers int, startThreshold float64) bool {
	return float64(s.ConnectedUsers) < float64(maxPlayers)*startThreshold
}
