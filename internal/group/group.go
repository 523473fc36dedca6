// Package group implements the group manager and scaler (C5): group state,
// scaling policy evaluation, and scheduling start/stop of its members.
package group

import (
	"github.com/HttpRafa/atomic-cloud-sub001/internal/id"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/server"
)

// ScalingPolicy controls whether and how aggressively a group scales.
type ScalingPolicy struct {
	Enabled         bool
	StartThreshold  float64
	StopEmptyServer bool
}

// Constraints bounds the group's member count and its priority relative to
// other groups competing for the same nodes.
type Constraints struct {
	Min      int
	Max      int
	Priority int
}

// Group is a declarative specification of a fleet of servers sharing a
// template, resource envelope, and scaling policy.
type Group struct {
	Name string

	Active bool
	Nodes  []string // candidate node names; must all exist

	Constraints Constraints
	Scaling     ScalingPolicy

	Resources server.Resources
	Spec      server.Spec
	PortCount int
	Retention server.DiskRetention
	MaxPlayers int

	FallbackEnabled  bool
	FallbackPriority int

	idAllocator *id.Allocator
}

func New(name string) *Group {
	return &Group{
		Name:        name,
		Active:      true,
		idAllocator: id.NewAllocator(1, 1<<62),
	}
}

// NextOrdinal allocates the next free ordinal for naming a new member
// "<group>-<n>".
func (g *Group) NextOrdinal() (int, bool) { return g.idAllocator.Allocate() }
func (g *Group) ReleaseOrdinal(n int)     { g.idAllocator.Release(n) }
