package user

import (
	"github.com/google/uuid"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/plugin"
)

// TargetKind is the closed set of transfer target shapes a caller may name.
type TargetKind int

const (
	TargetServer TargetKind = iota
	TargetGroup
	TargetFallback
)

// Target is the tagged union a transfer_users request carries.
type Target struct {
	Kind  TargetKind
	Server uuid.UUID // TargetServer
	Group  string    // TargetGroup
}

// ServerView is what the transfer resolver needs from the server manager.
type ServerView interface {
	Exists(id uuid.UUID) bool
	ConnectedUsers(id uuid.UUID) (int, bool)
	Addresses(id uuid.UUID) ([]plugin.Address, bool)
	IncrementConnectedUsers(id uuid.UUID) error
	DecrementConnectedUsers(id uuid.UUID) error
}

// GroupView is what the transfer resolver needs from the group manager.
type GroupView interface {
	FreeMember(group string) (uuid.UUID, bool)
	FallbackGroupsByPriorityDesc() []string
}

// TransferEmitter is how the user manager announces a resolved transfer to
// the event fabric, keyed by the *source* server so it can push the user.
type TransferEmitter interface {
	EmitUserTransferRequested(from uuid.UUID, users []uuid.UUID, target uuid.UUID, addrs []plugin.Address)
}

// resolveTarget turns a Target into a concrete destination server uuid.
// Fallback is illegal (returns ok=false) if no fallback-enabled group has a
// free member.
func (m *Manager) resolveTarget(t Target) (uuid.UUID, bool) {
	switch t.Kind {
	case TargetServer:
		if !m.servers.Exists(t.Server) {
			return uuid.Nil, false
		}
		return t.Server, true
	case TargetGroup:
		return m.groups.FreeMember(t.Group)
	case TargetFallback:
		for _, name := range m.groups.FallbackGroupsByPriorityDesc() {
			if id, ok := m.groups.FreeMember(name); ok {
				return id, true
			}
		}
		return uuid.Nil, false
	}
	return uuid.Nil, false
}
