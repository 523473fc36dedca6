package server

import (
	"github.com/google/uuid"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/apierr"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/plugin"
)

// ConnectedUsers satisfies group.ServerView: the scaler's "free" count and
// the user tracker's transfer-target selection both read this without
// reaching into the Server record directly.
func (m *Manager) ConnectedUsers(id uuid.UUID) (int, bool) {
	s, ok := m.servers[id]
	if !ok {
		return 0, false
	}
	return s.ConnectedUsers, true
}

// HasPendingStopFlag satisfies group.ServerView: the stop-empty rule only
// sets a fresh stop-flag if one isn't already pending.
func (m *Manager) HasPendingStopFlag(id uuid.UUID) bool {
	s, ok := m.servers[id]
	return ok && s.StopAt != nil
}

// MembersOf satisfies group.ServerView: the scaler has no roster of its own
// to maintain, so it reads group membership straight from the Group field
// every tick instead of being pushed add/remove events. This must count a
// member as soon as its StartRequest is accepted, not only once commitAllocation
// inserts the Server record two ticks later -- allocate/create both run as
// background plugin.Go calls, so a start sitting in StartQueued/StartAllocating
// has no Server record yet. Counting only m.servers would make tickGroup see
// running==0 on every tick until the first request reaches StartCreating,
// re-firing the floor-maintenance rule with fresh ordinals each time and
// over-provisioning the group well past its max.
func (m *Manager) MembersOf(group string) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for id, s := range m.servers {
		if s.Group != nil && *s.Group == group {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, req := range m.startQueue {
		if req.aborted || req.Group == nil || *req.Group != group {
			continue
		}
		if _, ok := seen[req.UUID]; ok {
			continue // already committed to m.servers (StartCreating stage)
		}
		seen[req.UUID] = struct{}{}
		out = append(out, req.UUID)
	}
	return out
}

// Exists reports whether id currently names a live server record.
func (m *Manager) Exists(id uuid.UUID) bool {
	_, ok := m.servers[id]
	return ok
}

// Addresses returns the host:port allocation of a running server, used by
// the transfer resolver to tell the source server where to push a user.
func (m *Manager) Addresses(id uuid.UUID) ([]plugin.Address, bool) {
	s, ok := m.servers[id]
	if !ok {
		return nil, false
	}
	return s.Allocation.Addresses, true
}

// IncrementConnectedUsers and DecrementConnectedUsers are called by the
// user manager from user_connected/user_disconnected, which have already
// validated the caller's token names this exact server.
func (m *Manager) IncrementConnectedUsers(id uuid.UUID) error {
	s, ok := m.servers[id]
	if !ok {
		return apierr.Link("server", id.String())
	}
	s.ConnectedUsers++
	return nil
}

func (m *Manager) DecrementConnectedUsers(id uuid.UUID) error {
	s, ok := m.servers[id]
	if !ok {
		return apierr.Link("server", id.String())
	}
	if s.ConnectedUsers > 0 {
		s.ConnectedUsers--
	}
	return nil
}
