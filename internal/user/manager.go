package user

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/apierr"
)

// Manager owns every connected User record. Called exclusively from within
// controller tasks (single-writer); nothing here takes its own lock.
type Manager struct {
	log zerolog.Logger

	servers ServerView
	groups  GroupView
	events  TransferEmitter

	transferTimeout time.Duration

	users map[uuid.UUID]*User
}

func NewManager(log zerolog.Logger, servers ServerView, groups GroupView, events TransferEmitter, transferTimeout time.Duration) *Manager {
	return &Manager{
		log:             log.With().Str("component", "user-manager").Logger(),
		servers:         servers,
		groups:          groups,
		events:          events,
		transferTimeout: transferTimeout,
		users:           make(map[uuid.UUID]*User),
	}
}

func (m *Manager) Get(id uuid.UUID) (*User, bool) {
	u, ok := m.users[id]
	return u, ok
}

func (m *Manager) All() []*User {
	out := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out
}

// UserConnected increments server.connected_users and either registers a
// new user or, if a Transferring record targeting serverID exists, confirms
// the transfer by switching the user to Connected.
func (m *Manager) UserConnected(serverID, userID uuid.UUID, name string) error {
	if !m.servers.Exists(serverID) {
		return apierr.Link("server", serverID.String())
	}
	if err := m.servers.IncrementConnectedUsers(serverID); err != nil {
		return err
	}

	if u, ok := m.users[userID]; ok && u.Location.Kind == LocationTransferring && u.Location.Target == serverID {
		u.Location = Location{Kind: LocationConnected, Server: serverID}
		return nil
	}

	m.users[userID] = &User{Name: name, UUID: userID, Location: Location{Kind: LocationConnected, Server: serverID}}
	return nil
}

// UserDisconnected decrements only if the user record still points at
// serverID; a mismatch (user reconnected elsewhere, or record gone) yields
// PermissionDenied rather than silently decrementing the wrong server.
func (m *Manager) UserDisconnected(serverID, userID uuid.UUID) error {
	u, ok := m.users[userID]
	if !ok || u.Location.Kind != LocationConnected || u.Location.Server != serverID {
		return apierr.PermissionDenied("user")
	}
	if err := m.servers.DecrementConnectedUsers(serverID); err != nil {
		return err
	}
	delete(m.users, userID)
	return nil
}

// Transfer resolves target to a concrete destination server, then for every
// id that currently has a live Connected record switches it to Transferring
// and emits one UserTransferRequested per distinct source server. Resolving
// the target is all-or-nothing (a Fallback/Group with no free member fails
// the whole batch); per-id failures (unknown or already-transferring user)
// are skipped and reflected only in the returned partial success count.
func (m *Manager) Transfer(t Target, ids []uuid.UUID) (int, error) {
	dest, ok := m.resolveTarget(t)
	if !ok {
		return 0, apierr.NotFound("transfer-target", targetLabel(t))
	}
	addrs, _ := m.servers.Addresses(dest)

	bySource := make(map[uuid.UUID][]uuid.UUID)
	success := 0
	now := timeNow()
	for _, id := range ids {
		u, ok := m.users[id]
		if !ok || u.Location.Kind != LocationConnected {
			continue
		}
		source := u.Location.Server
		u.Location = Location{Kind: LocationTransferring, Target: dest, StartedAt: now}
		bySource[source] = append(bySource[source], id)
		success++
	}

	for source, moved := range bySource {
		m.events.EmitUserTransferRequested(source, moved, dest, addrs)
	}
	return success, nil
}

// Tick evicts users who have sat in Transferring longer than the configured
// transfer timeout.
func (m *Manager) Tick() {
	now := timeNow()
	for id, u := range m.users {
		if u.Location.Kind == LocationTransferring && now.Sub(u.Location.StartedAt) > m.transferTimeout {
			m.log.Info().Str("user", u.Name).Msg("transfer timed out, dropping user record")
			delete(m.users, id)
		}
	}
}

// PurgeServer removes every user record connected to serverID, called by
// the server manager when that server's record is removed.
func (m *Manager) PurgeServer(serverID uuid.UUID) {
	for id, u := range m.users {
		if u.Location.Kind == LocationConnected && u.Location.Server == serverID {
			delete(m.users, id)
		}
	}
}

func targetLabel(t Target) string {
	switch t.Kind {
	case TargetServer:
		return t.Server.String()
	case TargetGroup:
		return t.Group
	default:
		return "fallback"
	}
}

func timeNow() time.Time { return time.Now() }
