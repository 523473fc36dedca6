package group

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/apierr"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/server"
)

// ServerView is what the group scaler needs from the server manager: enough
// to compute "free" members and to enqueue start/stop requests, without
// importing server.Manager's full surface.
type ServerView interface {
	ConnectedUsers(id uuid.UUID) (int, bool)
	HasPendingStopFlag(id uuid.UUID) bool
	ScheduleStart(req *server.StartRequest) error
	ScheduleStop(req *server.StopRequest) error
	SetStopFlag(id uuid.UUID, at *time.Time) error
	// MembersOf returns every server currently owned by group name. The
	// server manager is the source of truth for this (via Server.Group);
	// groups never maintain their own roster.
	MembersOf(group string) []uuid.UUID
}

// Manager owns every loaded Group.
type Manager struct {
	log                zerolog.Logger
	servers            ServerView
	emptyServerTimeout time.Duration

	groups map[string]*Group
}

func NewManager(log zerolog.Logger, servers ServerView, emptyServerTimeout time.Duration) *Manager {
	return &Manager{
		log:                log.With().Str("component", "group-manager").Logger(),
		servers:            servers,
		emptyServerTimeout: emptyServerTimeout,
		groups:             make(map[string]*Group),
	}
}

func (m *Manager) Get(name string) (*Group, bool) {
	g, ok := m.groups[name]
	return g, ok
}

func (m *Manager) All() []*Group {
	out := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g)
	}
	return out
}

func (m *Manager) Create(g *Group) error {
	if _, exists := m.groups[g.Name]; exists {
		return apierr.AlreadyExists("group", g.Name)
	}
	m.groups[g.Name] = g
	return nil
}

// RunningCount reports how many servers are currently members of group name,
// for callers (the RPC layer) that need a snapshot without going through Tick.
func (m *Manager) RunningCount(name string) int {
	return len(m.servers.MembersOf(name))
}

func (m *Manager) Delete(name string) error {
	g, ok := m.groups[name]
	if !ok {
		return apierr.NotFound("group", name)
	}
	if len(m.servers.MembersOf(name)) > 0 {
		return apierr.StillInUse("group", name)
	}
	delete(m.groups, name)
	return nil
}

// Tick evaluates every active, scaling-enabled group's members against its
// policy and enqueues start/stop requests accordingly. Called in the
// documented order, after nodes.Tick and before servers.Tick, so a scaler
// decision made here is seen by the immediately following server tick.
func (m *Manager) Tick() {
	for _, g := range m.groups {
		m.tickGroup(g)
	}
}

func (m *Manager) tickGroup(g *Group) {
	if !g.Active || len(g.Nodes) == 0 {
		return
	}

	if !g.Scaling.Enabled {
		m.evaluateStopEmpty(g)
		return
	}

	members := m.servers.MembersOf(g.Name)
	running := len(members)
	free := m.countFree(g, members)

	// Rule 2: maintain the floor. Rule 3 only tops up beyond an
	// already-met floor -- a tick that just filled the floor hasn't
	// observed those pending members as busy yet, so it must not also
	// fire rule 3 against the pre-fill snapshot in the same tick.
	if running < g.Constraints.Min {
		m.scheduleNewMembers(g, g.Constraints.Min-running)
	} else if free == 0 && running < g.Constraints.Max {
		// Rule 3: strict equality, not <=; see design notes for why.
		m.scheduleNewMembers(g, 1)
	}

	m.evaluateStopEmpty(g)
}

// countFree counts running members with headroom under
// max_players*start_threshold. A member whose connected-user count can't be
// resolved (record vanished between ticks) doesn't count as free or busy.
func (m *Manager) countFree(g *Group, members []uuid.UUID) int {
	free := 0
	for _, id := range members {
		users, ok := m.servers.ConnectedUsers(id)
		if !ok {
			continue
		}
		if float64(users) < float64(g.MaxPlayers)*g.Scaling.StartThreshold {
			free++
		}
	}
	return free
}

func (m *Manager) scheduleNewMembers(g *Group, count int) {
	for i := 0; i < count; i++ {
		ordinal, ok := g.NextOrdinal()
		if !ok {
			m.log.Warn().Str("group", g.Name).Msg("group ordinal allocator exhausted")
			return
		}
		name := fmt.Sprintf("%s-%d", g.Name, ordinal)
		groupName := g.Name
		err := m.servers.ScheduleStart(&server.StartRequest{
			Name:      name,
			UUID:      uuid.New(),
			Group:     &groupName,
			Nodes:     append([]string(nil), g.Nodes...),
			Resources: g.Resources,
			Spec:      g.Spec,
			PortCount: g.PortCount,
			Priority:  g.Constraints.Priority,
			Retention: g.Retention,
		})
		if err != nil {
			g.ReleaseOrdinal(ordinal)
			m.log.Warn().Str("group", g.Name).Str("name", name).Err(err).Msg("failed to schedule new member")
		}
	}
}

// evaluateStopEmpty flags idle members for a deferred stop once
// stop_empty_servers is set, and only if no stop is already pending.
func (m *Manager) evaluateStopEmpty(g *Group) {
	if !g.Scaling.StopEmptyServer {
		return
	}
	for _, id := range m.servers.MembersOf(g.Name) {
		users, ok := m.servers.ConnectedUsers(id)
		if !ok || users != 0 {
			continue
		}
		if m.servers.HasPendingStopFlag(id) {
			continue
		}
		at := time.Now().Add(m.emptyServerTimeout)
		if err := m.servers.SetStopFlag(id, &at); err != nil {
			m.log.Warn().Str("group", g.Name).Err(err).Msg("failed to set stop flag on empty member")
		}
	}
}

// FreeMember returns the lowest-loaded member of group name that still has
// headroom under max_players*start_threshold, for the user manager's
// Group(name) transfer-target resolution. ok=false if the group doesn't
// exist or has no free member.
func (m *Manager) FreeMember(name string) (uuid.UUID, bool) {
	g, ok := m.groups[name]
	if !ok {
		return uuid.Nil, false
	}
	return m.lowestLoadFreeMember(g)
}

// FallbackGroupsByPriorityDesc returns the names of every fallback-enabled
// group, ordered by descending fallback priority, for the Fallback transfer
// target's resolution order.
func (m *Manager) FallbackGroupsByPriorityDesc() []string {
	var names []string
	for _, g := range m.groups {
		if g.FallbackEnabled {
			names = append(names, g.Name)
		}
	}
	sort.SliceStable(names, func(i, j int) bool {
		return m.groups[names[i]].FallbackPriority > m.groups[names[j]].FallbackPriority
	})
	return names
}

func (m *Manager) lowestLoadFreeMember(g *Group) (uuid.UUID, bool) {
	best := uuid.Nil
	bestLoad := -1
	found := false
	for _, id := range m.servers.MembersOf(g.Name) {
		users, ok := m.servers.ConnectedUsers(id)
		if !ok {
			continue
		}
		if float64(users) >= float64(g.MaxPlayers)*g.Scaling.StartThreshold {
			continue
		}
		if !found || users < bestLoad {
			best, bestLoad, found = id, users, true
		}
	}
	return best, found
}

// Deactivate schedules stops for the entire roster, used when a group is
// manually deleted or deactivated while members still exist.
func (m *Manager) Deactivate(name string) error {
	g, ok := m.groups[name]
	if !ok {
		return apierr.NotFound("group", name)
	}
	g.Active = false
	for _, id := range m.servers.MembersOf(name) {
		if err := m.servers.ScheduleStop(&server.StopRequest{Server: id}); err != nil {
			m.log.Warn().Str("group", name).Err(err).Msg("failed to schedule stop during deactivation")
		}
	}
	return nil
}
