package server

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/apierr"
)

// Manager owns every Server record plus the pending start/stop/restart
// queues. All methods are called exclusively from within controller tasks
// (single-writer); nothing here takes its own lock.
type Manager struct {
	log zerolog.Logger

	nodes   NodeHandleResolver
	tokens  TokenIssuer
	screens ScreenRegistrar
	events  EventEmitter
	users   UserPurger

	restartTimeout   time.Duration
	startupTimeout   time.Duration
	heartbeatTimeout time.Duration

	servers map[uuid.UUID]*Server
	byName  map[string]uuid.UUID

	startQueue   []*StartRequest
	stopQueue    []*StopRequest
	restartQueue []*RestartRequest
}

type Deps struct {
	Nodes            NodeHandleResolver
	Tokens           TokenIssuer
	Screens          ScreenRegistrar
	Events           EventEmitter
	Users            UserPurger
	RestartTimeout   time.Duration
	StartupTimeout   time.Duration
	HeartbeatTimeout time.Duration
}

func NewManager(log zerolog.Logger, deps Deps) *Manager {
	if deps.RestartTimeout <= 0 {
		deps.RestartTimeout = 30 * time.Second
	}
	if deps.StartupTimeout <= 0 {
		deps.StartupTimeout = 30 * time.Second
	}
	if deps.HeartbeatTimeout <= 0 {
		deps.HeartbeatTimeout = 30 * time.Second
	}
	return &Manager{
		log:              log.With().Str("component", "server-manager").Logger(),
		nodes:            deps.Nodes,
		tokens:           deps.Tokens,
		screens:          deps.Screens,
		events:           deps.Events,
		users:            deps.Users,
		restartTimeout:   deps.RestartTimeout,
		startupTimeout:   deps.StartupTimeout,
		heartbeatTimeout: deps.HeartbeatTimeout,
		servers:          make(map[uuid.UUID]*Server),
		byName:           make(map[string]uuid.UUID),
	}
}

// SetUserPurger wires the user manager in after construction, breaking the
// constructor cycle between server.Manager (which needs a UserPurger) and
// user.Manager (which needs a server.ServerView) — exactly one of the two
// must be built first, and the other's dependency arrives by setter.
func (m *Manager) SetUserPurger(u UserPurger) { m.users = u }

func (m *Manager) GetByUUID(id uuid.UUID) (*Server, bool) {
	s, ok := m.servers[id]
	return s, ok
}

func (m *Manager) GetByName(name string) (*Server, bool) {
	id, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	s, ok := m.servers[id]
	return s, ok
}

func (m *Manager) All() []*Server {
	out := make([]*Server, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, s)
	}
	return out
}

// ScheduleStart appends a StartRequest to the queue. Idempotent on the same
// (group, name) pair when a matching request is already pending.
func (m *Manager) ScheduleStart(req *StartRequest) error {
	if len(req.Nodes) == 0 {
		m.log.Warn().Str("name", req.Name).Msg("start request has no candidate nodes, rejecting")
		return apierr.Link("server", req.Name)
	}
	group, name := req.Key()
	for _, existing := range m.startQueue {
		eg, en := existing.Key()
		if eg == group && en == name {
			return nil
		}
	}
	m.startQueue = append(m.startQueue, req)
	return nil
}

// ScheduleStop appends a StopRequest. If a matching StartRequest is still
// Queued, both are cancelled with no side effects (schedule-then-cancel).
// If the start has reached Creating, the create is left to finish and the
// stop is queued to run immediately after.
func (m *Manager) ScheduleStop(req *StopRequest) error {
	for i, sr := range m.startQueue {
		if sr.UUID != req.Server {
			continue
		}
		switch sr.Stage.Kind {
		case StartQueued:
			m.startQueue = append(m.startQueue[:i], m.startQueue[i+1:]...)
			return nil
		case StartAllocating:
			sr.aborted = true
			m.startQueue = append(m.startQueue[:i], m.startQueue[i+1:]...)
			return nil
		case StartCreating:
			// advanceStart queues the stop once the create call finishes.
			sr.aborted = true
			return nil
		}
		break
	}
	m.stopQueue = append(m.stopQueue, req)
	return nil
}

func (m *Manager) ScheduleRestart(id uuid.UUID, when *time.Time) error {
	if _, ok := m.servers[id]; !ok {
		return apierr.NotFound("server", id.String())
	}
	m.restartQueue = append(m.restartQueue, &RestartRequest{Server: id, When: when})
	return nil
}

func (m *Manager) Heartbeat(id uuid.UUID) error {
	s, ok := m.servers[id]
	if !ok {
		return apierr.Link("server", id.String())
	}
	s.NextCheck = timeNow().Add(m.heartbeatTimeout)
	return nil
}

func (m *Manager) SetRunning(id uuid.UUID) error {
	s, ok := m.servers[id]
	if !ok {
		return apierr.Link("server", id.String())
	}
	s.State = StateRunning
	return nil
}

func (m *Manager) SetReady(id uuid.UUID, ready bool) error {
	s, ok := m.servers[id]
	if !ok {
		return apierr.Link("server", id.String())
	}
	s.Ready = ready
	return nil
}

// SetStopFlag sets or clears the group-owned deferred stop instant.
func (m *Manager) SetStopFlag(id uuid.UUID, at *time.Time) error {
	s, ok := m.servers[id]
	if !ok {
		return apierr.Link("server", id.String())
	}
	s.StopAt = at
	return nil
}

func timeNow() time.Time { return time.Now() }
