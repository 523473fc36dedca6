// Package screen implements the screen manager (C8): per-server output
// ring cache, subscriber fan-out, and the half-rate pull scheduler that
// polls each registered server's screen handle.
package screen

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/id"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/plugin"
)

// ErrUnsupported is returned by Subscribe/Write for a server whose driver
// reported Start as Unsupported (no screen resource was ever registered).
var ErrUnsupported = errors.New("screen: unsupported for this server")

type subscriber struct {
	ch chan []string
}

// entry is everything the manager owns per registered server.
type entry struct {
	handle  plugin.ScreenHandle
	cache   *id.Ring
	subs    map[uint64]*subscriber
	pulling *plugin.Call[[]string]
}

// Manager owns every registered screen. Called exclusively from within
// controller tasks; the entries and subscriber maps are not locked because
// the single-writer controller serializes all mutation. mu guards only
// nextID.
type Manager struct {
	log zerolog.Logger

	mu       sync.Mutex // guards nextID
	nextID   uint64
	entries  map[uuid.UUID]*entry
	capacity int
}

func NewManager(log zerolog.Logger, defaultCapacity int) *Manager {
	if defaultCapacity <= 0 {
		defaultCapacity = id.DefaultRingCapacity
	}
	return &Manager{
		log:      log.With().Str("component", "screen-manager").Logger(),
		entries:  make(map[uuid.UUID]*entry),
		capacity: defaultCapacity,
	}
}

// Register wires a freshly started server's screen handle into the
// manager. capacity <= 0 uses the manager default (91 lines).
func (m *Manager) Register(serverID uuid.UUID, handle plugin.ScreenHandle, capacity int) {
	if capacity <= 0 {
		capacity = m.capacity
	}
	m.entries[serverID] = &entry{handle: handle, cache: id.NewRing(capacity), subs: make(map[uint64]*subscriber)}
}

// Unregister tears down a server's screen entry, closing every subscriber
// channel so range-over-channel readers observe completion.
func (m *Manager) Unregister(serverID uuid.UUID) {
	e, ok := m.entries[serverID]
	if !ok {
		return
	}
	for _, sub := range e.subs {
		close(sub.ch)
	}
	delete(m.entries, serverID)
}

// Subscribe registers a new fan-out sink for serverID. If the cache is
// non-empty, the full cache snapshot is sent as the subscriber's first
// message before it starts receiving live batches. Per the original
// controller's behavior (preserved here, see DESIGN.md): if that initial
// send fails (the buffered channel is full immediately), the subscriber is
// not added, a warning is logged, and ErrUnsupported is returned.
func (m *Manager) Subscribe(serverID uuid.UUID, bufSize int) (<-chan []string, func(), error) {
	e, ok := m.entries[serverID]
	if !ok {
		return nil, nil, ErrUnsupported
	}
	if bufSize <= 0 {
		bufSize = 4
	}

	sub := &subscriber{ch: make(chan []string, bufSize)}
	if snapshot := e.cache.Snapshot(); len(snapshot) > 0 {
		select {
		case sub.ch <- snapshot:
		default:
			m.log.Warn().Str("server", serverID.String()).Msg("initial screen snapshot send failed, dropping subscriber")
			return nil, nil, ErrUnsupported
		}
	}

	m.mu.Lock()
	m.nextID++
	subID := m.nextID
	m.mu.Unlock()
	e.subs[subID] = sub

	cancel := func() {
		if cur, ok := m.entries[serverID]; ok {
			if s, ok := cur.subs[subID]; ok && s == sub {
				delete(cur.subs, subID)
			}
		}
	}
	return sub.ch, cancel, nil
}

// Write sends data directly through the handle. Per spec this bypasses the
// ring cache and subscriber fan-out entirely.
func (m *Manager) Write(ctx context.Context, serverID uuid.UUID, data []byte) error {
	e, ok := m.entries[serverID]
	if !ok {
		return ErrUnsupported
	}
	return e.handle.Write(ctx, data)
}

// Tick advances every registered screen's pull scheduler by one step. The
// controller calls this at half the main tick rate (skipping misses, i.e.
// calling it only on alternating ticks), per spec.
func (m *Manager) Tick(ctx context.Context) {
	for id, e := range m.entries {
		m.tickEntry(ctx, id, e)
	}
}

func (m *Manager) tickEntry(ctx context.Context, serverID uuid.UUID, e *entry) {
	if len(e.subs) == 0 {
		return
	}

	if e.pulling == nil {
		e.pulling = plugin.Go(ctx, e.handle.Pull)
		return
	}
	if !e.pulling.IsFinished() {
		return
	}

	lines, err := e.pulling.Await()
	e.pulling = nil
	if err != nil {
		m.log.Warn().Str("server", serverID.String()).Err(err).Msg("screen pull failed")
		return
	}
	if len(lines) == 0 {
		return
	}

	for _, line := range lines {
		e.cache.Push(line)
	}
	for _, sub := range e.subs {
		select {
		case sub.ch <- lines:
		default:
			m.log.Warn().Str("server", serverID.String()).Msg("screen subscriber buffer full, dropping batch")
		}
	}
}
