package user

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/plugin"
)

type fakeServers struct {
	existing map[uuid.UUID]bool
	counts   map[uuid.UUID]int
	addrs    map[uuid.UUID][]plugin.Address
}

func newFakeServers() *fakeServers {
	return &fakeServers{existing: map[uuid.UUID]bool{}, counts: map[uuid.UUID]int{}, addrs: map[uuid.UUID][]plugin.Address{}}
}

func (f *fakeServers) Exists(id uuid.UUID) bool { return f.existing[id] }
func (f *fakeServers) ConnectedUsers(id uuid.UUID) (int, bool) {
	c, ok := f.existing[id]
	return f.counts[id], ok && c
}
func (f *fakeServers) Addresses(id uuid.UUID) ([]plugin.Address, bool) {
	a, ok := f.addrs[id]
	return a, ok
}
func (f *fakeServers) IncrementConnectedUsers(id uuid.UUID) error { f.counts[id]++; return nil }
func (f *fakeServers) DecrementConnectedUsers(id uuid.UUID) error { f.counts[id]--; return nil }

type fakeGroups struct {
	free     map[string]uuid.UUID
	fallback []string
}

func (f *fakeGroups) FreeMember(name string) (uuid.UUID, bool) {
	id, ok := f.free[name]
	return id, ok
}
func (f *fakeGroups) FallbackGroupsByPriorityDesc() []string { return f.fallback }

type fakeEvents struct {
	lastFrom uuid.UUID
	lastTo   uuid.UUID
	calls    int
}

func (f *fakeEvents) EmitUserTransferRequested(from uuid.UUID, users []uuid.UUID, target uuid.UUID, addrs []plugin.Address) {
	f.lastFrom, f.lastTo = from, target
	f.calls++
}

func TestTransferRoundTrip(t *testing.T) {
	servers := newFakeServers()
	a, b := uuid.New(), uuid.New()
	servers.existing[a] = true
	servers.existing[b] = true

	events := &fakeEvents{}
	m := NewManager(zerolog.Nop(), servers, &fakeGroups{}, events, 30*time.Second)

	userID := uuid.New()
	if err := m.UserConnected(a, userID, "alice"); err != nil {
		t.Fatalf("user_connected: %v", err)
	}

	n, err := m.Transfer(Target{Kind: TargetServer, Server: b}, []uuid.UUID{userID})
	if err != nil || n != 1 {
		t.Fatalf("transfer: n=%d err=%v", n, err)
	}
	if events.calls != 1 || events.lastFrom != a || events.lastTo != b {
		t.Fatalf("expected one event from %s to %s, got from=%s to=%s calls=%d", a, b, events.lastFrom, events.lastTo, events.calls)
	}

	if err := m.UserConnected(b, userID, "alice"); err != nil {
		t.Fatalf("confirm user_connected: %v", err)
	}

	u, ok := m.Get(userID)
	if !ok || u.Location.Kind != LocationConnected || u.Location.Server != b {
		t.Fatalf("expected user settled on b with no residual transfer state, got %+v ok=%v", u, ok)
	}
}

func TestDisconnectMismatchedServerDenied(t *testing.T) {
	servers := newFakeServers()
	a, b := uuid.New(), uuid.New()
	servers.existing[a] = true
	servers.existing[b] = true

	m := NewManager(zerolog.Nop(), servers, &fakeGroups{}, &fakeEvents{}, 30*time.Second)
	userID := uuid.New()
	_ = m.UserConnected(a, userID, "alice")

	if err := m.UserDisconnected(b, userID); err == nil {
		t.Fatal("expected permission denied when server doesn't match current location")
	}
	if _, ok := m.Get(userID); !ok {
		t.Fatal("mismatched disconnect must not mutate the user record")
	}
}

func TestFallbackResolvesHighestPriorityFreeGroup(t *testing.T) {
	servers := newFakeServers()
	source := uuid.New()
	target := uuid.New()
	servers.existing[source] = true
	servers.existing[target] = true

	groups := &fakeGroups{
		free:     map[string]uuid.UUID{"b": target},
		fallback: []string{"a", "b"}, // "a" has no free member
	}
	events := &fakeEvents{}
	m := NewManager(zerolog.Nop(), servers, groups, events, 30*time.Second)

	userID := uuid.New()
	_ = m.UserConnected(source, userID, "alice")

	n, err := m.Transfer(Target{Kind: TargetFallback}, []uuid.UUID{userID})
	if err != nil || n != 1 {
		t.Fatalf("transfer: n=%d err=%v", n, err)
	}
	if events.lastTo != target {
		t.Fatalf("expected fallback to resolve to %s, got %s", target, events.lastTo)
	}
}

func TestFallbackFailsWhenNoGroupHasFreeMember(t *testing.T) {
	m := NewManager(zerolog.Nop(), newFakeServers(), &fakeGroups{fallback: []string{"a"}}, &fakeEvents{}, 30*time.Second)
	if _, err := m.Transfer(Target{Kind: TargetFallback}, []uuid.UUID{uuid.New()}); err == nil {
		t.Fatal("expected fallback resolution to fail with no free fallback group")
	}
}

func TestTransferTimeoutEviction(t *testing.T) {
	servers := newFakeServers()
	source, target := uuid.New(), uuid.New()
	servers.existing[source] = true
	servers.existing[target] = true

	m := NewManager(zerolog.Nop(), servers, &fakeGroups{}, &fakeEvents{}, time.Millisecond)
	userID := uuid.New()
	_ = m.UserConnected(source, userID, "alice")
	if _, err := m.Transfer(Target{Kind: TargetServer, Server: target}, []uuid.UUID{userID}); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	m.Tick()

	if _, ok := m.Get(userID); ok {
		t.Fatal("expected user record to be evicted after transfer timeout")
	}
}
