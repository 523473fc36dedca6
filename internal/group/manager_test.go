package group

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/server"
)

// fakeServers is a minimal group.ServerView backed by in-memory maps, so
// the scaler can be exercised without a real server.Manager. It mirrors the
// real manager's two-phase membership: addMember seeds an already-committed
// member (as if already present in m.servers), while ScheduleStart only
// records a *pending* member (as if still sitting in the start queue,
// waiting on the background allocate/create calls) until the test commits
// it explicitly via completeStart. MembersOf counts both, matching
// server.Manager.MembersOf counting live records plus in-flight
// StartRequests -- this is what lets TestAutoscaleDoesNotOverprovisionAcrossPendingTicks
// below catch a regression of the scaler re-firing on every tick a start
// request hasn't reached m.servers yet.
type fakeServers struct {
	membership map[string][]uuid.UUID
	pending    map[string][]uuid.UUID
	connected  map[uuid.UUID]int
	stopFlags  map[uuid.UUID]*time.Time
	started    []*server.StartRequest
	stopped    []*server.StopRequest
}

func newFakeServers() *fakeServers {
	return &fakeServers{
		membership: make(map[string][]uuid.UUID),
		pending:    make(map[string][]uuid.UUID),
		connected:  make(map[uuid.UUID]int),
		stopFlags:  make(map[uuid.UUID]*time.Time),
	}
}

func (f *fakeServers) addMember(group string, id uuid.UUID) {
	f.membership[group] = append(f.membership[group], id)
}

// completeStart moves a pending start (scheduled via ScheduleStart) into
// committed membership, as commitAllocation does once allocation succeeds.
func (f *fakeServers) completeStart(group string, id uuid.UUID) {
	pending := f.pending[group]
	for i, pid := range pending {
		if pid == id {
			f.pending[group] = append(pending[:i], pending[i+1:]...)
			break
		}
	}
	f.addMember(group, id)
}

func (f *fakeServers) MembersOf(group string) []uuid.UUID {
	out := append([]uuid.UUID(nil), f.membership[group]...)
	return append(out, f.pending[group]...)
}

func (f *fakeServers) ConnectedUsers(id uuid.UUID) (int, bool) {
	n, ok := f.connected[id]
	return n, ok
}

func (f *fakeServers) HasPendingStopFlag(id uuid.UUID) bool {
	return f.stopFlags[id] != nil
}

func (f *fakeServers) ScheduleStart(req *server.StartRequest) error {
	f.started = append(f.started, req)
	f.pending[*req.Group] = append(f.pending[*req.Group], req.UUID)
	return nil
}

func (f *fakeServers) ScheduleStop(req *server.StopRequest) error {
	f.stopped = append(f.stopped, req)
	return nil
}

func (f *fakeServers) SetStopFlag(id uuid.UUID, at *time.Time) error {
	f.stopFlags[id] = at
	return nil
}

func newTestGroup(name string) *Group {
	g := New(name)
	g.Constraints = Constraints{Min: 2, Max: 4, Priority: 5}
	g.Scaling = ScalingPolicy{Enabled: true, StartThreshold: 1.0}
	g.MaxPlayers = 10
	g.Nodes = []string{"node-a"}
	return g
}

// TestAutoscaleUpToMinimum grounds scenario 1's floor-maintenance half: an
// empty group with min=2 schedules exactly two StartRequests on a single
// tick, with the group's priority and distinct names. The newly-scheduled
// members land in fakeServers.pending (not yet committed, matching the real
// manager's start queue before allocation completes). Rule 3 does not also
// fire in the same tick, because tickGroup evaluates it only as the else
// branch of the floor-maintenance rule.
func TestAutoscaleUpToMinimum(t *testing.T) {
	servers := newFakeServers()
	mgr := NewManager(zerolog.Nop(), servers, time.Minute)
	g := newTestGroup("lobby")
	if err := mgr.Create(g); err != nil {
		t.Fatalf("create group: %v", err)
	}

	mgr.Tick()

	if len(servers.started) != 2 {
		t.Fatalf("expected 2 start requests, got %d", len(servers.started))
	}
	seen := map[string]bool{}
	for _, req := range servers.started {
		if req.Priority != 5 {
			t.Fatalf("expected priority 5, got %d", req.Priority)
		}
		if seen[req.Name] {
			t.Fatalf("duplicate server name %q", req.Name)
		}
		seen[req.Name] = true
	}
}

// TestAutoscaleStrictFreeEqualityNotLessOrEqual grounds scenario 1's second
// half and the §9 open-question resolution: the additional-server rule
// fires only when free == 0, using strict < against the threshold (not <=).
func TestAutoscaleStrictFreeEqualityNotLessOrEqual(t *testing.T) {
	servers := newFakeServers()
	mgr := NewManager(zerolog.Nop(), servers, time.Minute)
	g := newTestGroup("lobby")
	// Already at the floor: two running members, both near the threshold
	// boundary (9 < 10*1.0), so free should be 1, not 0 -- no extra start.
	idA, idB := uuid.New(), uuid.New()
	servers.addMember("lobby", idA)
	servers.addMember("lobby", idB)
	servers.connected[idA] = 9
	servers.connected[idB] = 10 // at max_players*start_threshold exactly: not free
	if err := mgr.Create(g); err != nil {
		t.Fatalf("create group: %v", err)
	}

	mgr.Tick()
	if len(servers.started) != 0 {
		t.Fatalf("expected no additional start while free==1, got %d", len(servers.started))
	}

	// Now push the free member to the threshold too: free becomes 0.
	servers.connected[idA] = 10
	mgr.Tick()
	if len(servers.started) != 1 {
		t.Fatalf("expected exactly one additional start once free==0, got %d", len(servers.started))
	}
}

// TestAutoscaleDoesNotOverprovisionAcrossPendingTicks guards against a
// regression where tickGroup counted only committed m.servers membership:
// a StartRequest sits pending (Queued/Allocating) for roughly two ticks
// before commitAllocation ever adds a Server record, since allocate/create
// run as background plugin.Go calls. If MembersOf only sees the committed
// set, every tick before commit still observes running==0 and re-fires the
// floor-maintenance rule with fresh ordinals, overshooting max. With
// min==max here, any overshoot is an immediate invariant violation.
func TestAutoscaleDoesNotOverprovisionAcrossPendingTicks(t *testing.T) {
	servers := newFakeServers()
	mgr := NewManager(zerolog.Nop(), servers, time.Minute)
	g := newTestGroup("lobby")
	g.Constraints.Max = 2 // min == max
	if err := mgr.Create(g); err != nil {
		t.Fatalf("create group: %v", err)
	}

	mgr.Tick() // schedules lobby-1, lobby-2; both still pending (uncommitted)
	mgr.Tick() // must not re-fire: MembersOf already counts the pending pair
	mgr.Tick()

	if len(servers.started) != 2 {
		t.Fatalf("expected exactly 2 start requests total, got %d (over-provisioned)", len(servers.started))
	}
}

// TestStopEmptyServerSetsFlagOnIdleMember grounds scenario 2: a stop-empty
// group sets a deferred stop-flag on an idle member, and ticking again
// doesn't reset the deadline while one is already pending.
func TestStopEmptyServerSetsFlagOnIdleMember(t *testing.T) {
	servers := newFakeServers()
	mgr := NewManager(zerolog.Nop(), servers, 5*time.Minute)
	g := newTestGroup("lobby")
	g.Scaling.Enabled = false // isolate rule 4 from the floor/free rules
	g.Scaling.StopEmptyServer = true
	id := uuid.New()
	servers.addMember("lobby", id)
	servers.connected[id] = 0
	if err := mgr.Create(g); err != nil {
		t.Fatalf("create group: %v", err)
	}

	mgr.Tick()

	if !servers.HasPendingStopFlag(id) {
		t.Fatal("expected a stop-flag to be set on the idle member")
	}
	firstDeadline := servers.stopFlags[id]

	// Ticking again must not reset the deadline: rule 4 only sets the flag
	// when none is pending yet.
	mgr.Tick()
	if servers.stopFlags[id] != firstDeadline {
		t.Fatal("expected the stop-flag deadline to be set exactly once")
	}
}

// TestStopEmptyServerSkipsConnectedMembers ensures a member with
// connected_users != 0 never gets a stop-flag.
func TestStopEmptyServerSkipsConnectedMembers(t *testing.T) {
	servers := newFakeServers()
	mgr := NewManager(zerolog.Nop(), servers, time.Minute)
	g := newTestGroup("lobby")
	g.Scaling.Enabled = false
	g.Scaling.StopEmptyServer = true
	id := uuid.New()
	servers.addMember("lobby", id)
	servers.connected[id] = 3
	_ = mgr.Create(g)

	mgr.Tick()

	if servers.HasPendingStopFlag(id) {
		t.Fatal("expected no stop-flag on a member with connected users")
	}
}

// TestDeactivateSchedulesStopsForWholeRoster grounds rule 5: deleting or
// deactivating a group schedules stops for every member.
func TestDeactivateSchedulesStopsForWholeRoster(t *testing.T) {
	servers := newFakeServers()
	mgr := NewManager(zerolog.Nop(), servers, time.Minute)
	g := newTestGroup("lobby")
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		servers.addMember("lobby", id)
	}
	_ = mgr.Create(g)

	if err := mgr.Deactivate("lobby"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if len(servers.stopped) != len(ids) {
		t.Fatalf("expected %d stop requests, got %d", len(ids), len(servers.stopped))
	}
	if g.Active {
		t.Fatal("expected group to be marked inactive")
	}
}

// TestFallbackGroupsByPriorityDescOrdersCorrectly grounds the fallback
// resolver's ordering contract used by scenario 4.
func TestFallbackGroupsByPriorityDescOrdersCorrectly(t *testing.T) {
	servers := newFakeServers()
	mgr := NewManager(zerolog.Nop(), servers, time.Minute)

	low := newTestGroup("low")
	low.FallbackEnabled = true
	low.FallbackPriority = 1
	high := newTestGroup("high")
	high.FallbackEnabled = true
	high.FallbackPriority = 10
	neither := newTestGroup("neither")

	_ = mgr.Create(low)
	_ = mgr.Create(high)
	_ = mgr.Create(neither)

	got := mgr.FallbackGroupsByPriorityDesc()
	if len(got) != 2 || got[0] != "high" || got[1] != "low" {
		t.Fatalf("expected [high low], got %v", got)
	}
}

// TestFreeMemberPicksLowestLoad grounds the Group(name) transfer target's
// lowest-load selection rule.
func TestFreeMemberPicksLowestLoad(t *testing.T) {
	servers := newFakeServers()
	mgr := NewManager(zerolog.Nop(), servers, time.Minute)
	g := newTestGroup("lobby")
	busy, idle := uuid.New(), uuid.New()
	servers.addMember("lobby", busy)
	servers.addMember("lobby", idle)
	servers.connected[busy] = 8
	servers.connected[idle] = 2
	_ = mgr.Create(g)

	got, ok := mgr.FreeMember("lobby")
	if !ok || got != idle {
		t.Fatalf("expected idle member to be chosen, got %v ok=%v", got, ok)
	}
}

// TestDeleteForbiddenWhileRunningMembersExist grounds the C5 invariant that
// a group with running members can't simply be deleted out from under it.
func TestDeleteForbiddenWhileRunningMembersExist(t *testing.T) {
	servers := newFakeServers()
	mgr := NewManager(zerolog.Nop(), servers, time.Minute)
	g := newTestGroup("lobby")
	servers.addMember("lobby", uuid.New())
	_ = mgr.Create(g)

	if err := mgr.Delete("lobby"); err == nil {
		t.Fatal("expected delete to fail while the roster is non-empty")
	}
}

// TestRunningCountReflectsServerView grounds the RPC DTO path: RunningCount
// is read straight from the server view, not cached state on Group.
func TestRunningCountReflectsServerView(t *testing.T) {
	servers := newFakeServers()
	mgr := NewManager(zerolog.Nop(), servers, time.Minute)
	g := newTestGroup("lobby")
	_ = mgr.Create(g)

	if got := mgr.RunningCount("lobby"); got != 0 {
		t.Fatalf("expected 0 running members, got %d", got)
	}
	servers.addMember("lobby", uuid.New())
	if got := mgr.RunningCount("lobby"); got != 1 {
		t.Fatalf("expected 1 running member, got %d", got)
	}
}
