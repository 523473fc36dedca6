package controller

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/event"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/group"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/metrics"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/node"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/plugin"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/screen"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/server"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/user"
)

// harness wires every engine component together exactly as cmd/controller
// would, over a single loopback-driven node, for integration-level tests
// of the scenarios in spec.md §8.
type harness struct {
	ctrl    *Controller
	nodes   *node.Manager
	groups  *group.Manager
	servers *server.Manager
	users   *user.Manager
	screens *screen.Manager
	events  *event.Bus
	driver  *plugin.LoopbackDriver
}

func newHarness(t *testing.T) *harness {
	log := zerolog.Nop()
	ctx := context.Background()

	host := plugin.NewHost(log)
	driver := plugin.NewLoopbackDriver(log)
	if _, err := host.Register(ctx, "loopback", driver, nil); err != nil {
		t.Fatalf("register loopback driver: %v", err)
	}

	nodes := node.NewManager(log)
	handle, err := driver.InitNode(ctx, "node-a", plugin.Capabilities{MaxServers: 10}, plugin.RemoteController{})
	if err != nil {
		t.Fatalf("init node: %v", err)
	}
	n := node.New("node-a", uuid.New(), "loopback", plugin.Capabilities{MaxServers: 10}, plugin.RemoteController{})
	n.Handle = handle
	if err := nodes.Create(n); err != nil {
		t.Fatalf("create node: %v", err)
	}

	bus := event.NewBus(log)
	screens := screen.NewManager(log, 0)

	// tokens: a minimal stand-in satisfying server.TokenIssuer, avoiding a
	// real auth.Registry import cycle concern (none exists, but keeps the
	// harness focused on the engine under test).
	tokens := &stubTokens{}

	srv := server.NewManager(log, server.Deps{
		Nodes:          nodes,
		Tokens:         tokens,
		Screens:        screens,
		Events:         bus,
		RestartTimeout: time.Second,
	})

	groups := group.NewManager(log, srv, 50*time.Millisecond)

	users := user.NewManager(log, srv, groups, bus, time.Second)
	srv.SetUserPurger(users)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	components := Components{Plugins: host, Nodes: nodes, Groups: groups, Servers: srv, Users: users, Screens: screens, Events: bus}
	ctrl := New(log, NewQueue(64), components, m, Config{TickRate: 5 * time.Millisecond, TaskBudget: 32})

	return &harness{ctrl: ctrl, nodes: nodes, groups: groups, servers: srv, users: users, screens: screens, events: bus, driver: driver}
}

type stubTokens struct{}

func (stubTokens) IssueServerToken(uuid.UUID) (string, error) { return "sctl_test", nil }
func (stubTokens) RevokeServerToken(string)                   {}

func TestAutoscaleUpToMinimum(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := group.New("lobby")
	g.Nodes = []string{"node-a"}
	g.Constraints = group.Constraints{Min: 2, Max: 4, Priority: 5}
	g.Scaling = group.ScalingPolicy{Enabled: true, StartThreshold: 1.0}
	g.MaxPlayers = 10
	g.PortCount = 1
	if err := h.groups.Create(g); err != nil {
		t.Fatalf("create group: %v", err)
	}

	for i := 0; i < 6; i++ {
		h.ctrl.runOnce(ctx)
		time.Sleep(2 * time.Millisecond)
	}

	running := h.groups.RunningCount("lobby")
	if running != 2 {
		t.Fatalf("expected 2 running members at min, got %d", running)
	}
	if len(h.servers.All()) != 2 {
		t.Fatalf("expected 2 server records, got %d", len(h.servers.All()))
	}
}

func TestAutoscaleAddsOneWhenNoFreeCapacityStrictEquality(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	g := group.New("lobby")
	g.Nodes = []string{"node-a"}
	g.Constraints = group.Constraints{Min: 1, Max: 4, Priority: 5}
	g.Scaling = group.ScalingPolicy{Enabled: true, StartThreshold: 1.0}
	g.MaxPlayers = 10
	g.PortCount = 1
	_ = h.groups.Create(g)

	for i := 0; i < 6; i++ {
		h.ctrl.runOnce(ctx)
		time.Sleep(2 * time.Millisecond)
	}
	if h.groups.RunningCount("lobby") != 1 {
		t.Fatalf("expected exactly 1 running member at min=1")
	}

	var serverID uuid.UUID
	for _, s := range h.servers.All() {
		serverID = s.UUID
	}

	// 9 of 10 slots full: the member still counts as free (9 < 10*1.0), so
	// free == 1 and this alone must NOT trigger scale-up ...
	for i := 0; i < 9; i++ {
		if err := h.users.UserConnected(serverID, uuid.New(), "p"); err != nil {
			t.Fatalf("user_connected: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		h.ctrl.runOnce(ctx)
		time.Sleep(2 * time.Millisecond)
	}
	if h.groups.RunningCount("lobby") != 1 {
		t.Fatalf("9/10 connected should still report free>0 (9 < 10.0), expected no scale-up yet, got running=%d", h.groups.RunningCount("lobby"))
	}

	// ... the 10th connection drives connected_users to max_players,
	// making free == 0 and triggering exactly one more StartRequest.
	if err := h.users.UserConnected(serverID, uuid.New(), "p"); err != nil {
		t.Fatalf("user_connected: %v", err)
	}
	for i := 0; i < 6; i++ {
		h.ctrl.runOnce(ctx)
		time.Sleep(2 * time.Millisecond)
	}
	if h.groups.RunningCount("lobby") != 2 {
		t.Fatalf("expected scale-up to 2 once free==0, got %d", h.groups.RunningCount("lobby"))
	}
}
