package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// LoopbackDriver is an in-process Driver used by tests and by any backend
// compiled directly into the controller instead of loaded as WASM. It
// allocates addresses from an in-memory port range and never actually
// spawns a process; concrete backends (Pterodactyl, local-process) are
// external collaborators this stands in for during integration tests.
type LoopbackDriver struct {
	log zerolog.Logger

	mu        sync.Mutex
	nextPort  int
	started   map[string]bool
	failNode  map[string]bool // node names whose next Start call fails once
}

func NewLoopbackDriver(log zerolog.Logger) *LoopbackDriver {
	return &LoopbackDriver{
		log:      log.With().Str("plugin", "loopback").Logger(),
		nextPort: 30000,
		started:  make(map[string]bool),
		failNode: make(map[string]bool),
	}
}

// FailNextStartOn makes the next Start call for node fail once, letting
// tests exercise node-failure-cascade scenarios without a real backend.
func (d *LoopbackDriver) FailNextStartOn(node string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNode[node] = true
}

func (d *LoopbackDriver) Init(ctx context.Context) (Information, error) {
	return Information{Authors: []string{"atomic-cloud"}, Version: "dev", Ready: true}, nil
}

func (d *LoopbackDriver) InitNode(ctx context.Context, name string, caps Capabilities, controller RemoteController) (NodeHandle, error) {
	return &loopbackNode{driver: d, name: name, caps: caps, controller: controller}, nil
}

func (d *LoopbackDriver) Tick(ctx context.Context) error { return nil }

func (d *LoopbackDriver) Shutdown(ctx context.Context) error { return nil }

type loopbackNode struct {
	driver     *LoopbackDriver
	name       string
	caps       Capabilities
	controller RemoteController
}

func (n *loopbackNode) Allocate(ctx context.Context, proposal AllocationProposal) ([]Address, error) {
	n.driver.mu.Lock()
	defer n.driver.mu.Unlock()

	if proposal.PortCount <= 0 {
		return nil, fmt.Errorf("invalid port count %d", proposal.PortCount)
	}
	addrs := make([]Address, proposal.PortCount)
	for i := range addrs {
		addrs[i] = Address{Host: "127.0.0.1", Port: n.driver.nextPort}
		n.driver.nextPort++
	}
	return addrs, nil
}

func (n *loopbackNode) Free(ctx context.Context, addrs []Address) error {
	return nil
}

func (n *loopbackNode) Start(ctx context.Context, server ServerContext) (StartOutcome, error) {
	n.driver.mu.Lock()
	if n.driver.failNode[n.name] {
		n.driver.failNode[n.name] = false
		n.driver.mu.Unlock()
		return StartOutcome{}, fmt.Errorf("node %s refused start", n.name)
	}
	n.driver.started[server.ServerID] = true
	n.driver.mu.Unlock()
	return StartOutcome{Supported: true, Screen: newLoopbackScreen()}, nil
}

func (n *loopbackNode) Restart(ctx context.Context, server ServerContext) error {
	return nil
}

func (n *loopbackNode) Stop(ctx context.Context, server ServerContext, guard *Guard) error {
	n.driver.mu.Lock()
	delete(n.driver.started, server.ServerID)
	n.driver.mu.Unlock()
	return nil
}

func (n *loopbackNode) Tick(ctx context.Context) error { return nil }

// loopbackScreen is a ScreenHandle with no real backing process: Write
// buffers its data as a line, and Pull returns immediately with the lines
// written since the previous Pull (none if nothing was written).
type loopbackScreen struct {
	mu    sync.Mutex
	lines []string
}

func newLoopbackScreen() *loopbackScreen { return &loopbackScreen{} }

func (s *loopbackScreen) Pull(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := s.lines
	s.lines = nil
	return lines, nil
}

func (s *loopbackScreen) Write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, string(data))
	return nil
}
