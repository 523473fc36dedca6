// Package plugin defines the contract between the engine and driver code
// (C3/C16): node resource allocation, server spawn/stop, screen streaming,
// and event emission. Two types implement Driver: WasmHost, a sandboxed
// wazero-backed host for untrusted WASM drivers, and LoopbackDriver, an
// in-process driver compiled directly into the controller and used for
// tests — concrete backends like Pterodactyl are external collaborators.
package plugin

import "context"

// Information is returned by a driver's init call.
type Information struct {
	Authors  []string
	Version  string
	Features []string
	Ready    bool
}

// AllocationProposal describes what the engine wants a node to reserve.
type AllocationProposal struct {
	PortCount int
	Resources Resources
	Spec      Spec
}

// Resources mirrors the resource envelope carried by groups and servers.
type Resources struct {
	MemoryMB int
	SwapMB   int
	CPU      int
	DiskMB   int
	IO       int
}

// Spec mirrors the server template: image/command analogue plus env.
type Spec struct {
	Image    string
	Env      map[string]string
	Settings map[string]string
}

// Address is a host:port pair returned by allocate.
type Address struct {
	Host string
	Port int
}

// Capabilities is what the node manager tells a driver about a node at
// init_node time.
type Capabilities struct {
	MemoryMB   int
	MaxServers int
	Child      bool
}

// RemoteController is injected into a spawned server's environment so it
// can phone home.
type RemoteController struct {
	Address string
}

// ServerContext is what the engine passes a driver at server start/restart.
type ServerContext struct {
	ServerID   string
	ServerName string
	Token      string
	Allocation []Address
	Resources  Resources
	Spec       Spec
	Controller RemoteController
}

// Guard is a weak reference the plugin may poll to observe engine-side
// release of a resource, replacing a post-stop callback across the
// host/plugin boundary.
type Guard struct {
	released chan struct{}
}

func NewGuard() *Guard {
	return &Guard{released: make(chan struct{})}
}

// Release is called by the engine once it no longer references the
// resource the guard was handed out for.
func (g *Guard) Release() {
	select {
	case <-g.released:
	default:
		close(g.released)
	}
}

// IsDropped reports whether the engine has released its reference.
func (g *Guard) IsDropped() bool {
	select {
	case <-g.released:
		return true
	default:
		return false
	}
}

// StartOutcome is what a driver's start call returns: either a screen
// resource or an explicit statement that screens aren't supported.
type StartOutcome struct {
	Supported bool
	Screen    ScreenHandle
}

// NodeHandle is the plugin-side handle the node manager drives.
type NodeHandle interface {
	Allocate(ctx context.Context, proposal AllocationProposal) ([]Address, error)
	Free(ctx context.Context, addrs []Address) error
	Start(ctx context.Context, server ServerContext) (StartOutcome, error)
	Restart(ctx context.Context, server ServerContext) error
	Stop(ctx context.Context, server ServerContext, guard *Guard) error
	Tick(ctx context.Context) error
}

// ScreenHandle is the plugin-side handle the screen manager drives.
type ScreenHandle interface {
	Pull(ctx context.Context) ([]string, error)
	Write(ctx context.Context, data []byte) error
}

// Driver is the top-level contract a loaded plugin satisfies.
type Driver interface {
	Init(ctx context.Context) (Information, error)
	InitNode(ctx context.Context, name string, caps Capabilities, controller RemoteController) (NodeHandle, error)
	Tick(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// EventMask and ListenerHandle back the optional init_listener capability
// (used by plugins that want to emit engine events, e.g. a DNS plugin
// reacting to server start/stop).
type EventMask uint32

const (
	EventServerStarted EventMask = 1 << iota
	EventServerStopped
)

type ListenerHandle interface {
	Close(ctx context.Context) error
}
