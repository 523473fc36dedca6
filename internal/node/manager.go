package node

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/apierr"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/config"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/plugin"
)

// Manager owns every loaded Node and is the only component allowed to
// mutate node records; called exclusively from within controller tasks.
type Manager struct {
	log   zerolog.Logger
	nodes map[string]*Node
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log.With().Str("component", "node-manager").Logger(), nodes: make(map[string]*Node)}
}

// LoadAll constructs nodes from their decoded TOML records, asking host to
// init_node each one. A plugin init failure for one node is logged and that
// node is skipped, not fatal to startup.
func (m *Manager) LoadAll(stored map[string]config.StoredNode, host *plugin.Host) {
	for name, sn := range stored {
		caps := plugin.Capabilities{
			MemoryMB:   sn.Capabilities.MemoryMB,
			MaxServers: sn.Capabilities.MaxServers,
			Child:      sn.Capabilities.Child,
		}
		controller := plugin.RemoteController{Address: sn.Controller.Address}

		n := New(name, uuid.New(), sn.Plugin, caps, controller)
		n.Active = sn.Status != "inactive"

		driver, ok := host.Driver(sn.Plugin)
		if !ok {
			m.log.Warn().Str("node", name).Str("plugin", sn.Plugin).Msg("plugin not loaded, node will not be usable")
			m.nodes[name] = n
			continue
		}
		handle, err := driver.InitNode(context.Background(), name, caps, controller)
		if err != nil {
			m.log.Warn().Str("node", name).Err(err).Msg("failed to init node on plugin, node will not be usable")
		} else {
			n.Handle = handle
		}
		m.nodes[name] = n
	}
	m.log.Info().Int("count", len(m.nodes)).Msg("loaded nodes")
}

func (m *Manager) Get(name string) (*Node, bool) {
	n, ok := m.nodes[name]
	return n, ok
}

func (m *Manager) HasNode(name string) bool {
	_, ok := m.nodes[name]
	return ok
}

// NodeHandle returns the plugin-side handle for name, satisfying
// server.NodeHandleResolver.
func (m *Manager) NodeHandle(name string) (plugin.NodeHandle, bool) {
	n, ok := m.nodes[name]
	if !ok || n.Handle == nil {
		return nil, false
	}
	return n.Handle, true
}

func (m *Manager) NodeController(name string) (plugin.RemoteController, bool) {
	n, ok := m.nodes[name]
	if !ok {
		return plugin.RemoteController{}, false
	}
	return n.Controller, true
}

func (m *Manager) AttachServer(nodeName string, id uuid.UUID) {
	if n, ok := m.nodes[nodeName]; ok {
		n.AttachServer(id)
	}
}

func (m *Manager) DetachServer(nodeName string, id uuid.UUID) {
	if n, ok := m.nodes[nodeName]; ok {
		n.DetachServer(id)
	}
}

func (m *Manager) All() []*Node {
	out := make([]*Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	return out
}

func (m *Manager) Create(n *Node) error {
	if _, exists := m.nodes[n.Name]; exists {
		return apierr.AlreadyExists("node", n.Name)
	}
	m.nodes[n.Name] = n
	return nil
}

// SetActive flips a node's active flag. Returns the list of server UUIDs
// that must now be stopped (non-empty only when flipping to inactive);
// the caller (the RPC service's UpdateNode task) is responsible for scheduling those stops
// against the server manager, since this package does not depend on it.
func (m *Manager) SetActive(name string, active bool) ([]uuid.UUID, error) {
	n, ok := m.nodes[name]
	if !ok {
		return nil, apierr.NotFound("node", name)
	}
	wasActive := n.Active
	n.Active = active
	if wasActive && !active {
		out := make([]uuid.UUID, 0, len(n.runningServers))
		for id := range n.runningServers {
			out = append(out, id)
		}
		return out, nil
	}
	return nil, nil
}

// Delete removes a node. Forbidden while any server references it (checked
// by the caller attaching/detaching via AttachServer/DetachServer) or while
// any group's nodes list still names it (checked by the caller against the
// group manager, to avoid a node<->group import cycle).
func (m *Manager) Delete(name string) error {
	n, ok := m.nodes[name]
	if !ok {
		return apierr.NotFound("node", name)
	}
	if n.HasRunningServers() {
		return apierr.StillInUse("node", name)
	}
	delete(m.nodes, name)
	return nil
}

// Tick delegates to each node's plugin-side tick; called in the documented
// tick order (plugins, nodes, groups, servers, users, screens, subscribers)
// after the plugin host's own Tick.
func (m *Manager) Tick(ctx context.Context) {
	for name, n := range m.nodes {
		if n.Handle == nil {
			continue
		}
		if err := n.Handle.Tick(ctx); err != nil {
			m.log.Warn().Str("node", name).Err(err).Msg("node tick failed")
		}
	}
}
