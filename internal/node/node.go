// Package node implements the node manager (C4): per-node lifecycle,
// active/inactive flag, and forwarding allocate/free/start/stop to the
// node's plugin-side handle.
package node

import (
	"github.com/google/uuid"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/plugin"
)

// Node is a backend capable of running servers, managed by one plugin.
type Node struct {
	Name         string
	UUID         uuid.UUID
	PluginName   string
	Capabilities plugin.Capabilities
	Active       bool
	Controller   plugin.RemoteController

	// Handle is the plugin-side node handle obtained from init_node. Nil
	// until the plugin host successfully initializes this node.
	Handle plugin.NodeHandle

	// runningServers tracks server UUIDs currently assigned to this node,
	// purely so HasRunningServers can answer the node-deletion invariant
	// without the caller reaching into the server manager.
	runningServers map[uuid.UUID]struct{}
}

func New(name string, id uuid.UUID, pluginName string, caps plugin.Capabilities, controller plugin.RemoteController) *Node {
	return &Node{
		Name:           name,
		UUID:           id,
		PluginName:     pluginName,
		Capabilities:   caps,
		Active:         true,
		Controller:     controller,
		runningServers: make(map[uuid.UUID]struct{}),
	}
}

func (n *Node) AttachServer(id uuid.UUID)  { n.runningServers[id] = struct{}{} }
func (n *Node) DetachServer(id uuid.UUID)  { delete(n.runningServers, id) }
func (n *Node) HasRunningServers() bool    { return len(n.runningServers) > 0 }
func (n *Node) RunningServerCount() int    { return len(n.runningServers) }
