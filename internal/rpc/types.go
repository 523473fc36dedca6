// Package rpc implements the Manage and Client RPC boundaries (C11) over
// an HTTP transport (C15): request->task translation, the auth interceptor
// that attaches a resolved principal, and the typed request/response shapes
// SPEC_FULL.md gives the spec's prose RPC list.
package rpc

import (
	"time"

	"github.com/google/uuid"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/group"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/node"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/plugin"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/server"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/user"
)

// ResourceCategory tags what a set_resource/delete_resource request targets.
type ResourceCategory string

const (
	ResourceNode   ResourceCategory = "node"
	ResourceGroup  ResourceCategory = "group"
	ResourceServer ResourceCategory = "server"
)

type SetResourceRequest struct {
	Category ResourceCategory `json:"category" binding:"required"`
	ID       string           `json:"id" binding:"required"`
	Active   bool             `json:"active"`
}

type DeleteResourceRequest struct {
	Category ResourceCategory `json:"category" binding:"required"`
	ID       string           `json:"id" binding:"required"`
}

// CreateNodeRequest is the on-wire shape of create_node.
type CreateNodeRequest struct {
	Name         string                 `json:"name" binding:"required"`
	Plugin       string                 `json:"plugin" binding:"required"`
	Capabilities plugin.Capabilities    `json:"capabilities"`
	Controller   plugin.RemoteController `json:"controller"`
}

type UpdateNodeRequest struct {
	Name         string               `json:"name" binding:"required"`
	Capabilities *plugin.Capabilities `json:"capabilities,omitempty"`
	Active       *bool                `json:"active,omitempty"`
}

// NodeDTO is the response shape for get_node/get_nodes.
type NodeDTO struct {
	Name         string               `json:"name"`
	Plugin       string               `json:"plugin"`
	Capabilities plugin.Capabilities  `json:"capabilities"`
	Active       bool                 `json:"active"`
	RunningCount int                  `json:"running_count"`
}

func nodeDTO(n *node.Node) NodeDTO {
	return NodeDTO{
		Name: n.Name, Plugin: n.PluginName, Capabilities: n.Capabilities,
		Active: n.Active, RunningCount: n.RunningServerCount(),
	}
}

// CreateGroupRequest is the on-wire shape of create_group.
type CreateGroupRequest struct {
	Name             string               `json:"name" binding:"required"`
	Nodes            []string             `json:"nodes"`
	Min              int                  `json:"min"`
	Max              int                  `json:"max"`
	Priority         int                  `json:"priority"`
	ScalingEnabled   bool                 `json:"scaling_enabled"`
	StartThreshold   float64              `json:"start_threshold"`
	StopEmptyServer  bool                 `json:"stop_empty_server"`
	Resources        server.Resources     `json:"resources"`
	Spec             server.Spec          `json:"spec"`
	PortCount        int                  `json:"port_count"`
	Retention        string               `json:"disk_retention"`
	MaxPlayers       int                  `json:"max_players"`
	FallbackEnabled  bool                 `json:"fallback_enabled"`
	FallbackPriority int                  `json:"fallback_priority"`
}

type UpdateGroupRequest struct {
	Name            string   `json:"name" binding:"required"`
	Active          *bool    `json:"active,omitempty"`
	Min             *int     `json:"min,omitempty"`
	Max             *int     `json:"max,omitempty"`
	ScalingEnabled  *bool    `json:"scaling_enabled,omitempty"`
	StopEmptyServer *bool    `json:"stop_empty_server,omitempty"`
}

// GroupDTO is the response shape for get_group/get_groups.
type GroupDTO struct {
	Name            string  `json:"name"`
	Active          bool    `json:"active"`
	Nodes           []string `json:"nodes"`
	Min             int     `json:"min"`
	Max             int     `json:"max"`
	Priority        int     `json:"priority"`
	ScalingEnabled  bool    `json:"scaling_enabled"`
	RunningCount    int     `json:"running_count"`
}

func groupDTO(g *group.Group, runningCount int) GroupDTO {
	return GroupDTO{
		Name: g.Name, Active: g.Active, Nodes: g.Nodes,
		Min: g.Constraints.Min, Max: g.Constraints.Max, Priority: g.Constraints.Priority,
		ScalingEnabled: g.Scaling.Enabled, RunningCount: runningCount,
	}
}

// ScheduleServerRequest is the on-wire shape of an ad-hoc schedule-server
// call (outside of any group's own scaler), gated by schedule-server.
type ScheduleServerRequest struct {
	Name      string           `json:"name" binding:"required"`
	Nodes     []string         `json:"nodes" binding:"required"`
	Resources server.Resources `json:"resources"`
	Spec      server.Spec      `json:"spec"`
	PortCount int              `json:"port_count"`
	Priority  int              `json:"priority"`
	Retention string           `json:"disk_retention"`
}

// ServerDTO is the response shape for get_server/get_servers.
type ServerDTO struct {
	Name           string  `json:"name"`
	UUID           uuid.UUID `json:"uuid"`
	Group          *string `json:"group,omitempty"`
	Node           string  `json:"node"`
	State          string  `json:"state"`
	Ready          bool    `json:"ready"`
	ConnectedUsers int     `json:"connected_users"`
}

func serverDTO(s *server.Server) ServerDTO {
	return ServerDTO{
		Name: s.Name, UUID: s.UUID, Group: s.Group, Node: s.Node,
		State: serverStateLabel(s.State), Ready: s.Ready, ConnectedUsers: s.ConnectedUsers,
	}
}

func serverStateLabel(st server.State) string {
	switch st {
	case server.StateStarting:
		return "starting"
	case server.StateRestarting:
		return "restarting"
	case server.StateRunning:
		return "running"
	case server.StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// TransferUsersRequest is the on-wire shape of transfer_users, shared by
// the Manage and Client RPC boundaries.
type TransferUsersRequest struct {
	UserIDs    []uuid.UUID `json:"user_ids" binding:"required"`
	TargetKind string      `json:"target_kind" binding:"required"` // "server"|"group"|"fallback"
	TargetID   string      `json:"target_id,omitempty"`            // server uuid or group name
}

func (r TransferUsersRequest) toTarget() (user.Target, error) {
	switch r.TargetKind {
	case "server":
		id, err := uuid.Parse(r.TargetID)
		if err != nil {
			return user.Target{}, err
		}
		return user.Target{Kind: user.TargetServer, Server: id}, nil
	case "group":
		return user.Target{Kind: user.TargetGroup, Group: r.TargetID}, nil
	case "fallback":
		return user.Target{Kind: user.TargetFallback}, nil
	default:
		return user.Target{}, errInvalidTargetKind
	}
}

// UserConnectedRequest/UserDisconnectedRequest are the client-RPC shapes.
type UserConnectedRequest struct {
	Name string    `json:"name" binding:"required"`
	UUID uuid.UUID `json:"uuid" binding:"required"`
}

type UserDisconnectedRequest struct {
	UUID uuid.UUID `json:"uuid" binding:"required"`
}

type ChannelMessageRequest struct {
	Channel string `json:"channel" binding:"required"`
	Data    []byte `json:"data"`
}

// writeTimeout bounds websocket writes for screen/transfer/channel streams.
const writeTimeout = 5 * time.Second
