package server

import (
	"github.com/google/uuid"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/plugin"
)

// TokenIssuer mints and revokes the ephemeral per-server auth tokens; the
// server manager depends on this interface rather than importing the auth
// package's registry type directly, so auth stays a leaf.
type TokenIssuer interface {
	IssueServerToken(serverID uuid.UUID) (string, error)
	RevokeServerToken(token string)
}

// ScreenRegistrar is how the server manager wires a freshly started server's
// screen handle into the screen manager, and tears it down on removal.
type ScreenRegistrar interface {
	Register(serverID uuid.UUID, handle plugin.ScreenHandle, capacity int)
	Unregister(serverID uuid.UUID)
}

// EventEmitter is how the server manager announces lifecycle transitions to
// the event fabric without importing it directly.
type EventEmitter interface {
	EmitServerStarted(serverID uuid.UUID)
	EmitServerStopped(serverID uuid.UUID)
}

// UserPurger removes any user records pointing at a server being torn down.
type UserPurger interface {
	PurgeServer(serverID uuid.UUID)
}

// NodeHandleResolver gives the server manager what it needs from a node
// without depending on the node package's Manager concretely (keeps the
// node<->server dependency one-directional: server depends on an interface,
// node never imports server).
type NodeHandleResolver interface {
	NodeHandle(name string) (plugin.NodeHandle, bool)
	NodeController(name string) (plugin.RemoteController, bool)
	AttachServer(nodeName string, serverID uuid.UUID)
	DetachServer(nodeName string, serverID uuid.UUID)
}
