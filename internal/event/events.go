package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/plugin"
)

// ServerStarted is published on KeyCustom(TypeServerStarted) when a
// StartRequest's Creating stage completes successfully.
type ServerStarted struct {
	Server uuid.UUID
	At     time.Time
}

// ServerStopped is published on KeyCustom(TypeServerStopped) once a server
// record is removed at the end of its StopRequest.
type ServerStopped struct {
	Server uuid.UUID
	At     time.Time
}

// UserTransferRequested is published on KeyTransfer(From) so the source
// server can push the transferring user toward Target.
type UserTransferRequested struct {
	From    uuid.UUID
	Users   []uuid.UUID
	Target  uuid.UUID
	Address []plugin.Address
	At      time.Time
}

// ChannelMessage is published on KeyChannel(Name) for send_channel.
type ChannelMessage struct {
	Channel string
	From    uuid.UUID // zero value for operator-originated messages
	Data    []byte
}

// Custom type ids for the EventMask the plugin ABI exposes (§4.5).
const (
	TypeServerStarted uint32 = iota + 1
	TypeServerStopped
)

// EmitServerStarted satisfies server.EventEmitter.
func (b *Bus) EmitServerStarted(id uuid.UUID) {
	b.Publish(CustomKey(TypeServerStarted), ServerStarted{Server: id, At: timeNow()})
}

// EmitServerStopped satisfies server.EventEmitter. It also drops any
// under-server subscriptions tied to id (screen/transfer subscribers of a
// server that no longer exists).
func (b *Bus) EmitServerStopped(id uuid.UUID) {
	b.Publish(CustomKey(TypeServerStopped), ServerStopped{Server: id, At: timeNow()})
	b.DropServer(id)
}

// EmitUserTransferRequested satisfies user.TransferEmitter.
func (b *Bus) EmitUserTransferRequested(from uuid.UUID, users []uuid.UUID, target uuid.UUID, addrs []plugin.Address) {
	b.Publish(TransferKey(from), UserTransferRequested{
		From: from, Users: users, Target: target, Address: addrs, At: timeNow(),
	})
}

// EmitChannelMessage satisfies user.ChannelEmitter (send_channel).
func (b *Bus) EmitChannelMessage(channel string, from uuid.UUID, data []byte) {
	b.Publish(ChannelKey(channel), ChannelMessage{Channel: channel, From: from, Data: data})
}

func timeNow() time.Time { return time.Now() }
