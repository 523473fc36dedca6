// Package event implements the keyed pub/sub fabric (C9): typed events
// (server-start, server-stop, transfer, channel messages) dispatched
// synchronously within the controller tick to subscribers identified by
// (event-kind, key) rather than by subclassing an observer interface.
package event

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// KeyKind is the closed set of subscription key shapes.
type KeyKind int

const (
	KeyChannel KeyKind = iota
	KeyTransfer
	KeyCustom
)

// Key identifies a subscribable topic. Only the field matching Kind is
// meaningful.
type Key struct {
	Kind     KeyKind
	Channel  string    // KeyChannel
	ServerID uuid.UUID // KeyTransfer
	TypeID   uint32    // KeyCustom
}

func ChannelKey(name string) Key           { return Key{Kind: KeyChannel, Channel: name} }
func TransferKey(server uuid.UUID) Key     { return Key{Kind: KeyTransfer, ServerID: server} }
func CustomKey(typeID uint32) Key          { return Key{Kind: KeyCustom, TypeID: typeID} }

// Envelope is what a subscriber receives on every dispatch.
type Envelope struct {
	Key     Key
	Payload any
}

// subscription is a single registered sink. underServer, when non-nil, ties
// the subscription's lifetime to a server record: it is auto-dropped when
// that server is removed, without the subscriber having to unsubscribe.
type subscription struct {
	id          uint64
	key         Key
	ch          chan Envelope
	ctx         context.Context
	cancel      context.CancelFunc
	underServer *uuid.UUID
}

// Bus owns every live subscription. All mutating methods are called from
// within controller tasks (single-writer); Publish runs synchronously
// within the tick that produced the event.
type Bus struct {
	log zerolog.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscription
}

func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		log:  log.With().Str("component", "event-bus").Logger(),
		subs: make(map[uint64]*subscription),
	}
}

// Subscribe registers a new anonymous sink for key with the given buffer
// size. The returned cancel func unsubscribes explicitly; ctx cancellation
// does the same lazily, reaped on the next GCDead or Publish pass.
func Subscribe(b *Bus, ctx context.Context, key Key, bufSize int) (<-chan Envelope, func()) {
	return b.subscribe(ctx, key, bufSize, nil)
}

// SubscribeUnderServer registers a sink tied to server: it is removed
// automatically when DropServer(server) is called, in addition to the
// normal ctx/unsubscribe paths.
func (b *Bus) SubscribeUnderServer(ctx context.Context, key Key, bufSize int, server uuid.UUID) (<-chan Envelope, func()) {
	return b.subscribe(ctx, key, bufSize, &server)
}

func (b *Bus) subscribe(ctx context.Context, key Key, bufSize int, underServer *uuid.UUID) (<-chan Envelope, func()) {
	if bufSize <= 0 {
		bufSize = 16
	}
	subCtx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	sub := &subscription{id: id, key: key, ch: make(chan Envelope, bufSize), ctx: subCtx, cancel: cancel, underServer: underServer}
	b.subs[id] = sub
	b.mu.Unlock()

	return sub.ch, func() {
		cancel()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish dispatches payload to every live subscriber of key, synchronously,
// within the current tick. A subscriber whose receive side has closed
// (ctx done) is removed; a subscriber whose buffer is full stays
// subscribed but misses this event, rather than blocking the dispatch.
func (b *Bus) Publish(key Key, payload any) {
	b.mu.Lock()
	matching := make([]*subscription, 0, 4)
	for _, sub := range b.subs {
		if sub.key == key {
			matching = append(matching, sub)
		}
	}
	b.mu.Unlock()

	env := Envelope{Key: key, Payload: payload}
	var dead []uint64
	for _, sub := range matching {
		if sub.ctx.Err() != nil {
			dead = append(dead, sub.id)
			continue
		}
		select {
		case sub.ch <- env:
		default:
			b.log.Warn().Int("kind", int(key.Kind)).Msg("subscriber buffer full, dropping event")
		}
	}

	if len(dead) > 0 {
		b.mu.Lock()
		for _, id := range dead {
			delete(b.subs, id)
		}
		b.mu.Unlock()
	}
}

// GCDead sweeps subscriptions whose context has been cancelled (their
// receive side closed) without an explicit unsubscribe call. Run once per
// controller tick, after the event-fabric's documented position in the
// tick order.
func (b *Bus) GCDead() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		if sub.ctx.Err() != nil {
			delete(b.subs, id)
		}
	}
}

// DropServer removes every under-server subscription tied to server,
// called by the server manager when the server record is removed.
func (b *Bus) DropServer(server uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		if sub.underServer != nil && *sub.underServer == server {
			sub.cancel()
			delete(b.subs, id)
		}
	}
}
