package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NatsBridge best-effort mirrors Bus events onto NATS subjects of the form
// "cloud.<domain>.<action>" so external dashboards/controllers can observe
// engine activity without holding an in-process subscription. A publish
// failure is logged and never affects in-process dispatch — bridging rides
// alongside the real dispatch, it never gates it.
type NatsBridge struct {
	log  zerolog.Logger
	conn *nats.Conn
}

// NewNatsBridge dials url and returns a bridge ready to Attach to a Bus.
// Callers that don't want NATS mirroring simply never construct one.
func NewNatsBridge(log zerolog.Logger, url string) (*NatsBridge, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NatsBridge{log: log.With().Str("component", "nats-bridge").Logger(), conn: conn}, nil
}

// Attach subscribes the bridge to the server lifecycle events (KeyCustom
// TypeServerStarted/TypeServerStopped) and re-publishes each onto
// cloud.server.start / cloud.server.stop. Transfer and channel events are
// not mirrored: they are keyed per server or per channel name, and the bus
// has no catch-all subscription for them.
func (n *NatsBridge) Attach(ctx context.Context, b *Bus) {
	lifecycle, _ := Subscribe(b, ctx, CustomKey(TypeServerStarted), 64)
	stopped, _ := Subscribe(b, ctx, CustomKey(TypeServerStopped), 64)

	go n.pump(ctx, lifecycle, "cloud.server.start")
	go n.pump(ctx, stopped, "cloud.server.stop")
}

func (n *NatsBridge) pump(ctx context.Context, ch <-chan Envelope, subject string) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			n.publish(subject, env.Payload)
		}
	}
}

func (n *NatsBridge) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		n.log.Warn().Str("subject", subject).Err(err).Msg("failed to marshal event for nats bridge")
		return
	}
	if err := n.conn.Publish(subject, data); err != nil {
		n.log.Warn().Str("subject", subject).Err(err).Msg("failed to publish event to nats")
	}
}

// Close drains and closes the underlying NATS connection.
func (n *NatsBridge) Close() {
	n.conn.Close()
}
