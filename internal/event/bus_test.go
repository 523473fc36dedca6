package event

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestPublishDeliversToMatchingSubscribersOnly(t *testing.T) {
	b := NewBus(zerolog.Nop())
	ctx := context.Background()

	a := uuid.New()
	bID := uuid.New()

	chA, _ := b.SubscribeUnderServer(ctx, TransferKey(a), 4, a)
	chB, cancelB := b.SubscribeUnderServer(ctx, TransferKey(bID), 4, bID)
	defer cancelB()

	b.Publish(TransferKey(a), UserTransferRequested{From: a})

	select {
	case env := <-chA:
		if env.Key != TransferKey(a) {
			t.Fatalf("unexpected key %+v", env.Key)
		}
	case <-time.After(time.Second):
		t.Fatal("expected delivery to subscriber keyed on a")
	}

	select {
	case <-chB:
		t.Fatal("subscriber keyed on a different server must not receive a's events")
	default:
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(zerolog.Nop())
	ch, cancel := Subscribe(b, context.Background(), ChannelKey("general"), 4)
	cancel()
	b.GCDead()

	b.Publish(ChannelKey("general"), ChannelMessage{Channel: "general"})
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected no delivery after unsubscribe")
		}
	default:
	}
}

func TestDropServerRemovesUnderServerSubscriptions(t *testing.T) {
	b := NewBus(zerolog.Nop())
	server := uuid.New()
	ch, _ := b.SubscribeUnderServer(context.Background(), TransferKey(server), 4, server)

	b.DropServer(server)
	b.Publish(TransferKey(server), UserTransferRequested{From: server})

	select {
	case <-ch:
		t.Fatal("expected under-server subscription to be dropped with its server")
	default:
	}
}
