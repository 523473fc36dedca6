package screen

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/id"
)

// fakeHandle feeds Pull from a queue the test controls directly, rather
// than a real process's stdout.
type fakeHandle struct {
	queue [][]string
}

func (f *fakeHandle) Pull(ctx context.Context) ([]string, error) {
	if len(f.queue) == 0 {
		return nil, nil
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	return next, nil
}

func (f *fakeHandle) Write(ctx context.Context, data []byte) error { return nil }

func waitForPull(m *Manager, serverID uuid.UUID, rounds int) {
	for i := 0; i < rounds; i++ {
		m.Tick(context.Background())
		time.Sleep(time.Millisecond)
	}
}

func TestSubscribeReceivesFullCacheThenOnlyNewLines(t *testing.T) {
	m := NewManager(zerolog.Nop(), id.DefaultRingCapacity)
	serverID := uuid.New()

	initial := make([]string, id.DefaultRingCapacity)
	for i := range initial {
		initial[i] = fmt.Sprintf("line-%d", i)
	}
	handle := &fakeHandle{queue: [][]string{initial}}
	m.Register(serverID, handle, 0)

	// No subscribers yet: tick does nothing (subs empty short-circuit).
	m.Tick(context.Background())

	ch, cancel, err := m.Subscribe(serverID, 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	// Cache was empty at subscribe time (no pull has happened), so no
	// initial snapshot is queued; drive the pull now that a subscriber
	// exists.
	waitForPull(m, serverID, 3)

	select {
	case batch := <-ch:
		if len(batch) != id.DefaultRingCapacity {
			t.Fatalf("expected %d lines, got %d", id.DefaultRingCapacity, len(batch))
		}
	case <-time.After(time.Second):
		t.Fatal("expected initial pull batch")
	}

	handle.queue = append(handle.queue, []string{"line-91"})
	waitForPull(m, serverID, 3)

	select {
	case batch := <-ch:
		if len(batch) != 1 || batch[0] != "line-91" {
			t.Fatalf("expected exactly the one new line, got %v", batch)
		}
	case <-time.After(time.Second):
		t.Fatal("expected follow-up batch with only the new line")
	}
}

func TestSubscribeUnsupportedWhenNeverRegistered(t *testing.T) {
	m := NewManager(zerolog.Nop(), 0)
	if _, _, err := m.Subscribe(uuid.New(), 4); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestUnregisterClosesSubscriberChannels(t *testing.T) {
	m := NewManager(zerolog.Nop(), 0)
	serverID := uuid.New()
	m.Register(serverID, &fakeHandle{}, 0)

	ch, _, err := m.Subscribe(serverID, 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	m.Unregister(serverID)

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("expected channel close to be observed promptly")
	}
}
