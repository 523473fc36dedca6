package plugin

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCallAwaitBlocksUntilFinished(t *testing.T) {
	release := make(chan struct{})
	c := Go(context.Background(), func(ctx context.Context) (int, error) {
		<-release
		return 42, nil
	})

	if c.IsFinished() {
		t.Fatal("expected the call to not be finished before release")
	}
	close(release)

	got, err := c.Await()
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if !c.IsFinished() {
		t.Fatal("expected the call to report finished after Await returns")
	}
}

func TestCallPropagatesError(t *testing.T) {
	want := errors.New("start failed")
	c := Go(context.Background(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, want
	})

	// Give the goroutine a moment to run; IsFinished is polled, not blocking.
	for !c.IsFinished() {
		time.Sleep(time.Millisecond)
	}
	if _, err := c.Await(); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestGuardReleaseIsIdempotent(t *testing.T) {
	g := NewGuard()
	if g.IsDropped() {
		t.Fatal("expected a fresh guard to not be dropped")
	}
	g.Release()
	if !g.IsDropped() {
		t.Fatal("expected the guard to be dropped after Release")
	}
	// A second Release must not panic on a closed channel.
	g.Release()
	if !g.IsDropped() {
		t.Fatal("expected the guard to remain dropped")
	}
}
