package plugin

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoopbackAllocateAssignsDistinctIncreasingPorts(t *testing.T) {
	d := NewLoopbackDriver(zerolog.Nop())
	node, err := d.InitNode(context.Background(), "node-a", Capabilities{}, RemoteController{})
	if err != nil {
		t.Fatalf("init node: %v", err)
	}

	addrs, err := node.Allocate(context.Background(), AllocationProposal{PortCount: 3})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(addrs) != 3 {
		t.Fatalf("expected 3 addresses, got %d", len(addrs))
	}
	for i := 1; i < len(addrs); i++ {
		if addrs[i].Port <= addrs[i-1].Port {
			t.Fatalf("expected strictly increasing ports, got %v", addrs)
		}
	}
}

func TestLoopbackAllocateRejectsNonPositivePortCount(t *testing.T) {
	d := NewLoopbackDriver(zerolog.Nop())
	node, _ := d.InitNode(context.Background(), "node-a", Capabilities{}, RemoteController{})

	if _, err := node.Allocate(context.Background(), AllocationProposal{PortCount: 0}); err == nil {
		t.Fatal("expected an error for a zero port count")
	}
}

func TestLoopbackFailNextStartOnFailsExactlyOnce(t *testing.T) {
	d := NewLoopbackDriver(zerolog.Nop())
	node, _ := d.InitNode(context.Background(), "flaky-node", Capabilities{}, RemoteController{})
	d.FailNextStartOn("flaky-node")

	ctx := ServerContext{ServerID: "srv-1"}
	if _, err := node.Start(context.Background(), ctx); err == nil {
		t.Fatal("expected the first start to fail")
	}
	outcome, err := node.Start(context.Background(), ctx)
	if err != nil {
		t.Fatalf("expected the second start to succeed, got %v", err)
	}
	if !outcome.Supported {
		t.Fatal("expected the loopback driver to report screen support")
	}
}

func TestLoopbackScreenPullDrainsWrites(t *testing.T) {
	s := newLoopbackScreen()
	if err := s.Write(context.Background(), []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write(context.Background(), []byte("world")); err != nil {
		t.Fatalf("write: %v", err)
	}

	lines, err := s.Pull(context.Background())
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(lines) != 2 || lines[0] != "hello" || lines[1] != "world" {
		t.Fatalf("unexpected lines: %v", lines)
	}

	// A second pull with nothing new written drains to empty.
	lines, err = s.Pull(context.Background())
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no new lines on the second pull, got %v", lines)
	}
}
