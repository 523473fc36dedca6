package node

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/apierr"
	"github.com/HttpRafa/atomic-cloud-sub001/internal/plugin"
)

func TestDeleteForbiddenWhileServersReference(t *testing.T) {
	m := NewManager(zerolog.Nop())
	n := New("alpha", uuid.New(), "loopback", plugin.Capabilities{}, plugin.RemoteController{})
	if err := m.Create(n); err != nil {
		t.Fatalf("create: %v", err)
	}

	serverID := uuid.New()
	n.AttachServer(serverID)

	if err := m.Delete("alpha"); !apierr.Is(err, apierr.KindStillInUse) {
		t.Fatalf("expected StillInUse, got %v", err)
	}

	n.DetachServer(serverID)
	if err := m.Delete("alpha"); err != nil {
		t.Fatalf("expected delete to succeed once unreferenced: %v", err)
	}
}

func TestSetActiveToInactiveReturnsAttachedServers(t *testing.T) {
	m := NewManager(zerolog.Nop())
	n := New("alpha", uuid.New(), "loopback", plugin.Capabilities{}, plugin.RemoteController{})
	_ = m.Create(n)

	sid := uuid.New()
	n.AttachServer(sid)

	affected, err := m.SetActive("alpha", false)
	if err != nil {
		t.Fatalf("set active: %v", err)
	}
	if len(affected) != 1 || affected[0] != sid {
		t.Fatalf("expected exactly the attached server to be returned, got %v", affected)
	}

	// Flipping inactive->inactive again must not re-report the server.
	affected, err = m.SetActive("alpha", false)
	if err != nil {
		t.Fatalf("set active again: %v", err)
	}
	if len(affected) != 0 {
		t.Fatalf("expected no servers on a no-op flip, got %v", affected)
	}
}
