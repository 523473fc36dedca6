package auth

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestServerTokenValidatesExactlyOneServerThenErased(t *testing.T) {
	r := NewRegistry()
	serverID := uuid.New()

	token, err := r.IssueServerToken(serverID)
	if err != nil {
		t.Fatalf("issue server token: %v", err)
	}
	if !strings.HasPrefix(token, serverTokenPrefix) {
		t.Fatalf("expected server token prefix %q, got %q", serverTokenPrefix, token)
	}

	p, ok := r.Resolve(token)
	if !ok || !p.IsServer() || p.ServerID != serverID {
		t.Fatalf("expected token to resolve to server %s, got %+v ok=%v", serverID, p, ok)
	}

	r.RevokeServerToken(token)
	if _, ok := r.Resolve(token); ok {
		t.Fatal("expected token to stop validating after revocation")
	}
}

func TestUserTokenPermissionBits(t *testing.T) {
	r := NewRegistry()
	r.AddUser("alice", "actl_fixedtoken", PermTransferUser|PermGetServer)

	p, ok := r.Resolve("actl_fixedtoken")
	if !ok || !p.IsUser() {
		t.Fatalf("expected user principal, got %+v ok=%v", p, ok)
	}
	if !p.Allows(PermTransferUser) {
		t.Fatal("expected transfer-user permission to be granted")
	}
	if p.Allows(PermCreateNode) {
		t.Fatal("expected create-node permission to be denied")
	}
}

func TestMismatchedTokenNeverResolvesToServer(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Resolve("sctl_does_not_exist"); ok {
		t.Fatal("expected unknown token to not resolve")
	}
}
