// Package auth implements the token->principal registry (C2): permission
// bitset checks, user persistence, and ephemeral server tokens minted on
// StartRequest acceptance.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Token prefixes distinguish operator/user tokens from ephemeral server
// tokens at a glance, mirroring the original controller's token scheme.
const (
	userTokenPrefix   = "actl_"
	serverTokenPrefix = "sctl_"
)

// Registry maps bearer tokens to principals. User tokens are loaded from
// config at boot and persist for the process lifetime; server tokens are
// minted by the server manager when a StartRequest is accepted and erased
// when the server record is removed.
type Registry struct {
	mu      sync.RWMutex
	byToken map[string]Principal
	users   map[string]string // user name -> token, for lookups/revocation
}

func NewRegistry() *Registry {
	return &Registry{
		byToken: make(map[string]Principal),
		users:   make(map[string]string),
	}
}

// Resolve looks up the principal bound to token.
func (r *Registry) Resolve(token string) (Principal, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byToken[token]
	return p, ok
}

// AddUser registers a user principal under an existing token, as loaded
// from users/*.toml. It does not mint a new token.
func (r *Registry) AddUser(name, token string, perms Permissions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byToken[token] = Principal{Kind: PrincipalUser, UserName: name, Permissions: perms}
	r.users[name] = token
}

// CreateUser mints a fresh operator token. It does not register it; the
// caller binds it to a user with AddUser.
func CreateUser() (string, error) {
	return newToken(userTokenPrefix)
}

// IssueServerToken mints and registers an ephemeral token for serverID,
// called by the server manager when a StartRequest reaches Creating.
func (r *Registry) IssueServerToken(serverID uuid.UUID) (string, error) {
	token, err := newToken(serverTokenPrefix)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.byToken[token] = Principal{Kind: PrincipalServer, ServerID: serverID}
	r.mu.Unlock()
	return token, nil
}

// RevokeServerToken erases the token for a removed server. Invariant: after
// this returns, the token stops validating within the same tick.
func (r *Registry) RevokeServerToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byToken[token]; ok && p.Kind == PrincipalServer {
		delete(r.byToken, token)
	}
}

func newToken(prefix string) (string, error) {
	a, err := randomHex(16)
	if err != nil {
		return "", err
	}
	b, err := randomHex(16)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%s%s", prefix, a, b), nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
