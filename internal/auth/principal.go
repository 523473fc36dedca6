package auth

import "github.com/google/uuid"

// PrincipalKind distinguishes the two closed variants a resolved token can
// identify. Modeled as a sealed interface rather than a polymorphic
// hierarchy, per the engine's tagged-union convention.
type PrincipalKind int

const (
	PrincipalUser PrincipalKind = iota
	PrincipalServer
)

// Principal is the identity attached to a request once its token resolves.
type Principal struct {
	Kind        PrincipalKind
	UserName    string      // set when Kind == PrincipalUser
	Permissions Permissions // set when Kind == PrincipalUser
	ServerID    uuid.UUID   // set when Kind == PrincipalServer
}

func (p Principal) IsUser() bool   { return p.Kind == PrincipalUser }
func (p Principal) IsServer() bool { return p.Kind == PrincipalServer }

// Allows reports whether the principal may exercise bit. Server principals
// implicitly carry the permissions a server needs for client RPCs
// (heartbeat, user events, transfer, channel pub/sub); they never hold the
// operator bitset.
func (p Principal) Allows(bit Permission) bool {
	if p.Kind != PrincipalUser {
		return false
	}
	return p.Permissions.Has(bit)
}
