package auth

// Permission is a single capability bit. Bits are combined by OR into a
// Permissions bitset and checked with Permissions.Has.
type Permission uint32

const (
	PermRequestStop Permission = 1 << iota
	PermSetResource
	PermDeleteResource
	PermCreateNode
	PermUpdateNode
	PermGetNode
	PermCreateGroup
	PermUpdateGroup
	PermGetGroup
	PermScheduleServer
	PermGetServer
	PermWriteToScreen
	PermReadScreen
	PermGetUser
	PermTransferUser
	PermReadPowerEvents
	PermReadReadyEvents
	PermList
)

// PermAll grants every known bit; assigned to the bootstrap admin user.
const PermAll = PermRequestStop | PermSetResource | PermDeleteResource |
	PermCreateNode | PermUpdateNode | PermGetNode |
	PermCreateGroup | PermUpdateGroup | PermGetGroup |
	PermScheduleServer | PermGetServer |
	PermWriteToScreen | PermReadScreen |
	PermGetUser | PermTransferUser |
	PermReadPowerEvents | PermReadReadyEvents | PermList

// Permissions is the bitset carried by a User principal.
type Permissions uint32

func (p Permissions) Has(bit Permission) bool {
	return uint32(p)&uint32(bit) != 0
}

func (p Permissions) Grant(bit Permission) Permissions {
	return Permissions(uint32(p) | uint32(bit))
}

func (p Permissions) Revoke(bit Permission) Permissions {
	return Permissions(uint32(p) &^ uint32(bit))
}
