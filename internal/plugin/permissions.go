package plugin

import "fmt"

// Capability is one of the gated host functions a sandboxed plugin may call.
type Capability int

const (
	CapHTTPEgress Capability = iota
	CapFilesystemMount
	CapProcessSpawn
	CapDirectoryRemove
)

func (c Capability) String() string {
	switch c {
	case CapHTTPEgress:
		return "http_egress"
	case CapFilesystemMount:
		return "filesystem_mount"
	case CapProcessSpawn:
		return "process_spawn"
	case CapDirectoryRemove:
		return "directory_remove"
	default:
		return "unknown"
	}
}

// Grants is the permission set configured per plugin (configs/wasm-plugins.toml).
type Grants struct {
	HTTPEgress      bool
	FilesystemMount bool
	ProcessSpawn    bool
	DirectoryRemove bool
}

func (g Grants) Allows(c Capability) bool {
	switch c {
	case CapHTTPEgress:
		return g.HTTPEgress
	case CapFilesystemMount:
		return g.FilesystemMount
	case CapProcessSpawn:
		return g.ProcessSpawn
	case CapDirectoryRemove:
		return g.DirectoryRemove
	default:
		return false
	}
}

// CapabilityDeniedError is returned by WasmHost.checkCapability when the
// calling plugin lacks the capability; the host function logs it and
// returns the denied code (1) to the guest.
type CapabilityDeniedError struct {
	Plugin     string
	Capability Capability
}

func (e *CapabilityDeniedError) Error() string {
	return fmt.Sprintf("plugin %s: capability %s denied", e.Plugin, e.Capability)
}
