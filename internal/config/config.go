// Package config loads the controller's persisted TOML files at boot:
// config.toml, wasm-plugins.toml, wasm-engine.toml, and the nodes/groups/
// users directories. Persisting these files back to disk is an external
// collaborator's concern (the CLI); this package only reads them.
package config

import "time"

// Config is the top-level controller configuration (configs/config.toml).
type Config struct {
	Identifier string `toml:"identifier"`
	BindAddr   string `toml:"bind_address"`

	TickRate time.Duration `toml:"-"`
	TickHz   int           `toml:"tick_rate_hz"`

	StartupTimeout     time.Duration `toml:"-"`
	RestartTimeout     time.Duration `toml:"-"`
	HeartbeatTimeout   time.Duration `toml:"-"`
	TransferTimeout    time.Duration `toml:"-"`
	EmptyServerTimeout time.Duration `toml:"-"`

	StartupTimeoutSecs     int `toml:"startup_timeout_secs"`
	RestartTimeoutSecs     int `toml:"restart_timeout_secs"`
	HeartbeatTimeoutSecs   int `toml:"heartbeat_timeout_secs"`
	TransferTimeoutSecs    int `toml:"transfer_timeout_secs"`
	EmptyServerTimeoutSecs int `toml:"empty_server_timeout_secs"`
}

// resolveDurations fills the time.Duration fields from their *_secs/hz
// counterparts, applying defaults for anything left at zero.
func (c *Config) resolveDurations() {
	if c.TickHz <= 0 {
		c.TickHz = 20
	}
	c.TickRate = time.Second / time.Duration(c.TickHz)

	c.StartupTimeout = secsOrDefault(c.StartupTimeoutSecs, 30*time.Second)
	c.RestartTimeout = secsOrDefault(c.RestartTimeoutSecs, 30*time.Second)
	c.HeartbeatTimeout = secsOrDefault(c.HeartbeatTimeoutSecs, 30*time.Second)
	c.TransferTimeout = secsOrDefault(c.TransferTimeoutSecs, 30*time.Second)
	c.EmptyServerTimeout = secsOrDefault(c.EmptyServerTimeoutSecs, 5*time.Minute)
}

func secsOrDefault(secs int, def time.Duration) time.Duration {
	if secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// WasmEngineConfig configures the sandboxed plugin runtime (configs/wasm-engine.toml).
type WasmEngineConfig struct {
	EpochIntervalMillis int `toml:"epoch_interval_millis"`
}

func (w *WasmEngineConfig) EpochInterval() time.Duration {
	if w.EpochIntervalMillis <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(w.EpochIntervalMillis) * time.Millisecond
}

// PluginPermissions are the capability bits a sandboxed plugin is granted,
// read from configs/wasm-plugins.toml, keyed by plugin name.
type PluginPermissions struct {
	HTTPEgress      bool `toml:"http_egress"`
	FilesystemMount bool `toml:"filesystem_mount"`
	ProcessSpawn    bool `toml:"process_spawn"`
	DirectoryRemove bool `toml:"directory_remove"`
}

// StoredNode is the on-disk shape of nodes/*.toml.
type StoredNode struct {
	Plugin       string             `toml:"plugin"`
	Capabilities StoredCapabilities `toml:"capabilities"`
	Status       string             `toml:"status"` // "active" | "inactive"
	Controller   StoredController   `toml:"controller"`
}

type StoredCapabilities struct {
	MemoryMB   int  `toml:"memory"`
	MaxServers int  `toml:"max_servers"`
	Child      bool `toml:"child"`
}

type StoredController struct {
	Address string `toml:"address"`
}

// StoredGroup is the on-disk shape of groups/*.toml.
type StoredGroup struct {
	Status      string              `toml:"status"` // "active" | "inactive"
	Nodes       []string            `toml:"nodes"`
	Constraints StoredConstraints   `toml:"constraints"`
	Scaling     StoredScalingPolicy `toml:"scaling"`
	Resources   StoredResources     `toml:"resources"`
	Spec        StoredSpec          `toml:"spec"`
}

type StoredConstraints struct {
	Min      int `toml:"min"`
	Max      int `toml:"max"`
	Priority int `toml:"prio"`
}

type StoredScalingPolicy struct {
	Enabled         bool    `toml:"enabled"`
	StartThreshold  float64 `toml:"start_threshold"`
	StopEmptyServer bool    `toml:"stop_empty"`
}

type StoredResources struct {
	MemoryMB int `toml:"memory"`
	SwapMB   int `toml:"swap"`
	CPU      int `toml:"cpu"`
	DiskMB   int `toml:"disk"`
	IO       int `toml:"io"`
	Ports    int `toml:"ports"`
}

type StoredSpec struct {
	Image          string            `toml:"image"`
	Env            map[string]string `toml:"env"`
	Settings       map[string]string `toml:"settings"`
	DiskRetention  string            `toml:"disk_retention"` // "temporary" | "permanent"
	MaxPlayers     int               `toml:"max_players"`
	FallbackEnable bool              `toml:"fallback_enabled"`
	FallbackPrio   int               `toml:"fallback_priority"`
}

// StoredUser is the on-disk shape of users/*.toml.
type StoredUser struct {
	Token       string `toml:"token"`
	Permissions uint32 `toml:"permissions"`
}
