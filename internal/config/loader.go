package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// LoadConfig decodes configs/config.toml. A decode error here aborts
// startup, unlike the per-entry directories below.
func LoadConfig(dir string) (*Config, error) {
	path := filepath.Join(dir, "config.toml")
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.resolveDurations()
	return &cfg, nil
}

// LoadWasmEngine decodes configs/wasm-engine.toml. Missing file yields
// engine defaults rather than an error, matching the rest of the ambient
// sandbox configuration being optional.
func LoadWasmEngine(dir string) (*WasmEngineConfig, error) {
	path := filepath.Join(dir, "wasm-engine.toml")
	var cfg WasmEngineConfig
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadWasmPlugins decodes configs/wasm-plugins.toml into a map keyed by
// plugin name.
func LoadWasmPlugins(dir string) (map[string]PluginPermissions, error) {
	path := filepath.Join(dir, "wasm-plugins.toml")
	perms := make(map[string]PluginPermissions)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return perms, nil
	}
	if _, err := toml.DecodeFile(path, &perms); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return perms, nil
}

// entry pairs a decoded TOML value with the base name of the file it came
// from (minus extension), which doubles as the resource's configured name.
type entry[T any] struct {
	Name  string
	Value T
}

// forEachTOML walks dir for *.toml files, decoding each into a fresh T.
// A decode error on one file logs a warning and skips that file only,
// matching the "runtime file-read errors per-entry only skip that entry"
// policy.
func forEachTOML[T any](log zerolog.Logger, dir string) ([]entry[T], error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
		return nil, nil
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var out []entry[T]
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".toml") {
			continue
		}
		var value T
		full := filepath.Join(dir, f.Name())
		if _, err := toml.DecodeFile(full, &value); err != nil {
			log.Warn().Str("file", full).Err(err).Msg("failed to read entry from file, skipping")
			continue
		}
		name := strings.TrimSuffix(f.Name(), ".toml")
		out = append(out, entry[T]{Name: name, Value: value})
	}
	return out, nil
}

// LoadNodes walks dir ("nodes") for node definitions.
func LoadNodes(log zerolog.Logger, dir string) (map[string]StoredNode, error) {
	entries, err := forEachTOML[StoredNode](log, dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]StoredNode, len(entries))
	for _, e := range entries {
		out[e.Name] = e.Value
	}
	return out, nil
}

// LoadGroups walks dir ("groups") for group definitions.
func LoadGroups(log zerolog.Logger, dir string) (map[string]StoredGroup, error) {
	entries, err := forEachTOML[StoredGroup](log, dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]StoredGroup, len(entries))
	for _, e := range entries {
		out[e.Name] = e.Value
	}
	return out, nil
}

// LoadUsers walks dir ("users") for user definitions.
func LoadUsers(log zerolog.Logger, dir string) (map[string]StoredUser, error) {
	entries, err := forEachTOML[StoredUser](log, dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]StoredUser, len(entries))
	for _, e := range entries {
		out[e.Name] = e.Value
	}
	return out, nil
}
