package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Host owns every loaded Driver by name and dispatches the controller
// loop's per-tick plugin pass (component tick order: plugins first).
type Host struct {
	log     zerolog.Logger
	mu      sync.RWMutex
	drivers map[string]Driver
	closers map[string]func(context.Context) error
}

func NewHost(log zerolog.Logger) *Host {
	return &Host{
		log:     log.With().Str("component", "plugin-host").Logger(),
		drivers: make(map[string]Driver),
		closers: make(map[string]func(context.Context) error),
	}
}

// Register loads a driver under name, calling its Init hook. closer, if
// non-nil, is invoked on Shutdown after the driver's own Shutdown (used by
// the WASM host to tear down the wazero runtime).
func (h *Host) Register(ctx context.Context, name string, d Driver, closer func(context.Context) error) (Information, error) {
	info, err := d.Init(ctx)
	if err != nil {
		return Information{}, apierrPlugin(name, err)
	}
	h.mu.Lock()
	h.drivers[name] = d
	if closer != nil {
		h.closers[name] = closer
	}
	h.mu.Unlock()
	return info, nil
}

func (h *Host) Driver(name string) (Driver, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	d, ok := h.drivers[name]
	return d, ok
}

// Tick runs every registered driver's Tick hook; a single driver's error is
// logged and scoped to that plugin, never propagated to stop the others.
func (h *Host) Tick(ctx context.Context) {
	h.mu.RLock()
	drivers := make(map[string]Driver, len(h.drivers))
	for k, v := range h.drivers {
		drivers[k] = v
	}
	h.mu.RUnlock()

	for name, d := range drivers {
		if err := d.Tick(ctx); err != nil {
			h.log.Warn().Str("plugin", name).Err(err).Msg("plugin tick failed")
		}
	}
}

// Shutdown tears down every driver in registration order isn't required;
// failures are logged and do not block shutting down the rest.
func (h *Host) Shutdown(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, d := range h.drivers {
		if err := d.Shutdown(ctx); err != nil {
			h.log.Warn().Str("plugin", name).Err(err).Msg("plugin shutdown failed")
		}
		if closer, ok := h.closers[name]; ok {
			if err := closer(ctx); err != nil {
				h.log.Warn().Str("plugin", name).Err(err).Msg("plugin runtime close failed")
			}
		}
	}
}

func apierrPlugin(name string, err error) error {
	return fmt.Errorf("plugin %s: %w", name, err)
}
