package config

import "testing"

func TestResolveDurationsAppliesDefaultsWhenUnset(t *testing.T) {
	var c Config
	c.resolveDurations()

	if c.TickHz != 20 {
		t.Fatalf("expected default tick_rate_hz 20, got %d", c.TickHz)
	}
	if c.StartupTimeout.Seconds() != 30 {
		t.Fatalf("expected default startup timeout 30s, got %v", c.StartupTimeout)
	}
	if c.EmptyServerTimeout.Minutes() != 5 {
		t.Fatalf("expected default empty-server timeout 5m, got %v", c.EmptyServerTimeout)
	}
}

func TestResolveDurationsHonorsConfiguredSeconds(t *testing.T) {
	c := Config{TickHz: 10, RestartTimeoutSecs: 45}
	c.resolveDurations()

	if c.TickRate.Milliseconds() != 100 {
		t.Fatalf("expected 100ms tick rate at 10hz, got %v", c.TickRate)
	}
	if c.RestartTimeout.Seconds() != 45 {
		t.Fatalf("expected 45s restart timeout, got %v", c.RestartTimeout)
	}
	// A field left at zero still falls back to its own default.
	if c.HeartbeatTimeout.Seconds() != 30 {
		t.Fatalf("expected default heartbeat timeout 30s, got %v", c.HeartbeatTimeout)
	}
}

func TestWasmEngineIntervalDefault(t *testing.T) {
	var w WasmEngineConfig
	if got := w.EpochInterval(); got.Milliseconds() != 100 {
		t.Fatalf("expected default epoch interval 100ms, got %v", got)
	}

	w.EpochIntervalMillis = 250
	if got := w.EpochInterval(); got.Milliseconds() != 250 {
		t.Fatalf("expected configured epoch interval 250ms, got %v", got)
	}
}
