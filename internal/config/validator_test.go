package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

// hasField reports whether errs contains an error for field.
func hasField(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestConfig_Validate_Bus(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
		wantErr   bool
	}{
		{
			name:      "memory transport",
			modify:    func(c *Config) { c.Bus.Transport = TransportMemory },
			wantField: "bus.transport",
			wantErr:   false,
		},
		{
			name:      "unknown transport",
			modify:    func(c *Config) { c.Bus.Transport = "simconnect" },
			wantField: "bus.transport",
			wantErr:   true,
		},
		{
			name: "xplane with http rest url",
			modify: func(c *Config) {
				c.Bus.Transport = TransportXPlane
			},
			wantField: "bus.rest_url",
			wantErr:   false,
		},
		{
			name: "xplane with websocket scheme on rest url",
			modify: func(c *Config) {
				c.Bus.Transport = TransportXPlane
				c.Bus.RESTURL = "ws://localhost:8086/api/v2"
			},
			wantField: "bus.rest_url",
			wantErr:   true,
		},
		{
			name: "xplane with relative websocket url",
			modify: func(c *Config) {
				c.Bus.Transport = TransportXPlane
				c.Bus.WebSocketURL = "/api/v2"
			},
			wantField: "bus.websocket_url",
			wantErr:   true,
		},
		{
			name: "bad url ignored for memory transport",
			modify: func(c *Config) {
				c.Bus.Transport = TransportMemory
				c.Bus.RESTURL = "::"
			},
			wantField: "bus.rest_url",
			wantErr:   false,
		},
		{
			name:      "zero request timeout",
			modify:    func(c *Config) { c.Bus.RequestTimeoutMs = 0 },
			wantField: "bus.request_timeout_ms",
			wantErr:   true,
		},
		{
			name:      "zero cache size",
			modify:    func(c *Config) { c.Bus.CacheSize = 0 },
			wantField: "bus.cache_size",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if got := hasField(cfg.Validate(), tt.wantField); got != tt.wantErr {
				t.Errorf("error for %s = %v, want %v", tt.wantField, got, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_Control(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
		wantErr   bool
	}{
		{
			name:      "tick interval too small",
			modify:    func(c *Config) { c.Control.TickIntervalMs = 10 },
			wantField: "control.tick_interval_ms",
			wantErr:   true,
		},
		{
			name:      "tick interval at minimum",
			modify:    func(c *Config) { c.Control.TickIntervalMs = minIntervalMs },
			wantField: "control.tick_interval_ms",
			wantErr:   false,
		},
		{
			name: "reconcile shorter than tick",
			modify: func(c *Config) {
				c.Control.TickIntervalMs = 2000
				c.Control.ReconcileIntervalMs = 1000
			},
			wantField: "control.reconcile_interval_ms",
			wantErr:   true,
		},
		{
			name:      "cleanup interval zero",
			modify:    func(c *Config) { c.Control.EventCleanupIntervalMs = 0 },
			wantField: "control.event_cleanup_interval_ms",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if got := hasField(cfg.Validate(), tt.wantField); got != tt.wantErr {
				t.Errorf("error for %s = %v, want %v", tt.wantField, got, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_Fuel(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{"hose poll too fast", func(c *Config) { c.Fuel.HosePollIntervalMs = 1 }, "fuel.hose_poll_interval_ms"},
		{"progress poll too fast", func(c *Config) { c.Fuel.ProgressIntervalMs = 0 }, "fuel.progress_interval_ms"},
		{"zero rate", func(c *Config) { c.Fuel.RefuelRateKgPerSec = 0 }, "fuel.refuel_rate_kg_per_sec"},
		{"negative initial fuel", func(c *Config) { c.Fuel.InitialFuelKg = -1 }, "fuel.initial_fuel_kg"},
		{"negative reserve", func(c *Config) { c.Fuel.ReserveFuelKg = -100 }, "fuel.reserve_fuel_kg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if !hasField(cfg.Validate(), tt.wantField) {
				t.Errorf("expected error for %s", tt.wantField)
			}
		})
	}
}

func TestConfig_Validate_DoorsAndCargo(t *testing.T) {
	cfg := Default()
	cfg.Doors.FlipLimit = 0
	cfg.Doors.FlipWindowMs = -5
	cfg.Cargo.PlannedKg = -1

	errs := cfg.Validate()
	for _, field := range []string{"doors.flip_limit", "doors.flip_window_ms", "cargo.planned_kg"} {
		if !hasField(errs, field) {
			t.Errorf("expected error for %s", field)
		}
	}
}

func TestConfig_Validate_Snapshot(t *testing.T) {
	for _, backend := range ValidSnapshotBackends() {
		cfg := Default()
		cfg.Snapshot.Backend = backend
		if hasField(cfg.Validate(), "snapshot.backend") {
			t.Errorf("backend %q should be valid", backend)
		}
	}

	cfg := Default()
	cfg.Snapshot.Backend = "redis"
	if !hasField(cfg.Validate(), "snapshot.backend") {
		t.Error("expected error for unknown backend")
	}

	cfg = Default()
	cfg.Snapshot.Path = "state\x00.db"
	if !hasField(cfg.Validate(), "snapshot.path") {
		t.Error("expected error for path with null byte")
	}
}

func TestConfig_Validate_StatusAPI(t *testing.T) {
	cfg := Default()
	cfg.StatusAPI.Addr = "not-an-address"
	if hasField(cfg.Validate(), "status_api.addr") {
		t.Error("disabled status API should not validate its address")
	}

	cfg.StatusAPI.Enabled = true
	if !hasField(cfg.Validate(), "status_api.addr") {
		t.Error("expected error for malformed listen address")
	}

	cfg.StatusAPI.Addr = ":8089"
	if hasField(cfg.Validate(), "status_api.addr") {
		t.Error(":8089 should be a valid listen address")
	}
}

func TestConfig_Validate_Logging(t *testing.T) {
	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", ""} {
			cfg := Default()
			cfg.Logging.Level = level
			if hasField(cfg.Validate(), "logging.level") {
				t.Errorf("level %q should be valid", level)
			}
		}
	})

	t.Run("case sensitive log level", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.Level = "INFO"
		if !hasField(cfg.Validate(), "logging.level") {
			t.Error("expected error for uppercase log level")
		}
	})

	t.Run("max size bounds", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.MaxSizeMB = 0
		if !hasField(cfg.Validate(), "logging.max_size_mb") {
			t.Error("expected error for zero max size")
		}
		cfg.Logging.MaxSizeMB = 5000
		if !hasField(cfg.Validate(), "logging.max_size_mb") {
			t.Error("expected error for oversized max size")
		}
	})

	t.Run("negative backups", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.MaxBackups = -1
		if !hasField(cfg.Validate(), "logging.max_backups") {
			t.Error("expected error for negative max backups")
		}
	})
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Bus.Transport = "nope"
	cfg.Fuel.RefuelRateKgPerSec = -1
	cfg.Logging.Level = "invalid"
	cfg.Doors.FlipLimit = 0

	errs := cfg.Validate()
	if len(errs) < 4 {
		t.Errorf("expected at least 4 errors, got %d: %v", len(errs), errs)
	}
}
