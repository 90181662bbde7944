package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Bus.Transport != TransportMemory {
		t.Errorf("Bus.Transport = %q, want %q", cfg.Bus.Transport, TransportMemory)
	}
	if !cfg.Control.AutoTransition {
		t.Error("Control.AutoTransition should be true by default")
	}
	if !cfg.Fuel.AutoRefuel {
		t.Error("Fuel.AutoRefuel should be true by default")
	}
	if cfg.Fuel.HosePollIntervalMs != 1000 {
		t.Errorf("Fuel.HosePollIntervalMs = %d, want 1000", cfg.Fuel.HosePollIntervalMs)
	}
	if cfg.Doors.FlipLimit != 5 {
		t.Errorf("Doors.FlipLimit = %d, want 5", cfg.Doors.FlipLimit)
	}
	if cfg.Doors.FlipWindowMs != 5000 {
		t.Errorf("Doors.FlipWindowMs = %d, want 5000", cfg.Doors.FlipWindowMs)
	}
	if cfg.Snapshot.Backend != SnapshotBackendFile {
		t.Errorf("Snapshot.Backend = %q, want %q", cfg.Snapshot.Backend, SnapshotBackendFile)
	}
	if cfg.StatusAPI.Enabled {
		t.Error("StatusAPI.Enabled should be false by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"request timeout", cfg.Bus.RequestTimeout(), 2 * time.Second},
		{"tick", cfg.Control.TickInterval(), time.Second},
		{"reconcile", cfg.Control.ReconcileInterval(), 10 * time.Second},
		{"event cleanup", cfg.Control.EventCleanupInterval(), 30 * time.Second},
		{"hose poll", cfg.Fuel.HosePollInterval(), time.Second},
		{"progress", cfg.Fuel.ProgressInterval(), time.Second},
		{"flip window", cfg.Doors.FlipWindow(), 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestFuelConfig_LegFuelKg(t *testing.T) {
	cfg := FuelConfig{TripFuelKg: 4000, TaxiFuelKg: 250, ReserveFuelKg: 1200}
	if got := cfg.LegFuelKg(); got != 5450 {
		t.Errorf("LegFuelKg() = %v, want 5450", got)
	}
}

func TestSnapshotConfig_ResolvePath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	tests := []struct {
		name string
		cfg  SnapshotConfig
		want string
	}{
		{"file default", SnapshotConfig{Backend: SnapshotBackendFile}, "/custom/config/groundsync/state.msgpack"},
		{"sqlite default", SnapshotConfig{Backend: SnapshotBackendSQLite}, "/custom/config/groundsync/state.db"},
		{"explicit", SnapshotConfig{Backend: SnapshotBackendFile, Path: "/tmp/s.bin"}, "/tmp/s.bin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ResolvePath(); got != tt.want {
				t.Errorf("ResolvePath() = %q, want %q", got, tt.want)
			}
		})
	}

	home, err := os.UserHomeDir()
	if err == nil {
		cfg := SnapshotConfig{Path: "~/gs/state.msgpack"}
		if got, want := cfg.ResolvePath(), filepath.Join(home, "gs", "state.msgpack"); got != want {
			t.Errorf("ResolvePath() = %q, want %q", got, want)
		}
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/groundsync" {
			t.Errorf("ConfigDir() = %q, want %q", got, "/custom/config/groundsync")
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".config", "groundsync")
		if got := ConfigDir(); got != expected {
			t.Errorf("ConfigDir() = %q, want %q", got, expected)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got := ConfigFile(); got != "/custom/config/groundsync/config.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
}

func TestGet(t *testing.T) {
	// Set defaults in viper first (normally done by cmd init)
	SetDefaults()

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Fuel.TripFuelKg != 4500 {
		t.Errorf("Get().Fuel.TripFuelKg = %v, want 4500", cfg.Fuel.TripFuelKg)
	}
	if cfg.Doors.FlipLimit != 5 {
		t.Errorf("Get().Doors.FlipLimit = %d, want 5", cfg.Doors.FlipLimit)
	}
}
