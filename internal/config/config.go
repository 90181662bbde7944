package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete groundsync configuration
type Config struct {
	Bus       BusConfig       `mapstructure:"bus"`
	Control   ControlConfig   `mapstructure:"control"`
	Fuel      FuelConfig      `mapstructure:"fuel"`
	Doors     DoorsConfig     `mapstructure:"doors"`
	Cargo     CargoConfig     `mapstructure:"cargo"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	StatusAPI StatusAPIConfig `mapstructure:"status_api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BusConfig selects and configures the variable bus transport
type BusConfig struct {
	// Transport is the variable bus implementation.
	// Options: "memory", "xplane" (default: "memory")
	Transport string `mapstructure:"transport"`
	// RESTURL is the base URL of the X-Plane web API (default: "http://localhost:8086/api/v2")
	RESTURL string `mapstructure:"rest_url"`
	// WebSocketURL is the X-Plane web API websocket endpoint (default: "ws://localhost:8086/api/v2")
	WebSocketURL string `mapstructure:"websocket_url"`
	// RequestTimeoutMs bounds every REST call to the simulator (default: 2000)
	RequestTimeoutMs int `mapstructure:"request_timeout_ms"`
	// KeysFile is an optional yaml file overriding the default variable keys
	KeysFile string `mapstructure:"keys_file"`
	// CacheSize is the number of dataref ids cached by the X-Plane transport (default: 256)
	CacheSize int `mapstructure:"cache_size"`
}

// ControlConfig controls the main control loop
type ControlConfig struct {
	// TickIntervalMs is how often aircraft parameters are evaluated (default: 1000)
	TickIntervalMs int `mapstructure:"tick_interval_ms"`
	// ReconcileIntervalMs is how often every coordinator re-synchronizes GS and FM (default: 10000)
	ReconcileIntervalMs int `mapstructure:"reconcile_interval_ms"`
	// EventCleanupIntervalMs is how often dead event subscriptions are swept (default: 30000)
	EventCleanupIntervalMs int `mapstructure:"event_cleanup_interval_ms"`
	// AutoTransition advances the flight phase when telemetry satisfies the next gate (default: true)
	AutoTransition bool `mapstructure:"auto_transition"`
	// FlightNumber is used when requesting the final loadsheet
	FlightNumber string `mapstructure:"flight_number"`
}

// FuelConfig controls the fuel coordinator
type FuelConfig struct {
	// AutoRefuel lets phase policy set the initial load and start refueling (default: true)
	AutoRefuel bool `mapstructure:"auto_refuel"`
	// HosePollIntervalMs is the hose-connection poll period (default: 1000)
	HosePollIntervalMs int `mapstructure:"hose_poll_interval_ms"`
	// ProgressIntervalMs is the refueling progress poll period (default: 1000)
	ProgressIntervalMs int `mapstructure:"progress_interval_ms"`
	// RefuelRateKgPerSec is the nominal transfer rate used for time estimates (default: 28)
	RefuelRateKgPerSec float64 `mapstructure:"refuel_rate_kg_per_sec"`
	// InitialFuelKg is the fuel on board set once in PREFLIGHT (default: 2000)
	InitialFuelKg float64 `mapstructure:"initial_fuel_kg"`
	// TripFuelKg is the planned trip burn for a leg (default: 4500)
	TripFuelKg float64 `mapstructure:"trip_fuel_kg"`
	// TaxiFuelKg is the taxi allowance for a leg (default: 200)
	TaxiFuelKg float64 `mapstructure:"taxi_fuel_kg"`
	// ReserveFuelKg is the reserve carried on every leg (default: 1500)
	ReserveFuelKg float64 `mapstructure:"reserve_fuel_kg"`
}

// DoorsConfig controls the door coordinator
type DoorsConfig struct {
	// FlipLimit is the maximum number of state flips per door inside FlipWindowMs (default: 5)
	FlipLimit int `mapstructure:"flip_limit"`
	// FlipWindowMs is the rolling window of the flip limiter (default: 5000)
	FlipWindowMs int `mapstructure:"flip_window_ms"`
	// AutoOpenOnArrival opens passenger and cargo doors in ARRIVAL and TURNAROUND (default: true)
	AutoOpenOnArrival bool `mapstructure:"auto_open_on_arrival"`
}

// CargoConfig controls the cargo coordinator
type CargoConfig struct {
	// PlannedKg is the planned cargo load for a leg (default: 3000)
	PlannedKg int `mapstructure:"planned_kg"`
}

// SnapshotConfig controls flight state persistence
type SnapshotConfig struct {
	// Backend is the snapshot store. Options: "file", "sqlite", "none" (default: "file")
	Backend string `mapstructure:"backend"`
	// Path is the snapshot file or database path.
	// If empty, defaults to a file inside the config directory.
	Path string `mapstructure:"path"`
}

// StatusAPIConfig controls the read-only HTTP status API
type StatusAPIConfig struct {
	// Enabled starts the status API alongside the control loop (default: false)
	Enabled bool `mapstructure:"enabled"`
	// Addr is the listen address (default: "127.0.0.1:8089")
	Addr string `mapstructure:"addr"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the log directory. If empty, logs go to stderr.
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			Transport:        TransportMemory,
			RESTURL:          "http://localhost:8086/api/v2",
			WebSocketURL:     "ws://localhost:8086/api/v2",
			RequestTimeoutMs: 2000,
			CacheSize:        256,
		},
		Control: ControlConfig{
			TickIntervalMs:         1000,
			ReconcileIntervalMs:    10000,
			EventCleanupIntervalMs: 30000,
			AutoTransition:         true,
		},
		Fuel: FuelConfig{
			AutoRefuel:         true,
			HosePollIntervalMs: 1000,
			ProgressIntervalMs: 1000,
			RefuelRateKgPerSec: 28,
			InitialFuelKg:      2000,
			TripFuelKg:         4500,
			TaxiFuelKg:         200,
			ReserveFuelKg:      1500,
		},
		Doors: DoorsConfig{
			FlipLimit:         5,
			FlipWindowMs:      5000,
			AutoOpenOnArrival: true,
		},
		Cargo: CargoConfig{
			PlannedKg: 3000,
		},
		Snapshot: SnapshotConfig{
			Backend: SnapshotBackendFile,
			Path:    "",
		},
		StatusAPI: StatusAPIConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8089",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Dir:        "",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// Transport and snapshot backend names
const (
	TransportMemory = "memory"
	TransportXPlane = "xplane"

	SnapshotBackendFile   = "file"
	SnapshotBackendSQLite = "sqlite"
	SnapshotBackendNone   = "none"
)

// RequestTimeout returns the REST request timeout as a time.Duration
func (c *BusConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// TickInterval returns the control loop period as a time.Duration
func (c *ControlConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// ReconcileInterval returns the reconciliation period as a time.Duration
func (c *ControlConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalMs) * time.Millisecond
}

// EventCleanupInterval returns the subscription sweep period as a time.Duration
func (c *ControlConfig) EventCleanupInterval() time.Duration {
	return time.Duration(c.EventCleanupIntervalMs) * time.Millisecond
}

// HosePollInterval returns the hose poll period as a time.Duration
func (c *FuelConfig) HosePollInterval() time.Duration {
	return time.Duration(c.HosePollIntervalMs) * time.Millisecond
}

// ProgressInterval returns the progress poll period as a time.Duration
func (c *FuelConfig) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMs) * time.Millisecond
}

// LegFuelKg returns the block fuel required for one leg: trip, taxi and reserve.
func (c *FuelConfig) LegFuelKg() float64 {
	return c.TripFuelKg + c.TaxiFuelKg + c.ReserveFuelKg
}

// FlipWindow returns the door flip limiter window as a time.Duration
func (c *DoorsConfig) FlipWindow() time.Duration {
	return time.Duration(c.FlipWindowMs) * time.Millisecond
}

// ResolvePath returns the snapshot location, defaulting into the config directory.
func (c *SnapshotConfig) ResolvePath() string {
	if c.Path != "" {
		return expandHome(c.Path)
	}
	if c.Backend == SnapshotBackendSQLite {
		return filepath.Join(ConfigDir(), "state.db")
	}
	return filepath.Join(ConfigDir(), "state.msgpack")
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Bus defaults
	viper.SetDefault("bus.transport", defaults.Bus.Transport)
	viper.SetDefault("bus.rest_url", defaults.Bus.RESTURL)
	viper.SetDefault("bus.websocket_url", defaults.Bus.WebSocketURL)
	viper.SetDefault("bus.request_timeout_ms", defaults.Bus.RequestTimeoutMs)
	viper.SetDefault("bus.keys_file", defaults.Bus.KeysFile)
	viper.SetDefault("bus.cache_size", defaults.Bus.CacheSize)

	// Control defaults
	viper.SetDefault("control.tick_interval_ms", defaults.Control.TickIntervalMs)
	viper.SetDefault("control.reconcile_interval_ms", defaults.Control.ReconcileIntervalMs)
	viper.SetDefault("control.event_cleanup_interval_ms", defaults.Control.EventCleanupIntervalMs)
	viper.SetDefault("control.auto_transition", defaults.Control.AutoTransition)
	viper.SetDefault("control.flight_number", defaults.Control.FlightNumber)

	// Fuel defaults
	viper.SetDefault("fuel.auto_refuel", defaults.Fuel.AutoRefuel)
	viper.SetDefault("fuel.hose_poll_interval_ms", defaults.Fuel.HosePollIntervalMs)
	viper.SetDefault("fuel.progress_interval_ms", defaults.Fuel.ProgressIntervalMs)
	viper.SetDefault("fuel.refuel_rate_kg_per_sec", defaults.Fuel.RefuelRateKgPerSec)
	viper.SetDefault("fuel.initial_fuel_kg", defaults.Fuel.InitialFuelKg)
	viper.SetDefault("fuel.trip_fuel_kg", defaults.Fuel.TripFuelKg)
	viper.SetDefault("fuel.taxi_fuel_kg", defaults.Fuel.TaxiFuelKg)
	viper.SetDefault("fuel.reserve_fuel_kg", defaults.Fuel.ReserveFuelKg)

	// Door defaults
	viper.SetDefault("doors.flip_limit", defaults.Doors.FlipLimit)
	viper.SetDefault("doors.flip_window_ms", defaults.Doors.FlipWindowMs)
	viper.SetDefault("doors.auto_open_on_arrival", defaults.Doors.AutoOpenOnArrival)

	// Cargo defaults
	viper.SetDefault("cargo.planned_kg", defaults.Cargo.PlannedKg)

	// Snapshot defaults
	viper.SetDefault("snapshot.backend", defaults.Snapshot.Backend)
	viper.SetDefault("snapshot.path", defaults.Snapshot.Path)

	// Status API defaults
	viper.SetDefault("status_api.enabled", defaults.StatusAPI.Enabled)
	viper.SetDefault("status_api.addr", defaults.StatusAPI.Addr)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "groundsync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".groundsync"
	}
	return filepath.Join(home, ".config", "groundsync")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
