package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "fuel.hose_poll_interval_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidTransports returns the list of valid variable bus transports
func ValidTransports() []string {
	return []string{TransportMemory, TransportXPlane}
}

// ValidSnapshotBackends returns the list of valid snapshot backends
func ValidSnapshotBackends() []string {
	return []string{SnapshotBackendFile, SnapshotBackendSQLite, SnapshotBackendNone}
}

// Polling below this period would hammer the simulator web API.
const minIntervalMs = 50

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateBus()...)
	errors = append(errors, c.validateControl()...)
	errors = append(errors, c.validateFuel()...)
	errors = append(errors, c.validateDoors()...)
	errors = append(errors, c.validateCargo()...)
	errors = append(errors, c.validateSnapshot()...)
	errors = append(errors, c.validateStatusAPI()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateBus validates the BusConfig
func (c *Config) validateBus() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidTransports(), c.Bus.Transport) {
		errors = append(errors, ValidationError{
			Field:   "bus.transport",
			Value:   c.Bus.Transport,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidTransports(), ", ")),
		})
	}

	// URLs only matter when the simulator transport is selected
	if c.Bus.Transport == TransportXPlane {
		errors = append(errors, validateURL("bus.rest_url", c.Bus.RESTURL, "http", "https")...)
		errors = append(errors, validateURL("bus.websocket_url", c.Bus.WebSocketURL, "ws", "wss")...)
	}

	if c.Bus.RequestTimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "bus.request_timeout_ms",
			Value:   c.Bus.RequestTimeoutMs,
			Message: "must be positive",
		})
	}

	if c.Bus.CacheSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "bus.cache_size",
			Value:   c.Bus.CacheSize,
			Message: "must be positive",
		})
	}

	return errors
}

func validateURL(field, raw string, schemes ...string) []ValidationError {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return []ValidationError{{
			Field:   field,
			Value:   raw,
			Message: "must be an absolute URL",
		}}
	}
	if !slices.Contains(schemes, u.Scheme) {
		return []ValidationError{{
			Field:   field,
			Value:   raw,
			Message: fmt.Sprintf("scheme must be one of: %s", strings.Join(schemes, ", ")),
		}}
	}
	return nil
}

// validateControl validates the ControlConfig
func (c *Config) validateControl() []ValidationError {
	var errors []ValidationError

	errors = append(errors, validateInterval("control.tick_interval_ms", c.Control.TickIntervalMs)...)
	errors = append(errors, validateInterval("control.reconcile_interval_ms", c.Control.ReconcileIntervalMs)...)
	errors = append(errors, validateInterval("control.event_cleanup_interval_ms", c.Control.EventCleanupIntervalMs)...)

	// Reconciliation runs on control ticks, so a shorter period is meaningless
	if c.Control.ReconcileIntervalMs > 0 && c.Control.ReconcileIntervalMs < c.Control.TickIntervalMs {
		errors = append(errors, ValidationError{
			Field:   "control.reconcile_interval_ms",
			Value:   c.Control.ReconcileIntervalMs,
			Message: "must not be shorter than control.tick_interval_ms",
		})
	}

	return errors
}

func validateInterval(field string, ms int) []ValidationError {
	if ms < minIntervalMs {
		return []ValidationError{{
			Field:   field,
			Value:   ms,
			Message: fmt.Sprintf("must be at least %dms", minIntervalMs),
		}}
	}
	return nil
}

// validateFuel validates the FuelConfig
func (c *Config) validateFuel() []ValidationError {
	var errors []ValidationError

	errors = append(errors, validateInterval("fuel.hose_poll_interval_ms", c.Fuel.HosePollIntervalMs)...)
	errors = append(errors, validateInterval("fuel.progress_interval_ms", c.Fuel.ProgressIntervalMs)...)

	if c.Fuel.RefuelRateKgPerSec <= 0 {
		errors = append(errors, ValidationError{
			Field:   "fuel.refuel_rate_kg_per_sec",
			Value:   c.Fuel.RefuelRateKgPerSec,
			Message: "must be positive",
		})
	}

	amounts := []struct {
		field string
		value float64
	}{
		{"fuel.initial_fuel_kg", c.Fuel.InitialFuelKg},
		{"fuel.trip_fuel_kg", c.Fuel.TripFuelKg},
		{"fuel.taxi_fuel_kg", c.Fuel.TaxiFuelKg},
		{"fuel.reserve_fuel_kg", c.Fuel.ReserveFuelKg},
	}
	for _, a := range amounts {
		if a.value < 0 {
			errors = append(errors, ValidationError{
				Field:   a.field,
				Value:   a.value,
				Message: "must be non-negative",
			})
		}
	}

	return errors
}

// validateDoors validates the DoorsConfig
func (c *Config) validateDoors() []ValidationError {
	var errors []ValidationError

	if c.Doors.FlipLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "doors.flip_limit",
			Value:   c.Doors.FlipLimit,
			Message: "must be at least 1",
		})
	}

	if c.Doors.FlipWindowMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "doors.flip_window_ms",
			Value:   c.Doors.FlipWindowMs,
			Message: "must be positive",
		})
	}

	return errors
}

// validateCargo validates the CargoConfig
func (c *Config) validateCargo() []ValidationError {
	var errors []ValidationError

	if c.Cargo.PlannedKg < 0 {
		errors = append(errors, ValidationError{
			Field:   "cargo.planned_kg",
			Value:   c.Cargo.PlannedKg,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateSnapshot validates the SnapshotConfig
func (c *Config) validateSnapshot() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidSnapshotBackends(), c.Snapshot.Backend) {
		errors = append(errors, ValidationError{
			Field:   "snapshot.backend",
			Value:   c.Snapshot.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSnapshotBackends(), ", ")),
		})
	}

	if strings.ContainsRune(c.Snapshot.Path, 0) {
		errors = append(errors, ValidationError{
			Field:   "snapshot.path",
			Value:   c.Snapshot.Path,
			Message: "must not contain null bytes",
		})
	}

	return errors
}

// validateStatusAPI validates the StatusAPIConfig
func (c *Config) validateStatusAPI() []ValidationError {
	var errors []ValidationError

	if !c.StatusAPI.Enabled {
		return errors
	}

	if _, _, err := net.SplitHostPort(c.StatusAPI.Addr); err != nil {
		errors = append(errors, ValidationError{
			Field:   "status_api.addr",
			Value:   c.StatusAPI.Addr,
			Message: "must be a host:port listen address",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
