// Package logging provides structured logging for groundsync.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// persistent attributes, so every line written by a coordinator carries the
// component and flight phase it was produced in.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Attribute propagation (component, phase, arbitrary key/value pairs)
//   - Size-based log rotation via lumberjack
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/groundsync", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	fuelLog := logger.WithComponent("fuel")
//	fuelLog.Info("refueling started", "planned_kg", 5400)
//
// Use [NopLogger] in tests.
package logging
