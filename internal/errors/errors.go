// Package errors provides centralized error definitions and error handling utilities
// for groundsync. It defines domain-specific errors, error constructors with
// context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent failures of a specific subsystem:
//   - CoordinatorError: a resource coordinator (doors, fuel, cargo, equipment) failed an operation
//   - BusError: a variable bus read or write failed
//   - TransitionError: a flight phase transition was rejected
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewBusError("write failed", errors.ErrBusUnavailable).WithKey("gs.door.fwd_left")
//	err := errors.NewCoordinatorError("start refueling", errors.ErrResourceConflict).WithResource("fuel")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrResourceConflict) { ... }
//
//	var busErr *errors.BusError
//	if errors.As(err, &busErr) { ... }
//
// # Error Classification
//
// Coordinators never let an error cross their public boolean operations;
// they classify it first:
//   - IsCanceled: cancellation, logged at warning level and treated as a clean stop
//   - IsRetryable: transient bus failures that the next reconciliation pass repairs
//   - GetSeverity: Debug, Info, Warning, Error, Critical
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Flight phase sentinel errors
var (
	// ErrInvalidTransition indicates that a phase transition does not follow the cycle.
	ErrInvalidTransition = New("invalid phase transition")
	// ErrTransitionGated indicates that telemetry does not permit the transition yet.
	ErrTransitionGated = New("phase transition gated by telemetry")
)

// Coordinator sentinel errors
var (
	// ErrResourceConflict indicates that an operation conflicts with the resource's current state,
	// e.g. starting refueling while defueling.
	ErrResourceConflict = New("resource conflict")
	// ErrAlreadyInState indicates that a resource is already in the requested state.
	ErrAlreadyInState = New("resource already in requested state")
	// ErrRateLimited indicates that a state flip was rejected by a flapping guard.
	ErrRateLimited = New("state change rate limited")
	// ErrOutOfRange indicates that a value is outside its permitted range.
	ErrOutOfRange = New("value out of range")
)

// Variable bus sentinel errors
var (
	// ErrBusUnavailable indicates that the variable bus could not be reached.
	ErrBusUnavailable = New("variable bus unavailable")
	// ErrBusKeyUnknown indicates that the bus does not know the requested key.
	ErrBusKeyUnknown = New("unknown variable key")
	// ErrNotConnected indicates that a transport has not been connected yet.
	ErrNotConnected = New("not connected")
)

// Persistence sentinel errors
var (
	// ErrSnapshotCorrupt indicates that a stored snapshot could not be decoded or validated.
	ErrSnapshotCorrupt = New("snapshot corrupted")
)

// General sentinel errors
var (
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// GroundsyncError is the base interface for all groundsync errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type GroundsyncError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// formatPrefixed renders "<prefix> [k=v, ...]: message: cause".
func formatPrefixed(prefix string, parts []string, message string, cause error) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// CoordinatorError represents a failed operation inside a resource coordinator.
//
// Example:
//
//	err := errors.NewCoordinatorError("start refueling", errors.ErrResourceConflict).
//		WithResource("fuel").WithOp("start")
//	fmt.Println(err) // "coordinator error [resource=fuel, op=start]: start refueling: resource conflict"
type CoordinatorError struct {
	baseError
	Resource string
	Op       string
}

// NewCoordinatorError creates a new CoordinatorError.
func NewCoordinatorError(message string, cause error) *CoordinatorError {
	severity := SeverityError
	if errors.Is(cause, ErrResourceConflict) || errors.Is(cause, ErrRateLimited) ||
		errors.Is(cause, ErrAlreadyInState) || errors.Is(cause, ErrOutOfRange) {
		severity = SeverityWarning
	}
	return &CoordinatorError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: severity,
		},
	}
}

// WithResource adds the resource name to the error context.
func (e *CoordinatorError) WithResource(resource string) *CoordinatorError {
	e.Resource = resource
	return e
}

// WithOp adds the operation name to the error context.
func (e *CoordinatorError) WithOp(op string) *CoordinatorError {
	e.Op = op
	return e
}

// WithSeverity sets the error severity.
func (e *CoordinatorError) WithSeverity(s Severity) *CoordinatorError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *CoordinatorError) WithRetryable(r bool) *CoordinatorError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *CoordinatorError) Error() string {
	var parts []string
	if e.Resource != "" {
		parts = append(parts, fmt.Sprintf("resource=%s", e.Resource))
	}
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	return formatPrefixed("coordinator error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *CoordinatorError) Is(target error) bool {
	if _, ok := target.(*CoordinatorError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// BusError represents a failed variable bus read or write.
// Bus errors are retryable by default: the next reconciliation pass repeats the write.
type BusError struct {
	baseError
	Key string
	Op  string
}

// NewBusError creates a new BusError.
func NewBusError(message string, cause error) *BusError {
	return &BusError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityError,
			retryable: !errors.Is(cause, ErrBusKeyUnknown),
		},
	}
}

// WithKey adds the variable key to the error context.
func (e *BusError) WithKey(key string) *BusError {
	e.Key = key
	return e
}

// WithOp adds the bus operation ("read", "write", "subscribe") to the error context.
func (e *BusError) WithOp(op string) *BusError {
	e.Op = op
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *BusError) WithRetryable(r bool) *BusError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *BusError) Error() string {
	var parts []string
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("key=%s", e.Key))
	}
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	return formatPrefixed("bus error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *BusError) Is(target error) bool {
	if _, ok := target.(*BusError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TransitionError describes a rejected phase transition. Phases are carried as
// strings to keep this package free of domain imports.
type TransitionError struct {
	baseError
	From string
	To   string
}

// NewTransitionError creates a new TransitionError.
func NewTransitionError(from, to, reason string, cause error) *TransitionError {
	return &TransitionError{
		baseError: baseError{
			message:  reason,
			cause:    cause,
			severity: SeverityInfo,
		},
		From: from,
		To:   to,
	}
}

// Error returns the formatted error message.
func (e *TransitionError) Error() string {
	parts := []string{fmt.Sprintf("from=%s", e.From), fmt.Sprintf("to=%s", e.To)}
	return formatPrefixed("transition rejected", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *TransitionError) Is(target error) bool {
	if _, ok := target.(*TransitionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error is transient and the operation may
// succeed on a later attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var gsErr GroundsyncError
	if As(err, &gsErr) {
		return gsErr.IsRetryable()
	}

	return Is(err, ErrBusUnavailable)
}

// IsCanceled reports whether err is a cancellation, either the package
// sentinel or a context cancellation/deadline.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrCanceled) || Is(err, context.Canceled) || Is(err, context.DeadlineExceeded)
}

// GetSeverity returns the severity level of the error.
// Cancellations are warnings; errors that don't implement GroundsyncError are
// SeverityError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	if IsCanceled(err) {
		return SeverityWarning
	}

	var gsErr GroundsyncError
	if As(err, &gsErr) {
		return gsErr.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to synchronize doors")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
