// Package errors provides error handling for Parley.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrValidation) {
//	    // route to quarantine
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error marking (attach a sentinel's identity to a custom error type)
var (
	Mark = crdb.Mark
)

// Error inspection
var (
	Is         = crdb.Is
	IsAny      = crdb.IsAny
	As         = crdb.As
	Unwrap     = crdb.Unwrap
	UnwrapOnce = crdb.UnwrapOnce
	UnwrapAll  = crdb.UnwrapAll
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Ingestion error taxonomy. Every failure inside the pipeline is classified
// as exactly one of these sentinels; the orchestrator routes on them.
// Use errors.Is() for checks and errors.Wrap() to add context while
// preserving the classification.
var (
	// ErrConnection indicates a source was unreachable or rejected our
	// credentials. Retried per the connector's retry policy, then surfaced
	// as a fetch failure.
	ErrConnection = New("connection failed")

	// ErrSecurityViolation indicates SSRF, path traversal, or a
	// sanitization-integrity failure. Never retried, always quarantined.
	ErrSecurityViolation = New("security violation")

	// ErrValidation indicates a schema or invariant violation in a record.
	// Quarantined and eligible for reprocessing.
	ErrValidation = New("validation failed")

	// ErrRateLimited indicates the token bucket is exhausted. Handled
	// internally by the fetch guard; callers never observe it.
	ErrRateLimited = New("rate limit exceeded")

	// ErrQueueFull is the backpressure signal from a bounded queue.
	// Producers must block or quarantine the record, never drop it.
	ErrQueueFull = New("queue full")

	// ErrQuarantinePersistence indicates the quarantine store could not
	// persist a failed record. Logged and counted, never fatal to the run.
	ErrQuarantinePersistence = New("quarantine persistence failed")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = New("not found")
)

// IsConnectionError checks if an error is or wraps ErrConnection.
func IsConnectionError(err error) bool {
	return err != nil && Is(err, ErrConnection)
}

// IsSecurityViolation checks if an error is or wraps ErrSecurityViolation.
func IsSecurityViolation(err error) bool {
	return err != nil && Is(err, ErrSecurityViolation)
}

// IsValidationError checks if an error is or wraps ErrValidation.
func IsValidationError(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsQueueFull checks if an error is or wraps ErrQueueFull.
func IsQueueFull(err error) bool {
	return err != nil && Is(err, ErrQueueFull)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// WrapSecurityViolation wraps an error as a security violation with context.
// The classification survives further wrapping.
func WrapSecurityViolation(err error, context string) error {
	return Wrap(Wrap(ErrSecurityViolation, err.Error()), context)
}

// NewValidationError creates a validation error with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}

// NewSecurityViolation creates a security violation with a formatted message.
func NewSecurityViolation(format string, args ...interface{}) error {
	return Wrap(ErrSecurityViolation, Newf(format, args...).Error())
}
