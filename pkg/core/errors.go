// Package core provides the main MemTier engine and retention management functionality.
package core

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a requested item was not found.
	ErrNotFound = errors.New("item not found")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	// Construction refuses to start on this error.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrVersionConflict indicates an optimistic-concurrency write lost the
	// race: the item changed between read and write. Transient; retried
	// with bounded backoff.
	ErrVersionConflict = errors.New("version conflict")

	// ErrStoreUnavailable indicates a transient store failure (timeout,
	// connection loss). Retried with bounded backoff, never fatal to a sweep.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrCorruptItem indicates malformed item data (bad access history,
	// mismatched embedding dimensionality). The item is excluded from
	// evaluation and left in its current tier.
	ErrCorruptItem = errors.New("corrupt item data")

	// ErrPreconditionFailed indicates a guarded commit was refused because
	// its precondition no longer held, e.g. a concurrent access arrived
	// between a deletion eligibility check and the delete commit.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrTerminalTier indicates an operation on a DELETED item.
	ErrTerminalTier = errors.New("item is deleted")

	// ErrManualOnly indicates an attempted automatic transition that the
	// state machine only permits via explicit manual request.
	ErrManualOnly = errors.New("transition requires manual request")
)

// RetentionError wraps errors with operation context.
//
// It provides additional context about which operation failed,
// making error messages more informative for debugging.
//
// Example:
//
//	err := &RetentionError{
//	    Op:  "EvaluateItem",
//	    Err: ErrVersionConflict,
//	}
//	// Error() returns: "memtier: EvaluateItem: version conflict"
type RetentionError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "memtier: <Op>: <Err>"
func (e *RetentionError) Error() string {
	return fmt.Sprintf("memtier: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with RetentionError.
func (e *RetentionError) Unwrap() error {
	return e.Err
}

// NewRetentionError creates a new RetentionError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewRetentionError("EvaluateItem", err)
//	}
//
// Parameters:
//   - op: Name of the operation (e.g., "AddItem", "EvaluateItem")
//   - err: The underlying error to wrap
//
// Returns a RetentionError, or nil if err is nil.
func NewRetentionError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RetentionError{
		Op:  op,
		Err: err,
	}
}

// IsTransient reports whether err is a retryable store failure.
//
// Transient errors (version conflicts, store timeouts) are retried with
// bounded backoff; after exhausting retries the item is deferred to the
// next sweep rather than failing the sweep.
func IsTransient(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrStoreUnavailable)
}
