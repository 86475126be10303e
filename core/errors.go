package core

import (
	"errors"
	"fmt"
)

// Sentinel error kinds forming the closed taxonomy of the orchestration core.
// Every error surfaced across a package boundary wraps exactly one of these,
// so callers can classify with errors.Is without string matching.
var (
	// ErrProviderUnavailable means every configured provider was exhausted.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrRecallTimeout means a memory lookup exceeded its budget. Always
	// recovered locally by degrading to empty context.
	ErrRecallTimeout = errors.New("memory recall timeout")
	// ErrRoutingGap means the classifier asserted a label the registry has no
	// capability for. Surfaced, never silently mapped to unknown.
	ErrRoutingGap = errors.New("no capability registered for intent")
	// ErrDeadlineExceeded means the overall turn budget was exhausted.
	ErrDeadlineExceeded = errors.New("turn deadline exceeded")
	// ErrCancelled means the caller cancelled the in-flight turn.
	ErrCancelled = errors.New("turn cancelled")
	// ErrNotFound is returned by registries and stores for missing entries.
	ErrNotFound = errors.New("not found")
)

// CapabilityError wraps a domain capability failure caught at the router
// boundary. Retryable governs a single local retry before the error is
// surfaced to the workflow.
type CapabilityError struct {
	Name      string
	Cause     error
	Retryable bool
}

// Error implements the error interface.
func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %s failed: %v", e.Name, e.Cause)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As chains.
func (e *CapabilityError) Unwrap() error { return e.Cause }

type transientError struct{ err error }

func (e *transientError) Error() string   { return e.err.Error() }
func (e *transientError) Unwrap() error   { return e.err }
func (e *transientError) Transient() bool { return true }

// Transient marks a capability failure as retryable. The router grants marked
// errors one local retry with backoff before surfacing them.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) is marked retryable.
func IsTransient(err error) bool {
	var t interface{ Transient() bool }
	return errors.As(err, &t) && t.Transient()
}

// ErrorKind maps err to its taxonomy name for audit persistence. Unclassified
// errors report "internal"; by the propagation policy they should not occur.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrRecallTimeout):
		return "recall_timeout"
	case errors.Is(err, ErrRoutingGap):
		return "routing_gap"
	case errors.Is(err, ErrDeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	}
	var capErr *CapabilityError
	if errors.As(err, &capErr) {
		return "capability_error"
	}
	return "internal"
}
