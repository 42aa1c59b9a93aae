package core

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned by session backends when no state is stored for an id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoBranches is returned when a workflow is built without branches.
	ErrNoBranches = errors.New("no branches registered")
)

// ValidationError rejects a request before fan-out. It is the only error that
// fails a workflow run.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DiscoveryError reports a failed or malformed manifest fetch.
type DiscoveryError struct {
	URL string
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed for %s: %v", e.URL, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// InvocationError reports a failed remote invoke. StatusCode is zero when no
// HTTP response was received.
type InvocationError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *InvocationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("invoke %s returned status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("invoke %s: %v", e.URL, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// PersistenceError reports a session backend read or write failure.
type PersistenceError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session %s %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConnectionError reports a persistent channel failure. The channel has
// already been evicted so the caller may retry.
type ConnectionError struct {
	SessionID string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection for session %s: %v", e.SessionID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Retryable is always true; the next call reconnects.
func (e *ConnectionError) Retryable() bool { return true }

// SynthesisError reports a failed LLM synthesis call.
type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis via %s failed: %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsRetryable reports whether err is or wraps a retryable ConnectionError.
func IsRetryable(err error) bool {
	var c *ConnectionError
	return errors.As(err, &c) && c.Retryable()
}
