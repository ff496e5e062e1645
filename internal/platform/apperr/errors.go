// Package apperr defines the error taxonomy shared by the session-security core.
// Services wrap these sentinels with a reason for internal logs; the transport maps
// them to gRPC codes without exposing the reason to callers.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized covers bad, expired, or blacklisted tokens, device mismatch,
	// unknown sessions, and rejected identity proofs.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict is returned when a transition is attempted on a session that is not in the expected state.
	ErrConflict = errors.New("conflict")
	// ErrLockTimeout is returned when a transaction could not acquire its row or user lock in time.
	// Callers should retry the whole operation.
	ErrLockTimeout = errors.New("lock timeout")
	// ErrInvalidArgument is returned for malformed requests (missing device id, unknown decision).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned by lookups that the caller expects to succeed.
	ErrNotFound = errors.New("not found")
)

// ConfigurationError reports missing required lookup data, such as an undefined
// session status or security event code. It is always fatal for the operation.
type ConfigurationError struct {
	Kind  string
	Value string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: undefined %s %q", e.Kind, e.Value)
}

// Unauthorized wraps ErrUnauthorized with an internal reason.
func Unauthorized(reason string) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, reason)
}

// Conflict wraps ErrConflict with an internal reason.
func Conflict(reason string) error {
	return fmt.Errorf("%w: %s", ErrConflict, reason)
}

// InvalidArgument wraps ErrInvalidArgument with a caller-visible reason.
func InvalidArgument(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, reason)
}

// IsRetryable reports whether err is transient and the whole operation may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// IsConfiguration reports whether err is or wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
