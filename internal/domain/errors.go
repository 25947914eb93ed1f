package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced across the public API boundary. Decode and
// transport-level failures are contained inside the library and never
// wrap these.
var (
	ErrNotAuthenticated      = fmt.Errorf("not authenticated")
	ErrConnectionUnavailable = fmt.Errorf("connection not available")
	ErrOperationFailed       = fmt.Errorf("operation failed")
	ErrTimeout               = fmt.Errorf("operation timed out")
	ErrSessionClosed         = fmt.Errorf("session closed")
	ErrRateLimited           = fmt.Errorf("rate limit exceeded")
	ErrNotificationNotFound  = fmt.Errorf("notification not found")
)

// OperationError wraps ErrOperationFailed with the server's literal
// message text. Callers pattern-match Reason against known server
// strings to produce user-facing text, so it is carried verbatim.
type OperationError struct {
	Op     Operation
	Reason string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *OperationError) Unwrap() error { return ErrOperationFailed }

// NewOperationError builds an OperationError carrying the server's
// message text untouched.
func NewOperationError(op Operation, reason string) *OperationError {
	return &OperationError{Op: op, Reason: reason}
}

// WrapOp adds operation context to an error. Returns nil if err is nil,
// enabling idiomatic use: return domain.WrapOp("session.connect", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsServerError reports whether err carries a server-issued failure
// message, as opposed to a local preflight or timeout failure.
func IsServerError(err error) bool {
	var oe *OperationError
	return errors.As(err, &oe)
}
