package contracts

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation is matched by every ValidationError
	ErrValidation = errors.New("contracts: validation failed")
	// ErrTimeout is matched by every TimeoutError
	ErrTimeout = errors.New("contracts: request timed out")
)

// ValidationError reports a malformed request detected before anything is sent
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a validation error for field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Timeout phases
const (
	PhaseReply  = "reply"
	PhaseResult = "result"
)

// TimeoutError reports that no reply arrived within the request window, or
// that a secondary result wait expired
type TimeoutError struct {
	Action   string
	Duration time.Duration
	Phase    string
}

func (e *TimeoutError) Error() string {
	if e.Phase == PhaseResult {
		return fmt.Sprintf("Result timeout after %dms for action: %s", e.Duration.Milliseconds(), e.Action)
	}
	return fmt.Sprintf("Message timeout after %dms for action: %s", e.Duration.Milliseconds(), e.Action)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// Timeout marks the error as a timeout for net-style checks
func (e *TimeoutError) Timeout() bool {
	return true
}

// TransportError wraps a platform-level rejection that is not a context
// invalidation
type TransportError struct {
	Action    string
	MessageID string
	Type      string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s failed (%s, message %s): %v", e.Action, e.Type, e.MessageID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
