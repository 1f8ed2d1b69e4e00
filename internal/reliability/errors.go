package reliability

import (
	"context"
	"errors"
	"strings"

	"github.com/glimte/xmsg/contracts"
)

var (
	// ErrContextInvalidated means the receiving extension context was torn
	// down, e.g. the service worker was reloaded mid-flight
	ErrContextInvalidated = errors.New("reliability: extension context invalidated")
	// ErrNoReceiver means nothing is listening on the receiving end
	ErrNoReceiver = errors.New("reliability: could not establish connection, receiving end does not exist")
	// ErrChannelClosed means the reply channel closed before a reply arrived
	ErrChannelClosed = errors.New("reliability: message channel closed before a response was received")
	// ErrMaxRetriesExceeded is returned when a retry policy gives up
	ErrMaxRetriesExceeded = errors.New("reliability: maximum attempts exceeded")
)

// ErrorType is the classification of a failure
type ErrorType string

const (
	ErrorTypeContextInvalidated ErrorType = "context-invalidated"
	ErrorTypeNoReceiver         ErrorType = "no-receiver"
	ErrorTypeChannelClosed      ErrorType = "channel-closed"
	ErrorTypeTimeout            ErrorType = "timeout"
	ErrorTypeValidation         ErrorType = "validation"
	ErrorTypeCancelled          ErrorType = "cancelled"
	ErrorTypeUnknown            ErrorType = "unknown"
)

// Substrings of the messages browsers produce for each failure class
var (
	invalidatedPatterns = []string{
		"extension context invalidated",
		"context invalidated",
		"extension context was invalidated",
	}
	noReceiverPatterns = []string{
		"receiving end does not exist",
		"could not establish connection",
		"no listener",
	}
	channelClosedPatterns = []string{
		"message port closed",
		"message channel closed",
		"channel closed before a response",
	}
)

// Classify maps err onto an ErrorType. Sentinels are matched first, then the
// error text, since errors crossing the browser boundary arrive as strings.
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrContextInvalidated):
		return ErrorTypeContextInvalidated
	case errors.Is(err, ErrNoReceiver):
		return ErrorTypeNoReceiver
	case errors.Is(err, ErrChannelClosed):
		return ErrorTypeChannelClosed
	case errors.Is(err, contracts.ErrValidation):
		return ErrorTypeValidation
	case errors.Is(err, contracts.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrorTypeCancelled
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, invalidatedPatterns):
		return ErrorTypeContextInvalidated
	case containsAny(msg, noReceiverPatterns):
		return ErrorTypeNoReceiver
	case containsAny(msg, channelClosedPatterns):
		return ErrorTypeChannelClosed
	}

	return ErrorTypeUnknown
}

// IsContextInvalidated reports whether err means the extension context is gone
func IsContextInvalidated(err error) bool {
	return Classify(err) == ErrorTypeContextInvalidated
}

// IsRetryableError reports whether a retry can help. Only a missing receiver
// qualifies: a sleeping service worker usually comes back.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	return Classify(err) == ErrorTypeNoReceiver
}

type retryable interface {
	IsRetryable() bool
}

// RetryableError overrides the classification of the wrapped error
type RetryableError struct {
	Err       error
	Retryable bool
}

func (r RetryableError) Error() string {
	return r.Err.Error()
}

// IsRetryable indicates if the error is retryable
func (r RetryableError) IsRetryable() bool {
	return r.Retryable
}

func (r RetryableError) Unwrap() error {
	return r.Err
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
