package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/glimte/xmsg/contracts"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorType
	}{
		{"nil", nil, ""},
		{"invalidated sentinel", ErrContextInvalidated, ErrorTypeContextInvalidated},
		{"wrapped invalidated sentinel", fmt.Errorf("websocket: %w", ErrContextInvalidated), ErrorTypeContextInvalidated},
		{"chrome invalidated text", errors.New("Extension context invalidated."), ErrorTypeContextInvalidated},
		{"no receiver sentinel", ErrNoReceiver, ErrorTypeNoReceiver},
		{"chrome no receiver text", errors.New("Could not establish connection. Receiving end does not exist."), ErrorTypeNoReceiver},
		{"port closed text", errors.New("The message port closed before a response was received."), ErrorTypeChannelClosed},
		{"validation", contracts.NewValidationError("action", "action is required"), ErrorTypeValidation},
		{"engine timeout", &contracts.TimeoutError{Action: "ping"}, ErrorTypeTimeout},
		{"deadline", context.DeadlineExceeded, ErrorTypeTimeout},
		{"cancelled", context.Canceled, ErrorTypeCancelled},
		{"anything else", errors.New("quota exceeded"), ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.err))
		})
	}
}

func TestIsContextInvalidated(t *testing.T) {
	assert.True(t, IsContextInvalidated(errors.New("Error: Extension context invalidated.")))
	assert.False(t, IsContextInvalidated(ErrNoReceiver))
	assert.False(t, IsContextInvalidated(nil))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(ErrNoReceiver))
	assert.False(t, IsRetryableError(ErrContextInvalidated))
	assert.False(t, IsRetryableError(errors.New("quota exceeded")))
	assert.False(t, IsRetryableError(nil))

	assert.True(t, IsRetryableError(RetryableError{Err: errors.New("flaky"), Retryable: true}))
	assert.False(t, IsRetryableError(RetryableError{Err: ErrNoReceiver, Retryable: false}))
}
