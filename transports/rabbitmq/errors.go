package rabbitmq

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionClosed  = errors.New("rabbitmq: connection is closed")
	ErrConnectionTimeout = errors.New("rabbitmq: connection timeout")
	ErrServerRunning     = errors.New("rabbitmq: server already running")
	ErrMissingReplyTo    = errors.New("rabbitmq: request has no reply-to queue")
)

// ConnectionError represents a connection-related error
type ConnectionError struct {
	Op       string // Operation that failed
	URL      string // Connection URL (sanitized)
	Err      error  // Underlying error
	Attempts int    // Number of attempts made
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("rabbitmq connection error: %s %s failed after %d attempts: %v", e.Op, e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("rabbitmq connection error: %s %s failed: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ChannelError represents a channel-related error
type ChannelError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("rabbitmq channel error: %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}
