package facades

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/messaging"
)

// Sender is the part of messaging.Messenger the façades need
type Sender interface {
	Send(ctx context.Context, action string, data any, timeout time.Duration, opts ...messaging.EnvelopeOption) (contracts.Response, error)
}

var _ Sender = (*messaging.Messenger)(nil)

// Option configures a façade
type Option func(*settings)

type settings struct {
	logger       *slog.Logger
	timeout      time.Duration
	imageTimeout time.Duration
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithTimeout sets the request timeout passed to the engine. Zero uses the
// messenger default.
func WithTimeout(timeout time.Duration) Option {
	return func(s *settings) {
		s.timeout = timeout
	}
}

// WithImageTimeout sets the timeout for image processing requests
func WithImageTimeout(timeout time.Duration) Option {
	return func(s *settings) {
		s.imageTimeout = timeout
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:       slog.Default(),
		imageTimeout: DefaultImageTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func required(field, value, message string) error {
	if strings.TrimSpace(value) == "" {
		return contracts.NewValidationError(field, message)
	}
	return nil
}
