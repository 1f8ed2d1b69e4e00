package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/internal/reliability"
)

// Handler processes one action on the receiving side. The returned payload
// becomes the reply; a nil payload is sent back as the undefined reply.
type Handler interface {
	Handle(ctx context.Context, envelope *contracts.Envelope) (any, error)
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, envelope *contracts.Envelope) (any, error)

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, envelope *contracts.Envelope) (any, error) {
	return f(ctx, envelope)
}

// MiddlewareFunc wraps handler execution
type MiddlewareFunc func(ctx context.Context, envelope *contracts.Envelope, next Handler) (any, error)

// RouterOption configures a Router
type RouterOption func(*Router)

// WithRouterLogger sets the logger
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithMiddleware adds middleware to the router. The first one added runs
// outermost.
func WithMiddleware(middleware ...MiddlewareFunc) RouterOption {
	return func(r *Router) {
		r.middleware = append(r.middleware, middleware...)
	}
}

// Router dispatches incoming envelopes to the handler registered for their
// action. It implements Receiver.
type Router struct {
	handlers   map[string]Handler
	middleware []MiddlewareFunc
	format     *MessageFormat
	logger     *slog.Logger
	mu         sync.RWMutex
}

// NewRouter creates an empty router
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		handlers: make(map[string]Handler),
		format:   NewMessageFormat(nil),
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Handle registers handler for action. An action has at most one handler.
func (r *Router) Handle(action string, handler Handler) error {
	if action == "" {
		return fmt.Errorf("action cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[action]; exists {
		return fmt.Errorf("handler already registered for action: %s", action)
	}
	r.handlers[action] = handler

	r.logger.Debug("registered action handler", "action", action)
	return nil
}

// HandleFunc registers a function as the handler for action
func (r *Router) HandleFunc(action string, fn HandlerFunc) error {
	return r.Handle(action, fn)
}

// Remove unregisters the handler for action
func (r *Router) Remove(action string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[action]; !exists {
		return false
	}
	delete(r.handlers, action)
	return true
}

// Actions returns the registered actions, sorted
func (r *Router) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	actions := make([]string, 0, len(r.handlers))
	for action := range r.handlers {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return actions
}

// Dispatch implements Receiver. Malformed envelopes, unknown actions and
// handler errors become failure responses.
func (r *Router) Dispatch(ctx context.Context, envelope *contracts.Envelope) contracts.Response {
	if !r.format.Validate(envelope) {
		r.logger.Warn("rejected malformed message")
		return contracts.NewFailureResponse("invalid message format", string(reliability.ErrorTypeValidation), http.StatusBadRequest)
	}

	if !contracts.IsCompatibleVersion(envelope.Version) {
		r.logger.Warn("rejected incompatible message version",
			"action", envelope.Action,
			"messageId", envelope.MessageID,
			"version", envelope.Version,
		)
		return contracts.NewFailureResponse(
			fmt.Sprintf("unsupported protocol version: %s", envelope.Version),
			string(reliability.ErrorTypeValidation),
			http.StatusBadRequest,
		)
	}

	r.mu.RLock()
	handler, exists := r.handlers[envelope.Action]
	r.mu.RUnlock()

	if !exists {
		r.logger.Warn("no handler registered for action",
			"action", envelope.Action,
			"messageId", envelope.MessageID,
		)
		return contracts.NewFailureResponse(
			fmt.Sprintf("no handler registered for action: %s", envelope.Action),
			"unknown-action",
			http.StatusNotFound,
		)
	}

	payload, err := r.chain(handler).Handle(ctx, envelope)
	if err != nil {
		return failureFor(err)
	}

	response, err := contracts.ToResponse(payload)
	if err != nil {
		r.logger.Error("handler returned a non-object payload",
			"action", envelope.Action,
			"messageId", envelope.MessageID,
			"error", err,
		)
		return contracts.NewFailureResponse(err.Error(), string(reliability.ErrorTypeUnknown), http.StatusInternalServerError)
	}
	return response
}

func (r *Router) chain(handler Handler) Handler {
	result := handler
	for i := len(r.middleware) - 1; i >= 0; i-- {
		middleware := r.middleware[i]
		next := result
		result = HandlerFunc(func(ctx context.Context, envelope *contracts.Envelope) (any, error) {
			return middleware(ctx, envelope, next)
		})
	}
	return result
}

func failureFor(err error) contracts.Response {
	var validationErr *contracts.ValidationError
	if errors.As(err, &validationErr) {
		return contracts.NewFailureResponse(validationErr.Error(), string(reliability.ErrorTypeValidation), http.StatusBadRequest)
	}
	return contracts.NewFailureResponse(err.Error(), string(reliability.Classify(err)), http.StatusInternalServerError)
}

// LoggingMiddleware logs every handled action and its duration
func LoggingMiddleware(logger *slog.Logger) MiddlewareFunc {
	return func(ctx context.Context, envelope *contracts.Envelope, next Handler) (any, error) {
		start := time.Now()
		logger.Debug("handling message",
			"action", envelope.Action,
			"messageId", envelope.MessageID,
			"from", envelope.Context,
		)

		payload, err := next.Handle(ctx, envelope)
		if err != nil {
			logger.Error("handler failed",
				"action", envelope.Action,
				"messageId", envelope.MessageID,
				"duration", time.Since(start),
				"error", err,
			)
			return payload, err
		}

		logger.Debug("message handled",
			"action", envelope.Action,
			"messageId", envelope.MessageID,
			"duration", time.Since(start),
		)
		return payload, nil
	}
}

// RecoveryMiddleware turns a handler panic into an error
func RecoveryMiddleware(logger *slog.Logger) MiddlewareFunc {
	return func(ctx context.Context, envelope *contracts.Envelope, next Handler) (payload any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("handler panicked",
					"action", envelope.Action,
					"messageId", envelope.MessageID,
					"panic", rec,
				)
				payload = nil
				err = fmt.Errorf("handler panicked: %v", rec)
			}
		}()
		return next.Handle(ctx, envelope)
	}
}
