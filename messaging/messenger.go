package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/internal/reliability"
)

const (
	// DefaultTimeout bounds the wait for an ordinary reply
	DefaultTimeout = 10 * time.Second
	// DefaultResultTimeout bounds the wait for an out-of-band result update
	DefaultResultTimeout = 20 * time.Second
	// DefaultSpeechGrace is waited before acknowledging a speech request
	// whose reply was lost
	DefaultSpeechGrace = 3 * time.Second
)

// ErrResultChannelUnavailable is returned when a translation reply was lost
// and there is no broadcast channel to wait for the result on
var ErrResultChannelUnavailable = errors.New("messaging: no broadcast channel to await the result on")

// MessengerOption configures a Messenger
type MessengerOption func(*messengerConfig)

type messengerConfig struct {
	logger         *slog.Logger
	metrics        MetricsCollector
	tracker        RequestTracker
	ids            *IDGenerator
	retryPolicy    reliability.RetryPolicy
	defaultTimeout time.Duration
	resultTimeout  time.Duration
	speechGrace    time.Duration
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) MessengerOption {
	return func(c *messengerConfig) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics MetricsCollector) MessengerOption {
	return func(c *messengerConfig) {
		c.metrics = metrics
	}
}

// WithRequestTracker sets a custom request tracker
func WithRequestTracker(tracker RequestTracker) MessengerOption {
	return func(c *messengerConfig) {
		c.tracker = tracker
	}
}

// WithIDGenerator sets the generator used for message IDs
func WithIDGenerator(ids *IDGenerator) MessengerOption {
	return func(c *messengerConfig) {
		c.ids = ids
	}
}

// WithDefaultTimeout sets the timeout used when SendMessage gets none
func WithDefaultTimeout(timeout time.Duration) MessengerOption {
	return func(c *messengerConfig) {
		c.defaultTimeout = timeout
	}
}

// WithResultTimeout sets how long a lost translation reply waits for its
// result update broadcast
func WithResultTimeout(timeout time.Duration) MessengerOption {
	return func(c *messengerConfig) {
		c.resultTimeout = timeout
	}
}

// WithSpeechGrace sets the grace period before a lost speech reply is
// acknowledged
func WithSpeechGrace(grace time.Duration) MessengerOption {
	return func(c *messengerConfig) {
		c.speechGrace = grace
	}
}

// WithRetryPolicy retries sends that fail because nothing is listening yet.
// Retries happen inside the request timeout window.
func WithRetryPolicy(policy reliability.RetryPolicy) MessengerOption {
	return func(c *messengerConfig) {
		c.retryPolicy = policy
	}
}

// Messenger sends requests from one execution context and turns the
// transport's unreliable replies into exactly one response or error.
type Messenger struct {
	contextName string
	transport   Transport
	broadcaster Broadcaster
	format      *MessageFormat
	tracker     RequestTracker
	metrics     MetricsCollector
	logger      *slog.Logger
	cfg         messengerConfig
}

type reply struct {
	response contracts.Response
	err      error
}

// NewMessenger creates a messenger for contextName. The broadcaster may be
// nil; translation requests then cannot recover a lost reply.
func NewMessenger(contextName string, transport Transport, broadcaster Broadcaster, opts ...MessengerOption) (*Messenger, error) {
	if contextName == "" {
		return nil, contracts.NewValidationError("context", "context is required and must be a non-empty string")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	return newMessenger(contextName, transport, broadcaster, opts...), nil
}

func newMessenger(contextName string, transport Transport, broadcaster Broadcaster, opts ...MessengerOption) *Messenger {
	cfg := messengerConfig{
		defaultTimeout: DefaultTimeout,
		resultTimeout:  DefaultResultTimeout,
		speechGrace:    DefaultSpeechGrace,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.metrics == nil {
		cfg.metrics = &NoOpMetricsCollector{}
	}
	if cfg.tracker == nil {
		cfg.tracker = NewInMemoryRequestTracker()
	}

	return &Messenger{
		contextName: contextName,
		transport:   transport,
		broadcaster: broadcaster,
		format:      NewMessageFormat(cfg.ids),
		tracker:     cfg.tracker,
		metrics:     cfg.metrics,
		logger:      cfg.logger.With("context", contextName),
		cfg:         cfg,
	}
}

// Context returns the context name the messenger sends from
func (m *Messenger) Context() string {
	return m.contextName
}

// Format returns the message format used to build envelopes
func (m *Messenger) Format() *MessageFormat {
	return m.format
}

// Tracker returns the request tracker
func (m *Messenger) Tracker() RequestTracker {
	return m.tracker
}

// DefaultTimeout returns the timeout applied when none is given
func (m *Messenger) DefaultTimeout() time.Duration {
	return m.cfg.defaultTimeout
}

// Send builds an envelope for action from this messenger's context and sends it
func (m *Messenger) Send(ctx context.Context, action string, data any, timeout time.Duration, opts ...EnvelopeOption) (contracts.Response, error) {
	envelope, err := m.format.Create(action, data, m.contextName, opts...)
	if err != nil {
		return nil, err
	}
	return m.SendMessage(ctx, envelope, timeout)
}

// SendMessage sends envelope and waits for its reply. A zero timeout uses the
// messenger default.
//
// The result is one of: the reply verbatim; a synthesized response when the
// platform lost the reply; the graceful failure response when the extension
// context is gone; or an error (*contracts.TimeoutError,
// *contracts.TransportError, *contracts.ValidationError or ctx.Err()).
func (m *Messenger) SendMessage(ctx context.Context, envelope *contracts.Envelope, timeout time.Duration) (contracts.Response, error) {
	if envelope == nil {
		return nil, contracts.NewValidationError("message", "message cannot be nil")
	}
	if envelope.Action == "" {
		return nil, contracts.NewValidationError("action", "action is required and must be a non-empty string")
	}
	if timeout <= 0 {
		timeout = m.cfg.defaultTimeout
	}
	m.stamp(envelope)

	start := time.Now()
	err := m.tracker.Track(&PendingRequest{
		MessageID: envelope.MessageID,
		Action:    envelope.Action,
		Context:   envelope.Context,
		SentAt:    start,
		Timeout:   timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to track request: %w", err)
	}

	compensation := contracts.CompensationFor(envelope.Action)

	// Subscribe before sending so a result broadcast racing the empty reply
	// is not missed.
	var waiter *resultWaiter
	if compensation == contracts.CompensateAwaitResult && m.broadcaster != nil {
		waiter = watchResult(m.broadcaster, envelope)
		defer waiter.stop()
	}

	m.logger.Debug("sending message",
		"action", envelope.Action,
		"messageId", envelope.MessageID,
		"timeout", timeout,
	)

	response, err := m.exchange(ctx, envelope, timeout)
	switch {
	case err != nil:
		return m.handleFailure(ctx, envelope, start, err)
	case response != nil:
		m.finish(envelope, start, RequestStatusResolved, OutcomeResolved)
		return response, nil
	default:
		return m.compensate(ctx, envelope, start, compensation, waiter)
	}
}

func (m *Messenger) stamp(envelope *contracts.Envelope) {
	if envelope.Context == "" {
		envelope.Context = m.contextName
	}
	if envelope.MessageID == "" {
		envelope.MessageID = m.format.NextID(envelope.Context)
	}
	if envelope.Timestamp == 0 {
		envelope.Timestamp = time.Now().UnixMilli()
	}
	if envelope.Version == "" {
		envelope.Version = contracts.ProtocolVersion
	}
}

// exchange hands the envelope to the transport and waits for the first of
// reply, timeout or caller cancellation. A reply arriving afterwards lands in
// the buffered channel and is dropped.
func (m *Messenger) exchange(ctx context.Context, envelope *contracts.Envelope, timeout time.Duration) (contracts.Response, error) {
	requestCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_ = m.tracker.UpdateStatus(envelope.MessageID, RequestStatusSent)

	replies := make(chan reply, 1)
	go func() {
		response, err := m.deliver(requestCtx, envelope)
		replies <- reply{response: response, err: err}
	}()

	select {
	case r := <-replies:
		if r.err != nil && requestCtx.Err() != nil {
			return nil, expired(ctx, envelope, timeout)
		}
		return r.response, r.err
	case <-requestCtx.Done():
		return nil, expired(ctx, envelope, timeout)
	}
}

func expired(ctx context.Context, envelope *contracts.Envelope, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return &contracts.TimeoutError{Action: envelope.Action, Duration: timeout, Phase: contracts.PhaseReply}
}

func (m *Messenger) deliver(ctx context.Context, envelope *contracts.Envelope) (contracts.Response, error) {
	if m.cfg.retryPolicy == nil {
		return m.transport.Send(ctx, envelope)
	}

	var response contracts.Response
	err := reliability.Retry(ctx, m.cfg.retryPolicy, func() error {
		var sendErr error
		response, sendErr = m.transport.Send(ctx, envelope)
		if sendErr != nil && reliability.IsRetryableError(sendErr) {
			m.logger.Debug("receiver unavailable, retrying",
				"action", envelope.Action,
				"messageId", envelope.MessageID,
				"error", sendErr,
			)
		}
		return sendErr
	})
	return response, err
}

func (m *Messenger) handleFailure(ctx context.Context, envelope *contracts.Envelope, start time.Time, err error) (contracts.Response, error) {
	var timeoutErr *contracts.TimeoutError
	if errors.As(err, &timeoutErr) {
		m.logger.Warn("message timed out",
			"action", envelope.Action,
			"messageId", envelope.MessageID,
			"timeout", timeoutErr.Duration,
		)
		m.finish(envelope, start, RequestStatusTimedOut, OutcomeTimeout)
		return nil, err
	}

	if ctx.Err() != nil {
		m.finish(envelope, start, RequestStatusRejected, OutcomeRejected)
		return nil, err
	}

	errType := reliability.Classify(err)
	if errType == reliability.ErrorTypeContextInvalidated {
		m.logger.Warn("extension context invalidated, returning graceful failure",
			"action", envelope.Action,
			"messageId", envelope.MessageID,
		)
		m.finish(envelope, start, RequestStatusRejected, OutcomeGraceful)
		return contracts.NewGracefulFailure(), nil
	}

	m.logger.Error("transport failed",
		"action", envelope.Action,
		"messageId", envelope.MessageID,
		"errorType", errType,
		"error", err,
	)
	m.finish(envelope, start, RequestStatusRejected, OutcomeRejected)

	return nil, &contracts.TransportError{
		Action:    envelope.Action,
		MessageID: envelope.MessageID,
		Type:      string(errType),
		Err:       err,
	}
}

// finish performs the single terminal transition of a request
func (m *Messenger) finish(envelope *contracts.Envelope, start time.Time, status RequestStatus, outcome Outcome) {
	if !m.tracker.Finish(envelope.MessageID, status) {
		return
	}
	m.metrics.RecordRequest(envelope.Context, envelope.Action, outcome, time.Since(start))
}
