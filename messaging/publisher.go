package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/internal/reliability"
)

// ResultPublisher emits result updates on the broadcast channel. Receivers
// use it when the reply to a long-running request may be lost in transit.
type ResultPublisher struct {
	publisher   BroadcastPublisher
	retryPolicy reliability.RetryPolicy
	logger      *slog.Logger
}

// PublisherOption configures the ResultPublisher
type PublisherOption func(*ResultPublisher)

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *ResultPublisher) {
		p.logger = logger
	}
}

// WithPublisherRetry sets the retry policy used when a broadcast fails
func WithPublisherRetry(policy reliability.RetryPolicy) PublisherOption {
	return func(p *ResultPublisher) {
		p.retryPolicy = policy
	}
}

// NewResultPublisher creates a result publisher on top of publisher
func NewResultPublisher(publisher BroadcastPublisher, options ...PublisherOption) *ResultPublisher {
	p := &ResultPublisher{
		publisher: publisher,
		logger:    slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// PublishResult broadcasts payload as the result update for original
func (p *ResultPublisher) PublishResult(ctx context.Context, original *contracts.Envelope, payload any) error {
	if original == nil {
		return fmt.Errorf("original message cannot be nil")
	}

	update := contracts.NewResultUpdate(original, payload)
	publish := func() error {
		return p.publisher.Broadcast(ctx, update)
	}

	var err error
	if p.retryPolicy != nil {
		err = reliability.Retry(ctx, p.retryPolicy, publish)
	} else {
		err = publish()
	}
	if err != nil {
		p.logger.Error("failed to publish result update",
			"action", update.Action,
			"messageId", update.MessageID,
			"error", err,
		)
		return fmt.Errorf("failed to publish result for %s: %w", original.MessageID, err)
	}

	p.logger.Debug("published result update",
		"action", update.Action,
		"messageId", update.MessageID,
	)
	return nil
}
