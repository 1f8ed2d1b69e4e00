// Package memory provides an in-process transport for tests, demos and
// single-binary deployments. Envelopes and replies cross the bus as JSON, so
// receivers see the same shapes a real browser transport would give them.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/internal/reliability"
	"github.com/glimte/xmsg/messaging"
)

// DefaultTarget receives envelopes sent through Bus.Send
const DefaultTarget = contracts.ContextBackground

// Option configures a Bus
type Option func(*Bus)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithLatency delays every delivery
func WithLatency(latency time.Duration) Option {
	return func(b *Bus) {
		b.latency = latency
	}
}

// WithDropReply makes the bus lose the reply to every envelope matching
// drop. The receiver still handles the envelope; the sender gets the
// undefined reply.
func WithDropReply(drop func(envelope *contracts.Envelope) bool) Option {
	return func(b *Bus) {
		b.dropReply = drop
	}
}

// Bus connects receivers and senders living in one process
type Bus struct {
	receivers   map[string]messaging.Receiver
	subscribers map[uint64]func(*contracts.Envelope)
	nextSub     uint64
	invalidated bool
	latency     time.Duration
	dropReply   func(*contracts.Envelope) bool
	logger      *slog.Logger
	mu          sync.RWMutex
}

var (
	_ messaging.Transport          = (*Bus)(nil)
	_ messaging.Broadcaster        = (*Bus)(nil)
	_ messaging.BroadcastPublisher = (*Bus)(nil)
)

// NewBus creates an empty bus
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		receivers:   make(map[string]messaging.Receiver),
		subscribers: make(map[uint64]func(*contracts.Envelope)),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Listen registers receiver as the context named target. The returned
// function unregisters it.
func (b *Bus) Listen(target string, receiver messaging.Receiver) (func(), error) {
	if target == "" {
		return nil, fmt.Errorf("target cannot be empty")
	}
	if receiver == nil {
		return nil, fmt.Errorf("receiver cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.receivers[target]; exists {
		return nil, fmt.Errorf("receiver already listening as %s", target)
	}
	b.receivers[target] = receiver

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.receivers[target] == receiver {
			delete(b.receivers, target)
		}
	}, nil
}

// Send delivers envelope to DefaultTarget
func (b *Bus) Send(ctx context.Context, envelope *contracts.Envelope) (contracts.Response, error) {
	return b.deliver(ctx, DefaultTarget, envelope)
}

// To returns a transport delivering to target
func (b *Bus) To(target string) messaging.Transport {
	return messaging.TransportFunc(func(ctx context.Context, envelope *contracts.Envelope) (contracts.Response, error) {
		return b.deliver(ctx, target, envelope)
	})
}

func (b *Bus) deliver(ctx context.Context, target string, envelope *contracts.Envelope) (contracts.Response, error) {
	b.mu.RLock()
	invalidated := b.invalidated
	receiver, exists := b.receivers[target]
	b.mu.RUnlock()

	if invalidated {
		return nil, reliability.ErrContextInvalidated
	}
	if !exists {
		return nil, fmt.Errorf("deliver to %s: %w", target, reliability.ErrNoReceiver)
	}

	if err := b.wait(ctx); err != nil {
		return nil, err
	}

	wire, err := roundTrip(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}

	response := receiver.Dispatch(ctx, wire)

	if b.dropReply != nil && b.dropReply(envelope) {
		b.logger.Debug("dropping reply",
			"action", envelope.Action,
			"messageId", envelope.MessageID,
		)
		return nil, nil
	}
	if response == nil {
		return nil, nil
	}

	var reply contracts.Response
	if err := remarshal(response, &reply); err != nil {
		return nil, fmt.Errorf("failed to encode reply: %w", err)
	}
	return reply, nil
}

// OnMessage subscribes fn to every broadcast
func (b *Bus) OnMessage(fn func(envelope *contracts.Envelope)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	b.subscribers[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers, id)
	}
}

// Broadcast delivers envelope to every subscriber, in the caller's goroutine
func (b *Bus) Broadcast(ctx context.Context, envelope *contracts.Envelope) error {
	b.mu.RLock()
	if b.invalidated {
		b.mu.RUnlock()
		return reliability.ErrContextInvalidated
	}
	subscribers := make([]func(*contracts.Envelope), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		subscribers = append(subscribers, fn)
	}
	b.mu.RUnlock()

	if err := b.wait(ctx); err != nil {
		return err
	}

	for _, fn := range subscribers {
		wire, err := roundTrip(envelope)
		if err != nil {
			return fmt.Errorf("failed to encode broadcast: %w", err)
		}
		fn(wire)
	}
	return nil
}

// Subscribers returns the number of broadcast subscriptions
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Invalidate makes every send and broadcast fail as if the extension had
// been reloaded
func (b *Bus) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invalidated = true
	b.logger.Warn("bus invalidated")
}

// Restore undoes Invalidate
func (b *Bus) Restore() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invalidated = false
}

func (b *Bus) wait(ctx context.Context) error {
	if b.latency <= 0 {
		return nil
	}

	timer := time.NewTimer(b.latency)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func roundTrip(envelope *contracts.Envelope) (*contracts.Envelope, error) {
	var out contracts.Envelope
	if err := remarshal(envelope, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
