// Package redis carries the broadcast channel over Redis pub/sub, so result
// updates reach every process subscribed to the channel whatever transport
// the requests themselves use.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/internal/reliability"
	"github.com/glimte/xmsg/messaging"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel broadcasts go to
const DefaultChannel = "xmsg:broadcast"

// Option configures a Broadcaster
type Option func(*Broadcaster)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

// WithChannel sets the pub/sub channel
func WithChannel(channel string) Option {
	return func(b *Broadcaster) {
		if channel != "" {
			b.channel = channel
		}
	}
}

// Broadcaster publishes envelopes to a Redis channel and delivers every
// envelope on that channel to its subscribers
type Broadcaster struct {
	client      redis.UniversalClient
	ownsClient  bool
	channel     string
	pubsub      *redis.PubSub
	subscribers map[uint64]func(*contracts.Envelope)
	nextSub     uint64
	done        chan struct{}
	closeOnce   sync.Once
	mu          sync.Mutex
	logger      *slog.Logger
}

var (
	_ messaging.Broadcaster        = (*Broadcaster)(nil)
	_ messaging.BroadcastPublisher = (*Broadcaster)(nil)
)

// Dial connects to the Redis server at url and subscribes to the channel.
// Close also closes the connection.
func Dial(ctx context.Context, url string, opts ...Option) (*Broadcaster, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)
	b, err := NewBroadcaster(ctx, client, opts...)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	b.ownsClient = true
	return b, nil
}

// NewBroadcaster subscribes to the channel on client and waits for the
// subscription to be confirmed
func NewBroadcaster(ctx context.Context, client redis.UniversalClient, opts ...Option) (*Broadcaster, error) {
	b := &Broadcaster{
		client:      client,
		channel:     DefaultChannel,
		subscribers: make(map[uint64]func(*contracts.Envelope)),
		done:        make(chan struct{}),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	b.pubsub = client.Subscribe(ctx, b.channel)
	if _, err := b.pubsub.Receive(ctx); err != nil {
		_ = b.pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	go b.loop(b.pubsub.Channel())
	return b, nil
}

func (b *Broadcaster) loop(messages <-chan *redis.Message) {
	defer close(b.done)

	for msg := range messages {
		envelope, err := decode(msg.Payload)
		if err != nil {
			b.logger.Warn("dropping malformed broadcast", "channel", msg.Channel, "error", err)
			continue
		}

		b.mu.Lock()
		subscribers := make([]func(*contracts.Envelope), 0, len(b.subscribers))
		for _, fn := range b.subscribers {
			subscribers = append(subscribers, fn)
		}
		b.mu.Unlock()

		for _, fn := range subscribers {
			fn(envelope.Clone())
		}
	}
}

// OnMessage implements messaging.Broadcaster
func (b *Broadcaster) OnMessage(fn func(envelope *contracts.Envelope)) func() {
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

// Broadcast implements messaging.BroadcastPublisher
func (b *Broadcaster) Broadcast(ctx context.Context, envelope *contracts.Envelope) error {
	select {
	case <-b.done:
		return reliability.ErrContextInvalidated
	default:
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.channel, err)
	}
	return nil
}

// Channel returns the pub/sub channel name
func (b *Broadcaster) Channel() string {
	return b.channel
}

// Done is closed once the subscription ends
func (b *Broadcaster) Done() <-chan struct{} {
	return b.done
}

// Close ends the subscription
func (b *Broadcaster) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.pubsub.Close()
		<-b.done
		if b.ownsClient {
			if closeErr := b.client.Close(); err == nil {
				err = closeErr
			}
		}
	})
	return err
}

func decode(payload string) (*contracts.Envelope, error) {
	var envelope contracts.Envelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, err
	}
	if envelope.Action == "" {
		return nil, fmt.Errorf("broadcast has no action")
	}
	return &envelope, nil
}
