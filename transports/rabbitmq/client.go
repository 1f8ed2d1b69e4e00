package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/internal/reliability"
	"github.com/glimte/xmsg/messaging"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ClientOption configures a Client
type ClientOption func(*Client)

// WithClientLogger sets the logger
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClientTopology overrides the queue and exchange names
func WithClientTopology(topology Topology) ClientOption {
	return func(c *Client) {
		c.topology = topology.withDefaults()
	}
}

// Client is one context's view of the broker. Requests go to the shared
// request queue and replies come back on a private exclusive queue.
type Client struct {
	conn        *Connection
	ch          *amqp.Channel
	topology    Topology
	replyQueue  string
	pending     map[string]chan amqp.Delivery
	subscribers map[uint64]func(*contracts.Envelope)
	nextSub     uint64
	done        chan struct{}
	closeOnce   sync.Once
	chMu        sync.Mutex
	mu          sync.Mutex
	logger      *slog.Logger
}

var (
	_ messaging.Transport          = (*Client)(nil)
	_ messaging.Broadcaster        = (*Client)(nil)
	_ messaging.BroadcastPublisher = (*Client)(nil)
)

// NewClient opens a channel on conn and starts consuming replies and broadcasts
func NewClient(conn *Connection, opts ...ClientOption) (*Client, error) {
	c := &Client{
		conn:        conn,
		topology:    DefaultTopology(),
		pending:     make(map[string]chan amqp.Delivery),
		subscribers: make(map[uint64]func(*contracts.Envelope)),
		done:        make(chan struct{}),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	c.ch = ch

	replies, broadcasts, err := c.setup()
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	go c.loop(replies, broadcasts)
	return c, nil
}

func (c *Client) setup() (<-chan amqp.Delivery, <-chan amqp.Delivery, error) {
	q, err := c.ch.QueueDeclare(replyQueuePrefix+uuid.New().String()[:8], false, true, true, false, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to declare reply queue: %w", err)
	}
	c.replyQueue = q.Name

	replies, err := c.ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to consume reply queue: %w", err)
	}

	broadcastQueue, err := bindBroadcastQueue(c.ch, c.topology.BroadcastExchange)
	if err != nil {
		return nil, nil, err
	}

	broadcasts, err := c.ch.Consume(broadcastQueue, "", true, true, false, false, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to consume broadcast queue: %w", err)
	}

	return replies, broadcasts, nil
}

// Send implements messaging.Transport. With no server consuming the request
// queue it fails like a browser with no listening background context; a
// lost channel reports the context as invalidated.
func (c *Client) Send(ctx context.Context, envelope *contracts.Envelope) (contracts.Response, error) {
	if c.isClosed() {
		return nil, reliability.ErrContextInvalidated
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	replies := make(chan amqp.Delivery, 1)

	c.mu.Lock()
	if _, exists := c.pending[envelope.MessageID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("message ID already in flight: %s", envelope.MessageID)
	}
	c.pending[envelope.MessageID] = replies
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, envelope.MessageID)
		c.mu.Unlock()
	}()

	publishing := amqp.Publishing{
		ContentType:   contentType,
		CorrelationId: envelope.MessageID,
		ReplyTo:       c.replyQueue,
		Timestamp:     time.Now(),
		Type:          envelope.Action,
		Body:          body,
	}
	if deadline, ok := ctx.Deadline(); ok {
		if ms := time.Until(deadline).Milliseconds(); ms > 0 {
			publishing.Expiration = strconv.FormatInt(ms, 10)
		}
	}

	if err := c.publishRequest(ctx, publishing); err != nil {
		return nil, err
	}

	select {
	case d := <-replies:
		return decodeReply(d.Body)
	case <-c.done:
		return nil, reliability.ErrContextInvalidated
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) publishRequest(ctx context.Context, publishing amqp.Publishing) error {
	c.chMu.Lock()
	defer c.chMu.Unlock()

	q, err := declareRequestQueue(c.ch, c.topology.RequestQueue)
	if err != nil {
		return c.channelFailure(err)
	}
	if q.Consumers == 0 {
		return reliability.ErrNoReceiver
	}

	if err := c.ch.PublishWithContext(ctx, "", q.Name, false, false, publishing); err != nil {
		return c.channelFailure(err)
	}
	return nil
}

func (c *Client) channelFailure(err error) error {
	if errors.Is(err, amqp.ErrClosed) || c.ch.IsClosed() || c.conn.IsClosed() {
		return fmt.Errorf("%w: %v", reliability.ErrContextInvalidated, err)
	}
	return err
}

// OnMessage implements messaging.Broadcaster
func (c *Client) OnMessage(fn func(envelope *contracts.Envelope)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

// Broadcast publishes envelope to the fanout exchange
func (c *Client) Broadcast(ctx context.Context, envelope *contracts.Envelope) error {
	if c.isClosed() {
		return reliability.ErrContextInvalidated
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	c.chMu.Lock()
	defer c.chMu.Unlock()

	err = c.ch.PublishWithContext(ctx, c.topology.BroadcastExchange, "", false, false, amqp.Publishing{
		ContentType: contentType,
		Timestamp:   time.Now(),
		Type:        envelope.Action,
		Body:        body,
	})
	if err != nil {
		return c.channelFailure(err)
	}
	return nil
}

// Done is closed once the client stops receiving
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the client's channel. The connection stays open.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.chMu.Lock()
		err = c.ch.Close()
		c.chMu.Unlock()
		<-c.done
	})
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) loop(replies, broadcasts <-chan amqp.Delivery) {
	defer close(c.done)

	for {
		select {
		case d, ok := <-replies:
			if !ok {
				return
			}
			c.mu.Lock()
			waiting, found := c.pending[d.CorrelationId]
			c.mu.Unlock()
			if !found {
				c.logger.Debug("dropping reply without a pending request", "messageId", d.CorrelationId)
				continue
			}
			select {
			case waiting <- d:
			default:
			}

		case d, ok := <-broadcasts:
			if !ok {
				return
			}
			var envelope contracts.Envelope
			if err := json.Unmarshal(d.Body, &envelope); err != nil {
				c.logger.Warn("dropping malformed broadcast", "error", err)
				continue
			}
			c.mu.Lock()
			subscribers := make([]func(*contracts.Envelope), 0, len(c.subscribers))
			for _, fn := range c.subscribers {
				subscribers = append(subscribers, fn)
			}
			c.mu.Unlock()
			for _, fn := range subscribers {
				fn(envelope.Clone())
			}
		}
	}
}
