package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/internal/reliability"
	"github.com/glimte/xmsg/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// ServerOption configures a Server
type ServerOption func(*Server)

// WithServerLogger sets the logger
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithServerTopology overrides the queue and exchange names
func WithServerTopology(topology Topology) ServerOption {
	return func(s *Server) {
		s.topology = topology.withDefaults()
	}
}

// WithConcurrency sets how many requests are dispatched at once
func WithConcurrency(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithPrefetch sets the channel prefetch count
func WithPrefetch(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.prefetch = n
		}
	}
}

// Server plays the background context: it consumes the request queue,
// dispatches each request to a receiver and publishes the reply.
type Server struct {
	conn        *Connection
	receiver    messaging.Receiver
	topology    Topology
	concurrency int
	prefetch    int
	subscribers map[uint64]func(*contracts.Envelope)
	nextSub     uint64
	pubCh       *amqp.Channel
	pubMu       sync.Mutex
	running     atomic.Bool
	mu          sync.Mutex
	logger      *slog.Logger
}

var (
	_ messaging.Broadcaster        = (*Server)(nil)
	_ messaging.BroadcastPublisher = (*Server)(nil)
)

// NewServer creates a server dispatching requests to receiver
func NewServer(conn *Connection, receiver messaging.Receiver, opts ...ServerOption) (*Server, error) {
	if receiver == nil {
		return nil, errors.New("rabbitmq: receiver is required")
	}

	s := &Server{
		conn:        conn,
		receiver:    receiver,
		topology:    DefaultTopology(),
		concurrency: 10,
		prefetch:    10,
		subscribers: make(map[uint64]func(*contracts.Envelope)),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve consumes requests until ctx ends or the connection is lost. In-flight
// requests finish before it returns.
func (s *Server) Serve(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerRunning
	}
	defer s.running.Store(false)

	ch, err := s.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		return &ChannelError{Op: "qos", Err: err}
	}

	q, err := declareRequestQueue(ch, s.topology.RequestQueue)
	if err != nil {
		return err
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return &ChannelError{Op: "consume", Err: err}
	}

	broadcastQueue, err := bindBroadcastQueue(ch, s.topology.BroadcastExchange)
	if err != nil {
		return err
	}

	broadcasts, err := ch.Consume(broadcastQueue, "", true, true, false, false, nil)
	if err != nil {
		return &ChannelError{Op: "consume", Err: err}
	}

	s.logger.Info("serving requests", "queue", q.Name, "concurrency", s.concurrency)

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	err = s.consume(ctx, &g, deliveries, broadcasts)
	_ = g.Wait()
	return err
}

func (s *Server) consume(ctx context.Context, g *errgroup.Group, deliveries, broadcasts <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.conn.Done():
			return fmt.Errorf("%w: %v", reliability.ErrContextInvalidated, s.conn.Err())

		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("%w: request consumer stopped", reliability.ErrContextInvalidated)
			}
			g.Go(func() error {
				s.handle(ctx, d)
				return nil
			})

		case d, ok := <-broadcasts:
			if !ok {
				return fmt.Errorf("%w: broadcast consumer stopped", reliability.ErrContextInvalidated)
			}
			s.fanOut(d)
		}
	}
}

func (s *Server) handle(ctx context.Context, d amqp.Delivery) {
	var response contracts.Response
	var envelope contracts.Envelope
	if err := json.Unmarshal(d.Body, &envelope); err != nil {
		s.logger.Warn("malformed request", "messageId", d.CorrelationId, "error", err)
		response = contracts.NewFailureResponse("invalid message format", string(reliability.ErrorTypeValidation), http.StatusBadRequest)
	} else {
		response = s.receiver.Dispatch(ctx, &envelope)
	}

	if d.ReplyTo == "" {
		s.logger.Warn("discarding reply", "messageId", d.CorrelationId, "error", ErrMissingReplyTo)
		_ = d.Ack(false)
		return
	}

	body, err := encodeReply(response)
	if err != nil {
		s.logger.Error("failed to encode reply", "messageId", d.CorrelationId, "error", err)
		_ = d.Nack(false, false)
		return
	}

	err = s.publish(context.WithoutCancel(ctx), "", d.ReplyTo, amqp.Publishing{
		ContentType:   contentType,
		CorrelationId: d.CorrelationId,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		s.logger.Warn("publishing reply failed", "messageId", d.CorrelationId, "replyTo", d.ReplyTo, "error", err)
	}

	if err := d.Ack(false); err != nil {
		s.logger.Warn("ack failed", "messageId", d.CorrelationId, "error", err)
	}
}

func (s *Server) fanOut(d amqp.Delivery) {
	var envelope contracts.Envelope
	if err := json.Unmarshal(d.Body, &envelope); err != nil {
		s.logger.Warn("dropping malformed broadcast", "error", err)
		return
	}

	s.mu.Lock()
	subscribers := make([]func(*contracts.Envelope), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subscribers = append(subscribers, fn)
	}
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(envelope.Clone())
	}
}

// OnMessage subscribes fn to broadcasts received while serving
func (s *Server) OnMessage(fn func(envelope *contracts.Envelope)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// Broadcast publishes envelope to the fanout exchange
func (s *Server) Broadcast(ctx context.Context, envelope *contracts.Envelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return s.publish(ctx, s.topology.BroadcastExchange, "", amqp.Publishing{
		ContentType: contentType,
		Timestamp:   time.Now(),
		Type:        envelope.Action,
		Body:        body,
	})
}

// publish sends on a dedicated channel, reopened after a channel exception
func (s *Server) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	if s.conn.IsClosed() {
		return reliability.ErrContextInvalidated
	}

	if s.pubCh == nil || s.pubCh.IsClosed() {
		ch, err := s.conn.Channel()
		if err != nil {
			return err
		}
		if err := ch.ExchangeDeclare(s.topology.BroadcastExchange, amqp.ExchangeFanout, false, false, false, false, nil); err != nil {
			_ = ch.Close()
			return fmt.Errorf("failed to declare exchange %s: %w", s.topology.BroadcastExchange, err)
		}
		s.pubCh = ch
	}

	if err := s.pubCh.PublishWithContext(ctx, exchange, key, false, false, msg); err != nil {
		return &ChannelError{Op: "publish", Err: err}
	}
	return nil
}

// Close releases the publishing channel. Stop Serve by cancelling its context.
func (s *Server) Close() error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	if s.pubCh == nil {
		return nil
	}
	err := s.pubCh.Close()
	s.pubCh = nil
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}
