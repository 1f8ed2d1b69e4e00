package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/internal/reliability"
	"github.com/glimte/xmsg/messaging"
	"github.com/gorilla/websocket"
)

// ErrClientClosed is returned by Close on an already closed client
var ErrClientClosed = errors.New("websocket: client closed")

// ClientOption configures a Client
type ClientOption func(*Client)

// WithClientLogger sets the logger
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHeader sets headers sent with the handshake
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		c.header = header
	}
}

// WithDialer sets the websocket dialer
func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// Client is one context's connection to a Hub
type Client struct {
	ws          *websocket.Conn
	dialer      *websocket.Dialer
	header      http.Header
	pending     map[string]chan frame
	subscribers map[uint64]func(*contracts.Envelope)
	nextSub     uint64
	done        chan struct{}
	closeOnce   sync.Once
	writeMu     sync.Mutex
	mu          sync.Mutex
	logger      *slog.Logger
}

var (
	_ messaging.Transport          = (*Client)(nil)
	_ messaging.Broadcaster        = (*Client)(nil)
	_ messaging.BroadcastPublisher = (*Client)(nil)
)

// Dial connects to the hub at url
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		dialer:      websocket.DefaultDialer,
		pending:     make(map[string]chan frame),
		subscribers: make(map[uint64]func(*contracts.Envelope)),
		done:        make(chan struct{}),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	ws, _, err := c.dialer.DialContext(ctx, url, c.header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	c.ws = ws

	go c.readLoop()
	return c, nil
}

// Send implements messaging.Transport. A lost connection reports the
// extension context as invalidated.
func (c *Client) Send(ctx context.Context, envelope *contracts.Envelope) (contracts.Response, error) {
	payload, err := encode(frame{Type: FrameRequest, ID: envelope.MessageID, Envelope: envelope})
	if err != nil {
		return nil, err
	}

	replies := make(chan frame, 1)

	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		return nil, reliability.ErrContextInvalidated
	}
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

	if err := c.write(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", reliability.ErrContextInvalidated, err)
	}

	select {
	case f := <-replies:
		switch {
		case f.Error != "":
			return nil, errors.New(f.Error)
		case f.Undefined:
			return nil, nil
		case f.Response == nil:
			return contracts.Response{}, nil
		}
		return f.Response, nil
	case <-c.done:
		return nil, reliability.ErrContextInvalidated
	case <-ctx.Done():
		return nil, ctx.Err()
	}
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

// Broadcast asks the hub to fan envelope out to every context
func (c *Client) Broadcast(ctx context.Context, envelope *contracts.Envelope) error {
	payload, err := encode(frame{Type: FrameBroadcast, Envelope: envelope})
	if err != nil {
		return err
	}
	if c.isClosed() {
		return reliability.ErrContextInvalidated
	}
	if err := c.write(payload); err != nil {
		return fmt.Errorf("%w: %v", reliability.ErrContextInvalidated, err)
	}
	return nil
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection
func (c *Client) Close() error {
	err := ErrClientClosed
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("connection read failed", "error", err)
			}
			_ = c.ws.Close()
			return
		}

		switch f.Type {
		case FrameReply:
			c.mu.Lock()
			replies, ok := c.pending[f.ID]
			c.mu.Unlock()
			if !ok {
				c.logger.Debug("dropping reply without a pending request", "messageId", f.ID)
				continue
			}
			select {
			case replies <- f:
			default:
			}

		case FrameBroadcast:
			if f.Envelope == nil {
				continue
			}
			c.mu.Lock()
			subscribers := make([]func(*contracts.Envelope), 0, len(c.subscribers))
			for _, fn := range c.subscribers {
				subscribers = append(subscribers, fn)
			}
			c.mu.Unlock()
			for _, fn := range subscribers {
				fn(f.Envelope.Clone())
			}

		default:
			c.logger.Warn("unexpected frame from hub", "type", f.Type)
		}
	}
}
