package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/glimte/xmsg/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionOption configures a Connection
type ConnectionOption func(*Connection)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(c *Connection) {
		c.logger = logger
	}
}

// WithDialTimeout bounds each dial attempt
func WithDialTimeout(timeout time.Duration) ConnectionOption {
	return func(c *Connection) {
		c.dialTimeout = timeout
	}
}

// WithDialRetry retries failed dial attempts under policy
func WithDialRetry(policy reliability.RetryPolicy) ConnectionOption {
	return func(c *Connection) {
		c.retryPolicy = policy
	}
}

// Connection is a broker connection. It is not re-established once lost:
// every client and server on it observes the loss as context invalidation.
type Connection struct {
	url         string
	conn        *amqp.Connection
	dialTimeout time.Duration
	retryPolicy reliability.RetryPolicy
	done        chan struct{}
	err         error
	logger      *slog.Logger
	mu          sync.RWMutex
}

// Connect dials the broker at rawURL
func Connect(ctx context.Context, rawURL string, opts ...ConnectionOption) (*Connection, error) {
	c := &Connection{
		url:         rawURL,
		dialTimeout: 30 * time.Second,
		done:        make(chan struct{}),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	attempts := 0
	dial := func() error {
		attempts++
		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn("dial failed", "url", SanitizeURL(c.url), "attempt", attempts, "error", err)
			return reliability.RetryableError{Err: err, Retryable: true}
		}
		c.conn = conn
		return nil
	}

	var err error
	if c.retryPolicy != nil {
		err = reliability.Retry(ctx, c.retryPolicy, dial)
	} else {
		err = dial()
	}
	if err != nil {
		return nil, &ConnectionError{
			Op:       "connect",
			URL:      SanitizeURL(c.url),
			Err:      err,
			Attempts: attempts,
		}
	}

	closed := c.conn.NotifyClose(make(chan *amqp.Error, 1))
	go c.watch(closed)

	c.logger.Info("connected to RabbitMQ", "url", SanitizeURL(c.url))
	return c, nil
}

func (c *Connection) dial(ctx context.Context) (*amqp.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	type result struct {
		conn *amqp.Connection
		err  error
	}
	results := make(chan result, 1)

	go func() {
		conn, err := amqp.Dial(c.url)
		results <- result{conn: conn, err: err}
	}()

	select {
	case r := <-results:
		return r.conn, r.err
	case <-dialCtx.Done():
		go func() {
			if r := <-results; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrConnectionTimeout
	}
}

func (c *Connection) watch(closed <-chan *amqp.Error) {
	amqpErr, ok := <-closed

	c.mu.Lock()
	if ok && amqpErr != nil {
		c.err = amqpErr
		c.logger.Error("connection lost", "url", SanitizeURL(c.url), "error", amqpErr)
	} else {
		c.err = ErrConnectionClosed
	}
	c.mu.Unlock()

	close(c.done)
}

// Channel opens a new channel
func (c *Connection) Channel() (*amqp.Channel, error) {
	if c.IsClosed() {
		return nil, ErrConnectionClosed
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, &ChannelError{Op: "open", Err: err}
	}
	return ch, nil
}

// Done is closed once the connection is gone
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open
func (c *Connection) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// IsClosed reports whether the connection has ended
func (c *Connection) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close closes the connection
func (c *Connection) Close() error {
	if c.IsClosed() {
		return nil
	}
	if err := c.conn.Close(); err != nil && err != amqp.ErrClosed {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	<-c.done
	return nil
}

// SanitizeURL removes the password from a broker URL
func SanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
