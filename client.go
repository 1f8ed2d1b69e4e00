// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package xmsg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/xmsg/config"
	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/facades"
	"github.com/glimte/xmsg/messaging"
	"github.com/glimte/xmsg/monitor"
	"github.com/glimte/xmsg/transports/rabbitmq"
	"github.com/glimte/xmsg/transports/redis"
	"github.com/glimte/xmsg/transports/websocket"
)

// Client provides the main entry point for xmsg: one context's messenger
// plus the typed façades built on it.
type Client struct {
	registry    *messaging.Registry
	messenger   *messaging.Messenger
	contextName string
	facadeOpts  []facades.Option
	closers     []func() error
	closeOnce   sync.Once
	logger      *slog.Logger
}

// Endpoint is a transport that also delivers broadcasts, as every transport
// in this module does
type Endpoint interface {
	messaging.Transport
	messaging.Broadcaster
}

// NewClient creates a client sending as the configured context over endpoint
func NewClient(endpoint Endpoint, options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger:      slog.Default(),
		contextName: contracts.ContextPopup,
	}

	for _, opt := range options {
		opt(cfg)
	}

	return newClient(endpoint, cfg)
}

func newClient(endpoint Endpoint, cfg *clientConfig) (*Client, error) {
	messengerOpts := append([]messaging.MessengerOption{messaging.WithLogger(cfg.logger)}, cfg.messengerOpts...)
	if cfg.metrics != nil {
		messengerOpts = append(messengerOpts, messaging.WithMetrics(cfg.metrics))
	}

	var broadcaster messaging.Broadcaster = endpoint
	if cfg.broadcaster != nil {
		broadcaster = cfg.broadcaster
	}

	registry, err := messaging.NewRegistry(endpoint, broadcaster,
		messaging.WithRegistryLogger(cfg.logger),
		messaging.WithMessengerOptions(messengerOpts...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	messenger, err := registry.GetMessenger(cfg.contextName)
	if err != nil {
		return nil, fmt.Errorf("failed to create messenger: %w", err)
	}

	return &Client{
		registry:    registry,
		messenger:   messenger,
		contextName: cfg.contextName,
		facadeOpts:  append([]facades.Option{facades.WithLogger(cfg.logger)}, cfg.facadeOpts...),
		closers:     cfg.closers,
		logger:      cfg.logger,
	}, nil
}

// NewClientFromConfig dials the transport cfg names and builds a client on it
func NewClientFromConfig(ctx context.Context, cfg *config.Config, options ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clientCfg := &clientConfig{
		logger:        slog.Default(),
		contextName:   cfg.Context,
		messengerOpts: cfg.MessengerOptions(),
		facadeOpts:    cfg.FacadeOptions(),
	}

	for _, opt := range options {
		opt(clientCfg)
	}

	var endpoint Endpoint
	switch cfg.Transport {
	case config.TransportWebSocket:
		ws, err := websocket.Dial(ctx, cfg.WebSocketURL, websocket.WithClientLogger(clientCfg.logger))
		if err != nil {
			return nil, err
		}
		endpoint = ws
		clientCfg.closers = append(clientCfg.closers, ws.Close)

	case config.TransportRabbitMQ:
		conn, err := rabbitmq.Connect(ctx, cfg.RabbitMQURL,
			rabbitmq.WithLogger(clientCfg.logger),
			rabbitmq.WithDialRetry(cfg.DialRetryPolicy()))
		if err != nil {
			return nil, err
		}
		mq, err := rabbitmq.NewClient(conn, rabbitmq.WithClientLogger(clientCfg.logger))
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		endpoint = mq
		clientCfg.closers = append(clientCfg.closers, mq.Close, conn.Close)
	}

	if cfg.RedisURL != "" {
		rb, err := redis.Dial(ctx, cfg.RedisURL, redis.WithChannel(cfg.RedisChannel), redis.WithLogger(clientCfg.logger))
		if err != nil {
			for _, closeFn := range clientCfg.closers {
				_ = closeFn()
			}
			return nil, err
		}
		clientCfg.broadcaster = rb
		clientCfg.closers = append(clientCfg.closers, rb.Close)
	}

	client, err := newClient(endpoint, clientCfg)
	if err != nil {
		for _, closeFn := range clientCfg.closers {
			_ = closeFn()
		}
		return nil, err
	}

	clientCfg.logger.Info("xmsg client ready", "context", cfg.Context, "transport", cfg.Transport)
	return client, nil
}

// Context returns the name of the context this client sends as
func (c *Client) Context() string {
	return c.contextName
}

// Messenger returns the messenger for the client's own context
func (c *Client) Messenger() *messaging.Messenger {
	return c.messenger
}

// Registry returns the context registry, for sending as other contexts
func (c *Client) Registry() *messaging.Registry {
	return c.registry
}

// Ping sends a ping and reports the pong message
func (c *Client) Ping(ctx context.Context) (contracts.Response, error) {
	return c.messenger.Send(ctx, contracts.ActionPing, nil, 0)
}

// Health pings the receiving side and reports the messengers of this
// client's registry
func (c *Client) Health(ctx context.Context, timeout time.Duration) monitor.OverallHealth {
	health := monitor.NewRegistry()
	health.SetMetadata("context", c.contextName)
	health.Register(monitor.NewPingChecker("receiver", c.messenger, timeout))
	health.Register(monitor.NewMessagingChecker("messengers", c.registry, 0))
	return health.Check(ctx)
}

// Translation returns the translation façade
func (c *Client) Translation() *facades.TranslationMessenger {
	return facades.NewTranslationMessenger(c.messenger, c.facadeOpts...)
}

// TTS returns the text-to-speech façade
func (c *Client) TTS() *facades.TTSMessenger {
	return facades.NewTTSMessenger(c.messenger, c.facadeOpts...)
}

// Capture returns the screen capture façade
func (c *Client) Capture() *facades.CaptureMessenger {
	return facades.NewCaptureMessenger(c.messenger, c.facadeOpts...)
}

// Selection returns the element selection façade
func (c *Client) Selection() *facades.SelectionMessenger {
	return facades.NewSelectionMessenger(c.messenger, c.facadeOpts...)
}

// Close releases the transport the client dialed. Transports passed to
// NewClient stay open.
func (c *Client) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		c.registry.ClearInstances()
		for _, closeFn := range c.closers {
			if err := closeFn(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// clientConfig holds client configuration
type clientConfig struct {
	logger        *slog.Logger
	contextName   string
	metrics       messaging.MetricsCollector
	broadcaster   messaging.Broadcaster
	messengerOpts []messaging.MessengerOption
	facadeOpts    []facades.Option
	closers       []func() error
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithContext sets the context the client sends as
func WithContext(name string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.contextName = name
	}
}

// WithMetrics sets the metrics collector of every messenger
func WithMetrics(metrics messaging.MetricsCollector) ClientOption {
	return func(cfg *clientConfig) {
		cfg.metrics = metrics
	}
}

// WithMessengerOptions appends engine options
func WithMessengerOptions(opts ...messaging.MessengerOption) ClientOption {
	return func(cfg *clientConfig) {
		cfg.messengerOpts = append(cfg.messengerOpts, opts...)
	}
}

// WithFacadeOptions appends façade options
func WithFacadeOptions(opts ...facades.Option) ClientOption {
	return func(cfg *clientConfig) {
		cfg.facadeOpts = append(cfg.facadeOpts, opts...)
	}
}

// WithBroadcaster receives result updates from b instead of the endpoint
func WithBroadcaster(b messaging.Broadcaster) ClientOption {
	return func(cfg *clientConfig) {
		cfg.broadcaster = b
	}
}
