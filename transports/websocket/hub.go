package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/glimte/xmsg/contracts"
	"github.com/glimte/xmsg/internal/reliability"
	"github.com/glimte/xmsg/messaging"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

type conn struct {
	id string
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithHubLogger sets the logger
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithCheckOrigin overrides the upgrader's origin check
func WithCheckOrigin(check func(r *http.Request) bool) HubOption {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = check
	}
}

// Hub accepts client connections, dispatches their requests to a receiver
// and fans broadcasts out to every client.
type Hub struct {
	receiver    messaging.Receiver
	upgrader    websocket.Upgrader
	clients     map[string]*conn
	subscribers map[uint64]func(*contracts.Envelope)
	nextSub     uint64
	closed      bool
	logger      *slog.Logger
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

var (
	_ http.Handler                 = (*Hub)(nil)
	_ messaging.Broadcaster        = (*Hub)(nil)
	_ messaging.BroadcastPublisher = (*Hub)(nil)
)

// NewHub creates a hub dispatching requests to receiver. A nil receiver
// answers every request with a no-receiver error.
func NewHub(receiver messaging.Receiver, opts ...HubOption) *Hub {
	h := &Hub{
		receiver: receiver,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		clients:     make(map[string]*conn),
		subscribers: make(map[uint64]func(*contracts.Envelope)),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// ServeHTTP upgrades the request and serves the connection until it closes
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &conn{id: uuid.New().String(), ws: ws}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	h.clients[c.id] = c
	count := len(h.clients)
	h.wg.Add(1)
	h.mu.Unlock()

	h.logger.Info("client connected", "client", c.id, "remote", r.RemoteAddr, "clients", count)
	h.serve(r.Context(), c)
}

func (h *Hub) serve(ctx context.Context, c *conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		h.mu.Lock()
		delete(h.clients, c.id)
		count := len(h.clients)
		h.mu.Unlock()
		_ = c.ws.Close()
		h.wg.Done()
		h.logger.Info("client disconnected", "client", c.id, "clients", count)
	}()

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("client read failed", "client", c.id, "error", err)
			}
			return
		}

		switch f.Type {
		case FrameRequest:
			h.wg.Add(1)
			go h.handleRequest(ctx, c, f)
		case FrameBroadcast:
			if f.Envelope != nil {
				if err := h.Broadcast(ctx, f.Envelope); err != nil {
					h.logger.Warn("relaying broadcast failed", "client", c.id, "error", err)
				}
			}
		default:
			h.logger.Warn("unexpected frame from client", "client", c.id, "type", f.Type)
		}
	}
}

func (h *Hub) handleRequest(ctx context.Context, c *conn, f frame) {
	defer h.wg.Done()

	var reply frame
	switch {
	case f.Envelope == nil:
		reply = replyFrame(f.ID, contracts.NewFailureResponse("invalid message format", string(reliability.ErrorTypeValidation), http.StatusBadRequest))
	case h.receiver == nil:
		reply = frame{Type: FrameReply, ID: f.ID, Error: reliability.ErrNoReceiver.Error()}
	default:
		reply = replyFrame(f.ID, h.receiver.Dispatch(ctx, f.Envelope))
	}

	payload, err := encode(reply)
	if err != nil {
		h.logger.Error("encoding reply failed", "client", c.id, "messageId", f.ID, "error", err)
		payload, err = encode(replyFrame(f.ID, contracts.NewFailureResponse(err.Error(), string(reliability.ErrorTypeUnknown), http.StatusInternalServerError)))
		if err != nil {
			return
		}
	}

	if err := c.write(payload); err != nil {
		h.logger.Warn("writing reply failed", "client", c.id, "messageId", f.ID, "error", err)
	}
}

// OnMessage subscribes fn to every broadcast passing through the hub
func (h *Hub) OnMessage(fn func(envelope *contracts.Envelope)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	h.subscribers[id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subscribers, id)
	}
}

// Broadcast sends envelope to every connected client and local subscriber
func (h *Hub) Broadcast(ctx context.Context, envelope *contracts.Envelope) error {
	payload, err := encode(frame{Type: FrameBroadcast, Envelope: envelope})
	if err != nil {
		return err
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return reliability.ErrContextInvalidated
	}
	clients := make([]*conn, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	subscribers := make([]func(*contracts.Envelope), 0, len(h.subscribers))
	for _, fn := range h.subscribers {
		subscribers = append(subscribers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range subscribers {
		fn(envelope.Clone())
	}

	var g errgroup.Group
	for _, c := range clients {
		g.Go(func() error {
			if err := c.write(payload); err != nil {
				return fmt.Errorf("client %s: %w", c.id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their connections to finish
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*conn, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.mu.Lock()
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closing"))
		c.mu.Unlock()
		_ = c.ws.Close()
	}

	h.wg.Wait()
	return nil
}
