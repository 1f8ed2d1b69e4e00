package messaging

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/glimte/xmsg/contracts"
)

// IDGenerator produces message IDs of the form <context>-<counter>-<unixMillis>.
// The counter is monotonic per generator, so IDs are unique for the life of
// the process that owns it.
type IDGenerator struct {
	counter atomic.Uint64
	now     func() time.Time
}

// NewIDGenerator creates a new ID generator
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next returns a fresh message ID for contextName
func (g *IDGenerator) Next(contextName string) string {
	n := g.counter.Add(1)
	return fmt.Sprintf("%s-%d-%d", contextName, n, g.now().UnixMilli())
}

// Count returns how many IDs have been generated
func (g *IDGenerator) Count() uint64 {
	return g.counter.Load()
}

// EnvelopeOption configures envelope creation
type EnvelopeOption func(*contracts.Envelope)

// WithMessageID overrides the generated message ID. Used when a reply has to
// correlate with an ID chosen elsewhere.
func WithMessageID(id string) EnvelopeOption {
	return func(e *contracts.Envelope) {
		e.MessageID = id
	}
}

// WithTimestamp sets a custom timestamp
func WithTimestamp(ts time.Time) EnvelopeOption {
	return func(e *contracts.Envelope) {
		e.Timestamp = ts.UnixMilli()
	}
}

// WithVersion overrides the protocol version
func WithVersion(version string) EnvelopeOption {
	return func(e *contracts.Envelope) {
		e.Version = version
	}
}

// MessageFormat builds and validates envelopes
type MessageFormat struct {
	ids *IDGenerator
	now func() time.Time
}

// NewMessageFormat creates a message format backed by ids. A nil generator
// gets a private one.
func NewMessageFormat(ids *IDGenerator) *MessageFormat {
	if ids == nil {
		ids = NewIDGenerator()
	}
	return &MessageFormat{ids: ids, now: time.Now}
}

// Create builds a well-formed envelope. Action and context are required.
func (f *MessageFormat) Create(action string, data any, contextName string, opts ...EnvelopeOption) (*contracts.Envelope, error) {
	if strings.TrimSpace(action) == "" {
		return nil, contracts.NewValidationError("action", "action is required and must be a non-empty string")
	}
	if strings.TrimSpace(contextName) == "" {
		return nil, contracts.NewValidationError("context", "context is required and must be a non-empty string")
	}

	envelope := &contracts.Envelope{
		Action:    action,
		Data:      data,
		Context:   contextName,
		Timestamp: f.now().UnixMilli(),
		Version:   contracts.ProtocolVersion,
	}

	for _, opt := range opts {
		opt(envelope)
	}

	if envelope.MessageID == "" {
		envelope.MessageID = f.ids.Next(contextName)
	}

	return envelope, nil
}

// Validate reports whether envelope is well formed enough to dispatch
func (f *MessageFormat) Validate(envelope *contracts.Envelope) bool {
	if envelope == nil {
		return false
	}
	return envelope.Action != "" &&
		envelope.Context != "" &&
		envelope.MessageID != "" &&
		envelope.Timestamp != 0
}

// NextID returns a fresh message ID for contextName
func (f *MessageFormat) NextID(contextName string) string {
	return f.ids.Next(contextName)
}
