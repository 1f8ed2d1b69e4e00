package contracts

import (
	"time"
)

// ProtocolVersion is stamped on every outgoing envelope
const ProtocolVersion = "2.0.0"

// Envelope wraps a request for transport between contexts
type Envelope struct {
	Action    string `json:"action"`
	Data      any    `json:"data,omitempty"`
	Context   string `json:"context"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
	Version   string `json:"version,omitempty"`
}

// Time returns the envelope creation time
func (e *Envelope) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Clone returns a shallow copy of the envelope. Data is shared.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// NewResultUpdate builds the out-of-band broadcast that carries the late
// result of original. The update reuses the original context and message ID
// so the waiting sender can correlate it.
func NewResultUpdate(original *Envelope, payload any) *Envelope {
	return &Envelope{
		Action:    ActionTranslationResultUpdate,
		Data:      payload,
		Context:   original.Context,
		MessageID: original.MessageID,
		Timestamp: time.Now().UnixMilli(),
		Version:   ProtocolVersion,
	}
}

// IsResultUpdateFor reports whether e is the result update for original
func (e *Envelope) IsResultUpdateFor(original *Envelope) bool {
	if e == nil || original == nil {
		return false
	}
	return e.Action == ActionTranslationResultUpdate &&
		e.Context == original.Context &&
		e.MessageID == original.MessageID
}
