package messaging

import (
	"context"

	"github.com/glimte/xmsg/contracts"
)

// Transport is the host's one-way send primitive. It delivers an envelope to
// the receiving context and yields at most one reply. A nil Response with a
// nil error is the "undefined" reply some browsers produce even when the
// receiver handled the message.
type Transport interface {
	Send(ctx context.Context, envelope *contracts.Envelope) (contracts.Response, error)
}

// TransportFunc is a function adapter for Transport
type TransportFunc func(ctx context.Context, envelope *contracts.Envelope) (contracts.Response, error)

// Send implements Transport
func (f TransportFunc) Send(ctx context.Context, envelope *contracts.Envelope) (contracts.Response, error) {
	return f(ctx, envelope)
}

// Broadcaster delivers every envelope broadcast on the bus, whatever its
// addressee. OnMessage returns the function that removes the subscription.
type Broadcaster interface {
	OnMessage(fn func(envelope *contracts.Envelope)) (unsubscribe func())
}

// BroadcastPublisher emits envelopes onto the broadcast channel
type BroadcastPublisher interface {
	Broadcast(ctx context.Context, envelope *contracts.Envelope) error
}

// Receiver is the listening end of a transport. Dispatch never fails: errors
// are turned into failure responses, and a nil Response is sent back as the
// undefined reply.
type Receiver interface {
	Dispatch(ctx context.Context, envelope *contracts.Envelope) contracts.Response
}
