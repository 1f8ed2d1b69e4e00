package rabbitmq

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/glimte/xmsg/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultRequestQueue      = "xmsg.requests"
	DefaultBroadcastExchange = "xmsg.broadcast"
	replyQueuePrefix         = "xmsg.reply."
	contentType              = "application/json"
)

// Topology names the broker objects a client and server agree on
type Topology struct {
	RequestQueue      string
	BroadcastExchange string
}

// DefaultTopology returns the default queue and exchange names
func DefaultTopology() Topology {
	return Topology{
		RequestQueue:      DefaultRequestQueue,
		BroadcastExchange: DefaultBroadcastExchange,
	}
}

func (t Topology) withDefaults() Topology {
	if t.RequestQueue == "" {
		t.RequestQueue = DefaultRequestQueue
	}
	if t.BroadcastExchange == "" {
		t.BroadcastExchange = DefaultBroadcastExchange
	}
	return t
}

// declareRequestQueue is idempotent; Consumers tells whether anything serves it.
func declareRequestQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(name, false, false, false, false, nil)
	if err != nil {
		return q, fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return q, nil
}

// bindBroadcastQueue declares the fanout exchange and an exclusive queue bound to it
func bindBroadcastQueue(ch *amqp.Channel, exchange string) (string, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, false, false, false, false, nil); err != nil {
		return "", fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("failed to declare broadcast queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		return "", fmt.Errorf("failed to bind queue %s to exchange %s: %w", q.Name, exchange, err)
	}

	return q.Name, nil
}

// replyBody is the payload of a reply message
type replyBody struct {
	Response  contracts.Response `json:"response,omitempty"`
	Undefined bool               `json:"undefined,omitempty"`
	Error     string             `json:"error,omitempty"`
}

func encodeReply(response contracts.Response) ([]byte, error) {
	if response == nil {
		return json.Marshal(replyBody{Undefined: true})
	}
	return json.Marshal(replyBody{Response: response})
}

func decodeReply(body []byte) (contracts.Response, error) {
	var r replyBody
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("malformed reply: %w", err)
	}
	switch {
	case r.Error != "":
		return nil, errors.New(r.Error)
	case r.Undefined:
		return nil, nil
	case r.Response == nil:
		return contracts.Response{}, nil
	}
	return r.Response, nil
}
