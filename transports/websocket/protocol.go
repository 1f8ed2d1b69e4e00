// Package websocket carries envelopes between processes over websocket
// connections. A Hub plays the background context and serves any number of
// Clients; each Client is a messaging.Transport and messaging.Broadcaster.
package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/glimte/xmsg/contracts"
)

// Frame types
const (
	FrameRequest   = "request"
	FrameReply     = "reply"
	FrameBroadcast = "broadcast"
)

// frame is the unit written to the socket
type frame struct {
	Type      string              `json:"type"`
	ID        string              `json:"id,omitempty"`
	Envelope  *contracts.Envelope `json:"envelope,omitempty"`
	Response  contracts.Response  `json:"response,omitempty"`
	Undefined bool                `json:"undefined,omitempty"`
	Error     string              `json:"error,omitempty"`
}

func replyFrame(id string, response contracts.Response) frame {
	if response == nil {
		return frame{Type: FrameReply, ID: id, Undefined: true}
	}
	return frame{Type: FrameReply, ID: id, Response: response}
}

// encode marshals f before it reaches the socket, so an unencodable payload
// never leaves a partial frame on the wire
func encode(f frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return b, nil
}
