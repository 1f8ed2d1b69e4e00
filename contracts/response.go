package contracts

import (
	"encoding/json"
	"fmt"
)

// Messages used in synthesized responses
const (
	PongMessage             = "pong"
	UndefinedReplyMessage   = "Response received but undefined due to MV3 bug"
	SpeechAcknowledged      = "Speech request acknowledged, response lost due to MV3 bug"
	ContextUnavailableError = "Extension context unavailable"
)

// Response is a reply payload. Its shape belongs to the action; the engine
// passes it through untouched. A nil Response is the "undefined" reply.
type Response map[string]any

// ErrorDetail is the structured error carried by a failure response
type ErrorDetail struct {
	Message    string `json:"message"`
	Type       string `json:"type"`
	StatusCode int    `json:"statusCode"`
}

// Success reports the success flag of the response
func (r Response) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// Message returns the message field if it is a string
func (r Response) Message() string {
	msg, _ := r["message"].(string)
	return msg
}

// IsGracefulFailure reports whether the response is the downgraded
// context-invalidated failure
func (r Response) IsGracefulFailure() bool {
	graceful, _ := r["gracefulFailure"].(bool)
	return graceful
}

// IsCompensated reports whether the response was synthesized because the
// platform lost the real reply
func (r Response) IsCompensated() bool {
	bug, _ := r["mv3Bug"].(bool)
	return bug
}

// Error returns the structured error of a failure response, if any
func (r Response) Error() (*ErrorDetail, bool) {
	raw, exists := r["error"]
	if !exists || raw == nil {
		return nil, false
	}

	switch v := raw.(type) {
	case string:
		return &ErrorDetail{Message: v}, true
	case *ErrorDetail:
		return v, true
	case ErrorDetail:
		return &v, true
	}

	var detail ErrorDetail
	if err := remarshal(raw, &detail); err != nil {
		return &ErrorDetail{Message: fmt.Sprint(raw)}, true
	}
	return &detail, true
}

// Decode converts the response into v via its JSON form
func (r Response) Decode(v any) error {
	if r == nil {
		return fmt.Errorf("cannot decode undefined response")
	}
	return remarshal(r, v)
}

// NewFailureResponse builds a structured failure response
func NewFailureResponse(message, errorType string, statusCode int) Response {
	return Response{
		"success": false,
		"error": map[string]any{
			"message":    message,
			"type":       errorType,
			"statusCode": statusCode,
		},
	}
}

// NewGracefulFailure builds the response returned instead of an error when
// the extension context went away mid-flight
func NewGracefulFailure() Response {
	return Response{
		"success":            false,
		"error":              ContextUnavailableError,
		"contextInvalidated": true,
		"gracefulFailure":    true,
	}
}

// ToResponse converts an arbitrary payload into a Response
func ToResponse(v any) (Response, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case Response:
		return p, nil
	case map[string]any:
		return Response(p), nil
	}

	var resp Response
	if err := remarshal(v, &resp); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	return resp, nil
}

// ResponseFromEnvelope flattens a broadcast envelope into a Response: the
// data fields plus the action, context and messageId of the envelope.
func ResponseFromEnvelope(env *Envelope) Response {
	if env == nil {
		return nil
	}

	resp := Response{}
	if env.Data != nil {
		if fields, err := ToResponse(env.Data); err == nil {
			for k, v := range fields {
				resp[k] = v
			}
		} else {
			resp["data"] = env.Data
		}
	}

	resp["action"] = env.Action
	resp["context"] = env.Context
	resp["messageId"] = env.MessageID
	return resp
}

func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
