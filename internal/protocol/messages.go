package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Result statuses
const (
	StatusOK   = "ok"
	StatusFail = "fail"
)

// Fields of a result envelope
const (
	FieldStatus = "status"
	FieldErrors = "errors"
)

// WebSocket message types
const (
	TypePing    = "ping"
	TypePong    = "pong"
	TypeCommand = "command"
	TypeResult  = "result"
	TypeError   = "error"
)

// Error codes
const (
	ErrInvalidMessage = "INVALID_MESSAGE"
)

// Request is one inbound command: a name and its named parameters.
// Parameter values are strings, json.Number, numbers or nil.
type Request struct {
	Command string
	Params  map[string]any
}

// ParseRequest decodes a flat JSON object such as
// {"command": "pan", "camera": 1, "value": "left", "speed": 3}
func ParseRequest(data []byte) (Request, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return Request{}, fmt.Errorf("failed to parse request: %w", err)
	}
	if params == nil {
		return Request{}, fmt.Errorf("request must be a JSON object")
	}

	req := Request{Params: params}
	if cmd, ok := params["command"].(string); ok {
		req.Command = cmd
	}
	delete(params, "command")
	return req, nil
}

// Result is the envelope returned for every command
type Result map[string]any

// OK builds a success envelope carrying fields
func OK(fields map[string]any) Result {
	r := Result{FieldStatus: StatusOK}
	for k, v := range fields {
		r[k] = v
	}
	return r
}

// Fail builds a failure envelope; errors hold the causal chain, innermost first
func Fail(errors ...string) Result {
	return Result{FieldStatus: StatusFail, FieldErrors: errors}
}

func (r Result) Status() string {
	s, _ := r[FieldStatus].(string)
	return s
}

func (r Result) Errors() []string {
	e, _ := r[FieldErrors].([]string)
	return e
}

// Message is the base envelope for all WebSocket messages
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// PingPayload for ping messages
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload for pong messages
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType string, id string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		ID:      id,
		Payload: data,
	}, nil
}

// ParsePayload unmarshals the payload into the given struct
func (m *Message) ParsePayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}
