// Package message defines the envelope exchanged between a service and its callers.
//
// Every frame on the wire carries exactly one Message, in one of two shapes:
//
//	Ok:    {"id": "...", "body": <any>, "emptyResponse": true}
//	Error: {"id": "...", "error": "...", "type": "...", "invalidResponse": "...", "stack": "...", "details": <any>}
//
// A message is the Error variant when it carries an error text or kind; otherwise
// it is the Ok variant and body is always present on the wire (null when unset).
package message

import (
	"encoding/json"
)

// null is the JSON literal used for an absent body.
var null = json.RawMessage("null")

// Message carries one request or response.
//
//   - On request:  Body holds the serialized request payload; ID is stamped by the receiving reader.
//   - On response: Body holds the handler result, or Error/Type describe the failure.
type Message struct {
	ID            string          `json:"id,omitempty"`
	Body          json.RawMessage `json:"body,omitempty"`
	EmptyResponse bool            `json:"emptyResponse,omitempty"`

	Error           string          `json:"error,omitempty"`
	Type            string          `json:"type,omitempty"`
	InvalidResponse string          `json:"invalidResponse,omitempty"`
	Stack           string          `json:"stack,omitempty"`
	Details         json.RawMessage `json:"details,omitempty"`
}

type okWire struct {
	ID            string          `json:"id,omitempty"`
	Body          json.RawMessage `json:"body"`
	EmptyResponse bool            `json:"emptyResponse,omitempty"`
}

type errorWire struct {
	ID              string          `json:"id,omitempty"`
	Error           string          `json:"error"`
	Type            string          `json:"type"`
	InvalidResponse string          `json:"invalidResponse,omitempty"`
	Stack           string          `json:"stack,omitempty"`
	Details         json.RawMessage `json:"details,omitempty"`
}

// MarshalJSON writes only the fields of the variant m represents.
func (m Message) MarshalJSON() ([]byte, error) {
	if m.IsError() {
		return json.Marshal(errorWire{
			ID:              m.ID,
			Error:           m.Error,
			Type:            m.Type,
			InvalidResponse: m.InvalidResponse,
			Stack:           m.Stack,
			Details:         m.Details,
		})
	}
	body := m.Body
	if len(body) == 0 {
		body = null
	}
	return json.Marshal(okWire{ID: m.ID, Body: body, EmptyResponse: m.EmptyResponse})
}

// IsError reports whether m is the Error variant.
func (m *Message) IsError() bool {
	return m.Error != "" || m.Type != ""
}

// IsHeartbeat reports whether m was produced from an empty frame.
func (m *Message) IsHeartbeat() bool {
	return !m.IsError() && m.EmptyResponse
}

// Decode unmarshals the Ok body into v. A missing body decodes as JSON null.
func (m *Message) Decode(v any) error {
	body := m.Body
	if len(body) == 0 {
		body = null
	}
	return json.Unmarshal(body, v)
}

// Heartbeat returns the message an empty frame stands for.
func Heartbeat() *Message {
	return &Message{Body: null, EmptyResponse: true}
}

// Request wraps an already serialized payload as an Ok message.
func Request(body json.RawMessage) *Message {
	return &Message{Body: body}
}

// Ok serializes v and wraps it as an Ok message with the given id.
func Ok(id string, v any) (*Message, error) {
	body, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Message{ID: id, Body: body}, nil
}

// Marshal turns an arbitrary payload into a raw body. Values that already are
// raw JSON are passed through untouched.
func Marshal(v any) (json.RawMessage, error) {
	switch b := v.(type) {
	case nil:
		return null, nil
	case json.RawMessage:
		if len(b) == 0 {
			return null, nil
		}
		return b, nil
	}
	return json.Marshal(v)
}
