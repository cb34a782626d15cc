// Package codec maps failures to the wire error shape and back.
//
// Encoding applies a closed set of rules to whatever a handler returned or
// panicked with:
//
//	*RemoteError            → its own message, kind and details (re-forwarded failure)
//	*Error                  → message, kind, details           (application failure)
//	error with Kind() string → Error(), Kind()
//	other error             → Error(), "Error"
//	string                  → the string, "string"
//	fmt.Stringer            → String(), "object", the value as details
//	anything else           → "unknown error", "unknown", the value as details
//
// Decoding turns an Error-variant message into a *RemoteError on the caller side.
package codec

import (
	"encoding/json"
	"fmt"
	"socketrpc/message"

	"github.com/pkg/errors"
)

// Kinds produced by the encoding rules.
const (
	KindError   = "Error"
	KindString  = "string"
	KindObject  = "object"
	KindUnknown = "unknown"
)

// UnknownMessage is the error text used for values that carry no description.
const UnknownMessage = "unknown error"

type stackTracer interface {
	StackTrace() errors.StackTrace
}

type kinder interface {
	Kind() string
}

// Error is an application failure with a kind and an optional details payload.
// It records the stack where it was created.
type Error struct {
	kind    string
	message string
	details any
	stack   error
}

// NewError creates an application failure. An empty kind defaults to "Error".
func NewError(kind, msg string, details any) *Error {
	if kind == "" {
		kind = KindError
	}
	return &Error{
		kind:    kind,
		message: msg,
		details: details,
		stack:   errors.New(msg),
	}
}

func (e *Error) Error() string { return e.message }

// Kind returns the failure kind sent as the wire "type".
func (e *Error) Kind() string { return e.kind }

// Details returns the payload attached at creation.
func (e *Error) Details() any { return e.details }

// StackTrace returns where the failure was created.
func (e *Error) StackTrace() errors.StackTrace {
	if st, ok := e.stack.(stackTracer); ok {
		return st.StackTrace()
	}
	return nil
}

// RemoteError is a failure reported by the peer.
type RemoteError struct {
	ID              string
	Message         string
	Kind            string
	Stack           string
	InvalidResponse string
	Details         json.RawMessage
}

func (e *RemoteError) Error() string { return e.Message }

// DetailsInto unmarshals the details payload into v.
func (e *RemoteError) DetailsInto(v any) error {
	if len(e.Details) == 0 {
		return errors.New("remote error carries no details")
	}
	return json.Unmarshal(e.Details, v)
}

// Encode classifies thrown into an Error-variant message. Stack traces are only
// included when trace is set.
func Encode(thrown any, trace bool) *message.Message {
	msg := &message.Message{}

	switch v := thrown.(type) {
	case *RemoteError:
		msg.Error, msg.Type, msg.Details = v.Message, v.Kind, v.Details
		msg.InvalidResponse = v.InvalidResponse
		if trace {
			msg.Stack = v.Stack
		}
		return ensureKind(msg)
	case error:
		msg.Error, msg.Type = v.Error(), KindError
		var appErr *Error
		var k kinder
		switch {
		case errors.As(v, &appErr):
			msg.Type = appErr.Kind()
			if appErr.details != nil {
				msg.Details = marshalDetails(appErr.details)
			}
		case errors.As(v, &k):
			msg.Type = k.Kind()
		}
		if trace {
			msg.Stack = stackOf(v)
		}
		return ensureKind(msg)
	case string:
		msg.Error, msg.Type = v, KindString
		return msg
	case fmt.Stringer:
		msg.Error, msg.Type = v.String(), KindObject
		msg.Details = marshalDetails(v)
		return ensureKind(msg)
	default:
		msg.Error, msg.Type = UnknownMessage, KindUnknown
		msg.Details = marshalDetails(v)
		return msg
	}
}

// ensureKind keeps the message an Error variant even for empty texts.
func ensureKind(msg *message.Message) *message.Message {
	if msg.Type == "" {
		msg.Type = KindError
	}
	return msg
}

func stackOf(err error) string {
	var st stackTracer
	if errors.As(err, &st) {
		return fmt.Sprintf("%+v", st.StackTrace())
	}
	return ""
}

func marshalDetails(v any) json.RawMessage {
	raw, err := message.Marshal(v)
	if err != nil {
		raw, _ = json.Marshal(fmt.Sprintf("%v", v))
	}
	return raw
}

// Decode returns nil for an Ok message and a *RemoteError for an Error message.
func Decode(msg *message.Message) error {
	if msg == nil || !msg.IsError() {
		return nil
	}
	re := &RemoteError{
		ID:              msg.ID,
		Message:         msg.Error,
		Kind:            msg.Type,
		InvalidResponse: msg.InvalidResponse,
		Details:         msg.Details,
	}
	if msg.Stack != "" {
		re.Stack = msg.Type + ": " + msg.Stack
	}
	return re
}

// IsKind reports whether err, or any error it wraps, is a local or remote
// failure of the given kind.
func IsKind(err error, kind string) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	var k kinder
	if errors.As(err, &k) {
		return k.Kind() == kind
	}
	return false
}
