// Package protocol implements the newline-delimited JSON frame protocol.
//
// Every frame is one compact JSON object terminated by a single '\n'. There is no
// length prefix: the delimiter is the only framing signal, which is safe because
// JSON string escaping never leaves a raw newline inside an encoded value.
//
//	{"body":"Socket"}\n{"body":"Alice"}\n\n{"id":"h.1.3","error":"...","type":"Error"}\n
//	└───── frame 1 ───┘└──── frame 2 ───┘└┘└──────────────── frame 4 ────────────────┘
//	                                    heartbeat
//
// Bytes arrive in arbitrary chunks: one Read may return half a frame, or several
// frames at once. Reader keeps the undelimited tail across reads and only hands
// out complete frames.
package protocol

import (
	"bytes"
	"encoding/json"
	"io"
	"socketrpc/idgen"
	"socketrpc/message"

	"github.com/pkg/errors"
)

// Delimiter terminates every frame.
const Delimiter byte = '\n'

// defaultChunkSize is how many bytes a single Read asks for.
const defaultChunkSize = 4096

// ErrFrameTooLarge is returned when a frame grows past the configured maximum
// without a delimiter. The stream cannot be resynchronised after it.
var ErrFrameTooLarge = errors.New("frame too large")

// Reader turns a byte stream into a sequence of messages.
// It is not restartable: once Next returned an error, it keeps returning it.
type Reader struct {
	src      io.Reader
	buf      []byte // bytes received since the last delimiter
	chunk    []byte
	ids      *idgen.Generator
	maxFrame int
	err      error
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithIDGenerator stamps every yielded message with the next id from g,
// overwriting whatever id the peer sent.
func WithIDGenerator(g *idgen.Generator) ReaderOption {
	return func(r *Reader) {
		r.ids = g
	}
}

// WithMaxFrameSize bounds the size of a single frame. Zero means unbounded.
func WithMaxFrameSize(n int) ReaderOption {
	return func(r *Reader) {
		r.maxFrame = n
	}
}

// WithChunkSize sets how many bytes are requested from the stream per read.
func WithChunkSize(n int) ReaderOption {
	return func(r *Reader) {
		if n > 0 {
			r.chunk = make([]byte, n)
		}
	}
}

// NewReader creates a reader over src.
func NewReader(src io.Reader, opts ...ReaderOption) *Reader {
	r := &Reader{src: src}
	for _, opt := range opts {
		opt(r)
	}
	if r.chunk == nil {
		r.chunk = make([]byte, defaultChunkSize)
	}
	return r
}

// Next returns the next message, reading more of the stream as needed.
//
// It returns io.EOF once the stream has ended and every complete frame has been
// handed out; an undelimited tail left at that point is dropped. Malformed JSON
// never produces an error here, it produces an Error-variant message instead.
func (r *Reader) Next() (*message.Message, error) {
	for {
		if i := bytes.IndexByte(r.buf, Delimiter); i >= 0 {
			msg := Parse(r.buf[:i])
			r.buf = r.buf[i+1:]
			if r.ids != nil {
				msg.ID = r.ids.Next()
			}
			return msg, nil
		}
		if r.err != nil {
			return nil, r.err
		}
		if r.maxFrame > 0 && len(r.buf) > r.maxFrame {
			r.err = ErrFrameTooLarge
			return nil, r.err
		}

		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.buf = append(r.buf, r.chunk[:n]...)
		}
		if err != nil {
			// Complete frames already buffered are still delivered before the error.
			r.err = err
		}
	}
}

// Parse turns one raw frame (without its delimiter) into a message.
// An empty frame is a heartbeat. A frame that is not a JSON object yields an
// Error-variant message whose InvalidResponse is the raw text, verbatim.
func Parse(raw []byte) *message.Message {
	if len(raw) == 0 {
		return message.Heartbeat()
	}
	if string(bytes.TrimSpace(raw)) == "null" {
		return &message.Message{
			Error:           "json: cannot unmarshal null into Go value of type message.Message",
			Type:            "TypeError",
			InvalidResponse: string(raw),
		}
	}
	var msg message.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return &message.Message{
			Error:           err.Error(),
			Type:            parseErrorKind(err),
			InvalidResponse: string(raw),
		}
	}
	return &msg
}

func parseErrorKind(err error) string {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		return "SyntaxError"
	case errors.As(err, &typeErr):
		return "TypeError"
	default:
		return "Error"
	}
}

// Encode serializes msg and writes it to w followed by the delimiter, in a
// single Write so that a frame is never split between concurrent writers that
// share a lock around w.
func Encode(w io.Writer, msg *message.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode message")
	}
	data = append(data, Delimiter)
	if _, err := w.Write(data); err != nil {
		return err
	}
	return nil
}
