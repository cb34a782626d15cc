package protocol

import (
	"bytes"
	"encoding/json"
	"io"
	"math/rand"
	"reflect"
	"socketrpc/idgen"
	"socketrpc/message"
	"sort"
	"strings"
	"testing"
	"testing/iotest"
)

// chunkReader hands out data in pre-cut pieces, one piece per Read.
type chunkReader struct {
	pieces [][]byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.pieces) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.pieces[0])
	if n < len(c.pieces[0]) {
		c.pieces[0] = c.pieces[0][n:]
	} else {
		c.pieces = c.pieces[1:]
	}
	return n, nil
}

func splitAt(data []byte, offsets []int) [][]byte {
	var pieces [][]byte
	prev := 0
	for _, off := range offsets {
		pieces = append(pieces, data[prev:off])
		prev = off
	}
	return append(pieces, data[prev:])
}

func readAll(t *testing.T, r *Reader) []*message.Message {
	t.Helper()
	var out []*message.Message
	for {
		msg, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, msg)
	}
}

func encodeAll(t *testing.T, msgs ...*message.Message) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range msgs {
		if err := Encode(&buf, m); err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
	}
	return buf.Bytes()
}

func TestEncodeDecode(t *testing.T) {
	bodies := []any{"Socket", float64(7), map[string]any{"a": []any{"x", nil}}, nil, "multi\nline"}

	var msgs []*message.Message
	for _, b := range bodies {
		m, err := message.Ok("", b)
		if err != nil {
			t.Fatal(err)
		}
		msgs = append(msgs, m)
	}
	data := encodeAll(t, msgs...)
	if bytes.Count(data, []byte{Delimiter}) != len(bodies) {
		t.Fatalf("expect exactly %d delimiters in %q", len(bodies), data)
	}

	got := readAll(t, NewReader(bytes.NewReader(data)))
	if len(got) != len(bodies) {
		t.Fatalf("expect %d messages, got %d", len(bodies), len(got))
	}
	for i, m := range got {
		var v any
		if err := m.Decode(&v); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(v, bodies[i]) {
			t.Errorf("message %d: got %#v, want %#v", i, v, bodies[i])
		}
	}
}

func TestEmptyFrameIsHeartbeat(t *testing.T) {
	got := readAll(t, NewReader(strings.NewReader("\n{\"body\":1}\n\n")))
	if len(got) != 3 {
		t.Fatalf("expect 3 messages, got %d", len(got))
	}
	if !got[0].IsHeartbeat() || !got[2].IsHeartbeat() {
		t.Fatalf("empty frames must yield heartbeats: %+v %+v", got[0], got[2])
	}
	if string(got[0].Body) != "null" {
		t.Fatalf("heartbeat body should be null, got %s", got[0].Body)
	}
	if got[1].IsHeartbeat() {
		t.Fatal("non-empty frame reported as heartbeat")
	}
}

func TestMalformedFrameDoesNotStopReader(t *testing.T) {
	raws := []string{
		`{"body":`,
		`not json at all`,
		`"just a string"`,
		`{"body": 1} trailing`,
		"   ",
		`{"body":"tab	inside"}x`,
		`null`,
		` null `,
	}
	var stream strings.Builder
	for _, raw := range raws {
		stream.WriteString(raw)
		stream.WriteByte(Delimiter)
		stream.WriteString(`{"body":"after"}`)
		stream.WriteByte(Delimiter)
	}

	got := readAll(t, NewReader(strings.NewReader(stream.String())))
	if len(got) != 2*len(raws) {
		t.Fatalf("expect %d messages, got %d", 2*len(raws), len(got))
	}
	for i, raw := range raws {
		bad := got[2*i]
		if !bad.IsError() {
			t.Fatalf("frame %q: expect error variant, got %+v", raw, bad)
		}
		if bad.InvalidResponse != raw {
			t.Fatalf("invalidResponse = %q, want %q", bad.InvalidResponse, raw)
		}
		if bad.Error == "" || bad.Type == "" {
			t.Fatalf("frame %q: parser failure not described: %+v", raw, bad)
		}

		good := got[2*i+1]
		var s string
		if err := good.Decode(&s); err != nil || s != "after" {
			t.Fatalf("reader did not continue after %q: %v %q", raw, err, s)
		}
	}
}

func TestParseErrorKinds(t *testing.T) {
	if m := Parse([]byte(`{"body":`)); m.Type != "SyntaxError" {
		t.Errorf("truncated object: type = %s", m.Type)
	}
	if m := Parse([]byte(`[1,2]`)); m.Type != "TypeError" {
		t.Errorf("array frame: type = %s", m.Type)
	}
	if m := Parse([]byte(`null`)); !m.IsError() || m.Type != "TypeError" || m.InvalidResponse != "null" {
		t.Errorf("null frame: got %+v", m)
	}
}

func TestChunkBoundaries(t *testing.T) {
	first, _ := message.Ok("", "Socket")
	second, _ := message.Ok("", map[string]any{"k": "v\nw", "n": float64(3)})
	data := encodeAll(t,
		first,
		message.Heartbeat(),
		second,
		&message.Message{Error: "boom", Type: "Error", Details: json.RawMessage(`{"x":1}`)},
	)
	data = append(data, []byte("{broken\n")...)

	want := readAll(t, NewReader(bytes.NewReader(data)))
	if len(want) != 5 {
		t.Fatalf("expect 5 messages, got %d", len(want))
	}

	// Every single split offset.
	for off := 0; off <= len(data); off++ {
		r := NewReader(&chunkReader{pieces: splitAt(data, []int{off})})
		if got := readAll(t, r); !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d changed the sequence", off)
		}
	}

	// One byte at a time.
	if got := readAll(t, NewReader(iotest.OneByteReader(bytes.NewReader(data)))); !reflect.DeepEqual(got, want) {
		t.Fatal("one-byte reads changed the sequence")
	}

	// Random multi-way splits.
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		cuts := rnd.Intn(8) + 1
		offsets := make([]int, 0, cuts)
		for j := 0; j < cuts; j++ {
			offsets = append(offsets, rnd.Intn(len(data)+1))
		}
		sort.Ints(offsets)
		r := NewReader(&chunkReader{pieces: splitAt(data, offsets)}, WithChunkSize(rnd.Intn(16)+1))
		if got := readAll(t, r); !reflect.DeepEqual(got, want) {
			t.Fatalf("random split %v changed the sequence", offsets)
		}
	}
}

func TestIDStamping(t *testing.T) {
	ids := idgen.New("svc.1")
	stream := "{\"id\":\"spoofed\",\"body\":1}\n\n{oops\n"
	got := readAll(t, NewReader(strings.NewReader(stream), WithIDGenerator(ids)))

	want := []string{"svc.1.1", "svc.1.2", "svc.1.3"}
	if len(got) != len(want) {
		t.Fatalf("expect %d messages, got %d", len(want), len(got))
	}
	for i, m := range got {
		if m.ID != want[i] {
			t.Errorf("message %d: id = %s, want %s", i, m.ID, want[i])
		}
	}
}

func TestPartialFrameDroppedAtEOF(t *testing.T) {
	r := NewReader(strings.NewReader("{\"body\":1}\n{\"body\":2}"))
	if _, err := r.Next(); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expect io.EOF for the unterminated tail, got %v", err)
	}
	// Not restartable.
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expect io.EOF again, got %v", err)
	}
}

func TestReadErrorPropagates(t *testing.T) {
	boom := iotest.ErrTimeout
	r := NewReader(iotest.TimeoutReader(strings.NewReader("{\"body\":1}\n")))
	if _, err := r.Next(); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if _, err := r.Next(); err != boom {
		t.Fatalf("expect %v, got %v", boom, err)
	}
}

func TestMaxFrameSize(t *testing.T) {
	long := strings.Repeat("x", 64)
	r := NewReader(strings.NewReader("{\"body\":1}\n\""+long+"\"\n"), WithMaxFrameSize(32), WithChunkSize(8))
	if _, err := r.Next(); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if _, err := r.Next(); err != ErrFrameTooLarge {
		t.Fatalf("expect ErrFrameTooLarge, got %v", err)
	}
}
