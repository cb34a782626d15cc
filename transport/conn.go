// Package transport wraps one stream socket as a message connection.
//
// A Conn owns exactly one reader goroutine (recvLoop). Reads must be sequential
// to parse frame boundaries, so the loop is the only place the socket is read;
// parsed messages are handed to the consumer over an unbuffered channel:
//
//	socket ──bytes──► recvLoop (protocol.Reader) ──msg──► Recv(ctx) ──► dispatcher / caller
//
// Because the channel is unbuffered the loop parses at most one message ahead
// of the consumer, and messages leave in the order they arrived.
package transport

import (
	"context"
	"io"
	"net"
	"socketrpc/idgen"
	"socketrpc/message"
	"socketrpc/protocol"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrConnectionClosed is returned when operating on a finished connection.
var ErrConnectionClosed = errors.New("connection closed")

// Conn is one accepted or initiated socket.
type Conn struct {
	id     string
	raw    net.Conn
	reader *protocol.Reader
	opts   options

	writeMu sync.Mutex // one frame at a time; heartbeats share the socket with responses

	msgs      chan *message.Message
	done      chan struct{} // closed by Close
	ended     chan struct{} // closed when recvLoop returns
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error // why recvLoop stopped
}

type options struct {
	ids          *idgen.Generator
	maxFrameSize int
	heartbeat    time.Duration
}

// Option configures a Conn.
type Option func(*options)

// WithRequestIDs stamps every received message with an id from g.
// Only the accepting side sets it.
func WithRequestIDs(g *idgen.Generator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// WithMaxFrameSize bounds a single incoming frame.
func WithMaxFrameSize(n int) Option {
	return func(o *options) {
		o.maxFrameSize = n
	}
}

// WithHeartbeat sends an empty frame every interval while the connection is open.
func WithHeartbeat(interval time.Duration) Option {
	return func(o *options) {
		o.heartbeat = interval
	}
}

// NewConn wraps raw and starts its background goroutines:
//   - recvLoop: reads frames and hands parsed messages to Recv
//   - heartbeatLoop: only when WithHeartbeat is set
func NewConn(id string, raw net.Conn, opt ...Option) *Conn {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	readerOpts := []protocol.ReaderOption{protocol.WithMaxFrameSize(opts.maxFrameSize)}
	if opts.ids != nil {
		readerOpts = append(readerOpts, protocol.WithIDGenerator(opts.ids))
	}

	c := &Conn{
		id:     id,
		raw:    raw,
		reader: protocol.NewReader(raw, readerOpts...),
		opts:   opts,
		msgs:   make(chan *message.Message),
		done:   make(chan struct{}),
		ended:  make(chan struct{}),
	}
	go c.recvLoop()
	if opts.heartbeat > 0 {
		go c.heartbeatLoop(opts.heartbeat)
	}
	return c
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Write sends one message as a single frame.
func (c *Conn) Write(msg *message.Message) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.Encode(c.raw, msg)
}

// Recv waits for the next message. It returns ErrConnectionClosed once the
// stream has ended, or the context error if ctx is done first.
func (c *Conn) Recv(ctx context.Context) (*message.Message, error) {
	select {
	case msg, ok := <-c.msgs:
		if !ok {
			return nil, ErrConnectionClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ended is closed once the stream has ended and no more messages will arrive.
func (c *Conn) Ended() <-chan struct{} {
	return c.ended
}

// Err returns why the stream ended: io.EOF for an orderly end by the peer,
// nil while the connection is still open.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close ends the connection and waits for the reader goroutine to finish.
// Safe to call multiple times.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		err = c.raw.Close()
	})
	<-c.ended
	return err
}

// Shutdown half-closes the write side and waits for the peer to end the
// stream, then closes. If ctx expires first the connection is closed anyway.
func (c *Conn) Shutdown(ctx context.Context) error {
	if cw, ok := c.raw.(interface{ CloseWrite() error }); ok && !c.closed.Load() {
		c.writeMu.Lock()
		err := cw.CloseWrite()
		c.writeMu.Unlock()
		if err == nil {
			select {
			case <-c.ended:
			case <-ctx.Done():
			}
		}
	}
	return c.Close()
}

func (c *Conn) recvLoop() {
	defer close(c.ended)
	defer close(c.msgs)
	for {
		msg, err := c.reader.Next()
		if err != nil {
			c.setErr(err)
			if !errors.Is(err, io.EOF) && !c.closed.Load() {
				log.WithFields(log.Fields{"conn": c.id, "error": err}).Debug("connection read failed")
			}
			return
		}
		select {
		case c.msgs <- msg:
		case <-c.done:
			c.setErr(ErrConnectionClosed)
			return
		}
	}
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// heartbeatLoop writes an empty frame every interval until the connection
// ends. The peer's reader turns it into a heartbeat message.
func (c *Conn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ended:
			return
		case <-ticker.C:
			if err := c.writeHeartbeat(); err != nil {
				return
			}
		}
	}
}

func (c *Conn) writeHeartbeat() error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.raw.Write([]byte{protocol.Delimiter})
	return err
}
