// Package client is the calling side: it owns one connection and issues
// requests over it one at a time.
//
// A call writes one request frame and waits for exactly one response frame.
// There is no correlation table; the n-th response answers the n-th request,
// so calls on one Client are serialized and never overlap.
package client

import (
	"context"
	"encoding/json"
	mathrand "math/rand"
	"socketrpc/codec"
	"socketrpc/loadbalance"
	"socketrpc/message"
	"socketrpc/registry"
	"socketrpc/transport"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// defaultCloseTimeout bounds how long Close waits for the peer to finish the
// stream.
const defaultCloseTimeout = 5 * time.Second

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// newConnID names a client connection. The service numbers its own side, so
// this only needs to be unique within the process logs.
func newConnID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return "client-" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// CallFunc sends one request body and returns the response body.
type CallFunc func(ctx context.Context, body any) (json.RawMessage, error)

// Driver issues any number of sequential calls and returns its own result.
type Driver[T any] func(ctx context.Context, call CallFunc) (T, error)

type options struct {
	callTimeout  time.Duration
	heartbeat    time.Duration
	closeTimeout time.Duration
}

// Option configures a Client.
type Option func(*options)

// WithCallTimeout bounds every call. Zero, the default, waits forever.
// A call that times out closes the connection: the late response would
// otherwise be taken as the answer to the next request.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) {
		o.callTimeout = d
	}
}

// WithHeartbeat sends an empty frame every interval.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) {
		o.heartbeat = d
	}
}

// WithCloseTimeout bounds how long Close waits for the stream to end.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) {
		o.closeTimeout = d
	}
}

// Client is one connection to a service.
type Client struct {
	conn *transport.Conn
	opts options
	mu   sync.Mutex // one outstanding call at a time
}

// Dial connects to address.
func Dial(ctx context.Context, address string, opts ...Option) (*Client, error) {
	o := options{closeTimeout: defaultCloseTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	raw, err := transport.Dial(ctx, address)
	if err != nil {
		return nil, err
	}

	var connOpts []transport.Option
	if o.heartbeat > 0 {
		connOpts = append(connOpts, transport.WithHeartbeat(o.heartbeat))
	}
	c := &Client{
		conn: transport.NewConn(newConnID(), raw, connOpts...),
		opts: o,
	}
	log.WithFields(log.Fields{"conn": c.conn.ID(), "addr": address}).Debug("connected")
	return c, nil
}

// ID returns the connection id used in logs.
func (c *Client) ID() string {
	return c.conn.ID()
}

// Call sends body and waits for the matching response. An Error response is
// returned as a *codec.RemoteError.
func (c *Client) Call(ctx context.Context, body any) (json.RawMessage, error) {
	raw, err := message.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opts.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.callTimeout)
		defer cancel()
	}

	if err := c.conn.Write(message.Request(raw)); err != nil {
		c.conn.Close()
		return nil, errors.Wrap(err, "write request")
	}

	for {
		resp, err := c.conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.WithFields(log.Fields{"conn": c.conn.ID(), "error": err}).Warn("call abandoned, closing connection")
				c.conn.Close()
			}
			return nil, err
		}
		if resp.IsHeartbeat() {
			continue
		}
		if err := codec.Decode(resp); err != nil {
			return nil, err
		}
		if len(resp.Body) == 0 {
			return json.RawMessage("null"), nil
		}
		return resp.Body, nil
	}
}

// Done is closed once the connection has ended, whichever side ended it.
func (c *Client) Done() <-chan struct{} {
	return c.conn.Ended()
}

// Close ends the request stream and waits for the service to close its side.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.closeTimeout)
	defer cancel()
	return c.conn.Shutdown(ctx)
}

// Invoke calls and decodes the response body into T.
func Invoke[T any](ctx context.Context, call CallFunc, body any) (T, error) {
	var out T
	raw, err := call(ctx, body)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.Wrap(err, "decode response")
	}
	return out, nil
}

// Run connects to address, hands the call function to driver and closes the
// connection once driver returns. ok is false when no connection could be
// made; that failure is logged, not returned.
func Run[T any](ctx context.Context, address string, driver Driver[T], opts ...Option) (result T, ok bool, err error) {
	c, err := Dial(ctx, address, opts...)
	if err != nil {
		log.WithFields(log.Fields{"addr": address, "error": err}).Error("connect failed")
		return result, false, nil
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			log.WithFields(log.Fields{"conn": c.ID(), "error": cerr}).Debug("close failed")
		}
	}()

	result, err = driver(ctx, c.Call)
	return result, true, err
}

// Send fires a single request and returns its response body.
func Send(ctx context.Context, address string, payload any, opts ...Option) (json.RawMessage, bool, error) {
	return Run[json.RawMessage](ctx, address, func(ctx context.Context, call CallFunc) (json.RawMessage, error) {
		return call(ctx, payload)
	}, opts...)
}

// Discover picks the address of one instance of name. key is only used by
// balancers that route by key.
func Discover(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, name, key string) (string, error) {
	instances, err := reg.Discover(ctx, name)
	if err != nil {
		return "", errors.Wrapf(err, "discover %s", name)
	}
	inst, err := bal.Pick(instances, key)
	if err != nil {
		return "", errors.Wrapf(err, "pick %s", name)
	}
	return inst.Addr, nil
}
