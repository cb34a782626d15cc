// Package server implements the listening side: it accepts connections, reads
// requests off each one and, when a handler is installed, answers them.
//
// Request processing pipeline:
//
//	Accept conn → serveConn (one goroutine per connection)
//	  → for each request, in arrival order: middleware chain → Handler → write response
//
// Requests on one connection are handled strictly one after another: the next
// request is not dispatched until the previous response has been written.
// Different connections are served concurrently.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"socketrpc/codec"
	"socketrpc/idgen"
	"socketrpc/message"
	"socketrpc/middleware"
	"socketrpc/registry"
	"socketrpc/transport"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Handler answers one request body. The returned value becomes the response
// body; a returned error goes through the error codec.
type Handler func(ctx context.Context, body json.RawMessage) (any, error)

// State is the lifecycle state of a Service.
type State int32

const (
	StateStarting State = iota
	StateListening
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// registryTimeout bounds registry calls made during start and stop.
const registryTimeout = 3 * time.Second

// Service listens on one address and serves every connection it accepts.
type Service struct {
	id       string
	listener net.Listener
	handler  middleware.HandlerFunc // nil when no handler was given
	opts     options
	ids      *idgen.Generator
	state    atomic.Int32

	ctx    context.Context // cancelled by stop; parent of every request context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu    sync.Mutex
	conns map[string]*transport.Conn // live connections, so stop can end them
	wg    sync.WaitGroup             // connection goroutines

	stopOnce sync.Once
	stopped  chan struct{} // closed once the stop notification fired
	finished chan struct{} // closed once every goroutine returned
	instance registry.ServiceInstance
}

// Start binds address and begins accepting connections. handler may be nil,
// in which case requests are only reported through events.
//
// Cancelling ctx stops the service with ReasonShutdown, exactly like calling
// Stop.
func Start(ctx context.Context, address string, handler Handler, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = defaultID()
	}

	s := &Service{
		id:       o.id,
		opts:     o,
		ids:      idgen.New(o.id),
		conns:    make(map[string]*transport.Conn),
		stopped:  make(chan struct{}),
		finished: make(chan struct{}),
	}
	s.state.Store(int32(StateStarting))
	if handler != nil {
		mws := append(append([]middleware.Middleware(nil), o.middlewares...), middleware.RecoverMiddleware(o.trace))
		s.handler = middleware.Chain(mws...)(s.businessHandler(handler))
	}

	ln, err := transport.Listen(address)
	if err != nil {
		return nil, err
	}
	s.listener = ln

	if err := s.register(); err != nil {
		ln.Close()
		return nil, err
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.group = new(errgroup.Group)
	s.state.Store(int32(StateListening))
	s.emit(Event{Kind: EventStart, Addr: ln.Addr().String()})

	s.group.Go(s.acceptLoop)
	s.group.Go(func() error {
		select {
		case <-ctx.Done():
			s.Stop(ReasonShutdown)
		case <-s.stopped:
		}
		return nil
	})
	return s, nil
}

// defaultID derives a service id from the host name and the start time.
func defaultID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return host + "-" + strconv.FormatInt(time.Now().UnixMilli(), idgen.Radix)
}

// ID returns the service id.
func (s *Service) ID() string {
	return s.id
}

// Addr returns the listener address.
func (s *Service) Addr() net.Addr {
	return s.listener.Addr()
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	return State(s.state.Load())
}

// Connections returns the number of live connections.
func (s *Service) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Stop closes the listener, fires the stop notification and ends every live
// connection. Requests already read but not yet answered are dropped. Only the
// first call has an effect.
func (s *Service) Stop(reason string) {
	s.stop(reason, nil)
}

// WhenStopped is closed once the stop notification has fired.
func (s *Service) WhenStopped() <-chan struct{} {
	return s.stopped
}

// Wait blocks until the service has stopped and every connection goroutine
// has returned. It returns the listener failure that stopped the service, if
// any.
func (s *Service) Wait(ctx context.Context) error {
	select {
	case <-s.finished:
		return s.group.Wait()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) stop(reason string, cause error) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.state.Store(int32(StateStopping))
		conns := make([]*transport.Conn, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		if err := s.listener.Close(); err != nil && cause == nil {
			log.WithFields(log.Fields{"service": s.id, "error": err}).Debug("listener close failed")
		}
		s.deregister()

		s.emit(Event{Kind: EventStop, Reason: reason, Err: cause})
		close(s.stopped)
		s.cancel()

		for _, c := range conns {
			c.Close()
		}

		go func() {
			s.wg.Wait()
			s.group.Wait()
			s.state.Store(int32(StateStopped))
			close(s.finished)
		}()
	})
}

func (s *Service) acceptLoop() error {
	for {
		raw, err := s.listener.Accept()
		if err != nil {
			if s.State() >= StateStopping {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			err = errors.Wrap(err, "accept")
			s.stop(ReasonAcceptFailed, err)
			return err
		}
		s.serveConn(raw)
	}
}

// serveConn assigns the connection its id namespace and tracks it.
func (s *Service) serveConn(raw net.Conn) {
	requestIDs := s.ids.Child()
	conn := transport.NewConn(requestIDs.Prefix(), raw,
		transport.WithRequestIDs(requestIDs),
		transport.WithMaxFrameSize(s.opts.maxFrameSize),
	)

	s.mu.Lock()
	if s.State() >= StateStopping {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[conn.ID()] = conn
	s.wg.Add(1)
	s.mu.Unlock()

	s.emit(Event{Kind: EventConnection, ConnID: conn.ID(), Addr: raw.RemoteAddr().String()})
	go s.handleConn(conn)
}

func (s *Service) handleConn(conn *transport.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn.ID())
		s.mu.Unlock()

		var err error
		if cause := conn.Err(); cause != nil && !errors.Is(cause, io.EOF) && !errors.Is(cause, transport.ErrConnectionClosed) && s.State() < StateStopping {
			err = cause
		}
		s.emit(Event{Kind: EventDisconnect, ConnID: conn.ID(), Err: err})
	}()
	defer conn.Close()

	for {
		req, err := conn.Recv(s.ctx)
		if err != nil {
			return
		}
		if req.IsHeartbeat() {
			continue
		}
		s.emit(Event{Kind: EventMessage, ConnID: conn.ID(), Message: req})
		if s.handler == nil {
			continue
		}

		resp := s.dispatch(req)
		if err := conn.Write(resp); err != nil {
			log.WithFields(log.Fields{"conn": conn.ID(), "request_id": req.ID, "error": err}).Warn("write response failed")
			return
		}
	}
}

// dispatch answers one request. Framing errors are not handed to the handler;
// they go back to the peer as they are, so the peer learns which frame was bad.
func (s *Service) dispatch(req *message.Message) *message.Message {
	if req.IsError() {
		log.WithFields(log.Fields{"request_id": req.ID, "error": req.Error}).Warn("malformed request frame")
		return &message.Message{
			ID:              req.ID,
			Error:           req.Error,
			Type:            req.Type,
			InvalidResponse: req.InvalidResponse,
		}
	}

	ctx := WithRequestID(s.ctx, req.ID)
	resp := s.handler(ctx, req)
	if resp == nil {
		resp = codec.Encode(errors.New("handler produced no response"), s.opts.trace)
	}
	resp.ID = req.ID
	return resp
}

// businessHandler adapts a Handler to the middleware chain. The result is
// fully computed before it is encoded.
func (s *Service) businessHandler(h Handler) middleware.HandlerFunc {
	return func(ctx context.Context, req *message.Message) *message.Message {
		result, err := h(ctx, req.Body)
		if err != nil {
			return codec.Encode(err, s.opts.trace)
		}
		resp, err := message.Ok(req.ID, result)
		if err != nil {
			return codec.Encode(errors.Wrap(err, "encode result"), s.opts.trace)
		}
		return resp
	}
}

func (s *Service) register() error {
	if s.opts.registry == nil {
		return nil
	}
	addr := s.opts.advertise
	if addr == "" {
		addr = s.listener.Addr().String()
	}
	s.instance = registry.ServiceInstance{
		ID:      s.id,
		Addr:    addr,
		Weight:  s.opts.weight,
		Version: s.opts.version,
	}
	ttl := s.opts.ttl
	if ttl <= 0 {
		ttl = 10
	}

	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	if err := s.opts.registry.Register(ctx, s.opts.serviceName, s.instance, ttl); err != nil {
		return errors.Wrap(err, "register service")
	}
	return nil
}

// deregister removes the instance first, so callers stop dialing a service
// that is about to close.
func (s *Service) deregister() {
	if s.opts.registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	if err := s.opts.registry.Deregister(ctx, s.opts.serviceName, s.instance); err != nil {
		log.WithFields(log.Fields{"service": s.id, "error": err}).Warn("deregister failed")
	}
}

type requestIDKey struct{}

// WithRequestID returns a context carrying the id of the request being handled.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id of the request being handled, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
