package server

import (
	"socketrpc/middleware"
	"socketrpc/registry"
)

type options struct {
	id           string
	trace        bool
	middlewares  []middleware.Middleware
	listener     func(Event)
	maxFrameSize int

	registry    registry.Registry
	serviceName string
	advertise   string
	ttl         int64
	weight      int
	version     string
}

// Option configures a Service.
type Option func(*options)

// WithID sets the service id instead of deriving it from the host name and
// start time.
func WithID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// WithTrace includes stack traces in error responses. Off by default so
// internals do not leak to callers.
func WithTrace(trace bool) Option {
	return func(o *options) {
		o.trace = trace
	}
}

// WithMiddleware appends middlewares around the handler, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) {
		o.middlewares = append(o.middlewares, mws...)
	}
}

// WithEventListener receives every lifecycle event. It is called
// synchronously from the goroutine that produced the event and must not block.
func WithEventListener(fn func(Event)) Option {
	return func(o *options) {
		o.listener = fn
	}
}

// WithMaxFrameSize bounds a single request frame. A connection sending a
// larger frame is closed.
func WithMaxFrameSize(n int) Option {
	return func(o *options) {
		o.maxFrameSize = n
	}
}

// WithRegistry publishes the service in reg under name while it is listening.
// advertise is the address callers should dial; empty means the listener
// address. ttl is the lease in seconds.
func WithRegistry(reg registry.Registry, name, advertise string, ttl int64) Option {
	return func(o *options) {
		o.registry = reg
		o.serviceName = name
		o.advertise = advertise
		o.ttl = ttl
	}
}

// WithInstanceMeta sets the weight and version published to the registry.
func WithInstanceMeta(weight int, version string) Option {
	return func(o *options) {
		o.weight = weight
		o.version = version
	}
}
