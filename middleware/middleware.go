// Package middleware wraps request handling with cross-cutting behaviour.
//
// A HandlerFunc turns one request message into one response message. The
// server builds the chain once at startup:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	A.before → B.before → C.before → handler → C.after → B.after → A.after
package middleware

import (
	"context"
	"socketrpc/message"
)

// HandlerFunc processes one request and returns its response.
// The response id is always overwritten with the request id by the server.
type HandlerFunc func(ctx context.Context, req *message.Message) *message.Message

// Middleware decorates a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares so the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Kinds of the failures produced by the middlewares in this package.
const (
	KindTimeout     = "TimeoutError"
	KindRateLimited = "RateLimitError"
)
