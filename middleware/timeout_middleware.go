package middleware

import (
	"context"
	"socketrpc/codec"
	"socketrpc/message"
	"time"
)

// TimeOutMiddleware answers with a TimeoutError when the handler takes longer
// than timeout. The handler's context is cancelled at that point; a handler
// that ignores it keeps running in the background and its result is dropped.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Message, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return codec.Encode(codec.NewError(KindTimeout, "request timed out", map[string]string{"timeout": timeout.String()}), false)
			}
		}
	}
}
