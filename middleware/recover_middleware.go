package middleware

import (
	"context"
	"socketrpc/codec"
	"socketrpc/message"

	log "github.com/sirupsen/logrus"
)

// RecoverMiddleware turns a panic inside the handler into an Error response.
// Whatever value was panicked with goes through the error codec, so panicking
// with a string, an error or any other value each keep their shape on the wire.
func RecoverMiddleware(trace bool) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (resp *message.Message) {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{"request_id": req.ID, "panic": r}).Error("handler panicked")
					resp = codec.Encode(r, trace)
				}
			}()
			return next(ctx, req)
		}
	}
}
