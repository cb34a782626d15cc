package middleware

import (
	"context"
	"socketrpc/codec"
	"socketrpc/message"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware rejects requests beyond r per second (token bucket with
// the given burst) with a RateLimitError. The limiter is shared by every
// connection of the service.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			if !limiter.Allow() {
				return codec.Encode(codec.NewError(KindRateLimited, "rate limit exceeded", nil), false)
			}
			return next(ctx, req)
		}
	}
}
