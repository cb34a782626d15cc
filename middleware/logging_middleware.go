package middleware

import (
	"context"
	"socketrpc/message"
	"time"

	log "github.com/sirupsen/logrus"
)

// LoggingMiddleware logs every request with its duration, and the failure if
// the response is an Error message.
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			start := time.Now()
			resp := next(ctx, req)
			entry := log.WithFields(log.Fields{
				"request_id": req.ID,
				"duration":   time.Since(start),
			})
			if resp != nil && resp.IsError() {
				entry.WithFields(log.Fields{"type": resp.Type, "error": resp.Error}).Warn("request failed")
				return resp
			}
			entry.Debug("request handled")
			return resp
		}
	}
}
