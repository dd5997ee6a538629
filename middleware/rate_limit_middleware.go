package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"capitalize/message"
	"capitalize/status"
)

// RateLimitMiddleware rejects calls beyond a token bucket of r calls per second with the
// given burst. Rejected calls fail with CodeResourceExhausted.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			if !limiter.Allow() {
				return &message.RPCMessage{
					ServiceMethod: req.ServiceMethod,
					Code:          status.CodeResourceExhausted,
					Error:         "rate limit exceeded",
				}
			}
			return next(ctx, req)
		}
	}
}
