package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"capitalize/message"
	"capitalize/status"
)

// RetryMiddleware re-issues calls that failed with CodeUnavailable, up to maxRetries
// times with exponential backoff starting at baseDelay. Other codes are returned as is.
// Waiting stops early when ctx is done.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			resp := next(ctx, req)
			for i := 0; i < maxRetries && resp.Code == status.CodeUnavailable; i++ {
				logger.Debug("retrying call",
					zap.Int("attempt", i+1),
					zap.String("method", req.ServiceMethod),
					zap.String("error", resp.Error))

				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return resp
				}
				resp = next(ctx, req)
			}
			return resp
		}
	}
}
