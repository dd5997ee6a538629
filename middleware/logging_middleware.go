package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"capitalize/message"
	"capitalize/status"
)

// maxLoggedMethod caps the method name written to logs; it comes from the peer.
const maxLoggedMethod = 128

// LoggingMiddleware logs the method, status code and duration of every call.
// Failed calls are logged at warn level.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)

			fields := []zap.Field{
				zap.String("method", truncate(req.ServiceMethod, maxLoggedMethod)),
				zap.Stringer("code", resp.Code),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Code != status.CodeOK {
				logger.Warn("rpc failed", append(fields, zap.String("error", resp.Error))...)
			} else {
				logger.Debug("rpc", fields...)
			}
			return resp
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
