package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"capitalize/message"
	"capitalize/status"
)

// RecoverMiddleware turns a panic in the wrapped handler into a CodeInternal response,
// so one failing call cannot take the server down.
func RecoverMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) (resp *message.RPCMessage) {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("handler panic", zap.String("method", req.ServiceMethod), zap.Any("panic", p))
					resp = &message.RPCMessage{
						ServiceMethod: req.ServiceMethod,
						Code:          status.CodeInternal,
						Error:         fmt.Sprintf("panic: %v", p),
					}
				}
			}()
			return next(ctx, req)
		}
	}
}
