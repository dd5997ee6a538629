package middleware

import (
	"context"
	"time"

	"capitalize/message"
	"capitalize/status"
)

// TimeOutMiddleware bounds each call to timeout. The wrapped handler sees a context with
// the deadline; if it does not return in time the call fails with CodeDeadlineExceeded
// and the late result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RPCMessage, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return &message.RPCMessage{
					ServiceMethod: req.ServiceMethod,
					Code:          status.CodeDeadlineExceeded,
					Error:         "request timed out",
				}
			}
		}
	}
}
