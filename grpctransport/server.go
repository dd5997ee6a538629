package grpctransport

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"capitalize/message"
	"capitalize/middleware"
)

// ErrShutdownTimeout is returned by Shutdown when in-flight RPCs were cut off.
var ErrShutdownTimeout = errors.New("grpctransport: graceful stop timed out")

// Server serves the Fetch service over gRPC.
type Server struct {
	grpc   *grpc.Server
	logger *zap.Logger
}

type ServerOption func(*serverOptions)

type serverOptions struct {
	logger      *zap.Logger
	middlewares []middleware.Middleware
}

func WithLogger(logger *zap.Logger) ServerOption {
	return func(o *serverOptions) { o.logger = logger }
}

// WithMiddleware runs the framed-transport middlewares around every gRPC call, so logging,
// metrics and rate limiting behave the same on both transports.
func WithMiddleware(mws ...middleware.Middleware) ServerOption {
	return func(o *serverOptions) { o.middlewares = append(o.middlewares, mws...) }
}

// NewServer creates a gRPC server with fetch registered as rpc.Fetch.
func NewServer(fetch FetchServer, opts ...ServerOption) *Server {
	o := serverOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	s := grpc.NewServer(
		grpc.ForceServerCodec(payloadCodec{}),
		grpc.ChainUnaryInterceptor(middlewareInterceptor(o.logger, o.middlewares)),
	)
	RegisterFetchServer(s, fetch)
	return &Server{grpc: s, logger: o.logger}
}

// Serve accepts connections on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("grpc listening", zap.Stringer("addr", lis.Addr()))
	return s.grpc.Serve(lis)
}

// Shutdown stops accepting RPCs and waits up to timeout for in-flight ones, then
// closes every connection.
func (s *Server) Shutdown(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		s.grpc.Stop()
		<-done
		return ErrShutdownTimeout
	}
}

// middlewareInterceptor adapts a middleware chain into a unary interceptor. The chain sees
// the call as an envelope carrying the protobuf form of the request. Recovery is innermost,
// so a panicking handler becomes codes.Internal.
func middlewareInterceptor(logger *zap.Logger, mws []middleware.Middleware) grpc.UnaryServerInterceptor {
	chain := append(mws[:len(mws):len(mws)], middleware.RecoverMiddleware(logger))

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		in, ok := req.(*message.Payload)
		if !ok {
			return handler(ctx, req)
		}

		method := serviceMethod(info.FullMethod)
		terminal := func(ctx context.Context, m *message.RPCMessage) *message.RPCMessage {
			out, err := handler(ctx, in)
			if err != nil {
				return message.ErrorMessage(m.ServiceMethod, fromGRPC(err))
			}
			p, _ := out.(*message.Payload)
			return &message.RPCMessage{ServiceMethod: m.ServiceMethod, Payload: p.MarshalProto()}
		}

		resp := middleware.Chain(chain...)(terminal)(ctx, &message.RPCMessage{
			ServiceMethod: method,
			Payload:       in.MarshalProto(),
		})
		if err := resp.Err(); err != nil {
			return nil, toGRPC(err)
		}
		out := &message.Payload{}
		if err := out.UnmarshalProto(resp.Payload); err != nil {
			return nil, toGRPC(err)
		}
		return out, nil
	}
}
