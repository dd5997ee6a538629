// Package server implements the framed RPC server: method registration, middleware chain,
// parallel request processing, discovery registration and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Codec.Decode → Middleware Chain → dispatch (UnaryHandler) → Codec.Encode → write response
package server

import (
	"context"
	"errors"
	"maps"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"capitalize/codec"
	"capitalize/message"
	"capitalize/middleware"
	"capitalize/protocol"
	"capitalize/registry"
	"capitalize/status"
)

// DefaultRegistryTTL is the discovery lease in seconds; it is renewed while the server runs.
const DefaultRegistryTTL = 10

var (
	// ErrServerClosed is returned by Serve and ServeListener after Shutdown.
	ErrServerClosed = errors.New("server: closed")
	// ErrShutdownTimeout is returned by Shutdown when in-flight requests outlived the grace period.
	ErrShutdownTimeout = errors.New("server: timeout waiting for in-flight requests")
	// ErrAlreadyServing is returned by a second Serve or ServeListener on the same Server.
	ErrAlreadyServing = errors.New("server: already serving")
)

// UnaryHandler serves one method: one request payload in, one response payload or error out.
type UnaryHandler func(ctx context.Context, req *message.Payload) (*message.Payload, error)

// Server is the framed RPC server.
type Server struct {
	handlers    map[string]UnaryHandler // "Fetch.Capitalize" → handler
	middlewares []middleware.Middleware // applied in order
	handler     middleware.HandlerFunc  // middleware(middleware(...(dispatch))), built by Serve
	buildOnce   sync.Once
	logger      *zap.Logger

	registry      registry.Registry // nil if not using discovery
	advertiseAddr string            // routable address registered in discovery, e.g. "10.0.0.5:9876"
	ttl           int64

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	inflight sync.WaitGroup // Add only under mu while !shutdown
	shutdown bool
	ready    chan struct{} // closed once the listener is set
	ctx      context.Context
	cancel   context.CancelFunc
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRegistry registers every handled service under advertiseAddr when serving starts and
// deregisters it on Shutdown. advertiseAddr differs from the listen address: ":9876" is not
// routable from other hosts.
func WithRegistry(reg registry.Registry, advertiseAddr string, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.advertiseAddr = advertiseAddr
		s.ttl = ttl
	}
}

// NewServer creates a server with no methods.
func NewServer(opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		handlers: make(map[string]UnaryHandler),
		logger:   zap.NewNop(),
		ttl:      DefaultRegistryTTL,
		conns:    make(map[net.Conn]struct{}),
		ready:    make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers h for serviceMethod ("Service.Method"). It must be called before Serve.
func (s *Server) Handle(serviceMethod string, h UnaryHandler) {
	s.handlers[serviceMethod] = h
}

// Methods returns the registered "Service.Method" names, sorted.
func (s *Server) Methods() []string {
	return slices.Sorted(maps.Keys(s.handlers))
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Serve listens on the given address and serves until Shutdown.
func (s *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(listener)
}

// ServeListener serves connections accepted on listener until Shutdown, which makes it
// return ErrServerClosed.
func (s *Server) ServeListener(listener net.Listener) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		listener.Close()
		return ErrServerClosed
	}
	if s.listener != nil {
		s.mu.Unlock()
		listener.Close()
		return ErrAlreadyServing
	}
	s.listener = listener
	close(s.ready)
	s.mu.Unlock()

	// Build the chain once, not per request. Recovery sits innermost so the other
	// middlewares observe a panic as a CodeInternal response.
	s.buildOnce.Do(func() {
		chain := append(s.middlewares[:len(s.middlewares):len(s.middlewares)], middleware.RecoverMiddleware(s.logger))
		s.handler = middleware.Chain(chain...)(s.dispatch)
	})
	s.logger.Info("listening", zap.Stringer("addr", listener.Addr()))

	if s.registry != nil {
		for serviceName := range s.services() {
			inst := registry.ServiceInstance{Addr: s.advertiseAddr, Weight: 1}
			if err := s.registry.Register(s.ctx, serviceName, inst, s.ttl); err != nil {
				s.logger.Error("register service", zap.String("service", serviceName), zap.Error(err))
			}
		}
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closing() {
				return ErrServerClosed
			}
			return err
		}
		if !s.track(conn) {
			conn.Close()
			return ErrServerClosed
		}
		go s.handleConn(conn)
	}
}

// Addr blocks until the server listens and returns the listener address.
// It must not be called on a server that is shut down before serving.
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.listener.Addr()
}

func (s *Server) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// services returns the service part of every handled "Service.Method".
func (s *Server) services() map[string]struct{} {
	names := make(map[string]struct{})
	for serviceMethod := range s.handlers {
		if name, _, ok := splitServiceMethod(serviceMethod); ok {
			names[name] = struct{}{}
		}
	}
	return names
}

// handleConn processes a single TCP connection.
// A single goroutine reads frames (frame boundaries need sequential reads), each request
// is processed on its own goroutine. The per-connection write mutex keeps concurrent
// response frames from interleaving.
func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		s.untrack(conn)
		conn.Close()
	}()
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !s.closing() {
				s.logger.Debug("connection closed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			}
			return
		}

		// Heartbeat frames only keep the connection alive.
		if header.MsgType != protocol.MsgTypeRequest {
			continue
		}

		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			s.reply(conn, writeMu, header, &message.RPCMessage{
				Code:  status.CodeUnavailable,
				Error: "server is shutting down",
			})
			continue
		}
		s.inflight.Add(1)
		s.mu.Unlock()

		go s.handleRequest(header, body, conn, writeMu)
	}
}

// handleRequest processes a single RPC request: decode → middleware → dispatch → encode → write.
func (s *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	defer s.inflight.Done()

	msg := &message.RPCMessage{}
	var resp *message.RPCMessage
	if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, msg); err != nil {
		resp = &message.RPCMessage{Code: status.CodeInvalidArgument, Error: "malformed request: " + err.Error()}
	} else {
		resp = s.handler(s.ctx, msg)
	}
	s.reply(conn, writeMu, header, resp)
}

// reply writes resp with the request's sequence number, which is how the client matches it.
func (s *Server) reply(conn net.Conn, writeMu *sync.Mutex, header *protocol.Header, resp *message.RPCMessage) {
	result, err := codec.GetCodec(codec.CodecType(header.CodecType)).Encode(resp)
	if err != nil {
		s.logger.Error("encode response", zap.String("method", resp.ServiceMethod), zap.Error(err))
		return
	}

	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.Encode(conn, &replyHeader, result); err != nil {
		s.logger.Debug("write response", zap.Uint32("seq", header.Seq), zap.Error(err))
	}
}

// Shutdown performs graceful shutdown:
//  1. Deregister from discovery, so clients stop picking this server
//  2. Close the listener (no new connections)
//  3. Wait up to timeout for in-flight requests; new requests on open connections are
//     answered with CodeUnavailable meanwhile
//  4. Close every connection
//
// It is safe to call before Serve and from any goroutine.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	listener := s.listener
	s.mu.Unlock()

	if s.registry != nil && listener != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		for serviceName := range s.services() {
			if err := s.registry.Deregister(ctx, serviceName, s.advertiseAddr); err != nil {
				s.logger.Warn("deregister service", zap.String("service", serviceName), zap.Error(err))
			}
		}
		cancel()
	}

	if listener != nil {
		listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = ErrShutdownTimeout
	}

	// Handlers still running past the deadline see a cancelled context.
	s.cancel()
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.logger.Info("server stopped", zap.Error(err))
	return err
}

// dispatch is the innermost handler: it routes the request to the registered method and
// converts the method's result into a response envelope.
func (s *Server) dispatch(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	if _, _, ok := splitServiceMethod(req.ServiceMethod); !ok {
		return &message.RPCMessage{
			ServiceMethod: req.ServiceMethod,
			Code:          status.CodeInvalidArgument,
			Error:         "invalid service method format",
		}
	}
	h, ok := s.handlers[req.ServiceMethod]
	if !ok {
		return &message.RPCMessage{
			ServiceMethod: req.ServiceMethod,
			Code:          status.CodeUnimplemented,
			Error:         "unknown method " + req.ServiceMethod,
		}
	}

	in := &message.Payload{}
	if err := in.UnmarshalProto(req.Payload); err != nil {
		return &message.RPCMessage{
			ServiceMethod: req.ServiceMethod,
			Code:          status.CodeInvalidArgument,
			Error:         "malformed payload: " + err.Error(),
		}
	}

	out, err := h(ctx, in)
	if err != nil {
		return message.ErrorMessage(req.ServiceMethod, err)
	}
	if out == nil {
		out = &message.Payload{}
	}
	return &message.RPCMessage{
		ServiceMethod: req.ServiceMethod,
		Payload:       out.MarshalProto(),
	}
}

func splitServiceMethod(serviceMethod string) (service, method string, ok bool) {
	service, method, ok = strings.Cut(serviceMethod, ".")
	return service, method, ok && service != "" && method != ""
}
