// Package client is the caller side of the framed transport.
//
// A Channel owns one multiplexed connection to a server, dialed lazily on first use and
// redialed after it breaks. FetchClient is the typed stub of the Fetch service on top of
// any Invoker (a Channel here, or a gRPC channel from grpctransport).
package client

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"capitalize/codec"
	"capitalize/loadbalance"
	"capitalize/message"
	"capitalize/middleware"
	"capitalize/registry"
	"capitalize/status"
	"capitalize/transport"
)

const (
	// DefaultShutdownGrace is how long Shutdown lets in-flight calls finish.
	DefaultShutdownGrace = 4 * time.Second
	// DefaultDialTimeout bounds establishing the TCP connection.
	DefaultDialTimeout = 3 * time.Second
)

// ErrChannelClosed is returned by calls on a Channel after Shutdown.
var ErrChannelClosed = status.New(status.CodeUnavailable, "client: channel closed")

// Invoker performs one unary call: req is sent to serviceMethod and the reply is decoded
// into resp.
type Invoker interface {
	Invoke(ctx context.Context, serviceMethod string, req, resp *message.Payload) error
}

// Channel is a lazily connected client of one server.
type Channel struct {
	resolve     func(ctx context.Context) (string, error)
	codec       codec.CodecType
	callTimeout time.Duration
	dialTimeout time.Duration
	maxRetries  int
	retryDelay  time.Duration
	logger      *zap.Logger
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	mu        sync.Mutex
	transport *transport.ClientTransport
	addr      string // address transport is connected to
	closed    bool
	stopWatch context.CancelFunc
}

type Option func(*Channel)

// WithCodec selects the envelope codec. The default is binary.
func WithCodec(t codec.CodecType) Option {
	return func(c *Channel) { c.codec = t }
}

// WithCallTimeout bounds every call, retries included. Zero means no bound.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Channel) { c.callTimeout = d }
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Channel) { c.dialTimeout = d }
}

// WithRetry retries calls that failed with CodeUnavailable, such as a broken connection.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Channel) {
		c.maxRetries = maxRetries
		c.retryDelay = baseDelay
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// WithMiddleware adds client middlewares, applied in order around every attempt.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Channel) { c.middlewares = append(c.middlewares, mws...) }
}

// Dial returns a Channel to host:port. It never blocks: the connection is made on the
// first call, or by Connect.
func Dial(host string, port int, opts ...Option) *Channel {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return newChannel(func(context.Context) (string, error) { return addr, nil }, opts)
}

// DialRegistry returns a Channel whose server is picked by bal among the instances of
// serviceName found in reg, each time a connection is needed. The channel watches the
// service until Shutdown: when the connected server leaves the instance list, its
// connection is drained and the next call picks another instance.
func DialRegistry(reg registry.Registry, bal loadbalance.Balancer, serviceName string, opts ...Option) *Channel {
	c := newChannel(func(ctx context.Context) (string, error) {
		instances, err := reg.Discover(ctx, serviceName)
		if err != nil {
			return "", err
		}
		inst, err := bal.Pick(instances)
		if err != nil {
			return "", err
		}
		return inst.Addr, nil
	}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	c.stopWatch = cancel
	go c.watch(reg.Watch(ctx, serviceName))
	return c
}

// watch drops the current connection once its address is no longer registered.
func (c *Channel) watch(updates <-chan []registry.ServiceInstance) {
	for instances := range updates {
		c.mu.Lock()
		t, addr := c.transport, c.addr
		if t == nil || registered(instances, addr) {
			c.mu.Unlock()
			continue
		}
		c.transport, c.addr = nil, ""
		c.mu.Unlock()

		c.logger.Info("server deregistered, draining connection", zap.String("addr", addr))
		go func() {
			if err := t.Shutdown(DefaultShutdownGrace); err != nil {
				c.logger.Warn("drain deregistered server", zap.String("addr", addr), zap.Error(err))
			}
		}()
	}
}

func registered(instances []registry.ServiceInstance, addr string) bool {
	for _, inst := range instances {
		if inst.Addr == addr {
			return true
		}
	}
	return false
}

func newChannel(resolve func(ctx context.Context) (string, error), opts []Option) *Channel {
	c := &Channel{
		resolve:     resolve,
		codec:       codec.CodecTypeBinary,
		dialTimeout: DefaultDialTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// timeout → user middlewares → retry → roundTrip
	var chain []middleware.Middleware
	if c.callTimeout > 0 {
		chain = append(chain, middleware.TimeOutMiddleware(c.callTimeout))
	}
	chain = append(chain, c.middlewares...)
	if c.maxRetries > 0 {
		chain = append(chain, middleware.RetryMiddleware(c.maxRetries, c.retryDelay, c.logger))
	}
	c.handler = middleware.Chain(chain...)(c.roundTrip)
	return c
}

// Connect establishes the connection now instead of on the first call. It is a no-op if
// the channel is already connected.
func (c *Channel) Connect(ctx context.Context) error {
	_, err := c.getTransport(ctx)
	return err
}

// Invoke sends req to serviceMethod and decodes the reply into resp. Every failure is a
// *status.Error: errors.Is(err, status.ErrTransport) holds for all of them.
func (c *Channel) Invoke(ctx context.Context, serviceMethod string, req, resp *message.Payload) error {
	out := c.handler(ctx, &message.RPCMessage{
		ServiceMethod: serviceMethod,
		Payload:       req.MarshalProto(),
	})
	if err := out.Err(); err != nil {
		return err
	}
	if err := resp.UnmarshalProto(out.Payload); err != nil {
		return status.Errorf(status.CodeInternal, "client: malformed response: %v", err)
	}
	return nil
}

// roundTrip is one attempt over the current transport.
func (c *Channel) roundTrip(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	t, err := c.getTransport(ctx)
	if err != nil {
		return message.ErrorMessage(req.ServiceMethod, err)
	}

	seq, ch, err := t.Send(req)
	if err != nil {
		return message.ErrorMessage(req.ServiceMethod, err)
	}

	select {
	case resp := <-ch:
		return resp
	case <-ctx.Done():
		t.Cancel(seq)
		return message.ErrorMessage(req.ServiceMethod, contextStatus(ctx.Err()))
	}
}

// getTransport returns the live transport, dialing a new one if there is none or the
// previous one broke. The dial happens outside the lock so Shutdown never waits on it.
func (c *Channel) getTransport(ctx context.Context) (*transport.ClientTransport, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	if c.transport != nil && c.transport.Err() == nil {
		t := c.transport
		c.mu.Unlock()
		return t, nil
	}
	c.mu.Unlock()

	addr, err := c.resolve(ctx)
	if err != nil {
		return nil, status.Errorf(status.CodeUnavailable, "client: resolve: %v", err)
	}
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, status.Errorf(status.CodeUnavailable, "client: dial %s: %v", addr, err)
	}
	t := transport.NewClientTransport(conn, c.codec, c.logger)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		t.Close()
		return nil, ErrChannelClosed
	case c.transport != nil && c.transport.Err() == nil:
		// Lost a dial race; keep the transport already in use.
		t.Close()
		return c.transport, nil
	}
	c.logger.Debug("connected", zap.String("addr", addr))
	c.transport, c.addr = t, addr
	return t, nil
}

// Shutdown refuses new calls, waits up to timeout for in-flight calls and closes the
// connection. It returns transport.ErrShutdownTimeout if calls were still pending at the
// deadline; those calls fail with CodeUnavailable.
func (c *Channel) Shutdown(timeout time.Duration) error {
	c.mu.Lock()
	c.closed = true
	t := c.transport
	if c.stopWatch != nil {
		c.stopWatch()
	}
	c.mu.Unlock()

	if t == nil {
		return nil
	}
	return t.Shutdown(timeout)
}

func contextStatus(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return status.New(status.CodeDeadlineExceeded, err.Error())
	}
	return status.New(status.CodeCanceled, err.Error())
}

var _ Invoker = (*Channel)(nil)
