package grpctransport

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"capitalize/message"
	"capitalize/status"
)

// ErrChannelClosed is returned by calls on a Channel after Shutdown.
var ErrChannelClosed = status.New(status.CodeUnavailable, "grpctransport: channel closed")

// Channel is a gRPC client of the Fetch service. Like client.Channel it connects lazily
// and drains in-flight calls on Shutdown.
type Channel struct {
	cc *grpc.ClientConn

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup // Add only under mu while !closed
}

// Dial creates a Channel to target. No connection is made until the first call.
// The connection is plaintext; opts may override the credentials.
func Dial(target string, opts ...grpc.DialOption) (*Channel, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(payloadCodec{})),
	}
	cc, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Channel{cc: cc}, nil
}

// Invoke calls serviceMethod ("Fetch.Capitalize") as the gRPC method "/rpc.Fetch/Capitalize".
// Failures are *status.Error values carrying the gRPC code.
func (c *Channel) Invoke(ctx context.Context, serviceMethod string, req, resp *message.Payload) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	return fromGRPC(c.cc.Invoke(ctx, fullMethod(serviceMethod), req, resp))
}

// Shutdown refuses new calls, waits up to timeout for in-flight ones and closes the
// connection. Calls still running at the deadline are cancelled.
func (c *Channel) Shutdown(timeout time.Duration) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = ErrShutdownTimeout
	}
	c.cc.Close()
	return err
}
