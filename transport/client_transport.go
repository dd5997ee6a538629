// Package transport implements the client-side transport layer with multiplexing and heartbeat.
//
// ClientTransport enables multiple concurrent RPC calls over a single TCP connection.
// Each request gets a unique sequence ID, and a background goroutine (recvLoop)
// continuously reads responses and routes them to the correct caller via pending channels.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] chan ← response → goroutine-2 wakes up
//
// Once the connection breaks or the transport is closed, every pending caller receives a
// CodeUnavailable response and later Sends fail immediately.
package transport

import (
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"capitalize/codec"
	"capitalize/message"
	"capitalize/protocol"
	"capitalize/status"
)

// HeartbeatInterval is how often a transport probes the server.
const HeartbeatInterval = 30 * time.Second

var (
	// ErrClosed is returned by Send after Close or Shutdown.
	ErrClosed = status.New(status.CodeUnavailable, "transport: connection closed")
	// ErrShutdownTimeout is returned by Shutdown when in-flight calls outlived the grace period.
	ErrShutdownTimeout = errors.New("transport: shutdown grace period expired")
)

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn   net.Conn
	codec  codec.CodecType
	logger *zap.Logger

	// sending serializes frame writes: one conn is shared, and interleaved writes
	// (req A's header + req B's body) would corrupt the stream.
	sending sync.Mutex

	mu      sync.Mutex
	seq     uint32
	pending map[uint32]chan *message.RPCMessage
	err     error         // first failure; non-nil means no new calls are accepted
	drained chan struct{} // closed when pending empties during Shutdown

	done      chan struct{}
	closeOnce sync.Once
}

// NewClientTransport creates a transport for the given connection and starts two background goroutines:
//   - recvLoop: continuously reads responses from the connection and dispatches to pending callers
//   - heartbeatLoop: sends periodic heartbeat frames to detect dead connections
func NewClientTransport(conn net.Conn, cdc codec.CodecType, logger *zap.Logger) *ClientTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &ClientTransport{
		conn:    conn,
		codec:   cdc,
		logger:  logger.With(zap.Stringer("remote", conn.RemoteAddr())),
		pending: make(map[uint32]chan *message.RPCMessage),
		done:    make(chan struct{}),
	}
	go t.recvLoop()
	go t.heartbeatLoop(HeartbeatInterval)
	return t
}

// Send encodes msg and writes it as a request frame.
// It returns the sequence number and a channel that receives exactly one response.
func (t *ClientTransport) Send(msg *message.RPCMessage) (uint32, <-chan *message.RPCMessage, error) {
	body, err := codec.GetCodec(t.codec).Encode(msg)
	if err != nil {
		return 0, nil, status.Errorf(status.CodeInternal, "transport: encode request: %v", err)
	}

	// Register the response channel before writing, so recvLoop can never see
	// a response for an unknown sequence number.
	t.mu.Lock()
	if t.err != nil {
		err := t.err
		t.mu.Unlock()
		return 0, nil, err
	}
	t.seq++
	seq := t.seq
	respChan := make(chan *message.RPCMessage, 1)
	t.pending[seq] = respChan
	t.mu.Unlock()

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
	}
	t.sending.Lock()
	err = protocol.Encode(t.conn, &header, body)
	t.sending.Unlock()
	if err != nil {
		t.Cancel(seq)
		err = status.Errorf(status.CodeUnavailable, "transport: write: %v", err)
		t.fail(err)
		return 0, nil, err
	}
	return seq, respChan, nil
}

// Cancel forgets a pending call whose caller stopped waiting. A late response is dropped.
func (t *ClientTransport) Cancel(seq uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, seq)
	t.checkDrainedLocked()
}

// Shutdown stops accepting calls and waits up to timeout for in-flight calls to be
// answered, then closes the connection. Calls still pending at the deadline fail with
// CodeUnavailable and Shutdown returns ErrShutdownTimeout.
func (t *ClientTransport) Shutdown(timeout time.Duration) error {
	t.mu.Lock()
	if t.err == nil {
		t.err = ErrClosed
	}
	if t.drained == nil {
		t.drained = make(chan struct{})
		t.checkDrainedLocked()
	}
	drained := t.drained
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case <-drained:
	case <-t.done:
	case <-timer.C:
		err = ErrShutdownTimeout
	}
	t.Close()
	return err
}

// Close closes the connection immediately, failing every pending call.
func (t *ClientTransport) Close() error {
	t.fail(ErrClosed)
	return nil
}

// Done is closed once the connection is closed, for whatever reason.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.done
}

// Err reports why the transport stopped accepting calls, nil while it is usable.
func (t *ClientTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Conn returns the underlying TCP connection.
func (t *ClientTransport) Conn() net.Conn {
	return t.conn
}

// recvLoop runs in a dedicated goroutine, continuously reading responses from the connection.
// Responses can arrive in any order; the sequence number routes each one to its caller.
// TCP is a byte stream, so a single reader is needed to keep frame boundaries intact.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.fail(status.Errorf(status.CodeUnavailable, "transport: read: %v", err))
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		resp := &message.RPCMessage{}
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, resp); err != nil {
			resp = &message.RPCMessage{
				Code:  status.CodeInternal,
				Error: "transport: malformed response: " + err.Error(),
			}
		}

		t.mu.Lock()
		ch, ok := t.pending[header.Seq]
		delete(t.pending, header.Seq)
		t.checkDrainedLocked()
		t.mu.Unlock()

		if ok {
			ch <- resp
		} else {
			t.logger.Debug("dropping response for unknown call", zap.Uint32("seq", header.Seq))
		}
	}
}

// fail records err, fails every pending caller and closes the connection. Only the first
// error is kept.
func (t *ClientTransport) fail(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	pending := t.pending
	t.pending = make(map[uint32]chan *message.RPCMessage)
	t.checkDrainedLocked()
	t.mu.Unlock()

	for _, ch := range pending {
		ch <- &message.RPCMessage{Code: status.CodeUnavailable, Error: status.MessageOf(err)}
	}

	t.closeOnce.Do(func() {
		t.logger.Debug("transport closed", zap.Error(err))
		close(t.done)
		t.conn.Close()
	})
}

func (t *ClientTransport) checkDrainedLocked() {
	if t.drained == nil || len(t.pending) > 0 {
		return
	}
	select {
	case <-t.drained:
	default:
		close(t.drained)
	}
}

// heartbeatLoop sends periodic heartbeat frames so dead connections are detected.
// Heartbeat frames have MsgType=Heartbeat and no body.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.fail(status.Errorf(status.CodeUnavailable, "transport: heartbeat: %v", err))
			return
		}
	}
}
