package transport

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"capitalize/codec"
	"capitalize/message"
	"capitalize/protocol"
	"capitalize/status"
)

// fakeServer answers request frames on one end of a pipe. The reply function decides what
// to send back; returning nil holds the request unanswered.
type fakeServer struct {
	conn  net.Conn
	mu    sync.Mutex
	held  []*protocol.Header
	reply func(req *message.RPCMessage) *message.RPCMessage
}

func newPipe(t *testing.T, reply func(*message.RPCMessage) *message.RPCMessage) (*ClientTransport, *fakeServer) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	srv := &fakeServer{conn: serverConn, reply: reply}
	go srv.loop()
	ct := NewClientTransport(clientConn, codec.CodecTypeBinary, nil)
	t.Cleanup(func() {
		ct.Close()
		serverConn.Close()
	})
	return ct, srv
}

func (s *fakeServer) loop() {
	cdc := codec.GetCodec(codec.CodecTypeBinary)
	for {
		header, body, err := protocol.Decode(s.conn)
		if err != nil {
			return
		}
		if header.MsgType != protocol.MsgTypeRequest {
			continue
		}
		req := &message.RPCMessage{}
		if err := cdc.Decode(body, req); err != nil {
			return
		}
		resp := s.reply(req)
		if resp == nil {
			s.mu.Lock()
			s.held = append(s.held, header)
			s.mu.Unlock()
			continue
		}
		s.write(header.Seq, resp)
	}
}

func (s *fakeServer) write(seq uint32, resp *message.RPCMessage) {
	body, _ := codec.GetCodec(codec.CodecTypeBinary).Encode(resp)
	protocol.Encode(s.conn, &protocol.Header{
		CodecType: protocol.CodecTypeBinary,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       seq,
	}, body)
}

func (s *fakeServer) heldCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

func upper(req *message.RPCMessage) *message.RPCMessage {
	return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Payload: []byte(strings.ToUpper(string(req.Payload)))}
}

func call(t *testing.T, ct *ClientTransport, payload string) *message.RPCMessage {
	t.Helper()
	_, ch, err := ct.Send(&message.RPCMessage{ServiceMethod: "Fetch.Capitalize", Payload: []byte(payload)})
	require.NoError(t, err)
	select {
	case resp := <-ch:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("no response")
		return nil
	}
}

func TestClientTransportSerial(t *testing.T) {
	ct, _ := newPipe(t, upper)

	for _, in := range []string{"a", "hello", "mixed Case"} {
		resp := call(t, ct, in)
		require.Equal(t, status.CodeOK, resp.Code)
		require.Equal(t, strings.ToUpper(in), string(resp.Payload))
	}
}

func TestClientTransportConcurrent(t *testing.T) {
	ct, _ := newPipe(t, upper)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			in := strings.Repeat("x", n+1)
			_, ch, err := ct.Send(&message.RPCMessage{ServiceMethod: "Fetch.Capitalize", Payload: []byte(in)})
			if err != nil {
				t.Errorf("send failed: %v", err)
				return
			}
			resp := <-ch
			if string(resp.Payload) != strings.ToUpper(in) {
				t.Errorf("call %d got %q", n, resp.Payload)
			}
		}(i)
	}
	wg.Wait()
}

func TestClientTransportOutOfOrder(t *testing.T) {
	ct, srv := newPipe(t, func(*message.RPCMessage) *message.RPCMessage { return nil })

	_, first, err := ct.Send(&message.RPCMessage{ServiceMethod: "Fetch.Capitalize", Payload: []byte("first")})
	require.NoError(t, err)
	_, second, err := ct.Send(&message.RPCMessage{ServiceMethod: "Fetch.Capitalize", Payload: []byte("second")})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.heldCount() == 2 }, time.Second, 5*time.Millisecond)

	srv.write(srv.held[1].Seq, &message.RPCMessage{Payload: []byte("SECOND")})
	srv.write(srv.held[0].Seq, &message.RPCMessage{Payload: []byte("FIRST")})

	require.Equal(t, "SECOND", string((<-second).Payload))
	require.Equal(t, "FIRST", string((<-first).Payload))
}

func TestClientTransportBrokenConnectionFailsPending(t *testing.T) {
	ct, srv := newPipe(t, func(*message.RPCMessage) *message.RPCMessage { return nil })

	_, ch, err := ct.Send(&message.RPCMessage{ServiceMethod: "Fetch.Capitalize"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.heldCount() == 1 }, time.Second, 5*time.Millisecond)

	srv.conn.Close()

	resp := <-ch
	require.Equal(t, status.CodeUnavailable, resp.Code)
	require.ErrorIs(t, resp.Err(), status.ErrTransport)

	<-ct.Done()
	_, _, err = ct.Send(&message.RPCMessage{ServiceMethod: "Fetch.Capitalize"})
	require.ErrorIs(t, err, status.ErrTransport)
	require.Error(t, ct.Err())
}

func TestClientTransportShutdownIdle(t *testing.T) {
	ct, _ := newPipe(t, upper)

	start := time.Now()
	require.NoError(t, ct.Shutdown(4*time.Second))
	require.Less(t, time.Since(start), time.Second)

	_, _, err := ct.Send(&message.RPCMessage{ServiceMethod: "Fetch.Capitalize"})
	require.ErrorIs(t, err, ErrClosed)
}

func TestClientTransportShutdownWaitsForInFlight(t *testing.T) {
	ct, srv := newPipe(t, func(*message.RPCMessage) *message.RPCMessage { return nil })

	_, ch, err := ct.Send(&message.RPCMessage{ServiceMethod: "Fetch.Capitalize"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.heldCount() == 1 }, time.Second, 5*time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		srv.write(srv.held[0].Seq, &message.RPCMessage{Payload: []byte("late")})
	}()

	require.NoError(t, ct.Shutdown(2*time.Second))
	require.Equal(t, "late", string((<-ch).Payload))
}

func TestClientTransportShutdownTimeout(t *testing.T) {
	ct, srv := newPipe(t, func(*message.RPCMessage) *message.RPCMessage { return nil })

	_, ch, err := ct.Send(&message.RPCMessage{ServiceMethod: "Fetch.Capitalize"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.heldCount() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.ErrorIs(t, ct.Shutdown(100*time.Millisecond), ErrShutdownTimeout)
	require.Less(t, time.Since(start), time.Second)

	resp := <-ch
	require.Equal(t, status.CodeUnavailable, resp.Code)
}

func TestClientTransportCancelDropsLateResponse(t *testing.T) {
	ct, srv := newPipe(t, func(*message.RPCMessage) *message.RPCMessage { return nil })

	seq, _, err := ct.Send(&message.RPCMessage{ServiceMethod: "Fetch.Capitalize"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.heldCount() == 1 }, time.Second, 5*time.Millisecond)

	ct.Cancel(seq)
	srv.write(seq, &message.RPCMessage{Payload: []byte("ignored")})

	require.NoError(t, ct.Err())
	require.NoError(t, ct.Shutdown(time.Second), "a cancelled call must not hold up shutdown")
}
