package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: CodecTypeBinary,
		MsgType:   MsgTypeRequest,
		Seq:       12345,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &header, body))
	require.Equal(t, HeaderSize+len(body), buf.Len())

	decoded, decodedBody, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, header.CodecType, decoded.CodecType)
	require.Equal(t, header.MsgType, decoded.MsgType)
	require.Equal(t, header.Seq, decoded.Seq)
	require.Equal(t, uint32(len(body)), decoded.BodyLen)
	require.Equal(t, body, decodedBody)
}

func TestDecodeEmptyBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{MsgType: MsgTypeHeartbeat}, nil))

	decoded, body, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, MsgTypeHeartbeat, decoded.MsgType)
	require.Empty(t, body)
}

func TestDecodeRejectsBadHeaders(t *testing.T) {
	valid := func() []byte {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, &Header{MsgType: MsgTypeRequest, Seq: 1}, []byte("x")))
		return buf.Bytes()
	}

	cases := []struct {
		name   string
		mutate func(b []byte)
		want   string
	}{
		{"magic", func(b []byte) { b[0] = 0 }, "invalid magic number"},
		{"version", func(b []byte) { b[3] = 0xFF }, "unsupported version"},
		{"codec", func(b []byte) { b[4] = 9 }, "unsupported codec type"},
		{"msgType", func(b []byte) { b[5] = 9 }, "unsupported message type"},
		{"bodyLen", func(b []byte) { binary.BigEndian.PutUint32(b[10:14], MaxBodyLen+1) }, "body too large"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame := valid()
			tc.mutate(frame)
			_, _, err := Decode(bytes.NewReader(frame))
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestDecodeTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{MsgType: MsgTypeRequest}, []byte("hello")))
	frame := buf.Bytes()[:buf.Len()-2]

	_, _, err := Decode(bytes.NewReader(frame))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeLargeBody(t *testing.T) {
	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Header{CodecType: CodecTypeBinary, MsgType: MsgTypeRequest, Seq: 999}, largeBody))

	_, decodedBody, err := Decode(&buf)
	require.NoError(t, err)
	require.True(t, bytes.Equal(largeBody, decodedBody))
}

func TestDecodeMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	for seq := uint32(1); seq <= 3; seq++ {
		require.NoError(t, Encode(&buf, &Header{MsgType: MsgTypeResponse, Seq: seq}, []byte{byte(seq)}))
	}
	for seq := uint32(1); seq <= 3; seq++ {
		h, body, err := Decode(&buf)
		require.NoError(t, err)
		require.Equal(t, seq, h.Seq)
		require.Equal(t, []byte{byte(seq)}, body)
	}
}
