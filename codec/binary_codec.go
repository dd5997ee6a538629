package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"capitalize/message"
	"capitalize/status"
)

var errNotRPCMessage = errors.New("codec: BinaryCodec: v must be *RPCMessage")

// BinaryCodec lays out an RPCMessage as length-prefixed fields:
//
//	methodLen(2) method | code(1) | errLen(2) error | payloadLen(4) payload
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, errNotRPCMessage
	}
	if len(msg.ServiceMethod) > 0xFFFF || len(msg.Error) > 0xFFFF {
		return nil, fmt.Errorf("codec: BinaryCodec: string field exceeds %d bytes", 0xFFFF)
	}

	total := 2 + len(msg.ServiceMethod) + 1 + 2 + len(msg.Error) + 4 + len(msg.Payload)
	buf := make([]byte, total)

	offset := 0
	binary.BigEndian.PutUint16(buf[offset:], uint16(len(msg.ServiceMethod)))
	offset += 2
	offset += copy(buf[offset:], msg.ServiceMethod)

	buf[offset] = byte(msg.Code)
	offset++

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(msg.Error)))
	offset += 2
	offset += copy(buf[offset:], msg.Error)

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(msg.Payload)))
	offset += 4
	copy(buf[offset:], msg.Payload)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return errNotRPCMessage
	}
	r := binaryReader{buf: data}

	method := r.next(int(r.uint16()))
	code := r.byte()
	errText := r.next(int(r.uint16()))
	payload := r.next(int(r.uint32()))
	if r.err != nil {
		return r.err
	}

	msg.ServiceMethod = string(method)
	msg.Code = status.Code(code)
	msg.Error = string(errText)
	msg.Payload = append([]byte(nil), payload...)
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// binaryReader records the first short read instead of panicking on malformed bodies.
type binaryReader struct {
	buf []byte
	err error
}

func (r *binaryReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n > len(r.buf) {
		r.err = fmt.Errorf("codec: BinaryCodec: truncated body, need %d bytes, have %d", n, len(r.buf))
		return nil
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b
}

func (r *binaryReader) byte() byte {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *binaryReader) uint16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *binaryReader) uint32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
