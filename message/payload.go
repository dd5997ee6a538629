package message

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// payloadDataField is the field number of `bytes data = 1;` in
//
//	message Payload { bytes data = 1; }
const payloadDataField protowire.Number = 1

// Payload is the single message type of the Fetch service: encoded text bytes.
type Payload struct {
	Data []byte
}

// MarshalProto returns the protobuf wire form of p. Empty data encodes to zero bytes,
// matching proto3 default-value elision.
func (p *Payload) MarshalProto() []byte {
	if p == nil || len(p.Data) == 0 {
		return []byte{}
	}
	b := make([]byte, 0, protowire.SizeTag(payloadDataField)+protowire.SizeBytes(len(p.Data)))
	b = protowire.AppendTag(b, payloadDataField, protowire.BytesType)
	return protowire.AppendBytes(b, p.Data)
}

// UnmarshalProto parses the protobuf wire form into p. Unknown fields are skipped and,
// as in proto3, the last occurrence of data wins.
func (p *Payload) UnmarshalProto(b []byte) error {
	p.Data = nil
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("message: payload tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num == payloadDataField && typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("message: payload data: %w", protowire.ParseError(m))
			}
			p.Data = append([]byte(nil), v...)
			b = b[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return fmt.Errorf("message: payload field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}
