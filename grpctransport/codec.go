package grpctransport

import (
	"fmt"

	"capitalize/message"
)

// codecName is registered as the "proto" content subtype, so stock protobuf clients of
// `message Payload { bytes data = 1; }` talk to this server unchanged.
const codecName = "proto"

// payloadCodec marshals *message.Payload in its protobuf wire form.
type payloadCodec struct{}

func (payloadCodec) Marshal(v any) ([]byte, error) {
	p, ok := v.(*message.Payload)
	if !ok {
		return nil, fmt.Errorf("grpctransport: cannot marshal %T", v)
	}
	return p.MarshalProto(), nil
}

func (payloadCodec) Unmarshal(data []byte, v any) error {
	p, ok := v.(*message.Payload)
	if !ok {
		return fmt.Errorf("grpctransport: cannot unmarshal into %T", v)
	}
	return p.UnmarshalProto(data)
}

func (payloadCodec) Name() string { return codecName }
