package codec

import (
	"encoding/json"
	"fmt"

	"capitalize/message"
	"capitalize/status"
)

// jsonEnvelope is the JSON form of an RPCMessage. Payload is base64 as usual for []byte.
type jsonEnvelope struct {
	Method  string `json:"method"`
	Code    uint8  `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// JSONCodec is the human-readable envelope codec, handy when debugging with a packet
// capture. It is larger and slower than BinaryCodec.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, fmt.Errorf("codec: JSONCodec: v must be *RPCMessage, got %T", v)
	}
	return json.Marshal(jsonEnvelope{
		Method:  msg.ServiceMethod,
		Code:    uint8(msg.Code),
		Error:   msg.Error,
		Payload: msg.Payload,
	})
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return fmt.Errorf("codec: JSONCodec: v must be *RPCMessage, got %T", v)
	}
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("codec: JSONCodec: %w", err)
	}
	*msg = message.RPCMessage{
		ServiceMethod: env.Method,
		Code:          status.Code(env.Code),
		Error:         env.Error,
		Payload:       env.Payload,
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
