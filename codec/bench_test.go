package codec

import (
	"testing"

	"capitalize/message"
)

func benchmarkEnvelope(b *testing.B, cdc Codec) {
	msg := &message.RPCMessage{
		ServiceMethod: "Fetch.Capitalize",
		Payload:       (&message.Payload{Data: []byte("the quick brown fox jumps over the lazy dog")}).MarshalProto(),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := cdc.Encode(msg)
		var out message.RPCMessage
		cdc.Decode(data, &out)
	}
}

func BenchmarkCodecJSON(b *testing.B)   { benchmarkEnvelope(b, GetCodec(CodecTypeJSON)) }
func BenchmarkCodecBinary(b *testing.B) { benchmarkEnvelope(b, GetCodec(CodecTypeBinary)) }

func BenchmarkTextCodec(b *testing.B) {
	var tc TextCodec
	for i := 0; i < b.N; i++ {
		p, _ := tc.Encode("straße und ärger")
		tc.Decode(p)
	}
}
