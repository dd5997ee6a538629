package codec

import (
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"capitalize/message"
	"capitalize/status"
)

// EncodingError reports text that cannot be represented in, or bytes that are not
// valid under, the payload text encoding (UTF-8).
type EncodingError struct {
	Op  string // "encode" or "decode"
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("codec: %s text: %v", e.Op, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

func (e *EncodingError) Is(target error) bool { return target == status.ErrEncoding }

// TextCodec converts between Go strings and UTF-8 payloads. It is stateless and
// safe for concurrent use; Decode(Encode(s)) == s for every valid s.
type TextCodec struct{}

// Encode validates text as UTF-8 and wraps its bytes in a Payload.
// Go strings may hold arbitrary bytes, so invalid sequences are reported, not replaced.
func (TextCodec) Encode(text string) (*message.Payload, error) {
	data, _, err := transform.Bytes(encoding.UTF8Validator, []byte(text))
	if err != nil {
		return nil, &EncodingError{Op: "encode", Err: err}
	}
	return &message.Payload{Data: data}, nil
}

// Decode validates the payload bytes as UTF-8 and returns them as text.
// A nil payload decodes to the empty string.
func (TextCodec) Decode(p *message.Payload) (string, error) {
	if p == nil || len(p.Data) == 0 {
		return "", nil
	}
	text, _, err := transform.String(encoding.UTF8Validator, string(p.Data))
	if err != nil {
		return "", &EncodingError{Op: "decode", Err: err}
	}
	return text, nil
}
