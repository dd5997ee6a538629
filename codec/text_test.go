package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"capitalize/message"
	"capitalize/status"
)

func TestTextRoundTrip(t *testing.T) {
	var tc TextCodec
	for _, s := range []string{"", "hello world", "ß", "Ärger über Öl", "日本語テキスト", "emoji 🙂", "tab\tnew\nline"} {
		p, err := tc.Encode(s)
		require.NoError(t, err)
		require.Equal(t, []byte(s), p.Data)

		got, err := tc.Decode(p)
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
}

func TestTextEncodeInvalid(t *testing.T) {
	var tc TextCodec
	_, err := tc.Encode("ok\xffnot")
	require.ErrorIs(t, err, status.ErrEncoding)
	require.NotErrorIs(t, err, status.ErrTransport)

	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
	require.Equal(t, "encode", encErr.Op)
}

func TestTextDecodeInvalid(t *testing.T) {
	var tc TextCodec
	for _, data := range [][]byte{
		{0xff},
		{0xc3},             // truncated two byte sequence
		{'a', 0xe2, 0x82},  // truncated three byte sequence
		{0xed, 0xa0, 0x80}, // surrogate half
	} {
		_, err := tc.Decode(&message.Payload{Data: data})
		require.ErrorIs(t, err, status.ErrEncoding, "% x", data)
	}
}

func TestTextDecodeNil(t *testing.T) {
	got, err := TextCodec{}.Decode(nil)
	require.NoError(t, err)
	require.Equal(t, "", got)
}
