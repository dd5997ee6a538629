package status

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewOKIsNil(t *testing.T) {
	require.NoError(t, New(CodeOK, "fine"))
}

func TestErrorMatchesTransportKind(t *testing.T) {
	err := fmt.Errorf("call: %w", Errorf(CodeUnavailable, "server %s gone", "a"))

	require.ErrorIs(t, err, ErrTransport)
	require.NotErrorIs(t, err, ErrEncoding)
	require.Equal(t, CodeUnavailable, CodeOf(err))
	require.Equal(t, "server a gone", MessageOf(err))
}

func TestCodeOfPlainError(t *testing.T) {
	require.Equal(t, CodeOK, CodeOf(nil))
	require.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
	require.Equal(t, "boom", MessageOf(errors.New("boom")))
}

func TestCodeString(t *testing.T) {
	require.Equal(t, "InvalidArgument", CodeInvalidArgument.String())
	require.Equal(t, "Code(99)", Code(99).String())
}
