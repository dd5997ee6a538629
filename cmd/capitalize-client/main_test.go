package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"capitalize/client"
	"capitalize/message"
	"capitalize/status"
)

type upperInvoker struct{}

func (upperInvoker) Invoke(ctx context.Context, serviceMethod string, req, resp *message.Payload) error {
	if string(req.Data) == "fail" {
		return status.New(status.CodeUnavailable, "down")
	}
	resp.Data = bytes.ToUpper(req.Data)
	return nil
}

func TestPrompt(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("hello world\nfail\n")

	err := prompt(context.Background(), client.NewFetchClient(upperInvoker{}), in, &out, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, "> \n< HELLO WORLD\n> \n< \n> \n", out.String())
}
