package client

import (
	"context"
	"fmt"

	"capitalize/codec"
	"capitalize/message"
	"capitalize/service"
)

// FetchClient is the stub of the Fetch service.
type FetchClient struct {
	inv  Invoker
	text codec.TextCodec
}

func NewFetchClient(inv Invoker) *FetchClient {
	return &FetchClient{inv: inv}
}

// Capitalize sends text to the server and returns its upper-cased form.
//
// Failures are typed: errors.Is(err, status.ErrEncoding) when text or the reply is not
// valid UTF-8, errors.Is(err, status.ErrTransport) when the call itself failed.
func (c *FetchClient) Capitalize(ctx context.Context, text string) (string, error) {
	req, err := c.text.Encode(text)
	if err != nil {
		return "", fmt.Errorf("capitalize request: %w", err)
	}

	resp := &message.Payload{}
	if err := c.inv.Invoke(ctx, service.CapitalizeMethod, req, resp); err != nil {
		return "", err
	}

	out, err := c.text.Decode(resp)
	if err != nil {
		return "", fmt.Errorf("capitalize response: %w", err)
	}
	return out, nil
}

// CapitalizeOrEmpty is Capitalize with every failure reported as "".
func (c *FetchClient) CapitalizeOrEmpty(ctx context.Context, text string) string {
	out, err := c.Capitalize(ctx, text)
	if err != nil {
		return ""
	}
	return out
}
