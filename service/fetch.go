// Package service implements the Fetch service: its single operation, Capitalize,
// upper-cases the text carried by a Payload.
//
// The handler is stateless; a *Fetch may serve any number of concurrent calls.
package service

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"capitalize/codec"
	"capitalize/instrument"
	"capitalize/message"
	"capitalize/status"
)

const (
	ServiceName      = "Fetch"
	MethodCapitalize = "Capitalize"

	// CapitalizeMethod is the ServiceMethod of Capitalize on the framed transport.
	CapitalizeMethod = ServiceName + "." + MethodCapitalize
	// SpanName names the span wrapping each Capitalize invocation.
	SpanName = CapitalizeMethod
)

// Responder is the transport side of one call. Send delivers the response payload;
// Complete is called exactly once per call, after Send if there is a response.
type Responder interface {
	Send(resp *message.Payload)
	Complete(err error)
}

// Fetch is the Capitalize handler.
type Fetch struct {
	text      codec.TextCodec
	inst      *instrument.Instrumentation
	logger    *zap.Logger
	strict    bool
	stateHook func(State)
	transform func(string) string
}

type Option func(*Fetch)

// WithInstrumentation injects the span source. Defaults to no-op spans, as does nil.
func WithInstrumentation(in *instrument.Instrumentation) Option {
	return func(f *Fetch) {
		if in == nil {
			in = instrument.Noop()
		}
		f.inst = in
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetch) {
		if logger == nil {
			logger = zap.NewNop()
		}
		f.logger = logger
	}
}

// WithStrictDecoding makes undecodable requests fail with CodeInvalidArgument instead of
// completing with an empty payload.
func WithStrictDecoding() Option {
	return func(f *Fetch) { f.strict = true }
}

// WithStateHook registers fn to observe every state a call enters. fn runs on the
// calling goroutine and must be safe for concurrent use.
func WithStateHook(fn func(State)) Option {
	return func(f *Fetch) { f.stateHook = fn }
}

func NewFetch(opts ...Option) *Fetch {
	f := &Fetch{
		inst:      instrument.Noop(),
		logger:    zap.NewNop(),
		transform: upper,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// upper applies full, locale-invariant Unicode upper-casing ("ß" becomes "SS").
// A Caser keeps state, so each call gets its own.
func upper(s string) string {
	return cases.Upper(language.Und).String(s)
}

// Serve runs one call: the span is started before decoding and ended on every exit
// path, and r.Complete is called exactly once, including when the transform panics.
func (f *Fetch) Serve(ctx context.Context, req *message.Payload, r Responder) {
	c := &call{hook: f.stateHook, r: r}
	c.enter(StateReceived)

	_, scope := f.inst.Start(ctx, SpanName)
	defer func() {
		if p := recover(); p != nil {
			scope.Fail("panic")
			scope.End()
			c.complete(status.Errorf(status.CodeInternal, "capitalize: %v", p))
			panic(p)
		}
		scope.End()
		c.complete(c.err)
	}()

	c.enter(StateDecoding)
	text, err := f.text.Decode(req)
	if err != nil {
		c.enter(StateDecodeFailed)
		scope.Fail("decode failed")
		f.logger.Debug("capitalize: undecodable request", zap.Error(err), zap.Bool("strict", f.strict))
		if f.strict {
			c.err = status.New(status.CodeInvalidArgument, err.Error())
			return
		}
		c.enter(StateRespondedEmpty)
		r.Send(&message.Payload{})
		return
	}

	c.enter(StateTransforming)
	text = f.transform(text)

	c.enter(StateEncoding)
	resp, err := f.text.Encode(text)
	if err != nil {
		// unreachable for decoded input; answered like a decode failure
		scope.Fail("encode failed")
		f.logger.Warn("capitalize: unencodable result", zap.Error(err))
		c.enter(StateRespondedEmpty)
		r.Send(&message.Payload{})
		return
	}
	c.enter(StateResponded)
	r.Send(resp)
}

// Capitalize is the unary form of Serve used by the transports.
func (f *Fetch) Capitalize(ctx context.Context, req *message.Payload) (*message.Payload, error) {
	var u unaryResponder
	f.Serve(ctx, req, &u)
	if u.err != nil {
		return nil, u.err
	}
	if u.resp == nil {
		return &message.Payload{}, nil
	}
	return u.resp, nil
}

type call struct {
	hook      func(State)
	r         Responder
	err       error
	completed bool
}

func (c *call) enter(s State) {
	if c.hook != nil {
		c.hook(s)
	}
}

func (c *call) complete(err error) {
	if c.completed {
		return
	}
	c.completed = true
	c.enter(StateCompleted)
	c.r.Complete(err)
}

type unaryResponder struct {
	resp *message.Payload
	err  error
}

func (u *unaryResponder) Send(resp *message.Payload) { u.resp = resp }

func (u *unaryResponder) Complete(err error) { u.err = err }
