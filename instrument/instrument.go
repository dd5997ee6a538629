// Package instrument brackets handler invocations with trace spans.
//
// An Instrumentation is created from an injected trace.TracerProvider, so handlers can be
// exercised without a telemetry backend and independent handlers share no global tracer.
// Spans are acquired as a *Scope and released with a deferred End:
//
//	ctx, scope := in.Start(ctx, "Fetch.Capitalize")
//	defer scope.End()
package instrument

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName identifies the spans emitted by this module.
const InstrumentationName = "capitalize/instrument"

// Instrumentation starts spans on an injected tracer.
type Instrumentation struct {
	tracer trace.Tracer
}

// New returns an Instrumentation backed by tp. A nil provider yields no-op spans.
func New(tp trace.TracerProvider) *Instrumentation {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Instrumentation{tracer: tp.Tracer(InstrumentationName)}
}

// Noop returns an Instrumentation whose spans record nothing.
func Noop() *Instrumentation {
	return New(nil)
}

// Start begins a span named name as a child of any span in ctx.
func (in *Instrumentation) Start(ctx context.Context, name string) (context.Context, *Scope) {
	ctx, span := in.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
	return ctx, &Scope{span: span}
}

// Scope owns one started span. End may be called any number of times; the span is
// ended exactly once.
type Scope struct {
	span trace.Span
	once sync.Once
}

// Fail marks the span as failed with a short description. No payload data is attached.
func (s *Scope) Fail(desc string) {
	s.span.SetStatus(codes.Error, desc)
}

// End ends the span.
func (s *Scope) End() {
	s.once.Do(func() { s.span.End() })
}
