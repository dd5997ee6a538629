package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"capitalize/message"
)

// Metrics holds the per-method RPC collectors of one side ("server" or "client"):
// completed calls by status code, round-trip latency, and request/response sizes.
type Metrics struct {
	completed     *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	requestBytes  *prometheus.HistogramVec
	responseBytes *prometheus.HistogramVec
	methods       map[string]struct{} // nil accepts any method as a label
}

// UnknownMethod labels calls to methods NewMetrics was not told about.
const UnknownMethod = "unknown"

// NewMetrics creates the collectors for side and registers them with reg.
//
// The method label is bounded by methods: any other method a peer sends is recorded as
// UnknownMethod. A server must list the methods it handles, since the label otherwise
// comes straight from the request. With no methods every label is kept as is, which
// only suits callers that choose the methods themselves.
func NewMetrics(reg prometheus.Registerer, side string, methods ...string) (*Metrics, error) {
	sizeBuckets := prometheus.ExponentialBuckets(16, 4, 10)
	m := &Metrics{
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpc",
			Subsystem: side,
			Name:      "completed_total",
			Help:      "Completed RPCs by method and status code.",
		}, []string{"method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rpc",
			Subsystem: side,
			Name:      "latency_seconds",
			Help:      "RPC latency from the start of the call to the response.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		requestBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rpc",
			Subsystem: side,
			Name:      "request_bytes",
			Help:      "Encoded request payload size.",
			Buckets:   sizeBuckets,
		}, []string{"method"}),
		responseBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rpc",
			Subsystem: side,
			Name:      "response_bytes",
			Help:      "Encoded response payload size.",
			Buckets:   sizeBuckets,
		}, []string{"method"}),
	}
	if len(methods) > 0 {
		m.methods = make(map[string]struct{}, len(methods))
		for _, method := range methods {
			m.methods[method] = struct{}{}
		}
	}
	for _, c := range []prometheus.Collector{m.completed, m.latency, m.requestBytes, m.responseBytes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Middleware records every call passing through it.
func (m *Metrics) Middleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)

			method := m.label(req.ServiceMethod)
			m.latency.WithLabelValues(method).Observe(time.Since(start).Seconds())
			m.completed.WithLabelValues(method, resp.Code.String()).Inc()
			m.requestBytes.WithLabelValues(method).Observe(float64(len(req.Payload)))
			m.responseBytes.WithLabelValues(method).Observe(float64(len(resp.Payload)))
			return resp
		}
	}
}

func (m *Metrics) label(method string) string {
	if m.methods == nil {
		return method
	}
	if _, ok := m.methods[method]; ok {
		return method
	}
	return UnknownMethod
}
