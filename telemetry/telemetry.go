// Package telemetry wires the process-wide observability backends: an always-sampling
// OpenTelemetry tracer provider and a Prometheus registry served on /metrics.
//
// The RPC packages never import it; they take a trace.TracerProvider or a
// prometheus.Registerer and the binaries pass what Setup built.
package telemetry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

type Config struct {
	ServiceName    string
	ProjectID      string
	ExportInterval time.Duration // span batches are flushed at least this often
	TraceStdout    bool          // export spans as JSON to TraceWriter
	TraceWriter    io.Writer     // defaults to os.Stdout
	MetricsAddr    string        // empty disables the /metrics listener
}

type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
	Registry       *prometheus.Registry

	metrics *http.Server
	logger  *zap.Logger
}

// Setup builds the tracer provider and the metrics registry. Nothing is listening until
// ServeMetrics is called.
func Setup(cfg Config, logger *zap.Logger) (*Telemetry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("gcp.project_id", cfg.ProjectID),
	)
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if cfg.TraceStdout {
		w := cfg.TraceWriter
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(cfg.ExportInterval)))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	t := &Telemetry{
		TracerProvider: sdktrace.NewTracerProvider(opts...),
		Registry:       reg,
		logger:         logger,
	}
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", t.Handler())
		t.metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
	return t, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.Registry, promhttp.HandlerOpts{Registry: t.Registry})
}

// ServeMetrics serves /metrics until Shutdown. It returns nil at once when the endpoint is
// disabled.
func (t *Telemetry) ServeMetrics() error {
	if t.metrics == nil {
		return nil
	}
	lis, err := net.Listen("tcp", t.metrics.Addr)
	if err != nil {
		return err
	}
	t.logger.Info("metrics listening", zap.Stringer("addr", lis.Addr()))
	if err := t.metrics.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown flushes pending spans and stops the metrics endpoint.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if err := t.TracerProvider.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if t.metrics != nil {
		if err := t.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
