package telemetry

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"capitalize/instrument"
)

func TestTracesExportedOnShutdown(t *testing.T) {
	var buf bytes.Buffer
	tel, err := Setup(Config{
		ServiceName:    "capitalize",
		ProjectID:      "census-demos",
		ExportInterval: 10 * time.Second,
		TraceStdout:    true,
		TraceWriter:    &buf,
	}, nil)
	require.NoError(t, err)

	_, scope := instrument.New(tel.TracerProvider).Start(context.Background(), "Fetch.Capitalize")
	scope.End()

	require.NoError(t, tel.Shutdown(context.Background()))
	require.Contains(t, buf.String(), `"Name":"Fetch.Capitalize"`)
	require.Contains(t, buf.String(), "census-demos")
}

func TestMetricsHandler(t *testing.T) {
	tel, err := Setup(Config{ServiceName: "capitalize", ExportInterval: time.Second}, nil)
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "capitalize_test_total", Help: "test"})
	tel.Registry.MustRegister(c)
	c.Inc()

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "capitalize_test_total 1")
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServeMetricsDisabled(t *testing.T) {
	tel, err := Setup(Config{ExportInterval: time.Second}, nil)
	require.NoError(t, err)
	require.NoError(t, tel.ServeMetrics())
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestServeMetrics(t *testing.T) {
	tel, err := Setup(Config{ExportInterval: time.Second, MetricsAddr: "127.0.0.1:0"}, nil)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- tel.ServeMetrics() }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, tel.Shutdown(context.Background()))
	require.NoError(t, <-errc)
}
