package infrastructure

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInitializeOTelDefaults(t *testing.T) {
	providers, err := InitializeOTel(nil, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, providers)

	// Default config exports metrics via Prometheus and keeps tracing off.
	assert.NotNil(t, providers.MeterProvider)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.PrometheusHTTP)
	assert.Nil(t, providers.TracerProvider)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, providers.Shutdown(ctx))
}

func TestInitializeOTelTracingEnabled(t *testing.T) {
	cfg := &OTelConfig{
		ServiceName:    "test-service",
		ServiceVersion: "v1.0.0",
		Environment:    "test",
		TraceExporter:  "stdout",
		MetricExporter: "none",
		EnableMetrics:  true,
		EnableTracing:  true,
		SampleRatio:    1.0,
	}

	providers, err := InitializeOTel(cfg, discardLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	assert.NotNil(t, providers.TracerProvider)
	assert.NotNil(t, providers.Tracer)
	// Metric exporter "none" leaves the meter provider unset.
	assert.Nil(t, providers.MeterProvider)
}

func TestInitializeOTelUnsupportedExporters(t *testing.T) {
	base := func() *OTelConfig {
		return &OTelConfig{
			ServiceName:    "test-service",
			ServiceVersion: "v1.0.0",
			Environment:    "test",
			TraceExporter:  "none",
			MetricExporter: "none",
			EnableMetrics:  true,
			EnableTracing:  true,
			SampleRatio:    1.0,
		}
	}

	cfg := base()
	cfg.TraceExporter = "jaeger"
	_, err := InitializeOTel(cfg, discardLogger())
	assert.Error(t, err)

	cfg = base()
	cfg.EnableTracing = false
	cfg.MetricExporter = "otlp"
	_, err = InitializeOTel(cfg, discardLogger())
	assert.Error(t, err)
}

func TestCreateBusinessMetrics(t *testing.T) {
	providers, err := InitializeOTel(nil, discardLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	metrics, err := CreateBusinessMetrics(providers.Meter)
	require.NoError(t, err)
	require.NotNil(t, metrics)

	assert.NotNil(t, metrics.HTTPRequestsTotal)
	assert.NotNil(t, metrics.HTTPRequestDuration)
	assert.NotNil(t, metrics.HTTPActiveRequests)
	assert.NotNil(t, metrics.TokenRotationsTotal)
	assert.NotNil(t, metrics.TokenAuthFailures)
	assert.NotNil(t, metrics.WSConnectionsActive)
	assert.NotNil(t, metrics.WSEventsTotal)

	// Recording must not panic.
	ctx := context.Background()
	metrics.HTTPRequestsTotal.Add(ctx, 1)
	metrics.HTTPRequestDuration.Record(ctx, 0.042)
	metrics.HTTPActiveRequests.Add(ctx, 1)
	metrics.HTTPActiveRequests.Add(ctx, -1)
	metrics.TokenAuthFailures.Add(ctx, 1)
}

func TestPrometheusEndpoint(t *testing.T) {
	providers, err := InitializeOTel(nil, discardLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	server := httptest.NewServer(providers.PrometheusHTTP)
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
}

func TestDisabledSignalsYieldNoopInstruments(t *testing.T) {
	cfg := &OTelConfig{
		ServiceName:    "test-service",
		ServiceVersion: "v1.0.0",
		Environment:    "test",
		TraceExporter:  "none",
		MetricExporter: "none",
		EnableMetrics:  false,
		EnableTracing:  false,
		SampleRatio:    1.0,
	}
	providers, err := InitializeOTel(cfg, discardLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	assert.Nil(t, providers.TracerProvider)
	assert.Nil(t, providers.MeterProvider)

	// The middleware starts spans and records metrics unconditionally, so
	// disabled signals must still hand out working no-op implementations.
	require.NotNil(t, providers.Tracer)
	ctx, span := providers.Tracer.Start(context.Background(), "noop")
	assert.False(t, span.IsRecording())
	span.End()

	require.NotNil(t, providers.Meter)
	metrics, err := CreateBusinessMetrics(providers.Meter)
	require.NoError(t, err)
	metrics.HTTPRequestsTotal.Add(ctx, 1)
	metrics.HTTPRequestDuration.Record(ctx, 0.001)
}

func TestEnabledTracerRecordsSpans(t *testing.T) {
	cfg := &OTelConfig{
		ServiceName:    "test-service",
		ServiceVersion: "v1.0.0",
		Environment:    "test",
		TraceExporter:  "stdout",
		MetricExporter: "none",
		EnableMetrics:  false,
		EnableTracing:  true,
		SampleRatio:    1.0,
	}
	providers, err := InitializeOTel(cfg, discardLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	_, span := providers.Tracer.Start(context.Background(), "test-operation")
	defer span.End()

	assert.True(t, span.IsRecording())
	assert.True(t, span.SpanContext().TraceID().IsValid())
}
