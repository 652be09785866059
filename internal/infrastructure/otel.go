package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"quantumlic/pkg/contracts"
)

const instrumentationName = "quantumlic"

// OTelConfig selects which telemetry signals are built and how they leave
// the process.
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	TraceExporter  string // "stdout" or "none"
	MetricExporter string // "prometheus" or "none"
	EnableMetrics  bool
	EnableTracing  bool
	SampleRatio    float64
}

// OTelProviders carries the initialized telemetry stack. Tracer and Meter
// are always usable: disabled signals get no-op implementations, so callers
// never branch on telemetry being on.
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// DefaultOTelConfig is the zero-configuration default: prometheus metrics
// on, tracing off.
func DefaultOTelConfig() *OTelConfig {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	return &OTelConfig{
		ServiceName:    instrumentationName,
		ServiceVersion: contracts.Version,
		Environment:    env,
		TraceExporter:  "none",
		MetricExporter: "prometheus",
		EnableMetrics:  true,
		EnableTracing:  false,
		SampleRatio:    1.0,
	}
}

// InitializeOTel builds tracing and metrics per cfg. Safe to call more than
// once in a process: the prometheus exporter registers as an unchecked
// collector, so repeated test setups do not collide.
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg == nil {
		cfg = DefaultOTelConfig()
	}

	res := newResource(cfg)
	providers := &OTelProviders{
		Logger: logger,
		Tracer: tracenoop.NewTracerProvider().Tracer(instrumentationName),
		Meter:  metricnoop.NewMeterProvider().Meter(instrumentationName),
	}

	if cfg.EnableTracing && cfg.TraceExporter != "none" {
		tp, err := newTracerProvider(cfg, res)
		if err != nil {
			return nil, err
		}
		providers.TracerProvider = tp
		providers.Tracer = tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
		otel.SetTracerProvider(tp)
	}

	if cfg.EnableMetrics && cfg.MetricExporter != "none" {
		mp, scrape, err := newMeterProvider(cfg, res)
		if err != nil {
			return nil, err
		}
		providers.MeterProvider = mp
		providers.Meter = mp.Meter(instrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
		providers.PrometheusHTTP = scrape
		otel.SetMeterProvider(mp)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry initialized",
		slog.String("service", cfg.ServiceName),
		slog.String("environment", cfg.Environment),
		slog.Bool("tracing", providers.TracerProvider != nil),
		slog.Bool("metrics", providers.MeterProvider != nil))

	return providers, nil
}

func newResource(cfg *OTelConfig) *resource.Resource {
	hostname, _ := os.Hostname()
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
		attribute.String("service.instance.id", fmt.Sprintf("%s-%d", hostname, time.Now().Unix())),
	)
}

func newTracerProvider(cfg *OTelConfig, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	if cfg.TraceExporter != "stdout" {
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.TraceExporter)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("stdout trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	), nil
}

func newMeterProvider(cfg *OTelConfig, res *resource.Resource) (*sdkmetric.MeterProvider, http.Handler, error) {
	if cfg.MetricExporter != "prometheus" {
		return nil, nil, fmt.Errorf("unsupported metric exporter %q", cfg.MetricExporter)
	}
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	return mp, promhttp.Handler(), nil
}

// BusinessMetrics holds the application-level instruments shared across the
// transport layer. Domain packages keep their own finer-grained instruments
// (issuance.Metrics, verifier.Metrics); runtime gauges live with the
// SystemMetricsCollector.
type BusinessMetrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	TokenRotationsTotal metric.Int64Counter
	TokenAuthFailures   metric.Int64Counter

	WSConnectionsActive metric.Int64UpDownCounter
	WSEventsTotal       metric.Int64Counter
}

// CreateBusinessMetrics builds the shared instrument set on meter. The otel
// SDK returns the existing instrument for a repeated name, so building the
// set twice against one meter is harmless.
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	var firstErr error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return c
	}
	updown := func(name, desc string) metric.Int64UpDownCounter {
		c, err := meter.Int64UpDownCounter(name, metric.WithDescription(desc))
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return c
	}

	m := &BusinessMetrics{
		HTTPRequestsTotal:   counter("http_requests_total", "Total number of HTTP requests"),
		HTTPActiveRequests:  updown("http_active_requests", "Number of in-flight HTTP requests"),
		TokenRotationsTotal: counter("token_rotations_total", "Total number of API token rotations"),
		TokenAuthFailures:   counter("token_auth_failures_total", "Total number of rejected API authentication attempts"),
		WSConnectionsActive: updown("websocket_connections_active", "Number of active WebSocket connections"),
		WSEventsTotal:       counter("websocket_events_total", "Total number of WebSocket events broadcast"),
	}

	duration, err := meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil && firstErr == nil {
		firstErr = err
	}
	m.HTTPRequestDuration = duration

	if firstErr != nil {
		return nil, fmt.Errorf("create instruments: %w", firstErr)
	}
	return m, nil
}

// Shutdown flushes and stops whichever providers were built. Runs last in
// the application stop sequence so every other component can still emit
// telemetry while draining.
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error
	if p.TracerProvider != nil {
		errs = append(errs, p.TracerProvider.Shutdown(ctx))
	}
	if p.MeterProvider != nil {
		errs = append(errs, p.MeterProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
