package issuance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apierrors "quantumlic/internal/errors"
)

const MeterName = "license-issuance"

// Metrics holds the issuance-specific OpenTelemetry instruments.
type Metrics struct {
	Requests       metric.Int64Counter
	Issued         metric.Int64Counter
	IdempotentHits metric.Int64Counter
	Denials        metric.Int64Counter
	Failures       metric.Int64Counter
	Duration       metric.Float64Histogram
}

// NewMetrics creates the issuance instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error
	m.Requests, err = meter.Int64Counter(
		"license_issue_requests_total",
		metric.WithDescription("Total number of issuance requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create issue requests counter: %w", err)
	}

	m.Issued, err = meter.Int64Counter(
		"license_issue_created_total",
		metric.WithDescription("Total number of newly signed licenses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create issued counter: %w", err)
	}

	m.IdempotentHits, err = meter.Int64Counter(
		"license_issue_idempotent_hits_total",
		metric.WithDescription("Total number of requests answered with an already-issued record"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create idempotent hits counter: %w", err)
	}

	m.Denials, err = meter.Int64Counter(
		"license_issue_denials_total",
		metric.WithDescription("Total number of requests denied by allowlist or seat policy"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create denials counter: %w", err)
	}

	m.Failures, err = meter.Int64Counter(
		"license_issue_failures_total",
		metric.WithDescription("Total number of requests failed by storage or signing errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create failures counter: %w", err)
	}

	m.Duration, err = meter.Float64Histogram(
		"license_issue_duration_seconds",
		metric.WithDescription("Issuance request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return m, nil
}

// observe records one finished issuance attempt. Safe on a nil receiver so
// the service can run without instrumentation in tests and tools.
func (m *Metrics) observe(ctx context.Context, elapsed time.Duration, created bool, err error) {
	if m == nil {
		return
	}

	outcome := outcomeLabel(created, err)
	attrs := metric.WithAttributes(attribute.String("issuance.outcome", outcome))

	m.Requests.Add(ctx, 1, attrs)
	m.Duration.Record(ctx, elapsed.Seconds(), attrs)

	switch outcome {
	case "created":
		m.Issued.Add(ctx, 1)
	case "replayed":
		m.IdempotentHits.Add(ctx, 1)
	case "denied":
		m.Denials.Add(ctx, 1, attrs)
	default:
		m.Failures.Add(ctx, 1, attrs)
	}
}

func outcomeLabel(created bool, err error) string {
	if err == nil {
		if created {
			return "created"
		}
		return "replayed"
	}

	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case apierrors.CodeAllowlistDenied, apierrors.CodeSeatLimitExceeded:
			return "denied"
		default:
			return apiErr.Code
		}
	}
	return "error"
}
