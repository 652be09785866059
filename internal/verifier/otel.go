package verifier

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"quantumlic/pkg/contracts/domain"
)

const MeterName = "license-verifier"

// Metrics holds the verifier-specific OpenTelemetry instruments.
type Metrics struct {
	Checks        metric.Int64Counter
	CheckFailures metric.Int64Counter
	Activations   metric.Int64Counter
}

// NewMetrics creates the verifier instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error
	m.Checks, err = meter.Int64Counter(
		"license_checks_total",
		metric.WithDescription("Total number of local license verifications"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create checks counter: %w", err)
	}

	m.CheckFailures, err = meter.Int64Counter(
		"license_check_failures_total",
		metric.WithDescription("Total number of local license verifications ending invalid or in error"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create check failures counter: %w", err)
	}

	m.Activations, err = meter.Int64Counter(
		"license_activations_total",
		metric.WithDescription("Total number of activation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activations counter: %w", err)
	}

	return m, nil
}

// observeCheck records one completed verification. Safe on a nil receiver so
// the manager can run without instrumentation in tests and tools.
func (m *Metrics) observeCheck(ctx context.Context, status domain.LicenseStatus) {
	if m == nil {
		return
	}
	m.Checks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("license.state", string(status.State))))

	if status.State == domain.LicenseStateInvalid || status.State == domain.LicenseStateError {
		m.CheckFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("license.reason", status.Reason)))
	}
}

// observeActivation records one activation attempt with its outcome.
func (m *Metrics) observeActivation(ctx context.Context, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		var actErr *ActivationError
		if errors.As(err, &actErr) {
			outcome = actErr.Code
		} else {
			outcome = "error"
		}
	}
	m.Activations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("activation.outcome", outcome)))
}
