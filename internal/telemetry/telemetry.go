// Package telemetry records dispatch metrics with OpenTelemetry. Without a
// configured MeterProvider the global noop provider is used.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashureev/followups/internal/dispatch"
	"github.com/ashureev/followups/internal/domain"
)

const meterName = "github.com/ashureev/followups"

// Metrics is a dispatch.Observer that counts outcomes and times passes. Its
// DeliveryAttempt method is a delivery.AttemptHook.
type Metrics struct {
	outcomes     metric.Int64Counter
	passDuration metric.Float64Histogram
	attempts     metric.Int64Counter
}

var _ dispatch.Observer = (*Metrics)(nil)

// New creates Metrics on the global MeterProvider.
func New() *Metrics {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter creates Metrics on meter.
func NewWithMeter(meter metric.Meter) *Metrics {
	// Instrument errors still yield usable noop instruments.
	outcomes, _ := meter.Int64Counter(
		"followups.dispatch.outcomes",
		metric.WithDescription("Dispatch outcomes by kind"),
		metric.WithUnit("{outcome}"),
	)
	passDuration, _ := meter.Float64Histogram(
		"followups.dispatch.pass.duration",
		metric.WithDescription("Duration of dispatch passes in seconds"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter(
		"followups.delivery.attempts",
		metric.WithDescription("Provider calls by result"),
		metric.WithUnit("{attempt}"),
	)
	return &Metrics{outcomes: outcomes, passDuration: passDuration, attempts: attempts}
}

// PassStarted implements dispatch.Observer.
func (m *Metrics) PassStarted(context.Context, string) {}

// Outcome implements dispatch.Observer.
func (m *Metrics) Outcome(ctx context.Context, _ string, o domain.Outcome) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(o.Kind)),
		attribute.String("channel", string(o.Channel)),
	))
}

// PassFinished implements dispatch.Observer.
func (m *Metrics) PassFinished(ctx context.Context, r *dispatch.Report) {
	m.passDuration.Record(ctx, r.Duration().Seconds())
}

// DeliveryAttempt counts one provider call.
func (m *Metrics) DeliveryAttempt(ctx context.Context, result string) {
	m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
