package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/polisai/safeguards"

var (
	metricsOnce            sync.Once
	metricsInitErr         error
	policyExecutionCounter metric.Int64Counter
	policyErrorCounter     metric.Int64Counter
	policyLatencyHistogram metric.Float64Histogram
	runCounter             metric.Int64Counter
)

// PolicyMetrics captures the fields needed to record one safeguard execution.
type PolicyMetrics struct {
	Safeguard   string
	Policy      string
	Enforcement string
	Status      string
	Duration    time.Duration
	// ExecutionError is set when the policy returned an unexpected error or panicked.
	ExecutionError bool
}

// RecordPolicyMetrics emits counters and histograms describing a safeguard execution.
func RecordPolicyMetrics(ctx context.Context, m PolicyMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("safeguard.policy", m.Policy),
		attribute.String("safeguard.enforcement", m.Enforcement),
		attribute.String("safeguard.status", m.Status),
	)

	policyExecutionCounter.Add(ctx, 1, attrs)

	if m.Duration > 0 {
		policyLatencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}

	if m.ExecutionError {
		policyErrorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("safeguard.policy", m.Policy)))
	}
}

// RecordRunMetrics counts a completed gate evaluation by outcome.
func RecordRunMetrics(ctx context.Context, outcome string) {
	if err := ensureMetrics(); err != nil {
		return
	}
	runCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("safeguards.outcome", outcome)))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter(instrumentationName)

		policyExecutionCounter, metricsInitErr = meter.Int64Counter(
			"safeguards.policy.executions_total",
			metric.WithDescription("Safeguard policy executions partitioned by status and enforcement level"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		policyErrorCounter, metricsInitErr = meter.Int64Counter(
			"safeguards.policy.errors_total",
			metric.WithDescription("Safeguard policies that returned an unexpected error"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		policyLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"safeguards.policy.duration_ms",
			metric.WithDescription("Observed safeguard policy latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		runCounter, metricsInitErr = meter.Int64Counter(
			"safeguards.runs_total",
			metric.WithDescription("Gate evaluations partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}
