package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names emitted by the orchestrator.
const (
	SpanRun       = "safeguards.run"
	SpanSafeguard = "safeguards.policy"
)

// Tracer returns the package tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartRun opens the span covering one gate evaluation.
func StartRun(ctx context.Context, runID, service string, safeguards int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, SpanRun, trace.WithAttributes(
		attribute.String("safeguards.run_id", runID),
		attribute.String("safeguards.service", service),
		attribute.Int("safeguards.count", safeguards),
	))
}

// StartSafeguard opens a child span for one safeguard execution.
func StartSafeguard(ctx context.Context, title, policy, enforcement string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, SpanSafeguard, trace.WithAttributes(
		attribute.String("safeguard.title", title),
		attribute.String("safeguard.policy", policy),
		attribute.String("safeguard.enforcement", enforcement),
	))
}

// RecordVerdict annotates a safeguard span with its displayed status.
// Messages are counted rather than attached; they may quote configuration values.
func RecordVerdict(span trace.Span, status string, messages int, execErr error) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.String("safeguard.status", status),
		attribute.Int("safeguard.messages.count", messages),
	)

	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, "policy execution error")
	}

	if status == "failed" {
		span.AddEvent("safeguard.failed")
	}
}

// RecordRunSummary annotates the run span with the summary counts.
func RecordRunSummary(span trace.Span, passed, warned, failed int) {
	if span == nil || !span.IsRecording() {
		return
	}

	blocked := failed > 0
	span.SetAttributes(
		attribute.Int("safeguards.passed", passed),
		attribute.Int("safeguards.warned", warned),
		attribute.Int("safeguards.failed", failed),
		attribute.Bool("safeguards.blocked", blocked),
	)
	if blocked {
		span.SetStatus(codes.Error, "deployment blocked")
	}
}
