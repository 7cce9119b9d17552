// Package telemetry wires OpenTelemetry tracing and metrics plus a Prometheus
// registry for safeguard runs.
//
// Spans and OTel instruments go through the process-wide providers so a host
// can export them over OTLP. The Prometheus Metrics type is self-contained and
// can be flushed to a node-exporter textfile after a one-shot CLI run.
package telemetry
