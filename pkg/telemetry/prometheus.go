package telemetry

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for safeguard runs.
type Metrics struct {
	runsTotal         *prometheus.CounterVec
	safeguardsTotal   *prometheus.CounterVec
	safeguardDuration *prometheus.HistogramVec
	lastRunTimestamp  prometheus.Gauge
	lastRunBlocked    prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance backed by its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safeguards_runs_total",
				Help: "Total number of gate evaluations by outcome",
			},
			[]string{"outcome"},
		),
		safeguardsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safeguards_results_total",
				Help: "Total number of safeguard results by policy and status",
			},
			[]string{"policy", "status"},
		),
		safeguardDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "safeguards_policy_duration_seconds",
				Help:    "Safeguard policy execution latency in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"policy"},
		),
		lastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "safeguards_last_run_timestamp_seconds",
				Help: "Unix time the last gate evaluation finished",
			},
		),
		lastRunBlocked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "safeguards_last_run_blocked",
				Help: "1 when the last gate evaluation blocked the deployment",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.runsTotal,
		m.safeguardsTotal,
		m.safeguardDuration,
		m.lastRunTimestamp,
		m.lastRunBlocked,
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSafeguard records one safeguard result.
func (m *Metrics) ObserveSafeguard(policy, status string, seconds float64) {
	m.safeguardsTotal.WithLabelValues(policy, status).Inc()
	m.safeguardDuration.WithLabelValues(policy).Observe(seconds)
}

// ObserveRun records a finished gate evaluation.
func (m *Metrics) ObserveRun(outcome string, blocked bool, finishedUnix float64) {
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.lastRunTimestamp.Set(finishedUnix)
	if blocked {
		m.lastRunBlocked.Set(1)
	} else {
		m.lastRunBlocked.Set(0)
	}
}

// WriteTextfile writes the registry to path atomically for the node-exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
