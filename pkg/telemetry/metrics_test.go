package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRecordPolicyMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		ResetMetricsForTest()
	})

	ResetMetricsForTest()

	RecordPolicyMetrics(ctx, PolicyMetrics{
		Safeguard:      "Local policy: require-dlq",
		Policy:         "require-dlq",
		Enforcement:    "error",
		Status:         "failed",
		Duration:       150 * time.Millisecond,
		ExecutionError: true,
	})
	RecordRunMetrics(ctx, "blocked")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}

	exec, ok := metrics["safeguards.policy.executions_total"]
	require.True(t, ok, "missing executions metric")
	execData, ok := exec.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, execData.DataPoints, 1)
	assert.Equal(t, int64(1), execData.DataPoints[0].Value)
	status, ok := execData.DataPoints[0].Attributes.Value(attribute.Key("safeguard.status"))
	require.True(t, ok)
	assert.Equal(t, "failed", status.AsString())

	errs, ok := metrics["safeguards.policy.errors_total"]
	require.True(t, ok, "missing errors metric")
	assert.Equal(t, int64(1), errs.Data.(metricdata.Sum[int64]).DataPoints[0].Value)

	hist, ok := metrics["safeguards.policy.duration_ms"]
	require.True(t, ok, "missing duration metric")
	histData := hist.Data.(metricdata.Histogram[float64])
	assert.Equal(t, uint64(1), histData.DataPoints[0].Count)
	assert.Equal(t, float64(150), histData.DataPoints[0].Sum)

	runs, ok := metrics["safeguards.runs_total"]
	require.True(t, ok, "missing runs metric")
	assert.Equal(t, int64(1), runs.Data.(metricdata.Sum[int64]).DataPoints[0].Value)
}

func TestSafeguardSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	ctx, runSpan := StartRun(context.Background(), "run-1", "api", 1)
	_, span := StartSafeguard(ctx, "Local policy: require-dlq", "require-dlq", "error")
	RecordVerdict(span, "failed", 2, errors.New("boom"))
	span.End()
	RecordRunSummary(runSpan, 0, 0, 1)
	runSpan.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	child := spans[0]
	assert.Equal(t, SpanSafeguard, child.Name())
	assert.Equal(t, codes.Error, child.Status().Code)
	assert.Equal(t, spans[1].SpanContext().SpanID(), child.Parent().SpanID())

	attrs := attribute.NewSet(child.Attributes()...)
	value, ok := attrs.Value(attribute.Key("safeguard.messages.count"))
	require.True(t, ok)
	assert.Equal(t, int64(2), value.AsInt64())

	var eventNames []string
	for _, event := range child.Events() {
		eventNames = append(eventNames, event.Name)
	}
	assert.Contains(t, eventNames, "safeguard.failed")

	run := spans[1]
	assert.Equal(t, SpanRun, run.Name())
	runAttrs := attribute.NewSet(run.Attributes()...)
	blocked, ok := runAttrs.Value(attribute.Key("safeguards.blocked"))
	require.True(t, ok)
	assert.True(t, blocked.AsBool())
}

func TestMetrics_TextfileExport(t *testing.T) {
	m := NewMetrics()
	m.ObserveSafeguard("require-dlq", "failed", 0.02)
	m.ObserveSafeguard("allowed-regions", "passed", 0.001)
	m.ObserveRun("blocked", true, 1700000000)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.safeguardsTotal.WithLabelValues("require-dlq", "failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.lastRunBlocked))

	path := filepath.Join(t.TempDir(), "collector", "safeguards.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `safeguards_runs_total{outcome="blocked"} 1`), text)
	assert.Contains(t, text, "safeguards_policy_duration_seconds_bucket")
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveRun("passed", false, 1700000000)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `safeguards_runs_total{outcome="passed"} 1`)
	assert.Contains(t, rec.Body.String(), "safeguards_last_run_blocked 0")
}

func TestSetupProvider_NoEndpoint(t *testing.T) {
	shutdown, err := SetupProvider(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
