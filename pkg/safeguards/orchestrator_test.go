package safeguards

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/storage"
	"github.com/polisai/safeguards/pkg/telemetry"
)

func testService() *domain.Service {
	return &domain.Service{
		Declaration: domain.Declaration{Service: "svc"},
		Provider:    domain.AWSProvider{StageName: "dev", RegionName: "us-east-1"},
	}
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(nil,
		Definition{Name: "pass", Docs: "http://docs/pass", Policy: approving()},
		Definition{Name: "fail-twice", Docs: "http://docs/fail", Policy: PolicyFunc(func(_ context.Context, j *Judge, _ *domain.Service, _ any) error {
			j.Fail("first problem.")
			j.Fail("second problem.")
			return nil
		})},
		Definition{Name: "early-return", Policy: PolicyFunc(func(_ context.Context, j *Judge, _ *domain.Service, _ any) error {
			return Failure("stopped early")
		})},
		Definition{Name: "errors", Policy: PolicyFunc(func(_ context.Context, _ *Judge, _ *domain.Service, _ any) error {
			return errors.New("boom")
		})},
		Definition{Name: "panics", Policy: PolicyFunc(func(_ context.Context, _ *Judge, _ *domain.Service, _ any) error {
			panic("kaboom")
		})},
		Definition{Name: "silent", Policy: PolicyFunc(func(_ context.Context, _ *Judge, _ *domain.Service, _ any) error {
			return nil
		})},
		Definition{Name: "echo-config", Policy: PolicyFunc(func(_ context.Context, j *Judge, _ *domain.Service, config any) error {
			if config != "ok" {
				j.Failf("unexpected config %v", config)
				return nil
			}
			j.Approve()
			return nil
		})},
		Definition{Name: "hangs", Policy: PolicyFunc(func(ctx context.Context, _ *Judge, _ *domain.Service, _ any) error {
			<-ctx.Done()
			return ctx.Err()
		})},
		Definition{Name: "sleeps-then-fails", Policy: PolicyFunc(func(_ context.Context, j *Judge, _ *domain.Service, _ any) error {
			time.Sleep(200 * time.Millisecond)
			j.Fail("too late")
			return nil
		})},
	)
	require.NoError(t, err)
	return reg
}

func entry(title, name string, level domain.EnforcementLevel) domain.Safeguard {
	return domain.Safeguard{
		Title:            title,
		SafeguardName:    name,
		EnforcementLevel: level,
		Description:      title + " description",
	}
}

func newTestOrchestrator(t *testing.T, out *bytes.Buffer, mutate ...func(*Options)) *Orchestrator {
	t.Helper()
	opts := Options{
		Registry: testRegistry(t),
		Out:      out,
		NewID:    func() string { return "run-1" },
		Now:      func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	return NewOrchestrator(opts)
}

func TestRunEmptyListIsSilent(t *testing.T) {
	var out bytes.Buffer
	o := newTestOrchestrator(t, &out)

	report, err := o.Run(context.Background(), Input{Service: testService()})
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.Empty(t, out.String())
}

func TestRunAllPass(t *testing.T) {
	var out bytes.Buffer
	o := newTestOrchestrator(t, &out)

	report, err := o.Run(context.Background(), Input{
		Service: testService(),
		Safeguards: []domain.Safeguard{
			entry("one", "pass", domain.EnforcementError),
			entry("two", "pass", domain.EnforcementWarning),
		},
	})
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, domain.Summary{Passed: 2}, report.Summary)
	assert.Equal(t, "run-1", report.ID)
	assert.Equal(t, "svc", report.Service)
	assert.Equal(t, "dev", report.Stage)
	assert.Equal(t, "us-east-1", report.Region)

	want := "Safeguards Processing...\n" +
		"Safeguards Results:\n\n   Summary " + rule + "\n\n" +
		"  running - one\r   passed - one\n" +
		"  running - two\r   passed - two\n" +
		"Safeguards Summary: 2 passed, 0 warnings, 0 errors\n"
	assert.Equal(t, want, out.String())
}

func TestRunWarningLevelFailureDoesNotBlock(t *testing.T) {
	var out bytes.Buffer
	o := newTestOrchestrator(t, &out)

	sg := entry("soft", "fail-twice", domain.EnforcementWarning)
	report, err := o.Run(context.Background(), Input{Service: testService(), Safeguards: []domain.Safeguard{sg}})
	require.NoError(t, err)

	assert.Equal(t, domain.Summary{Warned: 1}, report.Summary)
	require.Len(t, report.Results, 1)
	assert.Equal(t, []string{"first problem.", "second problem."}, report.Results[0].Messages)
	assert.Equal(t, "http://docs/fail", report.Results[0].Docs)

	want := "Safeguards Processing...\n" +
		"Safeguards Results:\n\n   Summary " + rule + "\n\n" +
		"  running - soft\r   warned - soft\n" +
		"\n   Details " + rule + "\n\n" +
		"   1) Warned - first problem. second problem.\n" +
		"      details: http://docs/fail\n" +
		"      soft description\n\n" +
		"Safeguards Summary: 0 passed, 1 warnings, 0 errors\n"
	assert.Equal(t, want, out.String())
}

func TestRunErrorLevelFailureBlocks(t *testing.T) {
	var out bytes.Buffer
	o := newTestOrchestrator(t, &out)

	sg := entry("hard", "fail-twice", domain.EnforcementError)
	sg.Docs = "http://override"
	report, err := o.Run(context.Background(), Input{
		Service:    testService(),
		Safeguards: []domain.Safeguard{sg, entry("after", "pass", domain.EnforcementError)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGateBlocked)
	assert.Contains(t, err.Error(), "Deployment blocked by Serverless Safeguards")

	var domainErr *domain.DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, domain.CodeGateBlocked, domainErr.Code)

	require.NotNil(t, report)
	assert.Equal(t, domain.Summary{Passed: 1, Failed: 1}, report.Summary)
	assert.Equal(t, "http://override", report.Results[0].Docs)
	assert.Contains(t, out.String(), "   1) Failed - first problem. second problem.\n      details: http://override\n")
	assert.True(t, strings.HasSuffix(out.String(), "Safeguards Summary: 1 passed, 0 warnings, 1 errors\n"))
}

func TestRunFoldsErrorsAndPanics(t *testing.T) {
	var out bytes.Buffer
	o := newTestOrchestrator(t, &out)

	report, err := o.Run(context.Background(), Input{
		Service: testService(),
		Safeguards: []domain.Safeguard{
			entry("early", "early-return", domain.EnforcementWarning),
			entry("err", "errors", domain.EnforcementWarning),
			entry("panic", "panics", domain.EnforcementWarning),
			entry("silent", "silent", domain.EnforcementError),
		},
	})
	require.NoError(t, err)
	require.Len(t, report.Results, 4)

	assert.Equal(t, []string{"stopped early"}, report.Results[0].Messages)
	assert.Equal(t, []string{"boom"}, report.Results[1].Messages)
	require.Len(t, report.Results[2].Messages, 1)
	assert.Contains(t, report.Results[2].Messages[0], "kaboom")
	assert.Equal(t, domain.StatusPassed, report.Results[3].Status)
	assert.Equal(t, domain.Summary{Passed: 1, Warned: 3}, report.Summary)
}

func TestRunPassesConfigThrough(t *testing.T) {
	var out bytes.Buffer
	o := newTestOrchestrator(t, &out)

	sg := entry("cfg", "echo-config", domain.EnforcementError)
	sg.Config = "ok"
	report, err := o.Run(context.Background(), Input{Service: testService(), Safeguards: []domain.Safeguard{sg}})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPassed, report.Results[0].Status)
}

func TestRunPolicyNotFoundIsFatal(t *testing.T) {
	var out bytes.Buffer
	o := newTestOrchestrator(t, &out)

	report, err := o.Run(context.Background(), Input{
		Service: testService(),
		Safeguards: []domain.Safeguard{
			entry("ok", "pass", domain.EnforcementError),
			entry("missing", "does-not-exist", domain.EnforcementError),
		},
	})
	assert.Nil(t, report)
	assert.ErrorIs(t, err, domain.ErrPolicyNotFound)
	assert.NotContains(t, out.String(), "running - ok")
}

func TestRunPolicyTimeout(t *testing.T) {
	var out bytes.Buffer
	o := newTestOrchestrator(t, &out, func(opts *Options) {
		opts.PolicyTimeout = 20 * time.Millisecond
	})

	report, err := o.Run(context.Background(), Input{
		Service:    testService(),
		Safeguards: []domain.Safeguard{entry("slow", "hangs", domain.EnforcementError)},
	})
	assert.ErrorIs(t, err, domain.ErrGateBlocked)
	require.NotNil(t, report)
	assert.Contains(t, report.Results[0].Messages[0], "did not finish within")
}

func TestRunStopsOnCancellation(t *testing.T) {
	var out bytes.Buffer
	o := newTestOrchestrator(t, &out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Run(ctx, Input{
		Service:    testService(),
		Safeguards: []domain.Safeguard{entry("one", "pass", domain.EnforcementError)},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunCancelledMidPolicyDoesNotApprove(t *testing.T) {
	for name, timeout := range map[string]time.Duration{
		"with policy timeout":    time.Minute,
		"without policy timeout": 0,
	} {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			store := storage.NewMemoryRunStore()
			o := newTestOrchestrator(t, &out, func(opts *Options) {
				opts.PolicyTimeout = timeout
				opts.Store = store
			})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			time.AfterFunc(20*time.Millisecond, cancel)

			report, err := o.Run(ctx, Input{
				Service:    testService(),
				Safeguards: []domain.Safeguard{entry("slow", "sleeps-then-fails", domain.EnforcementError)},
			})
			assert.ErrorIs(t, err, context.Canceled)
			assert.Nil(t, report)
			assert.NotContains(t, out.String(), "Safeguards Summary")

			runs, err := store.ListRuns(context.Background(), storage.RunFilter{})
			require.NoError(t, err)
			assert.Empty(t, runs)
		})
	}
}

func TestRunRequiresRegistry(t *testing.T) {
	o := NewOrchestrator(Options{Out: &bytes.Buffer{}})
	_, err := o.Run(context.Background(), Input{
		Service:    testService(),
		Safeguards: []domain.Safeguard{entry("one", "pass", "")},
	})
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestRunRequiresService(t *testing.T) {
	o := newTestOrchestrator(t, &bytes.Buffer{})
	_, err := o.Run(context.Background(), Input{Safeguards: []domain.Safeguard{entry("one", "pass", "")}})
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestRunRecordsHistoryAndMetrics(t *testing.T) {
	store := storage.NewMemoryRunStore()
	metrics := telemetry.NewMetrics()

	var out bytes.Buffer
	o := newTestOrchestrator(t, &out, func(opts *Options) {
		opts.Store = store
		opts.Metrics = metrics
	})

	_, err := o.Run(context.Background(), Input{
		Service: testService(),
		Safeguards: []domain.Safeguard{
			entry("one", "pass", domain.EnforcementError),
			entry("two", "fail-twice", domain.EnforcementError),
		},
	})
	require.ErrorIs(t, err, domain.ErrGateBlocked)

	saved, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{Passed: 1, Failed: 1}, saved.Summary)

	runs, err := testutil.GatherAndCount(metrics.Registry(), "safeguards_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
	results, err := testutil.GatherAndCount(metrics.Registry(), "safeguards_results_total")
	require.NoError(t, err)
	assert.Equal(t, 2, results)
}

func TestRunColorsStatuses(t *testing.T) {
	var out bytes.Buffer
	o := newTestOrchestrator(t, &out, func(opts *Options) { opts.Color = true })

	_, err := o.Run(context.Background(), Input{
		Service:    testService(),
		Safeguards: []domain.Safeguard{entry("one", "pass", domain.EnforcementError)},
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "\r   "+colorGreen+"passed"+colorReset+" - one\n")
}
