package safeguards

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/storage"
	"github.com/polisai/safeguards/pkg/telemetry"
)

// Run outcomes used for metrics labels.
const (
	OutcomePassed  = "passed"
	OutcomeWarned  = "warned"
	OutcomeBlocked = "blocked"
)

// Options configure an Orchestrator.
type Options struct {
	// Registry resolves safeguard names. It is required; policies.NewRegistry
	// provides one holding the built-in library.
	Registry *Registry
	Logger   *slog.Logger
	// Out receives the console report. Nil selects stdout.
	Out   io.Writer
	Color bool
	// PolicyTimeout bounds each safeguard. Zero waits indefinitely.
	PolicyTimeout time.Duration
	// Store records finished runs when set.
	Store storage.RunStore
	// Metrics receives Prometheus observations when set.
	Metrics *telemetry.Metrics
	Now     func() time.Time
	NewID   func() string
}

// Input is one gate evaluation request.
type Input struct {
	Service    *domain.Service
	Safeguards []domain.Safeguard
}

// Orchestrator runs configured safeguards in order and decides the gate outcome.
type Orchestrator struct {
	registry *Registry
	logger   *slog.Logger
	console  *Console
	timeout  time.Duration
	store    storage.RunStore
	metrics  *telemetry.Metrics
	now      func() time.Time
	newID    func() string
}

// NewOrchestrator applies defaults to opts.
func NewOrchestrator(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	return &Orchestrator{
		registry: opts.Registry,
		logger:   logger,
		console:  NewConsole(out, opts.Color),
		timeout:  opts.PolicyTimeout,
		store:    opts.Store,
		metrics:  opts.Metrics,
		now:      now,
		newID:    newID,
	}
}

// Run evaluates every safeguard against the service. An empty list is a no-op
// returning a nil report. Unresolvable policies abort before any safeguard runs.
// When an error-level safeguard fails, the report is returned together with a
// DomainError wrapping ErrGateBlocked. Cancelling ctx mid-run returns the
// context error and no report.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*domain.RunReport, error) {
	if len(in.Safeguards) == 0 {
		return nil, nil
	}
	if in.Service == nil {
		return nil, fmt.Errorf("%w: service snapshot is required", domain.ErrConfigInvalid)
	}
	if o.registry == nil {
		return nil, fmt.Errorf("%w: policy registry is required", domain.ErrConfigInvalid)
	}

	o.console.Start()

	defs := make([]Definition, len(in.Safeguards))
	for i, sg := range in.Safeguards {
		def, err := o.registry.Load(ctx, sg.PolicyPath, sg.SafeguardName)
		if err != nil {
			o.logger.ErrorContext(ctx, "safeguard policy not found",
				"safeguard", sg.SafeguardName,
				"policy_path", sg.PolicyPath,
				"error", err)
			return nil, err
		}
		defs[i] = def
	}

	svc := in.Service
	report := &domain.RunReport{
		ID:        o.newID(),
		Service:   svc.Declaration.Service,
		StartedAt: o.now(),
	}
	if svc.Provider != nil {
		report.Stage = svc.Provider.Stage()
		report.Region = svc.Provider.Region()
	}

	ctx, span := telemetry.StartRun(ctx, report.ID, report.Service, len(in.Safeguards))
	defer span.End()

	o.logger.InfoContext(ctx, "safeguards run started",
		"run_id", report.ID,
		"service", report.Service,
		"stage", report.Stage,
		"safeguards", len(in.Safeguards))

	o.console.Header()
	for i, sg := range in.Safeguards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := o.runSafeguard(ctx, sg, defs[i], svc)
		if err != nil {
			o.logger.WarnContext(ctx, "safeguards run interrupted",
				"run_id", report.ID,
				"safeguard", sg.Title,
				"error", err)
			return nil, err
		}
		report.Results = append(report.Results, result)
		report.Summary.Add(result.Status)
	}
	report.FinishedAt = o.now()

	o.console.Details(report.NonPassed())
	o.console.Summary(report.Summary)

	outcome := outcomeOf(report.Summary)
	telemetry.RecordRunSummary(span, report.Summary.Passed, report.Summary.Warned, report.Summary.Failed)
	telemetry.RecordRunMetrics(ctx, outcome)
	if o.metrics != nil {
		o.metrics.ObserveRun(outcome, report.Summary.Blocked(), float64(report.FinishedAt.Unix()))
	}
	if o.store != nil {
		if err := o.store.SaveRun(ctx, report); err != nil {
			o.logger.WarnContext(ctx, "failed to record run history", "run_id", report.ID, "error", err)
		}
	}

	o.logger.InfoContext(ctx, "safeguards run finished",
		"run_id", report.ID,
		"outcome", outcome,
		"passed", report.Summary.Passed,
		"warnings", report.Summary.Warned,
		"errors", report.Summary.Failed)

	if report.Summary.Blocked() {
		return report, &domain.DomainError{
			Err:     domain.ErrGateBlocked,
			Code:    domain.CodeGateBlocked,
			Message: domain.ErrGateBlocked.Error(),
			Details: map[string]any{"runId": report.ID, "failed": report.Summary.Failed},
		}
	}
	return report, nil
}

// runSafeguard returns an error only when ctx ended while the policy ran.
func (o *Orchestrator) runSafeguard(ctx context.Context, sg domain.Safeguard, def Definition, svc *domain.Service) (domain.Result, error) {
	ctx, span := telemetry.StartSafeguard(ctx, sg.Title, sg.SafeguardName, string(sg.EnforcementLevel))
	defer span.End()

	o.console.Running(sg.Title)

	judge := NewJudge()
	start := time.Now()
	err := o.execute(ctx, def, judge, svc, sg.Config)
	duration := time.Since(start)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.Result{}, ctxErr
	}

	var execErr error
	var failure *FailureError
	switch {
	case errors.As(err, &failure):
		judge.Fail(failure.Message)
	case err != nil:
		execErr = err
		judge.Fail(err.Error())
		o.logger.WarnContext(ctx, "safeguard policy execution error",
			"safeguard", sg.Title,
			"policy", sg.SafeguardName,
			"error", err)
	case !judge.decided():
		o.logger.WarnContext(ctx, "safeguard policy finished running, but did not explicitly approve the deployment",
			"safeguard", sg.Title,
			"policy", sg.SafeguardName)
	}

	verdict := judge.Verdict()
	status := domain.DisplayStatus(verdict, sg.EnforcementLevel)
	o.console.Finished(sg.Title, status)

	docs := sg.Docs
	if docs == "" {
		docs = def.Docs
	}

	telemetry.RecordVerdict(span, string(status), len(verdict.Messages), execErr)
	telemetry.RecordPolicyMetrics(ctx, telemetry.PolicyMetrics{
		Safeguard:      sg.Title,
		Policy:         sg.SafeguardName,
		Enforcement:    string(sg.EnforcementLevel),
		Status:         string(status),
		Duration:       duration,
		ExecutionError: execErr != nil,
	})
	if o.metrics != nil {
		o.metrics.ObserveSafeguard(sg.SafeguardName, string(status), duration.Seconds())
	}

	return domain.Result{
		Safeguard: sg,
		Status:    status,
		Messages:  verdict.Messages,
		Docs:      docs,
		Duration:  duration,
	}, nil
}

// execute invokes the policy, converting panics into errors and applying the optional timeout.
func (o *Orchestrator) execute(ctx context.Context, def Definition, j *Judge, svc *domain.Service, config any) error {
	if o.timeout <= 0 {
		return invoke(ctx, def.Policy, j, svc, config)
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(parent, o.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- invoke(ctx, def.Policy, j, svc, config)
	}()

	var err error
	select {
	case err = <-done:
		if ctx.Err() == nil {
			return err
		}
	case <-ctx.Done():
	}
	if parentErr := parent.Err(); parentErr != nil {
		return parentErr
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("policy %s did not finish within %s", def.Name, o.timeout)
	}
	return err
}

func invoke(ctx context.Context, p Policy, j *Judge, svc *domain.Service, config any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrPolicyEvalFailed, r)
		}
	}()
	return p.Check(ctx, j, svc, config)
}

func outcomeOf(s domain.Summary) string {
	switch {
	case s.Blocked():
		return OutcomeBlocked
	case s.Warned > 0:
		return OutcomeWarned
	default:
		return OutcomePassed
	}
}
