package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/safeguards/pkg/config"
	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/safeguards"
	"github.com/polisai/safeguards/pkg/safeguards/policies"
	"github.com/polisai/safeguards/pkg/storage"
	"github.com/polisai/safeguards/pkg/telemetry"
)

const (
	formatText = "text"
	formatJSON = "json"
)

// runOptions are the inputs of one gate evaluation.
type runOptions struct {
	declaration      string
	artifacts        string
	stage            string
	region           string
	frameworkVersion string
	source           string
	format           string
	noColor          bool
	policyTimeout    time.Duration
	history          string
	metricsFile      string

	// metrics is shared across evaluations when set.
	metrics *telemetry.Metrics
}

func addRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("config", "c", "serverless.yml", "Path to the service declaration")
	flags.String("artifacts", "", "Compiled artifacts directory (default: .serverless next to the declaration)")
	flags.StringP("stage", "s", "", "Deployment stage (default: provider.stage, then dev)")
	flags.StringP("region", "r", "", "Deployment region (default: provider.region, then us-east-1)")
	flags.String("framework-version", "", "Serverless Framework version performing the deployment")
	flags.String("safeguards", "", "Additional safeguards file or URL")
	flags.String("format", formatText, "Report format (text, json)")
	flags.Bool("no-color", false, "Disable colored output")
	flags.Duration("policy-timeout", 0, "Maximum time a single safeguard may run (0 waits indefinitely)")
	flags.String("history", "", "SQLite database recording run history")
	flags.String("metrics-file", "", "Write Prometheus metrics to this textfile after the run")
}

// parseRunOptions reads run flags, falling back to the settings file.
func (a *app) parseRunOptions(cmd *cobra.Command) (*runOptions, error) {
	flags := cmd.Flags()
	opts := &runOptions{}
	var err error
	get := func(name string, dst *string) {
		if err == nil {
			*dst, err = flags.GetString(name)
		}
	}
	get("config", &opts.declaration)
	get("artifacts", &opts.artifacts)
	get("stage", &opts.stage)
	get("region", &opts.region)
	get("framework-version", &opts.frameworkVersion)
	get("safeguards", &opts.source)
	get("format", &opts.format)
	get("history", &opts.history)
	get("metrics-file", &opts.metricsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read flags: %w", err)
	}
	if opts.noColor, err = flags.GetBool("no-color"); err != nil {
		return nil, fmt.Errorf("failed to get no-color flag: %w", err)
	}
	if opts.policyTimeout, err = flags.GetDuration("policy-timeout"); err != nil {
		return nil, fmt.Errorf("failed to get policy-timeout flag: %w", err)
	}

	if opts.artifacts == "" {
		opts.artifacts = filepath.Join(filepath.Dir(opts.declaration), config.DefaultArtifactsDir)
	}
	if opts.source == "" {
		opts.source = a.settings.Policies.Source
	}
	if !flags.Changed("policy-timeout") {
		opts.policyTimeout = a.settings.Policies.Timeout
	}
	if opts.history == "" {
		opts.history = a.settings.History.Path
	}
	if opts.metricsFile == "" {
		opts.metricsFile = a.settings.Metrics.File
	}

	switch opts.format {
	case formatText, formatJSON:
	default:
		return nil, fmt.Errorf("%w: unknown format %q, supported formats: text, json", domain.ErrConfigInvalid, opts.format)
	}
	if opts.policyTimeout < 0 {
		return nil, fmt.Errorf("%w: policy-timeout must not be negative", domain.ErrConfigInvalid)
	}
	return opts, nil
}

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate safeguards once and exit non-zero when the deployment is blocked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := a.parseRunOptions(cmd)
			if err != nil {
				return err
			}
			_, err = a.runGate(cmd.Context(), opts)
			return err
		},
	}
	addRunFlags(cmd)
	return cmd
}

// gateInputs loads the service snapshot and the safeguards to evaluate.
// A nil service means safeguards are disabled for this declaration.
func (a *app) gateInputs(ctx context.Context, opts *runOptions) (*domain.Service, []domain.Safeguard, error) {
	decl, err := config.LoadDeclaration(opts.declaration)
	if err != nil {
		return nil, nil, err
	}
	if config.Disabled(decl) {
		a.logger.Info("safeguards disabled by the service declaration", "declaration", opts.declaration)
		return nil, nil, nil
	}

	entries, err := config.LocalSafeguards(decl, filepath.Dir(opts.declaration))
	if err != nil {
		return nil, nil, err
	}
	if opts.source != "" {
		var extra []domain.Safeguard
		if config.IsRemote(opts.source) {
			extra, err = config.FetchSafeguards(ctx, nil, opts.source)
		} else {
			extra, err = config.LoadSafeguards(opts.source)
		}
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, extra...)
	}
	if len(entries) == 0 {
		return nil, nil, nil
	}

	compiled, err := config.LoadArtifacts(opts.artifacts)
	if err != nil {
		return nil, nil, err
	}

	svc := &domain.Service{
		Declaration:      decl,
		Compiled:         compiled,
		Provider:         domain.NewAWSProvider(decl, opts.stage, opts.region),
		FrameworkVersion: opts.frameworkVersion,
	}
	return svc, entries, nil
}

// runGate evaluates the gate once. The returned error wraps
// domain.ErrGateBlocked when an error-level safeguard failed.
func (a *app) runGate(ctx context.Context, opts *runOptions) (*domain.RunReport, error) {
	svc, entries, err := a.gateInputs(ctx, opts)
	if err != nil || svc == nil {
		return nil, err
	}

	shutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: a.settings.Telemetry.ServiceName,
		Endpoint:    a.settings.Telemetry.OTLPEndpoint,
		Insecure:    a.settings.Telemetry.Insecure,
		Stage:       svc.Provider.Stage(),
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("failed to flush traces", "error", err)
		}
	}()

	registry, err := policies.NewRegistry(a.logger)
	if err != nil {
		return nil, err
	}

	var store storage.RunStore
	if opts.history != "" {
		sqlite, err := storage.OpenSQLiteRunStore(ctx, opts.history)
		if err != nil {
			return nil, err
		}
		defer func() { _ = sqlite.Close() }()
		store = sqlite
	}

	metrics := opts.metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}

	var out io.Writer = a.streams.Out
	if opts.format == formatJSON {
		out = io.Discard
	}
	orchestrator := safeguards.NewOrchestrator(safeguards.Options{
		Registry:      registry,
		Logger:        a.logger,
		Out:           out,
		Color:         opts.format == formatText && !opts.noColor && colorEnabled(a.streams.Out),
		PolicyTimeout: opts.policyTimeout,
		Store:         store,
		Metrics:       metrics,
	})

	report, runErr := orchestrator.Run(ctx, safeguards.Input{Service: svc, Safeguards: entries})

	if report != nil && opts.format == formatJSON {
		if err := safeguards.WriteJSON(a.streams.Out, report); err != nil {
			return report, err
		}
	}
	if report != nil && opts.metricsFile != "" {
		if err := metrics.WriteTextfile(opts.metricsFile); err != nil {
			a.logger.Warn("failed to write metrics textfile", "path", opts.metricsFile, "error", err)
		}
	}
	return report, runErr
}
