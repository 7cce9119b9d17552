package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/safeguards/pkg/config"
	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/telemetry"
)

func newWatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-evaluate safeguards whenever the declaration, artifacts or safeguards file change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := a.parseRunOptions(cmd)
			if err != nil {
				return err
			}
			debounce, err := cmd.Flags().GetDuration("debounce")
			if err != nil {
				return fmt.Errorf("failed to get debounce flag: %w", err)
			}
			addr, err := cmd.Flags().GetString("metrics-addr")
			if err != nil {
				return fmt.Errorf("failed to get metrics-addr flag: %w", err)
			}
			if addr != "" {
				opts.metrics = telemetry.NewMetrics()
				stop, err := a.serveMetrics(cmd.Context(), addr, opts.metrics)
				if err != nil {
					return err
				}
				defer stop()
			}
			return a.watch(cmd.Context(), opts, debounce)
		},
	}
	addRunFlags(cmd)
	cmd.Flags().Duration("debounce", config.DefaultDebounce, "Quiet period before re-running after a change")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while watching (e.g. :9464)")
	return cmd
}

// watch runs the gate once, then again after every debounced change until
// ctx is cancelled. Blocked runs and load errors are logged, not fatal.
func (a *app) watch(ctx context.Context, opts *runOptions, debounce time.Duration) error {
	paths := []string{opts.declaration, opts.artifacts}
	if opts.source != "" && !config.IsRemote(opts.source) {
		paths = append(paths, opts.source)
	}

	watcher, err := config.NewWatcher(paths, debounce, a.logger)
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	evaluate := func(ctx context.Context) {
		_, err := a.runGate(ctx, opts)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrGateBlocked):
			a.logger.Warn("deployment would be blocked", "declaration", opts.declaration)
		case ctx.Err() != nil:
		default:
			a.logger.Error("safeguards run failed", "error", err)
		}
	}

	evaluate(ctx)
	a.logger.Info("watching for changes", "paths", paths)
	return watcher.Run(ctx, evaluate)
}

// serveMetrics exposes metrics on addr at /metrics until the returned stop
// function is called.
func (a *app) serveMetrics(ctx context.Context, addr string, metrics *telemetry.Metrics) (func(), error) {
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", listener.Addr().String())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}, nil
}
