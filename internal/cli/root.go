// Package cli implements the safeguards command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/polisai/safeguards/pkg/config"
	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/logging"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
)

// Streams are the process's standard streams.
type Streams struct {
	Out io.Writer
	Err io.Writer
}

func (s Streams) withDefaults() Streams {
	if s.Out == nil {
		s.Out = os.Stdout
	}
	if s.Err == nil {
		s.Err = os.Stderr
	}
	return s
}

// app carries state shared by subcommands once the root pre-run has executed.
type app struct {
	streams  Streams
	settings *config.Config
	logger   *slog.Logger
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, streams Streams) int {
	streams = streams.withDefaults()
	cmd := NewRootCmd(streams)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, domain.ErrGateBlocked) {
			_, _ = fmt.Fprintln(streams.Err, err)
		} else {
			_, _ = fmt.Fprintf(streams.Err, "Error: %v\n", err)
		}
		return ExitFailure
	}
	return ExitOK
}

// NewRootCmd creates the safeguards root command.
func NewRootCmd(streams Streams) *cobra.Command {
	streams = streams.withDefaults()
	a := &app{streams: streams}

	rootCmd := &cobra.Command{
		Use:   "safeguards",
		Short: "Policy gate for Serverless deployments",
		Long: `Evaluates configured safeguards against a packaged Serverless service and
blocks the deployment when an error-level safeguard fails.

Example:
  serverless package && safeguards run --config serverless.yml --stage prod`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	rootCmd.SetOut(streams.Out)
	rootCmd.SetErr(streams.Err)

	flags := rootCmd.PersistentFlags()
	flags.String("settings", "", "Path to the safeguards settings file (YAML)")
	flags.StringSlice("env-file", nil, "Dotenv files loaded before running (repeatable)")
	flags.StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text, json)")

	rootCmd.AddCommand(
		newRunCmd(a),
		newWatchCmd(a),
		newListCmd(a),
		newHistoryCmd(a),
	)
	return rootCmd
}

// setup loads dotenv files and settings, then builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	envFiles, err := cmd.Flags().GetStringSlice("env-file")
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return fmt.Errorf("load env files: %w", err)
		}
	}

	settingsPath, err := cmd.Flags().GetString("settings")
	if err != nil {
		return fmt.Errorf("failed to get settings flag: %w", err)
	}
	settings, err := config.Load(settingsPath)
	if err != nil {
		return err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		settings.Logging.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		settings.Logging.Format = format
	}
	if err := settings.Logging.Validate(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  settings.Logging.Level,
		Format: settings.Logging.Format,
		Output: a.streams.Err,
	})
	if err != nil {
		return err
	}

	a.settings = settings
	a.logger = logger
	return nil
}

// colorEnabled reports whether w is an interactive terminal.
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if _, noColor := os.LookupEnv("NO_COLOR"); noColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
