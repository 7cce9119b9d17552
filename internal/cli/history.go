package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/safeguards"
	"github.com/polisai/safeguards/pkg/storage"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs, or print one run as JSON",
		Long: `Lists recorded runs, most recent first, or prints one run as JSON when a
run id is given. With --prune-older-than, runs that started before the cutoff
are deleted instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			path, err := flags.GetString("history")
			if err != nil {
				return fmt.Errorf("failed to get history flag: %w", err)
			}
			if path == "" {
				path = a.settings.History.Path
			}
			if path == "" {
				return fmt.Errorf("no history database configured, use --history or history.path")
			}

			store, err := storage.OpenSQLiteRunStore(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			olderThan, err := flags.GetDuration("prune-older-than")
			if err != nil {
				return fmt.Errorf("failed to get prune-older-than flag: %w", err)
			}
			if olderThan < 0 {
				return fmt.Errorf("%w: --prune-older-than must not be negative", domain.ErrConfigInvalid)
			}
			if olderThan > 0 {
				removed, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(a.streams.Out, "Pruned %d runs\n", removed)
				return nil
			}

			if len(args) == 1 {
				report, err := store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return safeguards.WriteJSON(a.streams.Out, report)
			}

			var filter storage.RunFilter
			if filter.Service, err = flags.GetString("service"); err != nil {
				return err
			}
			if filter.Stage, err = flags.GetString("stage"); err != nil {
				return err
			}
			if filter.Limit, err = flags.GetInt("limit"); err != nil {
				return err
			}
			return a.printHistory(cmd, store, filter)
		},
	}
	cmd.Flags().String("history", "", "SQLite database recording run history")
	cmd.Flags().String("service", "", "Only runs for this service")
	cmd.Flags().String("stage", "", "Only runs for this stage")
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 for all)")
	cmd.Flags().Duration("prune-older-than", 0, "Delete runs that started longer ago than this (e.g. 720h)")
	return cmd
}

func (a *app) printHistory(cmd *cobra.Command, store storage.RunStore, filter storage.RunFilter) error {
	runs, err := store.ListRuns(cmd.Context(), filter)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.streams.Out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSTARTED\tSERVICE\tSTAGE\tREGION\tPASSED\tWARNINGS\tERRORS")
	for _, run := range runs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			run.ID,
			run.StartedAt.UTC().Format(time.RFC3339),
			run.Service,
			run.Stage,
			run.Region,
			run.Summary.Passed,
			run.Summary.Warned,
			run.Summary.Failed,
		)
	}
	return tw.Flush()
}
