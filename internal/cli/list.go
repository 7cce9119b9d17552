package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/polisai/safeguards/pkg/safeguards"
	"github.com/polisai/safeguards/pkg/safeguards/policies"
)

// policyInfo is one row of the list command.
type policyInfo struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Docs   string `json:"docs,omitempty"`
}

func newListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available safeguard policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := cmd.Flags().GetString("policy-dir")
			if err != nil {
				return fmt.Errorf("failed to get policy-dir flag: %w", err)
			}
			if dir == "" {
				dir = a.settings.Policies.Dir
			}
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to get format flag: %w", err)
			}

			rows, err := a.listPolicies(cmd, dir)
			if err != nil {
				return err
			}
			return a.printPolicies(rows, format)
		},
	}
	cmd.Flags().String("policy-dir", "", "Directory of custom Rego safeguards to include")
	cmd.Flags().String("format", formatText, "Output format (text, json)")
	return cmd
}

func (a *app) listPolicies(cmd *cobra.Command, dir string) ([]policyInfo, error) {
	registry, err := policies.NewRegistry(a.logger)
	if err != nil {
		return nil, err
	}

	var rows []policyInfo
	for _, def := range registry.Builtins() {
		rows = append(rows, policyInfo{Name: def.Name, Source: def.Source, Docs: def.Docs})
	}
	if dir == "" {
		return rows, nil
	}

	names, err := safeguards.Discover(dir)
	if err != nil {
		return nil, fmt.Errorf("list policy directory %s: %w", dir, err)
	}
	for _, name := range names {
		def, err := registry.Load(cmd.Context(), dir, name)
		if err != nil {
			a.logger.Warn("skipping custom safeguard", "safeguard", name, "error", err)
			continue
		}
		rows = append(rows, policyInfo{Name: name, Source: def.Source, Docs: def.Docs})
	}
	return rows, nil
}

func (a *app) printPolicies(rows []policyInfo, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(a.streams.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case formatText:
		tw := tabwriter.NewWriter(a.streams.Out, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "NAME\tSOURCE\tDOCS")
		for _, row := range rows {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", row.Name, row.Source, row.Docs)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q, supported formats: text, json", format)
	}
}
