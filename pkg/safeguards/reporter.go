package safeguards

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/polisai/safeguards/pkg/domain"
)

const (
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorOrange = "\033[38;5;208m"
	colorYellow = "\033[33m"
	colorGrey   = "\033[90m"
	colorReset  = "\033[0m"
)

const rule = "--------------------------------------------------"

// Console writes the human-readable progress and summary of a run.
type Console struct {
	w     io.Writer
	color bool
}

// NewConsole returns a console writer; a nil writer discards output.
func NewConsole(w io.Writer, color bool) *Console {
	if w == nil {
		w = io.Discard
	}
	return &Console{w: w, color: color}
}

func (c *Console) paint(color, text string) string {
	if !c.color {
		return text
	}
	return color + text + colorReset
}

func (c *Console) statusColor(status domain.Status) string {
	switch status {
	case domain.StatusPassed:
		return colorGreen
	case domain.StatusWarned:
		return colorOrange
	default:
		return colorRed
	}
}

// Start prints the processing banner.
func (c *Console) Start() {
	fmt.Fprint(c.w, "Safeguards Processing...\n")
}

// Header prints the results heading that precedes per-safeguard lines.
func (c *Console) Header() {
	fmt.Fprintf(c.w, "Safeguards Results:\n\n   Summary %s\n\n", rule)
}

// Running prints the in-progress line for a safeguard.
func (c *Console) Running(title string) {
	fmt.Fprintf(c.w, "  running - %s", title)
}

// Finished overwrites the running line with the displayed status.
func (c *Console) Finished(title string, status domain.Status) {
	fmt.Fprintf(c.w, "\r   %s - %s\n", c.paint(c.statusColor(status), string(status)), title)
}

// Details prints the numbered details block for non-passed results.
func (c *Console) Details(results []domain.Result) {
	if len(results) == 0 {
		return
	}
	entries := make([]string, 0, len(results))
	for i, res := range results {
		label := "Failed"
		if res.Status == domain.StatusWarned {
			label = "Warned"
		}
		entries = append(entries, fmt.Sprintf("   %d) %s\n      %s\n      %s",
			i+1,
			c.paint(c.statusColor(res.Status), label+" - "+res.Message()),
			c.paint(colorGrey, "details: "+res.Docs),
			res.Safeguard.Description,
		))
	}
	fmt.Fprintf(c.w, "\n   %s\n\n%s\n\n", c.paint(colorYellow, "Details "+rule), strings.Join(entries, "\n\n\n"))
}

// Summary prints the final counts line.
func (c *Console) Summary(s domain.Summary) {
	fmt.Fprintf(c.w, "Safeguards Summary: %s, %s, %s\n",
		c.paint(colorGreen, fmt.Sprintf("%d passed", s.Passed)),
		c.paint(colorOrange, fmt.Sprintf("%d warnings", s.Warned)),
		c.paint(colorRed, fmt.Sprintf("%d errors", s.Failed)),
	)
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, report *domain.RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(report)
}
