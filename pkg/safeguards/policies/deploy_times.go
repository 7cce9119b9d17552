package policies

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/senseyeio/duration"

	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/safeguards"
)

var weekdays = [...]string{"su", "mo", "tu", "we", "th", "fr", "sa"}

var anchorLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// deployWindow is one restriction: either a repeating window anchored at Time,
// or weekday and M/D/YYYY date block-lists.
type deployWindow struct {
	Time            string   `yaml:"time"`
	Duration        string   `yaml:"duration"`
	Interval        string   `yaml:"interval"`
	BlockedWeekdays []string `yaml:"blockedWeekdays"`
	BlockedDates    []string `yaml:"blockedDates"`
}

func restrictedDeployTimes(now func() time.Time) safeguards.Policy {
	return safeguards.PolicyFunc(func(_ context.Context, j *safeguards.Judge, _ *domain.Service, config any) error {
		windows, err := decodeWindows(config)
		if err != nil {
			return err
		}

		current := now()
		for _, w := range windows {
			blocked, err := w.blocks(current)
			if err != nil {
				return err
			}
			if blocked != "" {
				return safeguards.Failuref("Deploying on %s is not allowed", blocked)
			}
		}

		j.Approve()
		return nil
	})
}

func decodeWindows(config any) ([]deployWindow, error) {
	if config == nil {
		return nil, nil
	}
	if _, ok := config.([]any); ok {
		var windows []deployWindow
		if err := decodeConfig(config, &windows); err != nil {
			return nil, err
		}
		return windows, nil
	}
	var w deployWindow
	if err := decodeConfig(config, &w); err != nil {
		return nil, err
	}
	return []deployWindow{w}, nil
}

// blocks returns the label of the blocked day, or "" when now is allowed.
func (w deployWindow) blocks(now time.Time) (string, error) {
	for _, day := range w.BlockedWeekdays {
		key := strings.ToLower(day)
		if len(key) > 2 {
			key = key[:2]
		}
		if key == weekdays[now.Weekday()] {
			return weekdays[now.Weekday()], nil
		}
	}

	today := fmt.Sprintf("%d/%d/%d", int(now.Month()), now.Day(), now.Year())
	for _, date := range w.BlockedDates {
		if strings.TrimSpace(date) == today {
			return today, nil
		}
	}

	if w.Time == "" {
		return "", nil
	}
	return w.blocksWindow(now)
}

// blocksWindow steps from the anchor by interval while the step lies before
// now and reports now falling inside [step, step+duration).
func (w deployWindow) blocksWindow(now time.Time) (string, error) {
	start, err := parseAnchor(w.Time, now.Location())
	if err != nil {
		return "", err
	}
	length, err := parseISODuration(w.Duration)
	if err != nil {
		return "", fmt.Errorf("%w: deploy window duration: %v", domain.ErrConfigInvalid, err)
	}

	var interval *duration.Duration
	if w.Interval != "" {
		parsed, err := parseISODuration(w.Interval)
		if err != nil {
			return "", fmt.Errorf("%w: deploy window interval: %v", domain.ErrConfigInvalid, err)
		}
		if isZeroDuration(parsed) {
			return "", fmt.Errorf("%w: deploy window interval must be positive", domain.ErrConfigInvalid)
		}
		interval = &parsed
	}

	for start.Before(now) {
		if length.Shift(start).After(now) {
			return now.Format("2006-01-02"), nil
		}
		if interval == nil {
			break
		}
		start = interval.Shift(start)
	}
	return "", nil
}

func parseAnchor(value string, loc *time.Location) (time.Time, error) {
	for _, layout := range anchorLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: deploy window time %q is not ISO-8601", domain.ErrConfigInvalid, value)
}
