package policies

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/senseyeio/duration"
)

var (
	// isoDurationPattern accepts integer PnYnMnDTnHnMnS with the T separator
	// optional. Submatch 1 is the clock part.
	isoDurationPattern = regexp.MustCompile(`^P(?:\d+Y)?(?:\d+M)?(?:\d+D)?T?((?:\d+H)?(?:\d+M)?(?:\d+S)?)$`)
	isoWeeksPattern    = regexp.MustCompile(`^P(\d+)W$`)
)

// parseISODuration parses an ISO-8601 duration whose date part Shift applies
// in calendar units. Hours, minutes and seconds written without the T
// separator are read as clock components, so P2D2H is two days and two hours.
func parseISODuration(value string) (duration.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(value))

	if m := isoWeeksPattern.FindStringSubmatch(s); m != nil {
		weeks, err := strconv.Atoi(m[1])
		if err != nil {
			return duration.Duration{}, fmt.Errorf("invalid ISO-8601 duration %q: %w", value, err)
		}
		s = "P" + strconv.Itoa(7*weeks) + "D"
	}

	m := isoDurationPattern.FindStringSubmatchIndex(s)
	if m == nil || s == "P" || strings.HasSuffix(s, "T") {
		return duration.Duration{}, fmt.Errorf("invalid ISO-8601 duration %q", value)
	}
	if clock := m[2]; clock < m[3] && !strings.Contains(s, "T") {
		s = s[:clock] + "T" + s[clock:]
	}

	d, err := duration.ParseISO8601(s)
	if err != nil {
		return duration.Duration{}, fmt.Errorf("invalid ISO-8601 duration %q: %w", value, err)
	}
	return d, nil
}

func isZeroDuration(d duration.Duration) bool {
	return d == duration.Duration{}
}
