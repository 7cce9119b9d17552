package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnforcementLevel(t *testing.T) {
	for input, want := range map[string]EnforcementLevel{
		"":          EnforcementError,
		"error":     EnforcementError,
		" Warning ": EnforcementWarning,
	} {
		got, err := ParseEnforcementLevel(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseEnforcementLevel("fatal")
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestDisplayStatus(t *testing.T) {
	tests := []struct {
		verdict Status
		level   EnforcementLevel
		want    Status
	}{
		{StatusPassed, EnforcementError, StatusPassed},
		{StatusPassed, EnforcementWarning, StatusPassed},
		{StatusFailed, EnforcementError, StatusFailed},
		{StatusFailed, EnforcementWarning, StatusWarned},
		{StatusWarned, EnforcementError, StatusWarned},
		{"", EnforcementError, StatusPassed},
	}
	for _, tt := range tests {
		got := DisplayStatus(Verdict{Status: tt.verdict}, tt.level)
		assert.Equal(t, tt.want, got, "%s/%s", tt.verdict, tt.level)
	}
}

func TestSummaryAndReport(t *testing.T) {
	report := &RunReport{Results: []Result{
		{Safeguard: Safeguard{Title: "a"}, Status: StatusPassed},
		{Safeguard: Safeguard{Title: "b"}, Status: StatusWarned, Messages: []string{"one", "two"}},
		{Safeguard: Safeguard{Title: "c"}, Status: StatusFailed},
	}}

	var summary Summary
	for _, res := range report.Results {
		summary.Add(res.Status)
	}
	assert.Equal(t, Summary{Passed: 1, Warned: 1, Failed: 1}, summary)
	assert.True(t, summary.Blocked())
	assert.False(t, Summary{Warned: 3}.Blocked())

	nonPassed := report.NonPassed()
	require.Len(t, nonPassed, 2)
	assert.Equal(t, "b", nonPassed[0].Safeguard.Title)
	assert.Equal(t, "one two", nonPassed[0].Message())
}
