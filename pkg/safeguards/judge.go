package safeguards

import (
	"fmt"
	"sync"

	"github.com/polisai/safeguards/pkg/domain"
)

// Level selects the severity of a reported message.
type Level int

const (
	// LevelFail records a failure; the verdict becomes failed.
	LevelFail Level = iota
	// LevelWarn records a non-blocking warning.
	LevelWarn
)

// Judge collects a policy's verdict. One Judge is created per safeguard execution.
type Judge struct {
	mu       sync.Mutex
	approved bool
	failures []string
	warnings []string
}

// NewJudge returns an empty judge.
func NewJudge() *Judge {
	return &Judge{}
}

// Approve marks the safeguard as satisfied. It has no effect once a failure was reported.
func (j *Judge) Approve() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.failures) == 0 {
		j.approved = true
	}
}

// Fail records a failure message and lets the policy continue.
func (j *Judge) Fail(message string) {
	j.Report(LevelFail, message)
}

// Failf formats and records a failure message.
func (j *Judge) Failf(format string, args ...any) {
	j.Report(LevelFail, fmt.Sprintf(format, args...))
}

// Warn records a warning message.
func (j *Judge) Warn(message string) {
	j.Report(LevelWarn, message)
}

// Report records message at level.
func (j *Judge) Report(level Level, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch level {
	case LevelWarn:
		j.warnings = append(j.warnings, message)
	default:
		j.failures = append(j.failures, message)
	}
}

// Verdict returns the accumulated verdict: any failure wins, then warnings, then pass.
func (j *Judge) Verdict() domain.Verdict {
	j.mu.Lock()
	defer j.mu.Unlock()
	switch {
	case len(j.failures) > 0:
		return domain.Verdict{Status: domain.StatusFailed, Messages: append([]string(nil), j.failures...)}
	case len(j.warnings) > 0:
		return domain.Verdict{Status: domain.StatusWarned, Messages: append([]string(nil), j.warnings...), Approved: j.approved}
	default:
		return domain.Verdict{Status: domain.StatusPassed, Approved: j.approved}
	}
}

// decided reports whether the policy approved or reported anything.
func (j *Judge) decided() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.approved || len(j.failures) > 0 || len(j.warnings) > 0
}

// FailureError stops a policy early with a failure message.
type FailureError struct {
	Message string
}

func (e *FailureError) Error() string {
	return e.Message
}

// Failure returns an error that, when returned from a policy, is recorded exactly like Fail(message).
func Failure(message string) error {
	return &FailureError{Message: message}
}

// Failuref is Failure with formatting.
func Failuref(format string, args ...any) error {
	return &FailureError{Message: fmt.Sprintf(format, args...)}
}
