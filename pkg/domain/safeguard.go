package domain

import (
	"fmt"
	"strings"
	"time"
)

// EnforcementLevel controls whether a failed safeguard blocks the deployment.
type EnforcementLevel string

const (
	// EnforcementWarning reports a failure without blocking.
	EnforcementWarning EnforcementLevel = "warning"
	// EnforcementError blocks the deployment on failure.
	EnforcementError EnforcementLevel = "error"
)

// ParseEnforcementLevel validates a configured level; empty selects EnforcementError.
func ParseEnforcementLevel(value string) (EnforcementLevel, error) {
	switch EnforcementLevel(strings.ToLower(strings.TrimSpace(value))) {
	case "", EnforcementError:
		return EnforcementError, nil
	case EnforcementWarning:
		return EnforcementWarning, nil
	default:
		return "", fmt.Errorf("%w: unknown enforcement level %q", ErrConfigInvalid, value)
	}
}

// Safeguard is one configured instance of a policy.
type Safeguard struct {
	Title            string           `json:"title" yaml:"title"`
	SafeguardName    string           `json:"safeguardName" yaml:"safeguardName"`
	PolicyUID        string           `json:"policyUid,omitempty" yaml:"policyUid"`
	EnforcementLevel EnforcementLevel `json:"enforcementLevel" yaml:"enforcementLevel"`
	Config           any              `json:"safeguardConfig,omitempty" yaml:"safeguardConfig"`
	Description      string           `json:"description,omitempty" yaml:"description"`
	Docs             string           `json:"docs,omitempty" yaml:"docs"`
	// PolicyPath is the custom policy directory; empty selects the built-in library.
	PolicyPath string `json:"policyPath,omitempty" yaml:"policyPath"`
}

// Status is both a policy verdict and the displayed outcome of a safeguard.
type Status string

const (
	StatusPassed Status = "passed"
	StatusWarned Status = "warned"
	StatusFailed Status = "failed"
)

// Verdict is what a policy reported through its judge.
type Verdict struct {
	Status   Status
	Messages []string
	// Approved records an explicit approval; a verdict may pass without one.
	Approved bool
}

// DisplayStatus maps a verdict onto the safeguard's enforcement level.
func DisplayStatus(v Verdict, level EnforcementLevel) Status {
	switch v.Status {
	case StatusFailed:
		if level == EnforcementWarning {
			return StatusWarned
		}
		return StatusFailed
	case StatusWarned:
		return StatusWarned
	default:
		return StatusPassed
	}
}

// Result is the reported outcome of one safeguard.
type Result struct {
	Safeguard Safeguard     `json:"safeguard"`
	Status    Status        `json:"status"`
	Messages  []string      `json:"messages,omitempty"`
	Docs      string        `json:"docs,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Message joins the result's messages the way the details block prints them.
func (r Result) Message() string {
	return strings.Join(r.Messages, " ")
}

// Summary aggregates result statuses.
type Summary struct {
	Passed int `json:"passed"`
	Warned int `json:"warnings"`
	Failed int `json:"errors"`
}

// Add counts one result.
func (s *Summary) Add(status Status) {
	switch status {
	case StatusPassed:
		s.Passed++
	case StatusWarned:
		s.Warned++
	case StatusFailed:
		s.Failed++
	}
}

// Blocked reports whether any error-level safeguard failed.
func (s Summary) Blocked() bool {
	return s.Failed > 0
}

// RunReport is the outcome of a full gate evaluation.
type RunReport struct {
	ID         string    `json:"id"`
	Service    string    `json:"service"`
	Stage      string    `json:"stage"`
	Region     string    `json:"region"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Results    []Result  `json:"results"`
	Summary    Summary   `json:"summary"`
}

// NonPassed returns results needing a details entry, in run order.
func (r *RunReport) NonPassed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Status != StatusPassed {
			out = append(out, res)
		}
	}
	return out
}
