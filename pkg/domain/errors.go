package domain

import "errors"

// Common domain errors
var (
	ErrPolicyNotFound   = errors.New("policy not found")
	ErrPolicyEvalFailed = errors.New("policy evaluation failed")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrTemplateNotFound = errors.New("compiled template not found")
	ErrRunNotFound      = errors.New("run not found")

	// ErrGateBlocked carries the exact text deployment pipelines match on.
	ErrGateBlocked = errors.New("Deployment blocked by Serverless Safeguards") //nolint:staticcheck // matched verbatim downstream
)

// Error codes attached to DomainError values that leave the engine.
const (
	CodePolicyNotFound = "POLICY_NOT_FOUND"
	CodeGateBlocked    = "SAFEGUARDS_BLOCKED"
	CodeConfigInvalid  = "CONFIG_INVALID"
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}
