// Package safeguards runs an ordered list of configured policy checks against a
// service snapshot and decides whether the deployment may proceed.
//
// A Registry resolves each safeguard name to a Policy, either a statically
// registered Go implementation or a Rego module from a custom policy
// directory. The Orchestrator executes policies one at a time, each with a
// fresh Judge through which the policy approves, fails or warns. Policy
// errors and panics are folded into the verdict rather than aborting the run.
// After all safeguards finish, any failure at the error enforcement level
// blocks the deployment with domain.ErrGateBlocked.
package safeguards
