// Package policy integrates the Open Policy Agent (OPA) engine with the
// safeguards runner. It evaluates Rego safeguard modules that express their
// verdict through deny and warn message sets, and runs ad-hoc queries over the
// service document for the generic policy.
//
// The package knows nothing about judges or console output; callers map rule
// results onto verdicts.
package policy
