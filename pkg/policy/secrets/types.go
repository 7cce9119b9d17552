// Package secrets detects values that look like credentials using a catalog of
// well-known token and key formats.
package secrets

import "regexp"

// Rule declares a secret detection pattern.
type Rule struct {
	Name    string
	Pattern string
}

// Finding captures the first rule that matched a value.
type Finding struct {
	Rule  string
	Start int
	End   int
}

// Scanner tests values against a compiled rule set.
type Scanner struct {
	rules []compiledRule
}

type compiledRule struct {
	name string
	expr *regexp.Regexp
}
