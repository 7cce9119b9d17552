package secrets

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// NewScanner compiles the supplied rules in order.
func NewScanner(rules []Rule) (*Scanner, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			return nil, fmt.Errorf("secrets: rule name is required")
		}
		expr, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("secrets: invalid pattern for rule %s: %w", name, err)
		}
		compiled = append(compiled, compiledRule{name: name, expr: expr})
	}
	return &Scanner{rules: compiled}, nil
}

var (
	defaultScanner     *Scanner
	defaultScannerOnce sync.Once
)

// DefaultScanner returns a scanner over the global registry's rules.
func DefaultScanner() *Scanner {
	defaultScannerOnce.Do(func() {
		scanner, err := NewScanner(GlobalRegistry().Rules())
		if err != nil {
			panic(err)
		}
		defaultScanner = scanner
	})
	return defaultScanner
}

// Match reports the first rule, in catalog order, that matches value.
func (s *Scanner) Match(value string) (Finding, bool) {
	for _, rule := range s.rules {
		if loc := rule.expr.FindStringIndex(value); loc != nil {
			return Finding{Rule: rule.name, Start: loc[0], End: loc[1]}, true
		}
	}
	return Finding{}, false
}

// IsSecret reports whether any rule matches value.
func (s *Scanner) IsSecret(value string) bool {
	_, ok := s.Match(value)
	return ok
}
