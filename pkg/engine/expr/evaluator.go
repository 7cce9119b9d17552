package expr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LookupFunc resolves identifier paths encountered in expressions.
type LookupFunc func(path string) (any, bool)

var (
	// ErrSyntax indicates the expression or template could not be parsed.
	ErrSyntax = errors.New("expression syntax error")
	// ErrUnknownIdentifier indicates a referenced name is not available in scope.
	ErrUnknownIdentifier = errors.New("unknown identifier")
	// ErrTypeMismatch indicates an operator was applied to unsupported operand types.
	ErrTypeMismatch = errors.New("type mismatch")
)

const defaultTimeout = 50 * time.Millisecond

// Options control evaluator behaviour.
type Options struct {
	// Timeout bounds a single evaluation. Zero selects the default.
	Timeout time.Duration
	// AllowMissing makes unresolved identifiers evaluate to null instead of failing.
	AllowMissing bool
}

// Evaluator evaluates boolean expressions against a lookup scope.
type Evaluator struct {
	timeout      time.Duration
	allowMissing bool
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(opts Options) *Evaluator {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Evaluator{timeout: timeout, allowMissing: opts.AllowMissing}
}

// Evaluate reports whether expression evaluates to true using lookup.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, lookup LookupFunc) (bool, error) {
	if lookup == nil {
		return false, fmt.Errorf("%w: lookup function is required", ErrSyntax)
	}

	expression = strings.TrimSpace(expression)
	if expression == "" {
		return false, fmt.Errorf("%w: empty expression", ErrSyntax)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	root, err := newParser(ctx, newLexer(expression)).parse()
	if err != nil {
		return false, err
	}

	value, err := root.eval(ctx, &scope{lookup: lookup, allowMissing: e.allowMissing})
	if err != nil {
		return false, err
	}

	result, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression evaluates to %T, not boolean", ErrTypeMismatch, value)
	}
	return result, nil
}

// DocumentLookup resolves dotted paths against a JSON-shaped tree.
// Map keys that themselves contain dots (template file names) are matched
// greedily; numeric segments index into lists.
func DocumentLookup(doc map[string]any) LookupFunc {
	return func(path string) (any, bool) {
		if path == "" {
			return nil, false
		}
		return walk(doc, strings.Split(path, "."))
	}
}

func walk(current any, segments []string) (any, bool) {
	if len(segments) == 0 {
		return current, true
	}
	switch v := current.(type) {
	case map[string]any:
		for end := len(segments); end > 0; end-- {
			key := strings.Join(segments[:end], ".")
			child, ok := v[key]
			if !ok {
				continue
			}
			if result, found := walk(child, segments[end:]); found {
				return result, true
			}
		}
	case []any:
		idx, err := strconv.Atoi(segments[0])
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, false
		}
		return walk(v[idx], segments[1:])
	}
	return nil, false
}
