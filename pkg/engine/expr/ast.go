package expr

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type node interface {
	eval(ctx context.Context, s *scope) (any, error)
}

// scope carries the per-evaluation lookup state.
type scope struct {
	lookup       LookupFunc
	allowMissing bool
}

type binaryExpr struct {
	op    tokenType
	left  node
	right node
}

type unaryExpr struct {
	op      tokenType
	operand node
}

type identifierExpr struct {
	path string
}

type literalExpr struct {
	value any
}

type listExpr struct {
	items []node
}

// matchExpr holds a regex match; literal patterns are compiled at parse time.
type matchExpr struct {
	subject  node
	pattern  node
	compiled *regexp.Regexp
}

func newMatchExpr(subject, pattern node) (node, error) {
	m := &matchExpr{subject: subject, pattern: pattern}
	if lit, ok := pattern.(*literalExpr); ok {
		src, ok := lit.value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: =~ expects a string pattern", ErrTypeMismatch)
		}
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid pattern %q: %v", ErrSyntax, src, err)
		}
		m.compiled = re
	}
	return m, nil
}

func (n *binaryExpr) eval(ctx context.Context, s *scope) (any, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	left, err := n.left.eval(ctx, s)
	if err != nil {
		return nil, err
	}

	if n.op == tokenAnd || n.op == tokenOr {
		lb, err := toBool(left)
		if err != nil {
			return nil, err
		}
		if (n.op == tokenAnd && !lb) || (n.op == tokenOr && lb) {
			return lb, nil
		}
		right, err := n.right.eval(ctx, s)
		if err != nil {
			return nil, err
		}
		return toBool(right)
	}

	right, err := n.right.eval(ctx, s)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokenEq:
		return equals(left, right)
	case tokenNeq:
		eq, err := equals(left, right)
		if err != nil {
			return nil, err
		}
		return !eq, nil
	case tokenGt, tokenGte, tokenLt, tokenLte:
		return compare(left, right, n.op)
	case tokenIn:
		return contains(right, left)
	default:
		return nil, fmt.Errorf("%w: unsupported operator %s", ErrSyntax, n.op)
	}
}

func (n *unaryExpr) eval(ctx context.Context, s *scope) (any, error) {
	value, err := n.operand.eval(ctx, s)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case tokenNot:
		b, err := toBool(value)
		if err != nil {
			return nil, err
		}
		return !b, nil
	case tokenMinus, tokenPlus:
		number, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("%w: unary %s expects numeric operand", ErrTypeMismatch, n.op)
		}
		if n.op == tokenMinus {
			return -number, nil
		}
		return number, nil
	default:
		return nil, fmt.Errorf("%w: unsupported unary operator %s", ErrSyntax, n.op)
	}
}

func (n *identifierExpr) eval(ctx context.Context, s *scope) (any, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	value, ok := s.lookup(n.path)
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if ok {
		return value, nil
	}
	if s.allowMissing {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownIdentifier, n.path)
}

func (n *literalExpr) eval(ctx context.Context, _ *scope) (any, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	return n.value, nil
}

func (n *listExpr) eval(ctx context.Context, s *scope) (any, error) {
	out := make([]any, 0, len(n.items))
	for _, item := range n.items {
		v, err := item.eval(ctx, s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (n *matchExpr) eval(ctx context.Context, s *scope) (any, error) {
	subject, err := n.subject.eval(ctx, s)
	if err != nil {
		return nil, err
	}
	re := n.compiled
	if re == nil {
		raw, err := n.pattern.eval(ctx, s)
		if err != nil {
			return nil, err
		}
		src, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: =~ expects a string pattern, got %T", ErrTypeMismatch, raw)
		}
		if re, err = regexp.Compile(src); err != nil {
			return nil, fmt.Errorf("%w: invalid pattern %q: %v", ErrSyntax, src, err)
		}
	}
	switch v := subject.(type) {
	case nil:
		return false, nil
	case string:
		return re.MatchString(v), nil
	default:
		return nil, fmt.Errorf("%w: =~ expects a string subject, got %T", ErrTypeMismatch, subject)
	}
}

func checkContext(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func toBool(value any) (bool, error) {
	if b, ok := value.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("%w: expected boolean, got %T", ErrTypeMismatch, value)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return parsed, true
		}
	}
	return 0, false
}

func equals(left, right any) (bool, error) {
	if left == nil || right == nil {
		return left == nil && right == nil, nil
	}

	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return lf == rf, nil
		}
	}

	switch l := left.(type) {
	case string:
		if r, ok := right.(string); ok {
			return l == r, nil
		}
	case bool:
		if r, ok := right.(bool); ok {
			return l == r, nil
		}
	}

	return false, fmt.Errorf("%w: cannot compare %T and %T", ErrTypeMismatch, left, right)
}

// contains implements "in": list membership, map key presence or substring.
func contains(container, item any) (bool, error) {
	switch c := container.(type) {
	case nil:
		return false, nil
	case []any:
		for _, candidate := range c {
			if eq, err := equals(item, candidate); err == nil && eq {
				return true, nil
			}
		}
		return false, nil
	case []string:
		s, ok := item.(string)
		if !ok {
			return false, nil
		}
		for _, candidate := range c {
			if candidate == s {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		key, ok := item.(string)
		if !ok {
			return false, fmt.Errorf("%w: map membership expects a string key, got %T", ErrTypeMismatch, item)
		}
		_, found := c[key]
		return found, nil
	case string:
		sub, ok := item.(string)
		if !ok {
			return false, fmt.Errorf("%w: substring membership expects a string, got %T", ErrTypeMismatch, item)
		}
		return strings.Contains(c, sub), nil
	default:
		return false, fmt.Errorf("%w: cannot test membership in %T", ErrTypeMismatch, container)
	}
}

func compare(left, right any, op tokenType) (bool, error) {
	if lf, ok := toFloat(left); ok {
		if rf, ok := toFloat(right); ok {
			return ordered(lf, rf, op), nil
		}
	}

	ls, leftIsString := left.(string)
	rs, rightIsString := right.(string)
	if leftIsString && rightIsString {
		return ordered(ls, rs, op), nil
	}

	return false, fmt.Errorf("%w: cannot apply %s to %T and %T", ErrTypeMismatch, op, left, right)
}

func ordered[T float64 | string](l, r T, op tokenType) bool {
	switch op {
	case tokenGt:
		return l > r
	case tokenGte:
		return l >= r
	case tokenLt:
		return l < r
	default:
		return l <= r
	}
}
