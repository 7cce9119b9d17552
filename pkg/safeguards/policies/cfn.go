package policies

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Intrinsic function keys understood when resolving literal values.
const (
	fnJoin = "Fn::Join"
	fnSub  = "Fn::Sub"
	refKey = "Ref"
)

var subVariable = regexp.MustCompile(`\$\{[^$]*\}`)

// asList normalises a scalar-or-list template value to a list.
func asList(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

// stringList returns the string members of a scalar-or-list value.
func stringList(value any) []string {
	var out []string
	for _, item := range asList(value) {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asMap(value any) map[string]any {
	m, _ := value.(map[string]any)
	return m
}

// resolveLiteral reduces a string, an all-literal Fn::Join or an Fn::Sub
// (placeholders replaced by "variable") to a plain string. Anything else,
// such as Ref or Fn::GetAtt, is reported as unresolved.
func resolveLiteral(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case map[string]any:
		if join, ok := v[fnJoin]; ok {
			return resolveJoin(join)
		}
		if sub, ok := v[fnSub]; ok {
			return resolveSub(sub)
		}
	}
	return "", false
}

func resolveJoin(args any) (string, bool) {
	list, ok := args.([]any)
	if !ok || len(list) != 2 {
		return "", false
	}
	sep, ok := list[0].(string)
	if !ok {
		return "", false
	}
	parts, ok := list[1].([]any)
	if !ok {
		return "", false
	}
	literals := make([]string, 0, len(parts))
	for _, part := range parts {
		s, ok := part.(string)
		if !ok {
			return "", false
		}
		literals = append(literals, s)
	}
	return strings.Join(literals, sep), true
}

func resolveSub(args any) (string, bool) {
	var body string
	switch v := args.(type) {
	case string:
		body = v
	case []any:
		if len(v) == 0 {
			return "", false
		}
		s, ok := v[0].(string)
		if !ok {
			return "", false
		}
		body = s
	default:
		return "", false
	}
	return subVariable.ReplaceAllString(body, "variable"), true
}

// refersTo reports whether value is {"Ref": logicalID}.
func refersTo(value any, logicalID string) bool {
	ref, ok := asMap(value)[refKey].(string)
	return ok && ref == logicalID
}

// compactJSON renders value the way it appears in a template, without HTML escaping.
func compactJSON(value any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return fmt.Sprint(value)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// truthy mirrors the template's loose presence checks: nil, false, "" and 0 are absent.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int:
		return v != 0
	case float64:
		return v != 0
	default:
		return true
	}
}
