package expr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// CompileTemplate cooks pattern as a template literal, substituting ${NAME}
// placeholders from vars, and compiles the result as a regular expression
// anchored to the whole string. Only names present in vars may be referenced;
// any other placeholder content is rejected.
func CompileTemplate(pattern string, vars map[string]string) (*regexp.Regexp, error) {
	body, err := cookTemplate(pattern, vars)
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile("^" + body + "$")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return re, nil
}

func cookTemplate(pattern string, vars map[string]string) (string, error) {
	var out strings.Builder
	for i := 0; i < len(pattern); {
		ch := pattern[i]
		switch {
		case ch == '`':
			return "", fmt.Errorf("%w: unescaped backtick at offset %d", ErrSyntax, i)
		case ch == '\\':
			cooked, width, err := cookEscape(pattern[i+1:])
			if err != nil {
				return "", fmt.Errorf("%w at offset %d", err, i)
			}
			out.WriteString(cooked)
			i += 1 + width
		case ch == '$' && i+1 < len(pattern) && pattern[i+1] == '{':
			end := strings.IndexByte(pattern[i+2:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: unterminated placeholder at offset %d", ErrSyntax, i)
			}
			value, err := resolvePlaceholder(pattern[i+2:i+2+end], vars)
			if err != nil {
				return "", err
			}
			out.WriteString(value)
			i += 2 + end + 1
		default:
			out.WriteByte(ch)
			i++
		}
	}
	return out.String(), nil
}

func resolvePlaceholder(content string, vars map[string]string) (string, error) {
	name := strings.TrimSpace(content)
	if !isPlainName(name) {
		return "", fmt.Errorf("%w: placeholder ${%s} is not a plain name", ErrSyntax, content)
	}
	value, ok := vars[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownIdentifier, name)
	}
	return value, nil
}

func isPlainName(name string) bool {
	if name == "" || !isIdentifierStart(name[0]) {
		return false
	}
	for i := 1; i < len(name); i++ {
		if !isIdentifierStart(name[i]) && !isDigit(name[i]) {
			return false
		}
	}
	return true
}

// cookEscape interprets the escape sequence following a backslash and returns
// its cooked text plus the number of bytes consumed after the backslash.
func cookEscape(rest string) (string, int, error) {
	if rest == "" {
		return "", 0, fmt.Errorf("%w: trailing backslash", ErrSyntax)
	}
	switch rest[0] {
	case 'n':
		return "\n", 1, nil
	case 't':
		return "\t", 1, nil
	case 'r':
		return "\r", 1, nil
	case 'b':
		return "\b", 1, nil
	case 'f':
		return "\f", 1, nil
	case 'v':
		return "\v", 1, nil
	case '0':
		if len(rest) > 1 && isDigit(rest[1]) {
			return "", 0, fmt.Errorf("%w: octal escape", ErrSyntax)
		}
		return "\x00", 1, nil
	case '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return "", 0, fmt.Errorf("%w: octal escape", ErrSyntax)
	case '\n':
		return "", 1, nil
	case '\r':
		if len(rest) > 1 && rest[1] == '\n' {
			return "", 2, nil
		}
		return "", 1, nil
	case 'x':
		if len(rest) < 3 {
			return "", 0, fmt.Errorf("%w: malformed hex escape", ErrSyntax)
		}
		code, err := strconv.ParseUint(rest[1:3], 16, 8)
		if err != nil {
			return "", 0, fmt.Errorf("%w: malformed hex escape", ErrSyntax)
		}
		return string(rune(code)), 3, nil
	case 'u':
		return cookUnicodeEscape(rest)
	}
	r, width := utf8.DecodeRuneInString(rest)
	return string(r), width, nil
}

func cookUnicodeEscape(rest string) (string, int, error) {
	digits, width := "", 0
	if strings.HasPrefix(rest, "u{") {
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return "", 0, fmt.Errorf("%w: malformed unicode escape", ErrSyntax)
		}
		digits, width = rest[2:end], end+1
	} else if len(rest) >= 5 {
		digits, width = rest[1:5], 5
	}
	code, err := strconv.ParseUint(digits, 16, 32)
	if digits == "" || err != nil || code > utf8.MaxRune {
		return "", 0, fmt.Errorf("%w: malformed unicode escape", ErrSyntax)
	}
	return string(rune(code)), width, nil
}
