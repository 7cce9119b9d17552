package expr

import "strings"

type tokenType int

type token struct {
	typ     tokenType
	literal string
	pos     int
}

const (
	tokenIllegal tokenType = iota
	tokenEOF
	tokenIdentifier
	tokenNumber
	tokenString
	tokenBool
	tokenNull
	tokenAnd
	tokenOr
	tokenNot
	tokenEq
	tokenNeq
	tokenGt
	tokenGte
	tokenLt
	tokenLte
	tokenMatch
	tokenIn
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenComma
	tokenMinus
	tokenPlus
)

var tokenNames = map[tokenType]string{
	tokenIllegal:    "illegal",
	tokenEOF:        "eof",
	tokenIdentifier: "identifier",
	tokenNumber:     "number",
	tokenString:     "string",
	tokenBool:       "bool",
	tokenNull:       "null",
	tokenAnd:        "&&",
	tokenOr:         "||",
	tokenNot:        "!",
	tokenEq:         "==",
	tokenNeq:        "!=",
	tokenGt:         ">",
	tokenGte:        ">=",
	tokenLt:         "<",
	tokenLte:        "<=",
	tokenMatch:      "=~",
	tokenIn:         "in",
	tokenLParen:     "(",
	tokenRParen:     ")",
	tokenLBracket:   "[",
	tokenRBracket:   "]",
	tokenComma:      ",",
	tokenMinus:      "-",
	tokenPlus:       "+",
}

func (t tokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return "unknown"
}

type lexer struct {
	input  string
	length int
	pos    int
}

func newLexer(input string) *lexer {
	return &lexer{input: input, length: len(input)}
}

func (l *lexer) nextToken() token {
	l.skipWhitespace()
	start := l.pos
	if l.pos >= l.length {
		return token{typ: tokenEOF, pos: start}
	}

	ch := l.input[l.pos]
	single := func(typ tokenType) token {
		l.pos++
		return token{typ: typ, literal: string(ch), pos: start}
	}
	double := func(typ tokenType) token {
		l.pos += 2
		return token{typ: typ, literal: l.input[start:l.pos], pos: start}
	}

	switch ch {
	case '(':
		return single(tokenLParen)
	case ')':
		return single(tokenRParen)
	case '[':
		return single(tokenLBracket)
	case ']':
		return single(tokenRBracket)
	case ',':
		return single(tokenComma)
	case '-':
		return single(tokenMinus)
	case '+':
		return single(tokenPlus)
	case '!':
		if l.peek() == '=' {
			return double(tokenNeq)
		}
		return single(tokenNot)
	case '=':
		switch l.peek() {
		case '=':
			return double(tokenEq)
		case '~':
			return double(tokenMatch)
		}
	case '>':
		if l.peek() == '=' {
			return double(tokenGte)
		}
		return single(tokenGt)
	case '<':
		if l.peek() == '=' {
			return double(tokenLte)
		}
		return single(tokenLt)
	case '&':
		if l.peek() == '&' {
			return double(tokenAnd)
		}
	case '|':
		if l.peek() == '|' {
			return double(tokenOr)
		}
	case '\'', '"':
		return l.scanString()
	}

	if isDigit(ch) {
		return l.scanNumber()
	}

	if isIdentifierStart(ch) {
		return l.scanIdentifier()
	}

	return token{typ: tokenIllegal, literal: string(ch), pos: start}
}

// skipWhitespace also skips "//" line comments.
func (l *lexer) skipWhitespace() {
	for l.pos < l.length {
		switch l.input[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		case '/':
			if l.peek() != '/' {
				return
			}
			for l.pos < l.length && l.input[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

func (l *lexer) peek() byte {
	if l.pos+1 >= l.length {
		return 0
	}
	return l.input[l.pos+1]
}

func (l *lexer) scanNumber() token {
	start := l.pos
	hasDot := false

	for l.pos < l.length {
		ch := l.input[l.pos]
		if ch == '.' && !hasDot && l.pos+1 < l.length && isDigit(l.input[l.pos+1]) {
			hasDot = true
			l.pos++
			continue
		}
		if !isDigit(ch) {
			break
		}
		l.pos++
	}

	return token{typ: tokenNumber, literal: l.input[start:l.pos], pos: start}
}

func (l *lexer) scanIdentifier() token {
	start := l.pos
	for l.pos < l.length && isIdentifierPart(l.input[l.pos]) {
		l.pos++
	}
	literal := l.input[start:l.pos]
	switch strings.ToLower(literal) {
	case "true", "false":
		return token{typ: tokenBool, literal: literal, pos: start}
	case "null":
		return token{typ: tokenNull, literal: literal, pos: start}
	case "in":
		return token{typ: tokenIn, literal: literal, pos: start}
	}
	return token{typ: tokenIdentifier, literal: literal, pos: start}
}

func (l *lexer) scanString() token {
	start := l.pos
	quote := l.input[l.pos]
	l.pos++
	var builder strings.Builder

	for l.pos < l.length {
		ch := l.input[l.pos]
		l.pos++
		if ch == '\\' && l.pos < l.length {
			next := l.input[l.pos]
			l.pos++
			switch next {
			case 'n':
				builder.WriteByte('\n')
			case 't':
				builder.WriteByte('\t')
			case 'r':
				builder.WriteByte('\r')
			case '\'', '"':
				builder.WriteByte(next)
			default:
				// Unknown escapes keep the backslash so regex operands survive.
				builder.WriteByte('\\')
				builder.WriteByte(next)
			}
			continue
		}
		if ch == quote {
			return token{typ: tokenString, literal: builder.String(), pos: start}
		}
		builder.WriteByte(ch)
	}

	return token{typ: tokenIllegal, literal: "unterminated string", pos: start}
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentifierStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch == '$'
}

// Path segments may contain dots, dashes and colons so that template logical ids
// and CloudFormation keys such as "Fn::Join" stay addressable.
func isIdentifierPart(ch byte) bool {
	switch {
	case isIdentifierStart(ch), isDigit(ch):
		return true
	case ch == '.', ch == '-', ch == ':':
		return true
	}
	return false
}
