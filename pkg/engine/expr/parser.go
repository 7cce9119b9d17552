package expr

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Grammar, lowest precedence first:
//
//	or         := and ("||" and)*
//	and        := comparison ("&&" comparison)*
//	comparison := unary (("==" | "!=" | ">" | ">=" | "<" | "<=" | "=~" | "in") unary)*
//	unary      := ("!" | "-" | "+") unary | primary
//	primary    := identifier | number | string | bool | null | list | "(" or ")"
//	list       := "[" (or ("," or)*)? "]"
type parser struct {
	ctx  context.Context
	lex  *lexer
	cur  token
	peek token
}

func newParser(ctx context.Context, lex *lexer) *parser {
	p := &parser{ctx: ctx, lex: lex}
	p.advance()
	p.advance()
	return p
}

func (p *parser) advance() {
	p.cur = p.peek
	p.peek = p.lex.nextToken()
}

func (p *parser) parse() (node, error) {
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokenEOF); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *parser) parseOr() (node, error) {
	return p.parseLogical(tokenOr, p.parseAnd)
}

func (p *parser) parseAnd() (node, error) {
	return p.parseLogical(tokenAnd, p.parseComparison)
}

func (p *parser) parseLogical(op tokenType, operand func() (node, error)) (node, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == op {
		p.advance()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		switch p.cur.typ {
		case tokenEq, tokenNeq, tokenGt, tokenGte, tokenLt, tokenLte, tokenMatch, tokenIn:
			op := p.cur.typ
			p.advance()
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			if op == tokenMatch {
				left, err = newMatchExpr(left, right)
				if err != nil {
					return nil, err
				}
				continue
			}
			left = &binaryExpr{op: op, left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseUnary() (node, error) {
	switch p.cur.typ {
	case tokenNot, tokenMinus, tokenPlus:
		op := p.cur.typ
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: op, operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	if err := checkContext(p.ctx); err != nil {
		return nil, err
	}

	tok := p.cur
	switch tok.typ {
	case tokenIdentifier:
		p.advance()
		return &identifierExpr{path: tok.literal}, nil
	case tokenNumber:
		p.advance()
		value, err := strconv.ParseFloat(tok.literal, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid number %q", ErrSyntax, tok.literal)
		}
		return &literalExpr{value: value}, nil
	case tokenString:
		p.advance()
		return &literalExpr{value: tok.literal}, nil
	case tokenBool:
		p.advance()
		return &literalExpr{value: strings.EqualFold(tok.literal, "true")}, nil
	case tokenNull:
		p.advance()
		return &literalExpr{value: nil}, nil
	case tokenLBracket:
		return p.parseList()
	case tokenLParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokenRParen); err != nil {
			return nil, err
		}
		p.advance()
		return inner, nil
	case tokenIllegal:
		return nil, fmt.Errorf("%w: %s at offset %d", ErrSyntax, tok.literal, tok.pos)
	default:
		return nil, fmt.Errorf("%w: unexpected %s at offset %d", ErrSyntax, tok.typ, tok.pos)
	}
}

func (p *parser) parseList() (node, error) {
	p.advance()
	list := &listExpr{}
	if p.cur.typ == tokenRBracket {
		p.advance()
		return list, nil
	}
	for {
		item, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		list.items = append(list.items, item)
		if p.cur.typ == tokenComma {
			p.advance()
			continue
		}
		if err := p.expect(tokenRBracket); err != nil {
			return nil, err
		}
		p.advance()
		return list, nil
	}
}

func (p *parser) expect(expected tokenType) error {
	if p.cur.typ == tokenIllegal {
		return fmt.Errorf("%w: %s", ErrSyntax, p.cur.literal)
	}
	if p.cur.typ != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrSyntax, expected, p.cur.typ)
	}
	return nil
}
