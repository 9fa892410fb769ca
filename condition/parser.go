package condition

import (
	"strings"
)

type parser struct {
	src    string
	tokens []token
	pos    int
}

func (p *parser) peek() *token {
	if p.pos < len(p.tokens) {
		return &p.tokens[p.pos]
	}
	return nil
}

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

func (p *parser) endPos() int {
	if t := p.peek(); t != nil {
		return t.pos
	}
	return len(p.src)
}

// isKeyword matches an operator written either symbolically or as a word.
func (p *parser) isKeyword(sym, word string) bool {
	t := p.peek()
	if t == nil {
		return false
	}
	return (t.kind == tkOp && t.value == sym) || (t.kind == tkIdent && t.value == word)
}

// parseOr handles: and ( || and )*
func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("||", "or") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left: left, right: right}
	}
	return left, nil
}

// parseAnd handles: unary ( && unary )*
func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("&&", "and") {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.isKeyword("!", "not") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t != nil && t.kind == tkOp && (t.value == "==" || t.value == "!=") {
		p.advance()
		right, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return &cmpNode{op: t.value, left: left, right: right}, nil
	}
	return left, nil
}

// parseValue handles a primary followed by any number of .method() calls.
func (p *parser) parseValue() (node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t == nil || t.kind != tkDot {
			return n, nil
		}
		p.advance()
		name := p.peek()
		if name == nil || name.kind != tkIdent || !isMethod(name.value) {
			return nil, syntaxErr(p.src, p.endPos(), "expected lower, upper or strip after '.'")
		}
		p.advance()
		if err := p.expectCall(); err != nil {
			return nil, err
		}
		n = &callNode{fn: name.value, operand: n}
	}
}

func (p *parser) parsePrimary() (node, error) {
	t := p.peek()
	if t == nil {
		return nil, syntaxErr(p.src, len(p.src), "unexpected end of expression")
	}

	switch t.kind {
	case tkNumber:
		p.advance()
		return &litNode{value: normalizeNumber(t.value)}, nil

	case tkString:
		p.advance()
		return &litNode{value: t.value}, nil

	case tkIdent:
		p.advance()
		switch strings.ToLower(t.value) {
		case "true":
			return &litNode{value: "true"}, nil
		case "false":
			return &litNode{value: "false"}, nil
		case "none", "null", "nil":
			return &litNode{value: ""}, nil
		case "and", "or", "not":
			return nil, syntaxErr(p.src, t.pos, "unexpected keyword %q", t.value)
		}
		if next := p.peek(); next != nil && next.kind == tkLParen {
			return p.parseCall(*t)
		}
		return &refNode{key: t.value}, nil

	case tkLParen:
		p.advance()
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if next := p.peek(); next == nil || next.kind != tkRParen {
			return nil, syntaxErr(p.src, p.endPos(), "expected closing parenthesis")
		}
		p.advance()
		return n, nil

	default:
		return nil, syntaxErr(p.src, t.pos, "unexpected token %q", t.value)
	}
}

// parseCall handles str(value). Method calls are parsed in parseValue.
func (p *parser) parseCall(ident token) (node, error) {
	if ident.value == "str" {
		p.advance()
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if next := p.peek(); next == nil || next.kind != tkRParen {
			return nil, syntaxErr(p.src, p.endPos(), "expected ')' after str argument")
		}
		p.advance()
		return &callNode{fn: "str", operand: arg}, nil
	}
	return nil, syntaxErr(p.src, ident.pos, "unknown function %q", ident.value)
}

func (p *parser) expectCall() error {
	if t := p.peek(); t == nil || t.kind != tkLParen {
		return syntaxErr(p.src, p.endPos(), "expected '('")
	}
	p.advance()
	if t := p.peek(); t == nil || t.kind != tkRParen {
		return syntaxErr(p.src, p.endPos(), "expected ')'")
	}
	p.advance()
	return nil
}
