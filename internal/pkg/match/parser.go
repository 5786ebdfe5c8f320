package match

import "fmt"

type parser struct {
	lex lexer
	tok token
}

// Parse compiles a filter. An empty filter returns a nil Expr, which
// matches every record.
func Parse(src string) (Expr, error) {
	p := &parser{lex: lexer{src: src}}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind == tokEOF {
		return nil, nil
	}
	e, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s", p.tok)
	}
	return e, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) or() (Expr, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

// and also accepts juxtaposition, so `a b` means `a AND b`.
func (p *parser) and() (Expr, error) {
	left, err := p.not()
	if err != nil {
		return nil, err
	}
	for {
		switch p.tok.kind {
		case tokAnd:
			if err := p.advance(); err != nil {
				return nil, err
			}
		case tokWord, tokString, tokNot, tokLParen:
		default:
			return left, nil
		}
		right, err := p.not()
		if err != nil {
			return nil, err
		}
		left = Binary{Op: "AND", Left: left, Right: right}
	}
}

func (p *parser) not() (Expr, error) {
	if p.tok.kind != tokNot {
		return p.primary()
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	x, err := p.not()
	if err != nil {
		return nil, err
	}
	return Not{X: x}, nil
}

func (p *parser) primary() (Expr, error) {
	tok := p.tok
	switch tok.kind {
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.or()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("expected ')' but found %s", p.tok)
		}
		return e, p.advance()

	case tokString:
		return Field{Op: "~", Value: tok.text}, p.advance()

	case tokWord:
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokOp {
			return Field{Op: "~", Value: tok.text}, nil
		}
		op := p.tok.text
		if _, ok := fields[normalizeKey(tok.text)]; !ok {
			return nil, fmt.Errorf("unknown field %q", tok.text)
		}
		if (op == ">=" || op == "<=") && normalizeKey(tok.text) != "level" {
			return nil, fmt.Errorf("%s only applies to level", op)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.tok.kind != tokWord && p.tok.kind != tokString {
			return nil, fmt.Errorf("expected value after %s%s but found %s", tok.text, op, p.tok)
		}
		f := Field{Key: normalizeKey(tok.text), Op: op, Value: p.tok.text}
		if f.Key == "level" {
			if _, err := parseLevel(f.Value); err != nil {
				return nil, err
			}
		}
		return f, p.advance()

	default:
		return nil, fmt.Errorf("unexpected %s", tok)
	}
}
