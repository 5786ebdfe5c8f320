package match

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokString
	tokOp
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of filter"
	}
	return fmt.Sprintf("%q at %d", t.text, t.pos)
}

type lexer struct {
	src string
	pos int
}

// next returns the following token or an error for input that cannot start
// a token.
func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: start}, nil
	}

	switch c := l.src[l.pos]; {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case c == ':':
		l.pos++
		return token{kind: tokOp, text: ":", pos: start}, nil
	case c == '!' || c == '>' || c == '<':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '=' {
			l.pos += 2
			return token{kind: tokOp, text: l.src[start:l.pos], pos: start}, nil
		}
		return token{}, fmt.Errorf("unexpected %q at %d", c, start)
	case c == '"':
		return l.quoted()
	case isWordChar(c):
		for l.pos < len(l.src) && isWordChar(l.src[l.pos]) {
			l.pos++
		}
		word := l.src[start:l.pos]
		switch strings.ToUpper(word) {
		case "AND":
			return token{kind: tokAnd, text: "AND", pos: start}, nil
		case "OR":
			return token{kind: tokOr, text: "OR", pos: start}, nil
		case "NOT":
			return token{kind: tokNot, text: "NOT", pos: start}, nil
		}
		return token{kind: tokWord, text: word, pos: start}, nil
	default:
		return token{}, fmt.Errorf("unexpected %q at %d", c, start)
	}
}

func (l *lexer) quoted() (token, error) {
	start := l.pos
	l.pos++
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\\' && l.pos+1 < len(l.src):
			b.WriteByte(l.src[l.pos+1])
			l.pos += 2
		case c == '"':
			l.pos++
			return token{kind: tokString, text: b.String(), pos: start}, nil
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	return token{}, fmt.Errorf("unterminated string at %d", start)
}

func isWordChar(c byte) bool {
	r := rune(c)
	return unicode.IsLetter(r) || unicode.IsDigit(r) || c == '_' || c == '-' || c == '.' || c == '/'
}
