// Package calc evaluates the till calculator's arithmetic. Only decimal
// literals, + - * / (or × ÷), unary minus and parentheses are accepted.
package calc

import (
	"errors"
	"fmt"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	ErrSyntax         = errors.New("invalid expression")
	ErrDivisionByZero = errors.New("division by zero")
)

const (
	maxDepth     = 32
	divPrecision = 8
)

type parser struct {
	src   []rune
	pos   int
	depth int
}

// Eval parses and evaluates expr.
func Eval(expr string) (decimal.Decimal, error) {
	p := &parser{src: []rune(expr)}
	p.skipSpace()
	if p.eof() {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrSyntax)
	}
	v, err := p.expr()
	if err != nil {
		return decimal.Zero, err
	}
	p.skipSpace()
	if !p.eof() {
		return decimal.Zero, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, p.src[p.pos], p.pos)
	}
	return v, nil
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) peek() rune {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) skipSpace() {
	for !p.eof() && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

// expr := term (('+' | '-') term)*
func (p *parser) expr() (decimal.Decimal, error) {
	left, err := p.term()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		p.skipSpace()
		switch p.peek() {
		case '+', '-', '−':
			op := p.peek()
			p.pos++
			right, err := p.term()
			if err != nil {
				return decimal.Zero, err
			}
			if op == '+' {
				left = left.Add(right)
			} else {
				left = left.Sub(right)
			}
		default:
			return left, nil
		}
	}
}

// term := unary (('*' | '/') unary)*
func (p *parser) term() (decimal.Decimal, error) {
	left, err := p.unary()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		p.skipSpace()
		switch op := p.peek(); op {
		case '*', '×', 'x', '/', '÷':
			p.pos++
			right, err := p.unary()
			if err != nil {
				return decimal.Zero, err
			}
			if op == '/' || op == '÷' {
				if right.IsZero() {
					return decimal.Zero, ErrDivisionByZero
				}
				left = left.DivRound(right, divPrecision)
			} else {
				left = left.Mul(right)
			}
		default:
			return left, nil
		}
	}
}

// unary := ('-' | '+') unary | primary
func (p *parser) unary() (decimal.Decimal, error) {
	p.skipSpace()
	switch p.peek() {
	case '-', '−':
		p.pos++
		v, err := p.nested(p.unary)
		return v.Neg(), err
	case '+':
		p.pos++
		return p.nested(p.unary)
	}
	return p.primary()
}

// primary := number | '(' expr ')'
func (p *parser) primary() (decimal.Decimal, error) {
	p.skipSpace()
	if p.peek() == '(' {
		p.pos++
		v, err := p.nested(p.expr)
		if err != nil {
			return decimal.Zero, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return decimal.Zero, fmt.Errorf("%w: missing ')'", ErrSyntax)
		}
		p.pos++
		return v, nil
	}
	return p.number()
}

func (p *parser) nested(fn func() (decimal.Decimal, error)) (decimal.Decimal, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxDepth {
		return decimal.Zero, fmt.Errorf("%w: nested too deeply", ErrSyntax)
	}
	return fn()
}

func (p *parser) number() (decimal.Decimal, error) {
	start := p.pos
	dot := false
	for !p.eof() {
		r := p.src[p.pos]
		if r == '.' && !dot {
			dot = true
		} else if r < '0' || r > '9' {
			break
		}
		p.pos++
	}
	lit := string(p.src[start:p.pos])
	if lit == "" || lit == "." {
		if p.eof() {
			return decimal.Zero, fmt.Errorf("%w: unexpected end", ErrSyntax)
		}
		return decimal.Zero, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, p.src[start], start)
	}
	v, err := decimal.NewFromString(lit)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return v, nil
}
