package challenge

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// The challenge scripts obfuscate integer arithmetic with the bracket and
// bang notation (+[], !![], (...+[]) string joins). evalExpr understands
// exactly that subset: unary + - !, binary + - * /, parentheses, [] and
// decimal literals. Anything else is rejected.

type kind int

const (
	kindNumber kind = iota
	kindBool
	kindString
	kindArray // only the empty array
)

type value struct {
	kind kind
	num  float64
	b    bool
	str  string
}

func number(f float64) value { return value{kind: kindNumber, num: f} }

func (v value) toNumber() float64 {
	switch v.kind {
	case kindNumber:
		return v.num
	case kindBool:
		if v.b {
			return 1
		}
		return 0
	case kindString:
		s := strings.TrimSpace(v.str)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return 0
	}
}

func (v value) toString() string {
	switch v.kind {
	case kindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case kindBool:
		return strconv.FormatBool(v.b)
	case kindString:
		return v.str
	default:
		return ""
	}
}

func (v value) truthy() bool {
	switch v.kind {
	case kindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case kindBool:
		return v.b
	case kindString:
		return v.str != ""
	default:
		return true
	}
}

func add(a, b value) value {
	if a.kind == kindString || a.kind == kindArray || b.kind == kindString || b.kind == kindArray {
		return value{kind: kindString, str: a.toString() + b.toString()}
	}
	return number(a.toNumber() + b.toNumber())
}

type parser struct {
	src string
	pos int
}

// evalExpr evaluates src and returns its numeric value
func evalExpr(src string) (float64, error) {
	p := &parser{src: src}
	v, err := p.additive()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return 0, fmt.Errorf("unexpected %q at offset %d", p.src[p.pos:], p.pos)
	}
	f := v.toNumber()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expression %q is not a finite number", src)
	}
	return f, nil
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n' || p.src[p.pos] == '\r') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) additive() (value, error) {
	left, err := p.multiplicative()
	if err != nil {
		return value{}, err
	}
	for {
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.multiplicative()
		if err != nil {
			return value{}, err
		}
		if op == '+' {
			left = add(left, right)
		} else {
			left = number(left.toNumber() - right.toNumber())
		}
	}
}

func (p *parser) multiplicative() (value, error) {
	left, err := p.unary()
	if err != nil {
		return value{}, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.unary()
		if err != nil {
			return value{}, err
		}
		if op == '*' {
			left = number(left.toNumber() * right.toNumber())
		} else {
			left = number(left.toNumber() / right.toNumber())
		}
	}
}

func (p *parser) unary() (value, error) {
	switch p.peek() {
	case '!':
		p.pos++
		v, err := p.unary()
		if err != nil {
			return value{}, err
		}
		return value{kind: kindBool, b: !v.truthy()}, nil
	case '+':
		p.pos++
		v, err := p.unary()
		if err != nil {
			return value{}, err
		}
		return number(v.toNumber()), nil
	case '-':
		p.pos++
		v, err := p.unary()
		if err != nil {
			return value{}, err
		}
		return number(-v.toNumber()), nil
	}
	return p.primary()
}

func (p *parser) primary() (value, error) {
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		v, err := p.additive()
		if err != nil {
			return value{}, err
		}
		if p.peek() != ')' {
			return value{}, fmt.Errorf("missing ')' at offset %d", p.pos)
		}
		p.pos++
		return v, nil
	case c == '[':
		p.pos++
		if p.peek() != ']' {
			return value{}, fmt.Errorf("only empty arrays are supported (offset %d)", p.pos)
		}
		p.pos++
		return value{kind: kindArray}, nil
	case c >= '0' && c <= '9' || c == '.':
		start := p.pos
		for p.pos < len(p.src) && (p.src[p.pos] >= '0' && p.src[p.pos] <= '9' || p.src[p.pos] == '.') {
			p.pos++
		}
		f, err := strconv.ParseFloat(p.src[start:p.pos], 64)
		if err != nil {
			return value{}, err
		}
		return number(f), nil
	case c == 0:
		return value{}, fmt.Errorf("unexpected end of expression")
	default:
		return value{}, fmt.Errorf("unsupported token %q at offset %d", c, p.pos)
	}
}
