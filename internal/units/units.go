// Package units parses unit-of-measure codes written in a subset of UCUM and
// converts values between dimensionally compatible units.
package units

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	// ErrUnknownUnit is returned for codes that do not parse.
	ErrUnknownUnit = eris.New("units: unknown unit")
	// ErrIncompatible is returned when two units have different dimensions.
	ErrIncompatible = eris.New("units: incompatible dimensions")
)

// Unit is a parsed unit. A value v in this unit equals v*Scale+Offset in
// base units.
type Unit struct {
	Code   string
	Scale  float64
	Offset float64
	Dim    Dimension
}

// Parse parses a UCUM code such as "Cel", "m/s", "W.m-2" or "10*3/L".
func Parse(code string) (Unit, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return Unit{}, eris.Wrap(ErrUnknownUnit, "empty code")
	}
	p := &parser{src: trimmed}
	t, err := p.expression()
	if err != nil {
		return Unit{}, eris.Wrapf(err, "units: parse %q", code)
	}
	if p.pos != len(p.src) {
		return Unit{}, eris.Wrapf(ErrUnknownUnit, "units: parse %q: unexpected %q", code, p.src[p.pos:])
	}
	u := Unit{Code: trimmed, Scale: t.scale, Dim: t.dim}
	if t.terms == 1 {
		u.Offset = t.offset
	}
	return u, nil
}

// ConvertibleTo reports whether u and o measure the same dimension.
func (u Unit) ConvertibleTo(o Unit) bool {
	return u.Dim == o.Dim
}

// ConvertTo converts v from u to o.
func (u Unit) ConvertTo(v float64, o Unit) (float64, error) {
	if !u.ConvertibleTo(o) {
		return 0, eris.Wrapf(ErrIncompatible, "%s => %s", u.Code, o.Code)
	}
	return (v*u.Scale + u.Offset - o.Offset) / o.Scale, nil
}

// Convertible reports whether values in from can be expressed in to. Codes
// that do not parse are never convertible.
func Convertible(from, to string) bool {
	a, err := Parse(from)
	if err != nil {
		return false
	}
	b, err := Parse(to)
	if err != nil {
		return false
	}
	return a.ConvertibleTo(b)
}

// Convert converts v from one unit code to another.
func Convert(v float64, from, to string) (float64, error) {
	a, err := Parse(from)
	if err != nil {
		return 0, err
	}
	b, err := Parse(to)
	if err != nil {
		return 0, err
	}
	return a.ConvertTo(v, b)
}

// term is the running product while parsing.
type term struct {
	scale  float64
	offset float64
	dim    Dimension
	terms  int
}

func unity() term { return term{scale: 1} }

func (t term) mul(o term, sign int) term {
	out := term{scale: t.scale, dim: t.dim, terms: t.terms + o.terms, offset: o.offset}
	if sign > 0 {
		out.scale *= o.scale
	} else {
		out.scale /= o.scale
		out.terms++
	}
	for i := range out.dim {
		out.dim[i] += int8(sign) * o.dim[i]
	}
	return out
}

func (t term) pow(n int) term {
	out := term{scale: math.Pow(t.scale, float64(n)), terms: t.terms, offset: t.offset}
	if n != 1 {
		out.offset = 0
		out.terms = t.terms + 1
	}
	for i := range out.dim {
		out.dim[i] = t.dim[i] * int8(n)
	}
	return out
}

type parser struct {
	src string
	pos int
}

func (p *parser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

// expression := ["/"] component {("." | "/") component}
func (p *parser) expression() (term, error) {
	acc := unity()
	sign := 1
	if p.peek() == '/' {
		p.pos++
		sign = -1
	}
	for {
		c, err := p.component()
		if err != nil {
			return term{}, err
		}
		acc = acc.mul(c, sign)

		switch p.peek() {
		case '.':
			sign = 1
		case '/':
			sign = -1
		default:
			return acc, nil
		}
		p.pos++
	}
}

// component := "(" expression ")" [exponent] | factor | symbol [exponent] | annotation
func (p *parser) component() (term, error) {
	var t term
	switch c := p.peek(); {
	case c == 0:
		return term{}, eris.Wrap(ErrUnknownUnit, "unexpected end")
	case c == '(':
		p.pos++
		inner, err := p.expression()
		if err != nil {
			return term{}, err
		}
		if p.peek() != ')' {
			return term{}, eris.Wrap(ErrUnknownUnit, "missing )")
		}
		p.pos++
		t = inner
		t.terms++
		t, err = p.exponent(t)
		if err != nil {
			return term{}, err
		}
	case c == '{':
		p.annotation()
		return unity(), nil
	case c >= '0' && c <= '9':
		f, err := p.factor()
		if err != nil {
			return term{}, err
		}
		t = f
	default:
		sym := p.symbol()
		a, ok := lookupAtom(sym)
		if !ok {
			return term{}, eris.Wrapf(ErrUnknownUnit, "%q", sym)
		}
		t = term{scale: a.scale, offset: a.offset, dim: a.dim, terms: 1}
		var err error
		t, err = p.exponent(t)
		if err != nil {
			return term{}, err
		}
	}
	if p.peek() == '{' {
		p.annotation()
	}
	return t, nil
}

// factor := digits | "10" ("*" | "^") exponent
func (p *parser) factor() (term, error) {
	start := p.pos
	for c := p.peek(); c >= '0' && c <= '9'; c = p.peek() {
		p.pos++
	}
	digits := p.src[start:p.pos]
	if digits == "10" && (p.peek() == '*' || p.peek() == '^') {
		p.pos++
		n, ok := p.integer()
		if !ok {
			return term{}, eris.Wrap(ErrUnknownUnit, "missing power of ten")
		}
		return term{scale: math.Pow(10, float64(n))}, nil
	}
	var v float64
	for _, d := range digits {
		v = v*10 + float64(d-'0')
	}
	if v == 0 {
		return term{}, eris.Wrap(ErrUnknownUnit, "zero factor")
	}
	return term{scale: v}, nil
}

func (p *parser) exponent(t term) (term, error) {
	c := p.peek()
	if c != '+' && c != '-' && (c < '0' || c > '9') {
		return t, nil
	}
	n, ok := p.integer()
	if !ok || n == 0 {
		return term{}, eris.Wrap(ErrUnknownUnit, "bad exponent")
	}
	return t.pow(n), nil
}

func (p *parser) integer() (int, bool) {
	neg := false
	switch p.peek() {
	case '-':
		neg = true
		p.pos++
	case '+':
		p.pos++
	}
	start := p.pos
	n := 0
	for c := p.peek(); c >= '0' && c <= '9'; c = p.peek() {
		n = n*10 + int(c-'0')
		p.pos++
	}
	if p.pos == start {
		return 0, false
	}
	if neg {
		n = -n
	}
	return n, true
}

// symbol reads a unit symbol, keeping bracketed atoms such as [ppm] whole.
func (p *parser) symbol() string {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '[' {
			end := strings.IndexByte(p.src[p.pos:], ']')
			if end < 0 {
				p.pos = len(p.src)
				break
			}
			p.pos += end + 1
			continue
		}
		if strings.IndexByte("./(){}+-0123456789", c) >= 0 {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *parser) annotation() {
	end := strings.IndexByte(p.src[p.pos:], '}')
	if end < 0 {
		p.pos = len(p.src)
		return
	}
	p.pos += end + 1
}
