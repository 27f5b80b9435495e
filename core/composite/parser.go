package composite

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mailscore/core/core/expr"
)

// parser is a hand-written recursive-descent parser over the composite
// expression grammar (spec §4.3.1). Precedence tight to loose: !,
// arithmetic, comparison, &, |; all operators left-associative.
type parser struct {
	toks []token
	pos  int
	src  string
}

// Parse parses a composite/boolean expression body into an expr.Node.
// Parse errors are reported as a plain error; the caller (freeze-time
// composite registration) rejects the composite and logs, per spec §4.3.4.
func Parse(src string) (expr.Node, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, src: src}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, fmt.Errorf("composite expression %q: unexpected trailing %s", src, p.cur().kind)
	}
	return node, nil
}

func (p *parser) cur() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) advance() token {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) expect(k tokenKind) error {
	if p.cur().kind != k {
		return fmt.Errorf("composite expression %q: expected %s, got %s", p.src, k, p.cur().kind)
	}
	p.advance()
	return nil
}

func (p *parser) parseOr() (expr.Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = expr.Or{L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (expr.Node, error) {
	left, err := p.parseCompare()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokAnd {
		p.advance()
		right, err := p.parseCompare()
		if err != nil {
			return nil, err
		}
		left = expr.And{L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseNot() (expr.Node, error) {
	if p.cur().kind == tokNot {
		p.advance()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return expr.Not{X: x}, nil
	}
	return p.parseAtomOrGroup()
}

func (p *parser) parseCompare() (expr.Node, error) {
	x, err := p.parseArith()
	if err != nil {
		return nil, err
	}
	var op expr.CompareOp
	switch p.cur().kind {
	case tokGT:
		op = expr.OpGT
	case tokGE:
		op = expr.OpGE
	case tokLT:
		op = expr.OpLT
	case tokLE:
		op = expr.OpLE
	case tokEQ:
		op = expr.OpEQ
	default:
		return x, nil
	}
	p.advance()
	lit, err := p.parseNumberLiteral()
	if err != nil {
		return nil, err
	}
	return expr.Compare{Op: op, X: x, Lit: lit}, nil
}

func (p *parser) parseArith() (expr.Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur().kind {
		case tokPlus:
			p.advance()
			right, err := p.parseNot()
			if err != nil {
				return nil, err
			}
			left = expr.Plus{L: left, R: right}
		case tokMul:
			p.advance()
			lit, err := p.parseNumberLiteral()
			if err != nil {
				return nil, err
			}
			left = expr.Mul{X: left, Lit: lit}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseNumberLiteral() (float64, error) {
	if p.cur().kind != tokNumber {
		return 0, fmt.Errorf("composite expression %q: expected number, got %s", p.src, p.cur().kind)
	}
	t := p.advance()
	v, err := strconv.ParseFloat(t.text, 64)
	if err != nil {
		return 0, fmt.Errorf("composite expression %q: invalid number %q", p.src, t.text)
	}
	return v, nil
}

func (p *parser) parseAtomOrGroup() (expr.Node, error) {
	if p.cur().kind == tokLParen {
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return expr.Group{X: inner}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (expr.Node, error) {
	var mods []expr.Modifier
	for {
		switch p.cur().kind {
		case tokTilde:
			mods = append(mods, expr.ModTilde)
			p.advance()
		case tokMinus:
			mods = append(mods, expr.ModMinus)
			p.advance()
		case tokCaret:
			mods = append(mods, expr.ModCaret)
			p.advance()
		default:
			goto modifiersDone
		}
	}
modifiersDone:

	if p.cur().kind != tokIdent {
		return nil, fmt.Errorf("composite expression %q: expected identifier, got %s", p.src, p.cur().kind)
	}
	name := p.advance().text

	groupRef := false
	if strings.EqualFold(name, "g") || strings.EqualFold(name, "gr") {
		if p.cur().kind == tokColon {
			p.advance()
			if p.cur().kind != tokIdent {
				return nil, fmt.Errorf("composite expression %q: expected group name after %q:", p.src, name)
			}
			name = p.advance().text
			groupRef = true
		}
	}

	subOption := ""
	if !groupRef && p.cur().kind == tokColon {
		p.advance()
		if p.cur().kind != tokIdent {
			return nil, fmt.Errorf("composite expression %q: expected suboption after ':'", p.src)
		}
		subOption = p.advance().text
	}

	return expr.Atom{Name: name, Modifiers: mods, GroupRef: groupRef, SubOption: subOption}, nil
}
