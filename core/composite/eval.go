package composite

import "github.com/mailscore/core/core/expr"

// ScoreSource is the narrow view of the accumulator the composite evaluator
// needs (spec §4.3.3): per-symbol presence/score, and per-group score sums.
// Defined here (not in core/accumulator) so composite has no dependency on
// the accumulator's concrete type, only this interface.
type ScoreSource interface {
	// Score returns the symbol's current raw accumulated score and whether
	// it is present in the result at all.
	Score(name string) (value float64, present bool)
	// GroupScore returns the sum of raw scores of all present symbols
	// belonging to the named group.
	GroupScore(group string) float64
}

// evalResult is the outcome of evaluating one expr.Node: its numeric value,
// whether it is truthy, and which atoms "contributed" to that truth — the
// set a firing composite's removal policy is applied to (spec §4.3.3 step 3).
type evalResult struct {
	value        float64
	truthy       bool
	contributors []expr.Atom
}

// eval interprets node against src, following spec §4.3.3's per-node-kind
// rules.
func eval(node expr.Node, src ScoreSource) evalResult {
	switch n := node.(type) {
	case expr.Atom:
		var v float64
		var present bool
		if n.GroupRef {
			v = src.GroupScore(n.Name)
			present = v != 0
		} else {
			v, present = src.Score(n.Name)
		}
		if !present {
			return evalResult{value: 0, truthy: false}
		}
		return evalResult{value: v, truthy: true, contributors: []expr.Atom{n}}

	case expr.Group:
		return eval(n.X, src)

	case expr.Not:
		inner := eval(n.X, src)
		if inner.truthy {
			return evalResult{value: 0, truthy: false}
		}
		return evalResult{value: 1, truthy: true}

	case expr.And:
		l := eval(n.L, src)
		r := eval(n.R, src)
		if !l.truthy || !r.truthy {
			return evalResult{value: 0, truthy: false}
		}
		return evalResult{
			value:        l.value + r.value,
			truthy:       true,
			contributors: append(append([]expr.Atom{}, l.contributors...), r.contributors...),
		}

	case expr.Or:
		l := eval(n.L, src)
		r := eval(n.R, src)
		switch {
		case l.truthy && r.truthy:
			return evalResult{
				value:        l.value + r.value,
				truthy:       true,
				contributors: append(append([]expr.Atom{}, l.contributors...), r.contributors...),
			}
		case l.truthy:
			return l
		case r.truthy:
			return r
		default:
			return evalResult{value: 0, truthy: false}
		}

	case expr.Compare:
		x := eval(n.X, src)
		truthy := compareOp(n.Op, x.value, n.Lit)
		if !truthy {
			return evalResult{value: x.value, truthy: false}
		}
		return evalResult{value: x.value, truthy: true, contributors: x.contributors}

	case expr.Plus:
		l := eval(n.L, src)
		r := eval(n.R, src)
		v := l.value + r.value
		return evalResult{
			value:        v,
			truthy:       v != 0,
			contributors: append(append([]expr.Atom{}, l.contributors...), r.contributors...),
		}

	case expr.Mul:
		x := eval(n.X, src)
		v := x.value * n.Lit
		return evalResult{value: v, truthy: v != 0, contributors: x.contributors}

	default:
		// Evaluation errors (unknown node kind) treat the subexpression as
		// false, per spec §4.3.4.
		return evalResult{value: 0, truthy: false}
	}
}

func compareOp(op expr.CompareOp, x, lit float64) bool {
	switch op {
	case expr.OpGT:
		return x > lit
	case expr.OpGE:
		return x >= lit
	case expr.OpLT:
		return x < lit
	case expr.OpLE:
		return x <= lit
	case expr.OpEQ:
		return x == lit
	default:
		return false
	}
}
