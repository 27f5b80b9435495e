// Package composite implements the two-phase composite evaluator (spec.md
// §4.3): parsing composite expression strings, classifying composites into
// first/second pass by transitive dependency, and evaluating them against
// the accumulator with one of four removal policies.
package composite

import (
	"fmt"
	"sort"

	coreerrors "github.com/mailscore/core/pkg/errors"
	"github.com/mailscore/core/pkg/metrics"

	"github.com/mailscore/core/core/expr"
)

// Policy is one of the four composite removal policies (spec §3 Composite,
// §4.3.3 step 3).
type Policy string

const (
	PolicyRemoveAll    Policy = "remove_all"
	PolicyRemoveSymbol Policy = "remove_symbol"
	PolicyRemoveWeight Policy = "remove_weight"
	PolicyLeave        Policy = "leave"
)

// ParsePolicy parses a configuration string into a Policy, defaulting to
// PolicyLeave for an empty string (a composite that names no policy simply
// never removes anything it references).
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyRemoveAll, PolicyRemoveSymbol, PolicyRemoveWeight, PolicyLeave:
		return Policy(s), nil
	case "":
		return PolicyLeave, nil
	default:
		return "", fmt.Errorf("unknown composite policy %q", s)
	}
}

// Composite is a registered composite rule (spec §3 Composite). Composites
// are registered through the same priority-bearing contract as any other
// symbol (type "composite", spec §4.1.1), which is why Priority appears
// here even though spec.md's narrative data-model paragraph omits it.
type Composite struct {
	Name       string
	Expression string
	Score      float64
	Group      string
	Policy     Policy
	Priority   int
	Tree       expr.Node
	// SecondPass is derived at freeze time by Classify, never authored
	// directly (spec §3: "a second_pass flag (derived, not authored)").
	SecondPass bool
}

// New parses expression and constructs a Composite. A parse error is a
// ConfigError (spec §7): the caller should reject this composite and log,
// not abort freeze.
func New(name, expression string, score float64, group string, policy Policy, priority int) (*Composite, error) {
	tree, err := Parse(expression)
	if err != nil {
		return nil, coreerrors.NewConfigError("unparseable composite", name, err)
	}
	return &Composite{
		Name:       name,
		Expression: expression,
		Score:      score,
		Group:      group,
		Policy:     policy,
		Priority:   priority,
		Tree:       tree,
	}, nil
}

// Classify runs the freeze-time second-pass dependency classification
// (spec §4.3.2): an atom is second-pass-inducing if it names a symbol whose
// registration flags include postfilter/classifier/nostat, it carries the
// `^` forward-reference modifier (spec §3: "marks as a second-pass hint"),
// or it names another composite already classified second-pass
// (transitive). Runs to a fixed point; terminates because flips are
// monotone (a composite only ever moves from first-pass to second-pass,
// never back).
//
// symbolSecondPass reports, for a plain (non-composite) symbol name,
// whether it is inherently second-pass-inducing. It is not called for names
// that are themselves composites.
func Classify(composites map[string]*Composite, symbolSecondPass func(name string) bool) map[string]bool {
	for _, c := range composites {
		c.SecondPass = false
	}

	for {
		flipped := false
		for _, c := range composites {
			if c.SecondPass {
				continue
			}
			inducing := false
			expr.Walk(c.Tree, func(a expr.Atom) {
				if inducing || a.GroupRef {
					return
				}
				if a.HasModifier(expr.ModCaret) {
					inducing = true
					return
				}
				if other, ok := composites[a.Name]; ok {
					if other.SecondPass {
						inducing = true
					}
					return
				}
				if symbolSecondPass(a.Name) {
					inducing = true
				}
			})
			if inducing {
				c.SecondPass = true
				flipped = true
			}
		}
		if !flipped {
			break
		}
	}

	result := make(map[string]bool, len(composites))
	for name, c := range composites {
		result[name] = c.SecondPass
	}
	return result
}

// orderedComposites returns composites sorted by descending priority, then
// ascending name (spec §4.3.3: "iterate composites in priority order (ties
// broken by name)", matching the scheduler's own tie-break convention).
func orderedComposites(composites []*Composite) []*Composite {
	ordered := append([]*Composite{}, composites...)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].Name < ordered[j].Name
	})
	return ordered
}

// Mutator is the accumulator-side interface the evaluator rewrites through
// (spec §4.3.3 step 3 and §4.3.3's own contribution rule).
type Mutator interface {
	ScoreSource
	// InsertComposite records the composite's own contribution directly at
	// its configured score (not multiplied against a registered weight,
	// unlike a plain symbol insert — see core/accumulator.Insert).
	InsertComposite(name string, score float64, group string)
	// RemoveAll deletes a symbol record entirely (policy remove_all).
	RemoveAll(name string)
	// RemoveIfNonNegative deletes a symbol record only if its score is
	// non-negative (policy remove_symbol).
	RemoveIfNonNegative(name string)
	// ZeroContribution keeps the record but zeroes its score contribution
	// (policy remove_weight).
	ZeroContribution(name string)
}

// DefaultIterationCap is the bounded fixed-point iteration cap (spec
// §4.3.3: "a bounded iteration cap (e.g., 32)").
const DefaultIterationCap = 32

// EvaluatePhase evaluates composites (all belonging to the same pass) to a
// fixed point within cap iterations, rewriting mutator per each firing
// composite's policy (spec §4.3.3). Returns the names of composites that
// fired. If the fixed point is not reached within cap iterations, rewriting
// halts for this phase and a CompositeIterationExceededError is returned
// alongside whatever firings already happened — callers log it and
// continue (spec §7), they do not roll back.
func EvaluatePhase(phase string, composites []*Composite, mutator Mutator, cap int) ([]string, error) {
	if cap <= 0 {
		cap = DefaultIterationCap
	}
	ordered := orderedComposites(composites)
	fired := make(map[string]bool, len(ordered))
	var firedOrder []string

	for iter := 0; iter < cap; iter++ {
		changed := false
		for _, c := range ordered {
			if fired[c.Name] {
				continue
			}
			res := eval(c.Tree, mutator)
			if !res.truthy {
				continue
			}
			fired[c.Name] = true
			firedOrder = append(firedOrder, c.Name)
			changed = true
			metrics.CompositeFiredTotal.WithLabelValues(c.Name).Inc()

			if !anyMinus(res.contributors) {
				mutator.InsertComposite(c.Name, c.Score, c.Group)
			}
			applyPolicy(c.Policy, res.contributors, mutator)
		}
		if !changed {
			return firedOrder, nil
		}
	}

	metrics.CompositeIterationsExceededTotal.WithLabelValues(phase).Inc()
	return firedOrder, &coreerrors.CompositeIterationExceededError{Phase: phase, Cap: cap}
}

func anyMinus(atoms []expr.Atom) bool {
	for _, a := range atoms {
		if a.HasModifier(expr.ModMinus) {
			return true
		}
	}
	return false
}

func applyPolicy(policy Policy, contributors []expr.Atom, mutator Mutator) {
	for _, a := range contributors {
		if a.GroupRef || a.HasModifier(expr.ModTilde) {
			continue
		}
		switch policy {
		case PolicyRemoveAll:
			mutator.RemoveAll(a.Name)
		case PolicyRemoveSymbol:
			mutator.RemoveIfNonNegative(a.Name)
		case PolicyRemoveWeight:
			mutator.ZeroContribution(a.Name)
		case PolicyLeave:
			// no modification
		}
	}
}
