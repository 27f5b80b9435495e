package composite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailscore/core/core/expr"
)

// fakeAccumulator is a minimal ScoreSource/Mutator for evaluator tests: a
// flat map of symbol -> score, plus group membership.
type fakeAccumulator struct {
	scores map[string]float64
	groups map[string]string // symbol -> group
}

func newFakeAccumulator() *fakeAccumulator {
	return &fakeAccumulator{scores: map[string]float64{}, groups: map[string]string{}}
}

func (f *fakeAccumulator) Score(name string) (float64, bool) {
	v, ok := f.scores[name]
	return v, ok
}

func (f *fakeAccumulator) GroupScore(group string) float64 {
	var sum float64
	for name, g := range f.groups {
		if g == group {
			v, ok := f.scores[name]
			if ok {
				sum += v
			}
		}
	}
	return sum
}

// Insert is a test-only convenience alias for InsertComposite, used to seed
// the fake accumulator with initial symbol scores.
func (f *fakeAccumulator) Insert(name string, score float64, group string) {
	f.InsertComposite(name, score, group)
}

func (f *fakeAccumulator) InsertComposite(name string, score float64, group string) {
	f.scores[name] = score
	if group != "" {
		f.groups[name] = group
	}
}

func (f *fakeAccumulator) RemoveAll(name string) {
	delete(f.scores, name)
	delete(f.groups, name)
}

func (f *fakeAccumulator) RemoveIfNonNegative(name string) {
	if v, ok := f.scores[name]; ok && v >= 0 {
		delete(f.scores, name)
		delete(f.groups, name)
	}
}

func (f *fakeAccumulator) ZeroContribution(name string) {
	if _, ok := f.scores[name]; ok {
		f.scores[name] = 0
	}
}

func TestParseSimpleAnd(t *testing.T) {
	node, err := Parse("SYMBOL_A & SYMBOL_B")
	require.NoError(t, err)
	and, ok := node.(expr.And)
	require.True(t, ok)
	assert.Equal(t, expr.Atom{Name: "SYMBOL_A"}, and.L)
	assert.Equal(t, expr.Atom{Name: "SYMBOL_B"}, and.R)
}

func TestParseModifiersAndGroupRef(t *testing.T) {
	node, err := Parse("~SYMBOL_A & -SYMBOL_B | g:SOME_GROUP > 5")
	require.NoError(t, err)

	var atoms []expr.Atom
	expr.Walk(node, func(a expr.Atom) { atoms = append(atoms, a) })
	require.Len(t, atoms, 3)
	assert.True(t, atoms[0].HasModifier(expr.ModTilde))
	assert.True(t, atoms[1].HasModifier(expr.ModMinus))
	assert.True(t, atoms[2].GroupRef)
	assert.Equal(t, "SOME_GROUP", atoms[2].Name)
}

func TestParseUnbalancedParenErrors(t *testing.T) {
	_, err := Parse("(SYMBOL_A & SYMBOL_B")
	assert.Error(t, err)
}

// S1: remove_all policy deletes both contributing symbols entirely.
func TestEvaluatePhaseRemoveAll(t *testing.T) {
	acc := newFakeAccumulator()
	acc.Insert("SYMBOL_A", 1, "")
	acc.Insert("SYMBOL_B", 2, "")

	c, err := New("COMPOSITE_AB", "SYMBOL_A & SYMBOL_B", 5, "", PolicyRemoveAll, 0)
	require.NoError(t, err)

	fired, err := EvaluatePhase("filter", []*Composite{c}, acc, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"COMPOSITE_AB"}, fired)

	v, present := acc.Score("COMPOSITE_AB")
	assert.True(t, present)
	assert.Equal(t, 5.0, v)

	_, present = acc.Score("SYMBOL_A")
	assert.False(t, present)
	_, present = acc.Score("SYMBOL_B")
	assert.False(t, present)
}

// S2: remove_weight keeps the symbol record present but zeroes its score.
func TestEvaluatePhaseRemoveWeight(t *testing.T) {
	acc := newFakeAccumulator()
	acc.Insert("SYMBOL_A", 3, "")

	c, err := New("COMPOSITE_A", "SYMBOL_A", 1, "", PolicyRemoveWeight, 0)
	require.NoError(t, err)

	_, err = EvaluatePhase("filter", []*Composite{c}, acc, 0)
	require.NoError(t, err)

	v, present := acc.Score("SYMBOL_A")
	assert.True(t, present)
	assert.Equal(t, 0.0, v)
}

// S3: the tilde modifier protects its symbol from removal under any policy.
func TestEvaluatePhaseTildeProtectsFromRemoval(t *testing.T) {
	acc := newFakeAccumulator()
	acc.Insert("SYMBOL_A", 3, "")

	c, err := New("COMPOSITE_A", "~SYMBOL_A", 1, "", PolicyRemoveAll, 0)
	require.NoError(t, err)

	_, err = EvaluatePhase("filter", []*Composite{c}, acc, 0)
	require.NoError(t, err)

	v, present := acc.Score("SYMBOL_A")
	assert.True(t, present)
	assert.Equal(t, 3.0, v)
}

// The minus modifier suppresses the composite's own score contribution but
// the policy still applies to the underlying symbol.
func TestEvaluatePhaseMinusSuppressesOwnScore(t *testing.T) {
	acc := newFakeAccumulator()
	acc.Insert("SYMBOL_A", 3, "")

	c, err := New("COMPOSITE_A", "-SYMBOL_A", 1, "", PolicyRemoveAll, 0)
	require.NoError(t, err)

	_, err = EvaluatePhase("filter", []*Composite{c}, acc, 0)
	require.NoError(t, err)

	_, present := acc.Score("COMPOSITE_A")
	assert.False(t, present, "minus-modified firing must not add the composite's own score")
	_, present = acc.Score("SYMBOL_A")
	assert.False(t, present, "policy still removes the underlying symbol")
}

// A composite whose own output feeds a second composite: both fire within
// one phase evaluation (fixed-point).
func TestEvaluatePhaseChainedComposites(t *testing.T) {
	acc := newFakeAccumulator()
	acc.Insert("SYMBOL_A", 1, "")
	acc.Insert("SYMBOL_B", 1, "")

	inner, err := New("COMPOSITE_INNER", "SYMBOL_A & SYMBOL_B", 2, "", PolicyLeave, 10)
	require.NoError(t, err)
	outer, err := New("COMPOSITE_OUTER", "COMPOSITE_INNER", 3, "", PolicyLeave, 0)
	require.NoError(t, err)

	fired, err := EvaluatePhase("filter", []*Composite{outer, inner}, acc, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"COMPOSITE_INNER", "COMPOSITE_OUTER"}, fired)

	v, present := acc.Score("COMPOSITE_OUTER")
	assert.True(t, present)
	assert.Equal(t, 3.0, v)
}

func TestEvaluatePhaseIterationCapExceeded(t *testing.T) {
	acc := newFakeAccumulator()
	acc.Insert("SEED", 1, "")

	// Chain E->D->C->B->A where each depends on the next (SEED is the root).
	// Composites are iterated in ascending name order within a pass (A, B,
	// C, D, E), which is the reverse of the dependency chain, so each pass
	// propagates truth back by exactly one link: this takes five passes to
	// fully stabilize, forcing the low cap below to be exceeded.
	e, err := New("E", "SEED", 1, "", PolicyLeave, 0)
	require.NoError(t, err)
	d, err := New("D", "E", 1, "", PolicyLeave, 0)
	require.NoError(t, err)
	c, err := New("C", "D", 1, "", PolicyLeave, 0)
	require.NoError(t, err)
	b, err := New("B", "C", 1, "", PolicyLeave, 0)
	require.NoError(t, err)
	a, err := New("A", "B", 1, "", PolicyLeave, 0)
	require.NoError(t, err)
	composites := []*Composite{a, b, c, d, e}

	_, err = EvaluatePhase("filter", composites, acc, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iteration cap")
}

func TestClassifySecondPassTransitive(t *testing.T) {
	a, err := New("COMPOSITE_A", "POSTFILTER_SYMBOL", 1, "", PolicyLeave, 0)
	require.NoError(t, err)
	b, err := New("COMPOSITE_B", "COMPOSITE_A", 1, "", PolicyLeave, 0)
	require.NoError(t, err)
	c, err := New("COMPOSITE_C", "ORDINARY_SYMBOL", 1, "", PolicyLeave, 0)
	require.NoError(t, err)

	composites := map[string]*Composite{"COMPOSITE_A": a, "COMPOSITE_B": b, "COMPOSITE_C": c}
	result := Classify(composites, func(name string) bool {
		return name == "POSTFILTER_SYMBOL"
	})

	assert.True(t, result["COMPOSITE_A"])
	assert.True(t, result["COMPOSITE_B"], "transitive: depends on a second-pass composite")
	assert.False(t, result["COMPOSITE_C"])
}

func TestClassifyCaretModifierForcesSecondPass(t *testing.T) {
	a, err := New("COMPOSITE_D", "^NOT_YET_CLASSIFIED", 1, "", PolicyLeave, 0)
	require.NoError(t, err)

	composites := map[string]*Composite{"COMPOSITE_D": a}
	result := Classify(composites, func(name string) bool { return false })

	assert.True(t, result["COMPOSITE_D"], "^ marks its atom as a second-pass hint regardless of the referenced symbol's own flags")
}

func TestParsePolicyDefaultsToLeave(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyLeave, p)
}

func TestParsePolicyRejectsUnknown(t *testing.T) {
	_, err := ParsePolicy("frobnicate")
	assert.Error(t, err)
}
