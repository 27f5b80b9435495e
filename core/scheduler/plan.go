package scheduler

import (
	"github.com/mailscore/core/core/composite"
	"github.com/mailscore/core/core/symbol"
)

// itemNode is one item's position inside its phase's DAG.
type itemNode struct {
	item *symbol.Item
	// preds lists the within-phase predecessor edges; cross-phase
	// predecessors are satisfied automatically by phase ordering and are
	// not tracked here (freeze already validated they run earlier).
	preds []symbol.Dependency
	// succs lists the within-phase dependent names, for propagating
	// SKIPPED/FAILED/TIMEOUT at run time without a reverse scan.
	succs []string
}

// PhasePlan is one phase's frozen schedule: a topologically-sorted item
// order (ties broken by descending priority, then ascending name, spec.md
// §4.1.2) plus the dependency edges needed to drive the state machine.
type PhasePlan struct {
	Phase symbol.Phase
	Order []*symbol.Item
	nodes map[string]*itemNode
	// Composites holds this phase's composite set when Phase is
	// composite-phase-1 or composite-phase-2; nil otherwise.
	Composites []*composite.Composite
}

// Plan is the full frozen schedule produced by Freeze (spec.md §4.1.2): one
// PhasePlan per non-empty phase, in symbol.PhaseOrder order.
type Plan struct {
	Phases []*PhasePlan
	items  map[string]*symbol.Item
	// Dropped records edges/composites that were rejected at freeze time
	// (unresolved pending edge, cross-phase violation, or cycle
	// participant) together with the reason, for the caller to log.
	Dropped []error
}

// Item looks up a registered item by name, regardless of phase.
func (p *Plan) Item(name string) (*symbol.Item, bool) {
	it, ok := p.items[name]
	return it, ok
}

func (p *PhasePlan) predecessors(name string) []symbol.Dependency {
	n, ok := p.nodes[name]
	if !ok {
		return nil
	}
	return n.preds
}

func (p *PhasePlan) successors(name string) []string {
	n, ok := p.nodes[name]
	if !ok {
		return nil
	}
	return n.succs
}
