package scheduler

import (
	"fmt"
	"sort"

	"github.com/mailscore/core/core/composite"
	coreerrors "github.com/mailscore/core/pkg/errors"
	"github.com/mailscore/core/core/symbol"
)

// Freeze partitions every registered item into its scheduling phase, builds
// each phase's within-phase dependency DAG, diagnoses and drops any cycle or
// cross-phase violation, and produces the final topological order each
// phase's executor walks (spec.md §4.1.2).
//
// composites is the full registered composite set; secondPass reports, for
// a composite name, whether core/composite.Classify placed it in
// composite-phase-2. Freeze does not call Classify itself: that requires
// knowing every symbol's own second-pass-inducing status up front, which
// the caller (typically cmd/mailscored's startup wiring) already has from
// building the registry.
func Freeze(reg *symbol.Registry, composites map[string]*composite.Composite, secondPass map[string]bool) (*Plan, []error) {
	var errs []error

	items := reg.Items()
	byName := make(map[string]*symbol.Item, len(items))
	phaseOf := make(map[string]symbol.Phase, len(items))

	for _, it := range items {
		byName[it.Name] = it
		ph, ok := symbol.PhaseOf(it.Type)
		if !ok {
			errs = append(errs, coreerrors.NewConfigError("unknown item type", it.Name, fmt.Errorf("type %q", it.Type)))
			continue
		}
		if it.Type == symbol.TypeComposite && secondPass[it.Name] {
			ph = symbol.PhaseComposite2
		}
		phaseOf[it.Name] = ph
	}

	nodesByPhase := make(map[symbol.Phase]map[string]*itemNode, len(symbol.PhaseOrder))
	for _, ph := range symbol.PhaseOrder {
		nodesByPhase[ph] = map[string]*itemNode{}
	}
	for _, it := range items {
		ph, ok := phaseOf[it.Name]
		if !ok {
			continue
		}
		nodesByPhase[ph][it.Name] = &itemNode{item: it}
	}

	for _, edge := range reg.PendingEdges() {
		child, childOK := byName[edge.Child]
		parent, parentOK := byName[edge.Parent]
		if !childOK || !parentOK {
			errs = append(errs, coreerrors.NewConfigError("unresolved dependency edge", edge.Child,
				fmt.Errorf("parent %q missing (child present: %v, parent present: %v)", edge.Parent, childOK, parentOK)))
			continue
		}

		childPhase, parentPhase := phaseOf[child.Name], phaseOf[parent.Name]
		childRank, parentRank := symbol.PhaseRank(childPhase), symbol.PhaseRank(parentPhase)

		switch {
		case parentRank > childRank:
			// A dependency on something scheduled in a later phase can
			// never be satisfied before the child needs it; reject it.
			errs = append(errs, coreerrors.NewConfigError("dependency crosses into a later phase", edge.Child,
				fmt.Errorf("depends on %q in phase %q, itself scheduled in earlier phase %q", edge.Parent, parentPhase, childPhase)))
		case parentRank < childRank:
			// Satisfied automatically: the parent's whole phase completes
			// before the child's phase begins. No DAG edge needed.
		default:
			node := nodesByPhase[childPhase][child.Name]
			node.preds = append(node.preds, symbol.Dependency{Name: parent.Name, Soft: edge.Soft})
			parentNode := nodesByPhase[parentPhase][parent.Name]
			parentNode.succs = append(parentNode.succs, child.Name)
		}
	}

	plan := &Plan{items: byName}
	for _, ph := range symbol.PhaseOrder {
		nodes := nodesByPhase[ph]
		if len(nodes) == 0 {
			continue
		}
		order, dropped := topoSort(nodes)
		errs = append(errs, dropped...)

		pp := &PhasePlan{Phase: ph, nodes: nodes}
		for _, name := range order {
			pp.Order = append(pp.Order, nodes[name].item)
		}
		if ph == symbol.PhaseComposite1 || ph == symbol.PhaseComposite2 {
			for _, name := range order {
				if c, ok := composites[name]; ok {
					pp.Composites = append(pp.Composites, c)
				}
			}
		}
		plan.Phases = append(plan.Phases, pp)
	}

	plan.Dropped = errs
	return plan, errs
}

// topoSort runs Kahn's algorithm over a single phase's DAG, breaking ties
// among simultaneously-runnable nodes by descending Priority then
// ascending Name (spec.md §4.1.2). Nodes left over once no more in-degree-0
// nodes exist participate in a cycle; their edges are dropped (logged as
// DependencyCycleError) and they are appended in name order so every item
// still gets scheduled.
func topoSort(nodes map[string]*itemNode) ([]string, []error) {
	indegree := make(map[string]int, len(nodes))
	for name := range nodes {
		indegree[name] = 0
	}
	for _, n := range nodes {
		for range n.preds {
			indegree[n.item.Name]++
		}
	}

	var order []string
	remaining := make(map[string]bool, len(nodes))
	for name := range nodes {
		remaining[name] = true
	}

	for len(remaining) > 0 {
		var ready []string
		for name := range remaining {
			if indegree[name] == 0 {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			break
		}
		sort.Slice(ready, func(i, j int) bool {
			ni, nj := nodes[ready[i]].item, nodes[ready[j]].item
			if ni.Priority != nj.Priority {
				return ni.Priority > nj.Priority
			}
			return ni.Name < nj.Name
		})
		for _, name := range ready {
			order = append(order, name)
			delete(remaining, name)
			for _, succ := range nodes[name].succs {
				if remaining[succ] {
					indegree[succ]--
				}
			}
		}
	}

	var errs []error
	if len(remaining) > 0 {
		cycle := make([]string, 0, len(remaining))
		for name := range remaining {
			cycle = append(cycle, name)
		}
		sort.Strings(cycle)
		errs = append(errs, &coreerrors.DependencyCycleError{Cycle: cycle})

		cycleSet := make(map[string]bool, len(cycle))
		for _, name := range cycle {
			cycleSet[name] = true
		}
		for _, name := range cycle {
			n := nodes[name]
			filtered := n.preds[:0]
			for _, p := range n.preds {
				if !cycleSet[p.Name] {
					filtered = append(filtered, p)
				}
			}
			n.preds = filtered
			order = append(order, name)
		}
	}

	return order, errs
}
