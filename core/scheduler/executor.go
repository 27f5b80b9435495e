// Package scheduler freezes a symbol.Registry into a per-phase execution
// plan and drives a single Task through it: dependency resolution,
// passthrough short-circuiting, composite evaluation, and deadline
// enforcement (spec.md §4.1, §4.1.3, §5).
package scheduler

import (
	"context"
	"time"

	"github.com/mailscore/core/core/accumulator"
	"github.com/mailscore/core/core/composite"
	"github.com/mailscore/core/core/symbol"
	"github.com/mailscore/core/core/task"
	"github.com/mailscore/core/logger"
	"github.com/mailscore/core/pkg/metrics"
)

// run holds one task's live execution state across all phases.
type run struct {
	plan *Plan
	task *task.Task
	acc  *accumulator.Accumulator

	states  map[string]State
	results map[string]symbol.Result

	deadlines *DeadlineScheduler
}

func newRun(plan *Plan, t *task.Task, acc *accumulator.Accumulator) *run {
	r := &run{
		plan:    plan,
		task:    t,
		acc:     acc,
		states:  make(map[string]State, len(plan.items)),
		results: make(map[string]symbol.Result, len(plan.items)),
	}
	for name := range plan.items {
		r.states[name] = StatePending
	}
	return r
}

func (r *run) setState(name string, s State) {
	r.states[name] = s
	if it, ok := r.plan.items[name]; ok {
		if phase, ok := symbol.PhaseOf(it.Type); ok {
			metrics.ItemsCompletedTotal.WithLabelValues(string(phase), s.String()).Inc()
		}
	}
}

func (r *run) recordResult(name string, res symbol.Result) {
	res.Name = name
	r.results[name] = res
	if res.Fired {
		mult := res.Multiplier
		if mult == 0 {
			mult = symbol.DefaultMultiplier
		}
		r.acc.Insert(name, mult, res.Options...)
		r.setState(name, StateDoneFired)
	} else {
		r.setState(name, StateDoneNotFired)
	}
	for _, child := range res.Children {
		r.recordResult(child.Name, child)
	}
}

// Results returns every item's final per-task result, for server/ingest to
// serialize back to the caller.
func (r *run) Results() map[string]symbol.Result {
	return r.results
}

// Execute drives t through plan phase by phase until every phase completes,
// the task context is cancelled, or its deadline passes (spec.md §4.1).
// deadlines may be nil, in which case per-item Timeout overrides are not
// enforced independently of the task's overall context deadline.
func Execute(ctx context.Context, plan *Plan, t *task.Task, acc *accumulator.Accumulator, deadlines *DeadlineScheduler) (accumulator.ActionResult, map[string]symbol.Result, error) {
	r := newRun(plan, t, acc)
	r.deadlines = deadlines

	for _, pp := range plan.Phases {
		select {
		case <-ctx.Done():
			r.timeoutRemaining(pp)
			return acc.Action(), r.Results(), ctx.Err()
		default:
		}

		_, passthroughActive := acc.ActivePassthrough()

		start := time.Now()

		var err error
		switch pp.Phase {
		case symbol.PhaseComposite1, symbol.PhaseComposite2:
			err = r.runCompositePhase(pp, passthroughActive)
		default:
			err = r.runPhase(ctx, pp)
		}

		metrics.PhaseDuration.WithLabelValues(string(pp.Phase)).Observe(time.Since(start).Seconds())
		if err != nil {
			return acc.Action(), r.Results(), err
		}
	}

	return acc.Action(), r.Results(), nil
}

func (r *run) runCompositePhase(pp *PhasePlan, passthroughActive bool) error {
	if passthroughActive {
		for _, it := range pp.Order {
			r.setState(it.Name, StateSkipped)
		}
		return nil
	}

	fired, err := composite.EvaluatePhase(string(pp.Phase), pp.Composites, r.acc, composite.DefaultIterationCap)
	if err != nil {
		logger.Warn("composite evaluation halted early", "phase", pp.Phase, "error", err)
	}
	firedSet := make(map[string]bool, len(fired))
	for _, name := range fired {
		firedSet[name] = true
	}
	for _, c := range pp.Composites {
		if firedSet[c.Name] {
			r.setState(c.Name, StateDoneFired)
		} else {
			r.setState(c.Name, StateDoneNotFired)
		}
	}
	return nil
}

// skipItem marks it SKIPPED and propagates satisfaction/forced-skip to its
// within-phase dependents.
func (r *run) skipItem(pp *PhasePlan, it *symbol.Item, pending map[string]int, forceSkip map[string]bool) {
	r.setState(it.Name, StateSkipped)
	r.advance(pp, it.Name, pending, forceSkip)
}

func (r *run) advance(pp *PhasePlan, name string, pending map[string]int, forceSkip map[string]bool) {
	state := r.states[name]
	for _, succ := range pp.successors(name) {
		if r.states[succ] != StatePending {
			continue
		}
		for _, dep := range pp.predecessors(succ) {
			if dep.Name == name && !dep.Soft && (state == StateFailed || state == StateTimeout) {
				forceSkip[succ] = true
			}
		}
		pending[succ]--
	}
}

// admits reports whether it is allowed to run given the task's settings,
// flags, and registered conditions (spec.md §4.1.3 step 1). Passthrough does
// not gate admission: a lower-priority item still runs and inserts into the
// accumulator, it only loses its say over the final action (spec.md §8 S6,
// enforced in accumulator.Accumulator.scoreForAction instead).
func (r *run) admits(it *symbol.Item) bool {
	if !r.task.Settings.Allows(it.Name) {
		return false
	}
	if it.Flags.Has(symbol.FlagExplicitDisable) && !r.task.Settings.ExplicitlyAllows(it.Name) {
		return false
	}
	for _, cond := range it.Conditions {
		if !cond(r.task) {
			return false
		}
	}
	return true
}

// runPhase drains pp's runnable queue to completion, invoking each
// callback's Run inline; async callbacks report back on doneCh when they
// finalize (spec.md §4.1.3, §9 "Suspension points").
func (r *run) runPhase(ctx context.Context, pp *PhasePlan) error {
	pending := make(map[string]int, len(pp.Order))
	forceSkip := make(map[string]bool, len(pp.Order))
	for _, it := range pp.Order {
		pending[it.Name] = len(pp.predecessors(it.Name))
	}

	doneCh := make(chan string, len(pp.Order)+1)
	outstanding := 0

	dispatch := func(it *symbol.Item) {
		if forceSkip[it.Name] || !r.admits(it) {
			r.skipItem(pp, it, pending, forceSkip)
			return
		}

		r.states[it.Name] = StateRunning
		if it.Callback == nil {
			r.setState(it.Name, StateDoneNotFired)
			r.advance(pp, it.Name, pending, forceSkip)
			return
		}

		outstanding++
		r.runCallback(ctx, it, doneCh)
	}

	for {
		var batch []*symbol.Item
		for _, it := range pp.Order {
			if r.states[it.Name] == StatePending && pending[it.Name] == 0 {
				batch = append(batch, it)
			}
		}
		if len(batch) == 0 && outstanding == 0 {
			break
		}
		for _, it := range batch {
			dispatch(it)
		}
		if outstanding == 0 {
			continue
		}
		select {
		case name := <-doneCh:
			outstanding--
			r.advance(pp, name, pending, forceSkip)
		case <-ctx.Done():
			r.timeoutRemaining(pp)
			return ctx.Err()
		}
	}

	return nil
}

// runCallback invokes it.Callback.Run on the phase loop's goroutine, containing any
// panic as a FAILED state (spec.md §7 CallbackPanicError) and reporting
// completion on doneCh exactly once for sync outcomes. Pending outcomes
// report later via the item's Emitter.Finalize, guarded against their own
// per-item timeout when a DeadlineScheduler is wired in.
func (r *run) runCallback(ctx context.Context, it *symbol.Item, doneCh chan string) {
	defer func() {
		if p := recover(); p != nil {
			metrics.CallbackPanicsTotal.WithLabelValues(it.Name).Inc()
			logger.Error("symbol callback panicked", "symbol", it.Name, "panic", p)
			r.setState(it.Name, StateFailed)
			doneCh <- it.Name
		}
	}()

	emit := newItemEmitter(r, it.Name, doneCh)
	outcome, res := it.Callback.Run(ctx, r.task, emit)
	if outcome == symbol.OutcomeSync {
		r.recordResult(it.Name, res)
		doneCh <- it.Name
		return
	}

	if r.deadlines != nil && it.Timeout > 0 {
		key := r.task.ID + "/" + it.Name
		emit.deadlineKey = key
		r.deadlines.Register(key, time.Now().Add(it.Timeout), func() {
			it.Callback.OnContinuation(ctx, r.task, emit, symbol.ContinuationEvent{Timeout: true})
			emit.forceTimeout()
		})
	}
}

// timeoutRemaining finalizes every item still PENDING or RUNNING in pp as
// TIMEOUT when the task's deadline or context is done mid-phase (spec.md
// §4.1.3).
func (r *run) timeoutRemaining(pp *PhasePlan) {
	for _, it := range pp.Order {
		switch r.states[it.Name] {
		case StatePending, StateRunning:
			r.setState(it.Name, StateTimeout)
		}
	}
}
