package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailscore/core/core/accumulator"
	"github.com/mailscore/core/core/composite"
	"github.com/mailscore/core/core/symbol"
	"github.com/mailscore/core/core/task"
)

type syncCallback struct {
	fired      bool
	multiplier float64
	options    []string
}

func (c *syncCallback) Run(ctx context.Context, t *task.Task, emit symbol.Emitter) (symbol.Outcome, symbol.Result) {
	mult := c.multiplier
	if mult == 0 {
		mult = symbol.DefaultMultiplier
	}
	return symbol.OutcomeSync, symbol.Result{Fired: c.fired, Multiplier: mult, Options: c.options}
}

func (c *syncCallback) OnContinuation(context.Context, *task.Task, symbol.Emitter, symbol.ContinuationEvent) {}

type asyncCallback struct {
	fire     bool
	complete chan struct{}
}

func (c *asyncCallback) Run(ctx context.Context, t *task.Task, emit symbol.Emitter) (symbol.Outcome, symbol.Result) {
	go func() {
		<-c.complete
		emit.Finalize(symbol.Result{Fired: c.fire, Multiplier: symbol.DefaultMultiplier})
	}()
	return symbol.OutcomePending, symbol.Result{}
}

func (c *asyncCallback) OnContinuation(ctx context.Context, t *task.Task, emit symbol.Emitter, ev symbol.ContinuationEvent) {
	if ev.Timeout {
		emit.Finalize(symbol.Result{Fired: false})
	}
}

type neverCompletes struct{}

func (c *neverCompletes) Run(ctx context.Context, t *task.Task, emit symbol.Emitter) (symbol.Outcome, symbol.Result) {
	return symbol.OutcomePending, symbol.Result{}
}
func (c *neverCompletes) OnContinuation(ctx context.Context, t *task.Task, emit symbol.Emitter, ev symbol.ContinuationEvent) {
	if ev.Timeout {
		emit.Finalize(symbol.Result{Fired: false})
	}
}

func newTestTask(t *testing.T, settings task.Settings) *task.Task {
	tsk, cancel := task.New(context.Background(), time.Now().Add(time.Minute), &task.Message{}, task.Envelope{}, settings)
	t.Cleanup(cancel)
	return tsk
}

func defaultActions() []accumulator.Action {
	return []accumulator.Action{
		{Name: "no_action", Threshold: -1000},
		{Name: "add_header", Threshold: 6},
		{Name: "reject", Threshold: 15},
	}
}

func TestFreezeOrdersByPriorityThenName(t *testing.T) {
	reg := symbol.NewRegistry()
	_, _ = reg.Register(symbol.Item{Name: "LOW", Type: symbol.TypeFilter, Priority: 0, Callback: &syncCallback{}})
	_, _ = reg.Register(symbol.Item{Name: "HIGH", Type: symbol.TypeFilter, Priority: 10, Callback: &syncCallback{}})
	_, _ = reg.Register(symbol.Item{Name: "ALSO_HIGH", Type: symbol.TypeFilter, Priority: 10, Callback: &syncCallback{}})

	plan, errs := Freeze(reg, nil, nil)
	require.Empty(t, errs)

	var filterPlan *PhasePlan
	for _, pp := range plan.Phases {
		if pp.Phase == symbol.PhaseFilter {
			filterPlan = pp
		}
	}
	require.NotNil(t, filterPlan)
	names := make([]string, len(filterPlan.Order))
	for i, it := range filterPlan.Order {
		names[i] = it.Name
	}
	assert.Equal(t, []string{"ALSO_HIGH", "HIGH", "LOW"}, names)
}

func TestFreezeDropsCrossPhaseViolation(t *testing.T) {
	reg := symbol.NewRegistry()
	_, _ = reg.Register(symbol.Item{Name: "EARLY", Type: symbol.TypeConnect})
	_, _ = reg.Register(symbol.Item{Name: "LATE", Type: symbol.TypeFilter, Depends: []symbol.Dependency{{Name: "LATE_PARENT"}}})
	_, _ = reg.Register(symbol.Item{Name: "LATE_PARENT", Type: symbol.TypePostfilter})
	reg.RegisterDependency("LATE", "LATE_PARENT", false)

	_, errs := Freeze(reg, nil, nil)
	require.NotEmpty(t, errs)
}

func TestExecuteRunsSimpleChain(t *testing.T) {
	reg := symbol.NewRegistry()
	_, _ = reg.Register(symbol.Item{Name: "A", Type: symbol.TypeFilter, Weight: 2, Callback: &syncCallback{fired: true}})
	_, _ = reg.Register(symbol.Item{Name: "B", Type: symbol.TypeFilter, Weight: 4, Callback: &syncCallback{fired: true},
		Depends: []symbol.Dependency{{Name: "A"}}})

	plan, errs := Freeze(reg, nil, nil)
	require.Empty(t, errs)

	acc := accumulator.New(reg, accumulator.Options{Actions: defaultActions()})
	tsk := newTestTask(t, task.Settings{})

	result, results, err := Execute(context.Background(), plan, tsk, acc, nil)
	require.NoError(t, err)
	assert.Equal(t, "add_header", result.Action)
	assert.True(t, results["A"].Fired)
	assert.True(t, results["B"].Fired)
}

func TestExecuteSkipsForbiddenSymbol(t *testing.T) {
	reg := symbol.NewRegistry()
	_, _ = reg.Register(symbol.Item{Name: "A", Type: symbol.TypeFilter, Weight: 2, Callback: &syncCallback{fired: true}})

	plan, errs := Freeze(reg, nil, nil)
	require.Empty(t, errs)

	acc := accumulator.New(reg, accumulator.Options{Actions: defaultActions()})
	tsk := newTestTask(t, task.Settings{ForbiddenIDs: []string{"A"}})

	_, _, err := Execute(context.Background(), plan, tsk, acc, nil)
	require.NoError(t, err)
	_, present := acc.Score("A")
	assert.False(t, present)
}

// S5 — a FAILED hard predecessor propagates SKIPPED to its dependent.
func TestExecuteHardDependencyFailurePropagatesSkip(t *testing.T) {
	reg := symbol.NewRegistry()
	panicky := panicCallback{}
	_, _ = reg.Register(symbol.Item{Name: "PARENT", Type: symbol.TypeFilter, Weight: 1, Callback: &panicky})
	_, _ = reg.Register(symbol.Item{Name: "CHILD", Type: symbol.TypeFilter, Weight: 1, Callback: &syncCallback{fired: true},
		Depends: []symbol.Dependency{{Name: "PARENT"}}})

	plan, errs := Freeze(reg, nil, nil)
	require.Empty(t, errs)

	acc := accumulator.New(reg, accumulator.Options{Actions: defaultActions()})
	tsk := newTestTask(t, task.Settings{})

	_, results, err := Execute(context.Background(), plan, tsk, acc, nil)
	require.NoError(t, err)
	assert.False(t, results["CHILD"].Fired, "CHILD must not have run its callback")
	_, present := acc.Score("CHILD")
	assert.False(t, present)
}

type panicCallback struct{}

func (p *panicCallback) Run(ctx context.Context, t *task.Task, emit symbol.Emitter) (symbol.Outcome, symbol.Result) {
	panic("boom")
}
func (p *panicCallback) OnContinuation(context.Context, *task.Task, symbol.Emitter, symbol.ContinuationEvent) {
}

// S6 — a passthrough fired during an earlier phase lets later-phase symbols
// with priority below the passthrough's still run and record into the
// accumulator; it only keeps their score out of the final action (spec.md
// §8 S6: "Later filter symbols with priority < 10 run but do not affect
// action()" and "accumulator still contains all recorded symbols").
func TestExecutePassthroughSuppressesLaterSymbolsFromAction(t *testing.T) {
	reg := symbol.NewRegistry()
	trip := &passthroughCallback{}
	_, _ = reg.Register(symbol.Item{Name: "TRIP", Type: symbol.TypeConnect, Weight: 0, Callback: trip})
	ignoreFlags, _ := symbol.NewFlagSet("ignore_passthrough")
	_, _ = reg.Register(symbol.Item{Name: "LATER", Type: symbol.TypeFilter, Priority: 1, Weight: 5, Callback: &syncCallback{fired: true}})
	_, _ = reg.Register(symbol.Item{Name: "ALWAYS", Type: symbol.TypeFilter, Priority: 1, Weight: 5, Flags: ignoreFlags, Callback: &syncCallback{fired: true}})

	plan, errs := Freeze(reg, nil, nil)
	require.Empty(t, errs)

	acc := accumulator.New(reg, accumulator.Options{Actions: defaultActions()})
	tsk := newTestTask(t, task.Settings{})

	action, results, err := Execute(context.Background(), plan, tsk, acc, nil)
	require.NoError(t, err)

	// Both LATER and ALWAYS run and are recorded, passthrough or not.
	assert.True(t, results["LATER"].Fired, "LATER must still run despite its priority being below the passthrough's")
	assert.True(t, results["ALWAYS"].Fired)
	rawScore, present := acc.Score("LATER")
	assert.True(t, present, "LATER's record must survive in the accumulator")
	assert.Equal(t, 5.0, rawScore)

	// The passthrough wins the action, and LATER's weight (priority 1 < the
	// passthrough's 10) is excluded from the score that drove it; ALWAYS'
	// (ignore_passthrough) weight is included.
	assert.Equal(t, "reject", action.Action)
	assert.Equal(t, 5.0, action.Score)
}

type passthroughCallback struct{}

func (p *passthroughCallback) Run(ctx context.Context, t *task.Task, emit symbol.Emitter) (symbol.Outcome, symbol.Result) {
	emit.AddPassthrough(10, "reject", "tripped", "")
	return symbol.OutcomeSync, symbol.Result{Fired: true, Multiplier: symbol.DefaultMultiplier}
}
func (p *passthroughCallback) OnContinuation(context.Context, *task.Task, symbol.Emitter, symbol.ContinuationEvent) {
}

func TestExecuteAsyncContinuationResolves(t *testing.T) {
	reg := symbol.NewRegistry()
	cb := &asyncCallback{fire: true, complete: make(chan struct{})}
	_, _ = reg.Register(symbol.Item{Name: "ASYNC", Type: symbol.TypeFilter, Weight: 4, Callback: cb})

	plan, errs := Freeze(reg, nil, nil)
	require.Empty(t, errs)

	acc := accumulator.New(reg, accumulator.Options{Actions: defaultActions()})
	tsk := newTestTask(t, task.Settings{})

	go func() {
		time.Sleep(5 * time.Millisecond)
		close(cb.complete)
	}()

	_, results, err := Execute(context.Background(), plan, tsk, acc, nil)
	require.NoError(t, err)
	assert.True(t, results["ASYNC"].Fired)
}

func TestExecutePerItemTimeoutFires(t *testing.T) {
	reg := symbol.NewRegistry()
	_, _ = reg.Register(symbol.Item{
		Name: "STUCK", Type: symbol.TypeFilter, Weight: 1,
		Timeout:  5 * time.Millisecond,
		Callback: &neverCompletes{},
	})

	plan, errs := Freeze(reg, nil, nil)
	require.Empty(t, errs)

	acc := accumulator.New(reg, accumulator.Options{Actions: defaultActions()})
	tsk := newTestTask(t, task.Settings{})

	deadlines := NewDeadlineScheduler(1, time.Millisecond)
	t.Cleanup(deadlines.Stop)

	_, results, err := Execute(context.Background(), plan, tsk, acc, deadlines)
	require.NoError(t, err)
	assert.False(t, results["STUCK"].Fired)
}

func TestEvaluatePhaseIntegratesWithAccumulator(t *testing.T) {
	reg := symbol.NewRegistry()
	_, _ = reg.Register(symbol.Item{Name: "A", Type: symbol.TypeFilter, Weight: 1, Callback: &syncCallback{fired: true}})

	c, err := composite.New("COMBO", "A", 7, "", composite.PolicyLeave, 0)
	require.NoError(t, err)
	_, _ = reg.Register(symbol.Item{Name: "COMBO", Type: symbol.TypeComposite})

	plan, errs := Freeze(reg, map[string]*composite.Composite{"COMBO": c}, map[string]bool{})
	require.Empty(t, errs)

	acc := accumulator.New(reg, accumulator.Options{Actions: defaultActions()})
	tsk := newTestTask(t, task.Settings{})

	result, _, err := Execute(context.Background(), plan, tsk, acc, nil)
	require.NoError(t, err)
	v, present := acc.Score("COMBO")
	require.True(t, present)
	assert.InDelta(t, 7.0, v, 1e-9)
	assert.Equal(t, "add_header", result.Action)
}
