// Package accumulator implements the scan-result accumulator (spec.md
// §4.2): the data structure the scheduler writes symbol results into,
// including scoring, option de-duplication, group caps, grow-factor
// normalization, and action selection.
package accumulator

import (
	"math"
	"sync"

	"github.com/mailscore/core/core/expr"
	"github.com/mailscore/core/core/symbol"
	"github.com/mailscore/core/pkg/metrics"
)

// DefaultSymbolCap is the default per-symbol absolute raw-score magnitude
// cap (spec.md §4.2.1).
const DefaultSymbolCap = 999.0

// DefaultOptionCap is the default per-symbol bounded option-list size
// (spec.md §3 "Symbol result": "typically 255 per symbol").
const DefaultOptionCap = 255

// Registry is the narrow view of core/symbol.Registry the accumulator
// needs: registered weight, group, one_shot, and type, by name.
type Registry interface {
	Lookup(name string) (*symbol.Item, bool)
}

// GroupConfig carries a group's score clamp bounds (spec.md §3 "Scan-
// result accumulator": "a map from symbol-group name to group metadata").
type GroupConfig struct {
	MaxScore *float64
	MinScore *float64
}

// Passthrough is an early-decision override recorded during a task (spec.md
// §3, §4.1.1 add_passthrough).
type Passthrough struct {
	Priority int
	Action   string
	Message  string
	Module   string
}

// Action is a named action with a score threshold and a tie-break priority
// (spec.md §4.2.1 step 4). DefaultActionOrder supplies the severities used
// when two actions share a threshold and configuration does not override
// priority explicitly.
type Action struct {
	Name      string
	Threshold float64
	Priority  int
}

// DefaultActionOrder is the severity order spec.md §4.2.1 names, least to
// greatest, used as each action's default tie-break Priority (index in this
// slice) when the configuration does not set one explicitly.
var DefaultActionOrder = []string{
	"no_action", "greylist", "add_header", "rewrite_subject",
	"soft_reject", "reject", "discard", "quarantine",
}

func defaultPriority(name string) int {
	for i, n := range DefaultActionOrder {
		if n == name {
			return i
		}
	}
	return -1
}

// Record is one symbol's accumulated result (spec.md §3 "Scan-result
// accumulator").
type Record struct {
	Name     string
	RawScore float64
	Group    string
	Options  *expr.OptionList
	oneShot  bool

	// priority and ignoresPassthrough mirror the registered item's Priority
	// and ignore_passthrough flag at insert time, so a later passthrough's
	// score suppression (spec.md §4.1.3 "passthrough short-circuit", §8 S6)
	// can be evaluated per record without re-querying the registry.
	priority           int
	ignoresPassthrough bool
}

// Options for constructing an Accumulator; zero values fall back to
// spec.md's stated defaults.
type Options struct {
	AllowUnknown    bool
	UnknownWeight   float64
	SymbolCap       float64
	OptionCap       int
	GrowFactor      float64
	RejectThreshold float64
	Actions         []Action
	Groups          map[string]GroupConfig
}

// Accumulator is the per-task scan-result accumulator. Not safe for
// concurrent use across goroutines without external synchronization beyond
// its own mutex, which only protects against the scheduler's own
// interleaved async continuations within one worker (spec.md §5).
type Accumulator struct {
	mu sync.Mutex

	registry Registry
	opts     Options

	order   []string
	records map[string]*Record

	groupTotals map[string]float64

	passthroughs []Passthrough
}

// New constructs an empty Accumulator bound to registry for weight/group/
// one_shot lookups.
func New(registry Registry, opts Options) *Accumulator {
	if opts.SymbolCap <= 0 {
		opts.SymbolCap = DefaultSymbolCap
	}
	if opts.OptionCap <= 0 {
		opts.OptionCap = DefaultOptionCap
	}
	return &Accumulator{
		registry:    registry,
		opts:        opts,
		records:     make(map[string]*Record),
		groupTotals: make(map[string]float64),
	}
}

// Insert implements spec.md §4.2.1's insert(name, multiplier, options...).
func (a *Accumulator) Insert(name string, multiplier float64, options ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	item, known := a.registry.Lookup(name)

	var weight float64
	var group string
	var priority int
	oneShot := false
	ignoresPassthrough := false
	switch {
	case known:
		weight = item.Weight
		group = item.Group
		oneShot = item.OneShot
		priority = item.Priority
		ignoresPassthrough = item.Flags.Has(symbol.FlagIgnorePassthrough)
	case a.opts.AllowUnknown:
		weight = a.opts.UnknownWeight
	default:
		// Unknown symbol and unknown inserts disallowed: dropped, per
		// spec.md §4.2.1. Logging is the caller's (scheduler's)
		// responsibility since it holds task/symbol context; Insert itself
		// stays silent to keep the accumulator free of logger coupling.
		return
	}

	rec, exists := a.records[name]
	if exists && rec.oneShot {
		return
	}

	delta := multiplier * weight
	var tentative float64
	if exists {
		tentative = rec.RawScore + delta
	} else {
		tentative = delta
	}

	if math.Abs(tentative) > a.opts.SymbolCap {
		metrics.SymbolCapRejectionsTotal.WithLabelValues(name).Inc()
		return
	}

	if !exists {
		rec = &Record{
			Name:               name,
			Group:              group,
			Options:            expr.NewOptionList(a.opts.OptionCap),
			oneShot:            oneShot,
			priority:           priority,
			ignoresPassthrough: ignoresPassthrough,
		}
		a.records[name] = rec
		a.order = append(a.order, name)
	}
	a.groupTotals[rec.Group] -= rec.RawScore
	rec.RawScore = tentative
	a.groupTotals[rec.Group] += rec.RawScore

	for _, opt := range options {
		rec.Options.Add(opt)
	}
}

// AddPassthrough implements spec.md §4.1.1's add_passthrough.
func (a *Accumulator) AddPassthrough(priority int, action, message, module string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.passthroughs = append(a.passthroughs, Passthrough{Priority: priority, Action: action, Message: message, Module: module})
	metrics.PassthroughTripsTotal.WithLabelValues(action).Inc()
}

// ActivePassthrough returns the highest-priority recorded passthrough, if
// any (spec.md §4.2.1 step 1, §8 property 6).
func (a *Accumulator) ActivePassthrough() (Passthrough, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activePassthroughLocked()
}

func (a *Accumulator) activePassthroughLocked() (Passthrough, bool) {
	if len(a.passthroughs) == 0 {
		return Passthrough{}, false
	}
	best := a.passthroughs[0]
	for _, p := range a.passthroughs[1:] {
		if p.Priority > best.Priority {
			best = p
		}
	}
	return best, true
}

// groupClamp applies a configured group's max/min bounds to its raw total.
func (a *Accumulator) groupClamp(group string, total float64) float64 {
	gc, ok := a.opts.Groups[group]
	if !ok {
		return total
	}
	clamped := total
	if gc.MaxScore != nil && clamped > *gc.MaxScore {
		clamped = *gc.MaxScore
		metrics.GroupClampedTotal.WithLabelValues(group).Inc()
	}
	if gc.MinScore != nil && clamped < *gc.MinScore {
		clamped = *gc.MinScore
		metrics.GroupClampedTotal.WithLabelValues(group).Inc()
	}
	return clamped
}

// rawScore sums every group's clamped total (spec.md §4.2.1 step 2, §4.2.2
// invariant).
func (a *Accumulator) rawScore() float64 {
	var total float64
	for group, sum := range a.groupTotals {
		total += a.groupClamp(group, sum)
	}
	return total
}

// scoreForAction computes the score action() reports. Per spec.md §4.1.3
// "passthrough short-circuit" and §8 scenario S6, a passthrough at priority
// P does not erase or stop lower-priority symbols from running and being
// recorded — it only keeps their contribution out of the score driving the
// final action, unless the record's item carries ignore_passthrough.
func (a *Accumulator) scoreForAction(pt Passthrough, ptActive bool) float64 {
	if !ptActive {
		return a.applyGrowFactor(a.rawScore())
	}
	totals := make(map[string]float64, len(a.groupTotals))
	for _, rec := range a.records {
		if rec.priority < pt.Priority && !rec.ignoresPassthrough {
			continue
		}
		totals[rec.Group] += rec.RawScore
	}
	var total float64
	for group, sum := range totals {
		total += a.groupClamp(group, sum)
	}
	return a.applyGrowFactor(total)
}

// applyGrowFactor implements spec.md §4.2.1 step 3.
func (a *Accumulator) applyGrowFactor(score float64) float64 {
	if a.opts.GrowFactor <= 0 || a.opts.GrowFactor == 1 {
		return score
	}
	if score <= a.opts.RejectThreshold {
		return score
	}
	return a.opts.RejectThreshold + (score-a.opts.RejectThreshold)*a.opts.GrowFactor
}

// selectAction implements spec.md §4.2.1 step 4.
func (a *Accumulator) selectAction(score float64) (string, bool) {
	type candidate struct {
		name      string
		threshold float64
		priority  int
	}
	var best *candidate
	for _, act := range a.opts.Actions {
		if act.Threshold > score {
			continue
		}
		priority := act.Priority
		if priority == 0 {
			priority = defaultPriority(act.Name)
		}
		c := candidate{name: act.Name, threshold: act.Threshold, priority: priority}
		if best == nil {
			best = &c
			continue
		}
		if c.threshold > best.threshold || (c.threshold == best.threshold && c.priority > best.priority) {
			best = &c
		}
	}
	if best == nil {
		return "", false
	}
	return best.name, true
}

// ActionResult is the outcome of Action(): the selected action, the
// normalized score that produced it, and passthrough metadata if one won.
type ActionResult struct {
	Action  string
	Score   float64
	Message string
	Module  string
}

// Action implements spec.md §4.2.1's action() operation end to end.
func (a *Accumulator) Action() ActionResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	pt, ptActive := a.activePassthroughLocked()
	score := a.scoreForAction(pt, ptActive)

	if ptActive {
		return ActionResult{Action: pt.Action, Score: score, Message: pt.Message, Module: pt.Module}
	}

	name, ok := a.selectAction(score)
	if !ok {
		name = "no_action"
	}
	result := ActionResult{Action: name, Score: score}
	metrics.AccumulatorScore.WithLabelValues(name).Observe(score)
	return result
}

// Score implements composite.ScoreSource / task.ScoreSource: the symbol's
// raw stored score and whether it has a present record.
func (a *Accumulator) Score(name string) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[name]
	if !ok {
		return 0, false
	}
	return rec.RawScore, true
}

// GroupScore implements composite.ScoreSource / task.ScoreSource: the raw
// (unclamped) sum of scores of present symbols in group.
func (a *Accumulator) GroupScore(group string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var sum float64
	for _, rec := range a.records {
		if rec.Group == group {
			sum += rec.RawScore
		}
	}
	return sum
}

// InsertComposite implements composite.Mutator: records a firing
// composite's own contribution directly at its configured score.
func (a *Accumulator) InsertComposite(name string, score float64, group string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, exists := a.records[name]
	if !exists {
		rec = &Record{Name: name, Group: group, Options: expr.NewOptionList(a.opts.OptionCap)}
		a.records[name] = rec
		a.order = append(a.order, name)
	} else {
		a.groupTotals[rec.Group] -= rec.RawScore
	}
	rec.RawScore = score
	rec.Group = group
	a.groupTotals[group] += score
}

// RemoveAll implements composite.Mutator (policy remove_all).
func (a *Accumulator) RemoveAll(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[name]
	if !ok {
		return
	}
	a.groupTotals[rec.Group] -= rec.RawScore
	delete(a.records, name)
}

// RemoveIfNonNegative implements composite.Mutator (policy remove_symbol).
func (a *Accumulator) RemoveIfNonNegative(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[name]
	if !ok || rec.RawScore < 0 {
		return
	}
	a.groupTotals[rec.Group] -= rec.RawScore
	delete(a.records, name)
}

// ZeroContribution implements composite.Mutator (policy remove_weight): the
// record stays present but its score contribution is zeroed.
func (a *Accumulator) ZeroContribution(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[name]
	if !ok {
		return
	}
	a.groupTotals[rec.Group] -= rec.RawScore
	rec.RawScore = 0
}

// SymbolBreakdown is one row of Explain()'s diagnostic output
// (SPEC_FULL.md §7 "Score bounds reporting").
type SymbolBreakdown struct {
	Name                 string
	RawWeight            float64
	ClampedContribution  float64
	Group                string
	Options              []string
}

// Explain returns a structured per-symbol breakdown of the current
// accumulator state, in insertion order (SPEC_FULL.md §7).
func (a *Accumulator) Explain() []SymbolBreakdown {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]SymbolBreakdown, 0, len(a.order))
	for _, name := range a.order {
		rec, ok := a.records[name]
		if !ok {
			continue
		}
		clampedGroupTotal := a.groupClamp(rec.Group, a.groupTotals[rec.Group])
		contribution := rec.RawScore
		if rawTotal := a.groupTotals[rec.Group]; rawTotal != 0 {
			contribution = rec.RawScore * (clampedGroupTotal / rawTotal)
		}
		out = append(out, SymbolBreakdown{
			Name:                name,
			RawWeight:           rec.RawScore,
			ClampedContribution: contribution,
			Group:               rec.Group,
			Options:             rec.Options.Items(),
		})
	}
	return out
}

// Symbols returns the names of every symbol currently present in the
// result, in insertion order.
func (a *Accumulator) Symbols() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.order))
	seen := make(map[string]bool, len(a.order))
	for _, name := range a.order {
		if _, ok := a.records[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// GroupStats implements pkg/metrics.GroupStatsProvider: a snapshot of each
// group's current running total and record count, for periodic gauge
// republishing.
func (a *Accumulator) GroupStats() []metrics.GroupStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	counts := make(map[string]int, len(a.groupTotals))
	for _, rec := range a.records {
		counts[rec.Group]++
	}

	out := make([]metrics.GroupStats, 0, len(a.groupTotals))
	for group, total := range a.groupTotals {
		out = append(out, metrics.GroupStats{Group: group, Total: total, Count: counts[group]})
	}
	return out
}
