// Package symbol defines the registration contract and the static shape of
// a detection unit (spec.md §4.1.1): item types, flags, phases, and the
// dynamic-dispatch callback interface spec.md §9 calls for in place of the
// source's embedded scripting.
package symbol

import (
	"context"
	"fmt"
	"time"

	coreerrors "github.com/mailscore/core/pkg/errors"
	"github.com/mailscore/core/core/task"
)

// Type is one of the nine item kinds spec.md §3 "Symbol item" names.
type Type string

const (
	TypeConnect    Type = "connect"
	TypePrefilter  Type = "prefilter"
	TypeFilter     Type = "filter"
	TypeClassifier Type = "classifier"
	TypeComposite  Type = "composite"
	TypePostfilter Type = "postfilter"
	TypeIdempotent Type = "idempotent"
	TypeVirtual    Type = "virtual"
	TypeCallback   Type = "callback"
)

// Phase is one of the scheduler's eight total-order phases (spec.md §4.1.2).
type Phase string

const (
	PhaseConnect     Phase = "connect"
	PhasePrefilter   Phase = "prefilter"
	PhaseFilter      Phase = "filter"
	PhaseClassifier  Phase = "classifier"
	PhaseComposite1  Phase = "composite-phase-1"
	PhasePostfilter  Phase = "postfilter"
	PhaseComposite2  Phase = "composite-phase-2"
	PhaseIdempotent  Phase = "idempotent"
)

// PhaseOrder is the total order freeze partitions items into (spec.md
// §4.1.2). Index in this slice is the phase's rank.
var PhaseOrder = []Phase{
	PhaseConnect, PhasePrefilter, PhaseFilter, PhaseClassifier,
	PhaseComposite1, PhasePostfilter, PhaseComposite2, PhaseIdempotent,
}

// PhaseRank returns p's index in PhaseOrder, or -1 if unknown.
func PhaseRank(p Phase) int {
	for i, q := range PhaseOrder {
		if q == p {
			return i
		}
	}
	return -1
}

// PhaseOf maps an item type to the phase it is scheduled in. Composite
// items default to composite-phase-1; core/scheduler moves the ones the
// composite evaluator classifies as second_pass into composite-phase-2 at
// freeze time (spec.md §4.3.2), since that classification depends on the
// parsed expression, not the bare type.
func PhaseOf(t Type) (Phase, bool) {
	switch t {
	case TypeConnect:
		return PhaseConnect, true
	case TypePrefilter:
		return PhasePrefilter, true
	case TypeFilter, TypeVirtual, TypeCallback:
		return PhaseFilter, true
	case TypeClassifier:
		return PhaseClassifier, true
	case TypeComposite:
		return PhaseComposite1, true
	case TypePostfilter:
		return PhasePostfilter, true
	case TypeIdempotent:
		return PhaseIdempotent, true
	default:
		return "", false
	}
}

// Flag is one of the eight per-item boolean modifiers spec.md §3 names.
type Flag string

const (
	FlagFine              Flag = "fine"
	FlagEmpty             Flag = "empty"
	FlagNostat            Flag = "nostat"
	FlagExplicitDisable   Flag = "explicit_disable"
	FlagIgnorePassthrough Flag = "ignore_passthrough"
	FlagMime              Flag = "mime"
	FlagCoro              Flag = "coro"
	FlagNoSqueeze         Flag = "no_squeeze"
)

var validFlags = map[Flag]bool{
	FlagFine: true, FlagEmpty: true, FlagNostat: true, FlagExplicitDisable: true,
	FlagIgnorePassthrough: true, FlagMime: true, FlagCoro: true, FlagNoSqueeze: true,
}

// FlagSet is an immutable set of Flag values.
type FlagSet map[Flag]bool

// NewFlagSet validates and builds a FlagSet from configuration-supplied
// flag names.
func NewFlagSet(names ...string) (FlagSet, error) {
	fs := make(FlagSet, len(names))
	for _, n := range names {
		f := Flag(n)
		if !validFlags[f] {
			return nil, fmt.Errorf("unknown symbol flag %q", n)
		}
		fs[f] = true
	}
	return fs, nil
}

// Has reports whether the set carries f.
func (fs FlagSet) Has(f Flag) bool { return fs[f] }

// SecondPassInducing reports whether a bare (non-composite) symbol carrying
// this type/flag combination forces any composite that references it to be
// classified second-pass (spec.md §4.3.2).
func SecondPassInducing(t Type, fs FlagSet) bool {
	return t == TypePostfilter || t == TypeClassifier || fs.Has(FlagNostat)
}

// Outcome is what a Callback's Run call reports about this invocation.
type Outcome int

const (
	// OutcomeSync means Run already produced its final result; no
	// continuation is outstanding.
	OutcomeSync Outcome = iota
	// OutcomePending means Run registered an async continuation and will
	// call Emitter.Finalize exactly once, later.
	OutcomePending
)

// Result is what a callback emits, synchronously or via Finalize (spec.md
// §3 "Symbol result"). Name is set by the scheduler before the callback
// sees it for top-level results; a callback populates Children to emit
// nested sub-symbol results in one invocation.
type Result struct {
	Name       string
	Fired      bool
	Multiplier float64
	Options    []string
	Children   []Result
}

// DefaultMultiplier is applied when a callback does not set Multiplier.
const DefaultMultiplier = 1.0

// Emitter is the scheduler-provided handle a callback uses to report an
// asynchronous result exactly once (spec.md §9, §5 "Suspension points").
// Double-finalize is a programmer error; implementations must detect it.
type Emitter interface {
	// Finalize records result (or, if result.Fired is false, a non-firing
	// completion) and marks the item's outstanding continuation resolved.
	Finalize(result Result)
	// AddPassthrough records a passthrough override for the current task
	// (spec.md §4.1.1 register_contract "add_passthrough").
	AddPassthrough(priority int, action string, message, module string)
}

// ContinuationEvent is delivered to OnContinuation when a registered I/O
// collaborator callback completes (spec.md §9 "on_continuation").
type ContinuationEvent struct {
	// Err is non-nil if the collaborator call failed or the event is a
	// timeout/cancellation marker.
	Err     error
	Timeout bool
	Payload any
}

// Callback is the dynamic-dispatch interface every symbol item (except
// virtual items, which have none) implements in place of the source's
// embedded scripting (spec.md §9).
type Callback interface {
	// Run is invoked by the scheduler when the item becomes runnable. It
	// returns OutcomeSync if result is final, or OutcomePending if it has
	// registered a continuation and will call emit.Finalize later.
	Run(ctx context.Context, t *task.Task, emit Emitter) (Outcome, Result)
	// OnContinuation is invoked when a previously registered async
	// operation completes; the callback must call emit.Finalize exactly
	// once from here (or from Run, never both).
	OnContinuation(ctx context.Context, t *task.Task, emit Emitter, ev ContinuationEvent)
}

// ConditionFunc is a short-circuit predicate registered against an item
// (spec.md §4.1.1 register_condition): returning false means "skip".
type ConditionFunc func(t *task.Task) bool

// Dependency is a declared predecessor edge. Soft edges let a FAILED or
// TIMEOUT predecessor still satisfy the dependent (the dependent still
// runs); hard edges (the default) instead propagate as SKIPPED to the
// dependent (spec.md §4.1.3 "State machine of a symbol item per task").
type Dependency struct {
	Name string
	Soft bool
}

// Item is an immutable registered detection unit (spec.md §3 "Symbol
// item"). Dependency names and augmentations are resolved/interpreted at
// freeze time by core/scheduler; Item itself only stores the declared
// shape.
type Item struct {
	ID       int
	Name     string
	Type     Type
	Flags    FlagSet
	Priority int
	Weight   float64
	Group    string

	// Parent is set for TypeVirtual items; it names the TypeCallback item
	// that owns this virtual symbol's registration (spec.md §3).
	Parent string

	// Depends lists declared predecessor names (spec.md §4.1.1
	// register_dependency; also accepted inline at Register time).
	Depends []Dependency

	// OneShot, when set, makes later Insert calls for this symbol within
	// the same task no-ops once a first record exists (spec.md §3 "Symbol
	// result"): it is a distinct per-registration attribute, not one of
	// the eight boolean Flags.
	OneShot bool

	// Timeout overrides the phase default for this item's async
	// continuations (augmentations.timeout=N, spec.md §4.1.3).
	Timeout time.Duration
	// RegisterFailSymbol auto-registers a zero-weight virtual `<name>_FAIL`
	// counterpart when the item is registered (SPEC_FULL.md §7).
	RegisterFailSymbol bool

	Description string
	Callback    Callback
	Conditions  []ConditionFunc
}

// Registry accumulates registrations before freeze (spec.md §4.1.1).
// core/scheduler.Freeze consumes a Registry's Items/PendingEdges to build
// the per-phase DAGs; Registry itself performs no topological reasoning.
type Registry struct {
	items       map[string]*Item
	order       []string // registration order, for deterministic freeze input
	nextID      int
	pendingDeps []pendingEdge
}

type pendingEdge struct {
	child, parent string
	soft          bool
}

// NewRegistry creates an empty registration contract.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Item)}
}

// Register implements spec.md §4.1.1's register operation, including the
// virtual-extension rule: a name may be registered twice only if the first
// registration was a bare TypeCallback with zero weight and empty
// description, and the second sets score/description on it in place.
func (r *Registry) Register(def Item) (int, error) {
	if existing, ok := r.items[def.Name]; ok {
		if existing.Type != TypeCallback || existing.Weight != 0 || existing.Description != "" {
			return 0, coreerrors.NewConfigError("duplicate symbol name", def.Name, nil)
		}
		existing.Weight = def.Weight
		existing.Description = def.Description
		existing.Flags = def.Flags
		existing.Priority = def.Priority
		existing.Group = def.Group
		existing.OneShot = def.OneShot
		return existing.ID, nil
	}

	if def.Type == TypeVirtual {
		parent, ok := r.items[def.Parent]
		if !ok || parent.Type != TypeCallback {
			return 0, coreerrors.NewConfigError("invalid parent", def.Name, nil)
		}
	}

	r.nextID++
	item := def
	item.ID = r.nextID
	if item.Flags == nil {
		item.Flags = FlagSet{}
	}
	r.items[item.Name] = &item
	r.order = append(r.order, item.Name)

	for _, dep := range def.Depends {
		r.pendingDeps = append(r.pendingDeps, pendingEdge{child: item.Name, parent: dep.Name, soft: dep.Soft})
	}

	if item.RegisterFailSymbol {
		failName := item.Name + "_FAIL"
		if _, exists := r.items[failName]; !exists {
			r.nextID++
			r.items[failName] = &Item{
				ID:     r.nextID,
				Name:   failName,
				Type:   TypeVirtual,
				Parent: item.Name,
				Flags:  FlagSet{},
				Group:  item.Group,
			}
			r.order = append(r.order, failName)
		}
	}

	return item.ID, nil
}

// RegisterDependency adds an edge by name; unknown names are stored
// pending and resolved (or dropped with a warning) at freeze (spec.md
// §4.1.1).
func (r *Registry) RegisterDependency(childName, parentName string, soft bool) {
	r.pendingDeps = append(r.pendingDeps, pendingEdge{child: childName, parent: parentName, soft: soft})
}

// RegisterCondition associates a short-circuit predicate with an already
// registered item (spec.md §4.1.1).
func (r *Registry) RegisterCondition(name string, cond ConditionFunc) error {
	item, ok := r.items[name]
	if !ok {
		return coreerrors.NewConfigError("unknown symbol for condition", name, nil)
	}
	item.Conditions = append(item.Conditions, cond)
	return nil
}

// Lookup returns the registered item by name.
func (r *Registry) Lookup(name string) (*Item, bool) {
	item, ok := r.items[name]
	return item, ok
}

// Items returns all registered items in registration order (deterministic
// freeze input; final scheduling order is determined by freeze itself).
func (r *Registry) Items() []*Item {
	out := make([]*Item, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.items[name])
	}
	return out
}

// PendingEdge is a (child, parent) name pair accumulated via Depends or
// RegisterDependency, for freeze to resolve.
type PendingEdge struct {
	Child, Parent string
	Soft          bool
}

// PendingEdges returns every edge accumulated so far, for freeze to
// resolve.
func (r *Registry) PendingEdges() []PendingEdge {
	out := make([]PendingEdge, len(r.pendingDeps))
	for i, e := range r.pendingDeps {
		out[i] = PendingEdge{Child: e.child, Parent: e.parent, Soft: e.soft}
	}
	return out
}
