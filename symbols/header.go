package symbols

import (
	"context"
	"regexp"

	"github.com/mailscore/core/core/symbol"
	"github.com/mailscore/core/core/task"
)

// HeaderRegex fires when a named header's value matches Pattern. A plain
// synchronous filter-phase check needing no collaborator.
type HeaderRegex struct {
	Name    string
	Header  string
	Pattern *regexp.Regexp
}

func (h *HeaderRegex) Run(ctx context.Context, t *task.Task, emit symbol.Emitter) (symbol.Outcome, symbol.Result) {
	v, ok := t.Message.Header(h.Header)
	if !ok || !h.Pattern.MatchString(v) {
		return symbol.OutcomeSync, symbol.Result{Name: h.Name, Fired: false}
	}
	return symbol.OutcomeSync, symbol.Result{Name: h.Name, Fired: true, Multiplier: symbol.DefaultMultiplier}
}

func (h *HeaderRegex) OnContinuation(context.Context, *task.Task, symbol.Emitter, symbol.ContinuationEvent) {}

// MissingHeader fires when a named header is absent entirely, e.g. a
// message with no Subject or no Date header.
type MissingHeader struct {
	Name   string
	Header string
}

func (m *MissingHeader) Run(ctx context.Context, t *task.Task, emit symbol.Emitter) (symbol.Outcome, symbol.Result) {
	if _, ok := t.Message.Header(m.Header); ok {
		return symbol.OutcomeSync, symbol.Result{Name: m.Name, Fired: false}
	}
	return symbol.OutcomeSync, symbol.Result{Name: m.Name, Fired: true, Multiplier: symbol.DefaultMultiplier}
}

func (m *MissingHeader) OnContinuation(context.Context, *task.Task, symbol.Emitter, symbol.ContinuationEvent) {}
