package symbols

import (
	"context"

	"github.com/mailscore/core/core/symbol"
	"github.com/mailscore/core/core/task"
	"github.com/mailscore/core/maps"
)

// SenderAllowlist fires when the envelope's MAIL FROM domain is present in
// a hot-reloadable Map (spec.md §6 Map collaborator), the classic
// "known-good sender, skip further scoring" check. Synchronous: Map.Lookup
// never blocks on I/O.
type SenderAllowlist struct {
	Name string
	Map  maps.Map
}

func (s *SenderAllowlist) Run(ctx context.Context, t *task.Task, emit symbol.Emitter) (symbol.Outcome, symbol.Result) {
	domain := domainOf(t.Envelope.From)
	if domain == "" || !s.Map.Contains(domain) {
		return symbol.OutcomeSync, symbol.Result{Name: s.Name, Fired: false}
	}
	return symbol.OutcomeSync, symbol.Result{Name: s.Name, Fired: true, Multiplier: symbol.DefaultMultiplier}
}

func (s *SenderAllowlist) OnContinuation(context.Context, *task.Task, symbol.Emitter, symbol.ContinuationEvent) {
}

func domainOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == '@' {
			return addr[i+1:]
		}
	}
	return ""
}
