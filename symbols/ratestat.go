package symbols

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mailscore/core/core/collaborators"
	"github.com/mailscore/core/core/symbol"
	"github.com/mailscore/core/core/task"
)

// RateStat tracks a per-sender submission counter in the Redis-shaped
// KVStore collaborator (spec.md §6) and fires once Limit is exceeded
// within a fixed Window. A simple fixed-window counter, not a sliding-
// window rate limiter.
type RateStat struct {
	Name   string
	Store  collaborators.KVStore
	Limit  int64
	Window time.Duration
}

func (r *RateStat) key(t *task.Task) string {
	subject := t.Envelope.AuthUser
	if subject == "" {
		subject = t.Envelope.SenderIP
	}
	return fmt.Sprintf("ratestat:%s:%s", r.Name, subject)
}

func (r *RateStat) Run(ctx context.Context, t *task.Task, emit symbol.Emitter) (symbol.Outcome, symbol.Result) {
	key := r.key(t)
	go func() {
		count, err := r.Store.Incr(ctx, key)
		if err != nil {
			emit.Finalize(symbol.Result{Name: r.Name, Fired: false})
			return
		}
		if count == 1 {
			// First hit in this window: apply the TTL so the counter
			// expires and the window rolls over.
			_ = r.Store.Set(ctx, key, strconv.FormatInt(count, 10), r.Window)
		}
		if count <= r.Limit {
			emit.Finalize(symbol.Result{Name: r.Name, Fired: false})
			return
		}
		emit.Finalize(symbol.Result{
			Name:       r.Name,
			Fired:      true,
			Multiplier: symbol.DefaultMultiplier,
			Options:    []string{fmt.Sprintf("count=%d", count)},
		})
	}()
	return symbol.OutcomePending, symbol.Result{}
}

func (r *RateStat) OnContinuation(context.Context, *task.Task, symbol.Emitter, symbol.ContinuationEvent) {}
