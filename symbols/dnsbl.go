// Package symbols holds a handful of illustrative built-in symbol
// implementations (DNSBL, header checks, rate stats), wired against
// core/collaborators, that exercise the scheduler end to end (SPEC_FULL.md
// §0 layout). These are demonstration content, not the core itself.
package symbols

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/mailscore/core/core/collaborators"
	"github.com/mailscore/core/core/symbol"
	"github.com/mailscore/core/core/task"
)

// DNSBL checks the task's envelope sender IP against a DNS blocklist zone
// (e.g. "zen.spamhaus.org"), the classic RBL lookup (spec.md §6 Resolver
// collaborator). It is an async symbol: the lookup runs in its own
// goroutine and finalizes once the resolver answers.
type DNSBL struct {
	Name     string
	Zone     string
	Resolver collaborators.Resolver
}

func (d *DNSBL) Run(ctx context.Context, t *task.Task, emit symbol.Emitter) (symbol.Outcome, symbol.Result) {
	query, ok := reverseIPQuery(t.Envelope.SenderIP, d.Zone)
	if !ok {
		return symbol.OutcomeSync, symbol.Result{Name: d.Name, Fired: false}
	}

	go func() {
		addrs, err := d.Resolver.LookupHost(ctx, query)
		if err != nil || len(addrs) == 0 {
			emit.Finalize(symbol.Result{Name: d.Name, Fired: false})
			return
		}
		emit.Finalize(symbol.Result{
			Name:       d.Name,
			Fired:      true,
			Multiplier: symbol.DefaultMultiplier,
			Options:    addrs,
		})
	}()
	return symbol.OutcomePending, symbol.Result{}
}

// OnContinuation is a no-op: a timed-out lookup is finalized by the
// scheduler's own forceTimeout, and the lookup goroutine's eventual
// Finalize call (if it arrives late) is harmlessly dropped as a
// double-finalize.
func (d *DNSBL) OnContinuation(context.Context, *task.Task, symbol.Emitter, symbol.ContinuationEvent) {}

// reverseIPQuery builds the reversed-octet DNSBL query name for an IPv4
// sender address, e.g. "1.2.3.4" against zone "zen.spamhaus.org" becomes
// "4.3.2.1.zen.spamhaus.org". IPv6 senders are not supported by this
// illustrative symbol.
func reverseIPQuery(ip, zone string) (string, bool) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return "", false
	}
	v4 := addr.To4()
	if v4 == nil {
		return "", false
	}
	parts := strings.Split(v4.String(), ".")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return fmt.Sprintf("%s.%s", strings.Join(parts, "."), zone), true
}
