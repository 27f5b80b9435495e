package collaborators

import (
	"context"
	"net"
	"time"

	"github.com/mailscore/core/pkg/circuitbreaker"
	"github.com/mailscore/core/pkg/retry"
)

// ResilientResolver wraps a stdlib net.Resolver with a circuit breaker and
// exponential-backoff retry, in the teacher's resilient-wrapper-around-a-
// single-backend pattern (migadu-sora/pkg/resilient/database.go), trimmed
// of the multi-pool failover machinery that pattern also carries: a DNS
// resolver has exactly one backend to protect, not a failover set.
type ResilientResolver struct {
	resolver *net.Resolver
	breaker  *circuitbreaker.CircuitBreaker
	backoff  retry.BackoffConfig
	timeout  time.Duration
}

// NewResilientResolver builds a ResilientResolver over net.DefaultResolver.
// It takes no server list: the process's system resolver configuration
// governs which servers are queried.
func NewResilientResolver(timeout time.Duration, backoff retry.BackoffConfig) *ResilientResolver {
	return &ResilientResolver{
		resolver: net.DefaultResolver,
		breaker:  circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultSettings("dns")),
		backoff:  backoff,
		timeout:  timeout,
	}
}

func (r *ResilientResolver) call(ctx context.Context, fn func(context.Context) error) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return retry.WithRetry(ctx, func() error {
		return circuitbreaker.WrapWithContext(ctx, r.breaker, fn)
	}, r.backoff)
}

func (r *ResilientResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	var out []string
	err := r.call(ctx, func(ctx context.Context) error {
		addrs, err := r.resolver.LookupHost(ctx, host)
		if err != nil {
			return err
		}
		out = addrs
		return nil
	})
	return out, err
}

func (r *ResilientResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	var out []string
	err := r.call(ctx, func(ctx context.Context) error {
		txts, err := r.resolver.LookupTXT(ctx, name)
		if err != nil {
			return err
		}
		out = txts
		return nil
	})
	return out, err
}

func (r *ResilientResolver) LookupMX(ctx context.Context, name string) ([]string, error) {
	var out []string
	err := r.call(ctx, func(ctx context.Context) error {
		mxs, err := r.resolver.LookupMX(ctx, name)
		if err != nil {
			return err
		}
		out = make([]string, len(mxs))
		for i, mx := range mxs {
			out[i] = mx.Host
		}
		return nil
	})
	return out, err
}
