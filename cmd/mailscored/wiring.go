package main

import (
	"fmt"
	"time"

	"github.com/mailscore/core/config"
	"github.com/mailscore/core/core/accumulator"
	"github.com/mailscore/core/core/collaborators"
	"github.com/mailscore/core/core/composite"
	"github.com/mailscore/core/core/scheduler"
	"github.com/mailscore/core/core/symbol"
	"github.com/mailscore/core/maps"
	"github.com/mailscore/core/pkg/retry"
	"github.com/mailscore/core/symbols"
)

// buildRegistry constructs the symbol registry from cfg.Symbols plus the
// illustrative built-in symbols in the symbols package, grounded on the
// config package's map-of-struct convention for user-registered units.
func buildRegistry(cfg config.Config, collabs symbols.Collaborators) (*symbol.Registry, error) {
	reg := symbol.NewRegistry()

	if err := symbols.Register(reg, collabs); err != nil {
		return nil, fmt.Errorf("registering built-in symbols: %w", err)
	}

	for name, sc := range cfg.Symbols {
		flags, err := symbol.NewFlagSet(sc.Flags...)
		if err != nil {
			return nil, fmt.Errorf("symbol %q: %w", name, err)
		}
		timeout, _, err := sc.GetTimeout()
		if err != nil {
			return nil, fmt.Errorf("symbol %q: %w", name, err)
		}
		item := symbol.Item{
			Name:        name,
			Type:        symbol.Type(sc.Type),
			Flags:       flags,
			Priority:    sc.Priority,
			Weight:      sc.Score,
			Group:       sc.Group,
			Parent:      sc.Parent,
			OneShot:     sc.OneShot,
			Timeout:     timeout,
			Description: sc.Description,
		}
		if _, err := reg.Register(item); err != nil {
			return nil, fmt.Errorf("symbol %q: %w", name, err)
		}
		for _, dep := range sc.Depends {
			reg.RegisterDependency(name, dep, false)
		}
	}

	return reg, nil
}

// buildComposites parses cfg.Composites into core/composite.Composite
// values and classifies their second-pass status against reg.
func buildComposites(cfg config.Config, reg *symbol.Registry) (map[string]*composite.Composite, map[string]bool, error) {
	composites := make(map[string]*composite.Composite, len(cfg.Composites))
	for name, cc := range cfg.Composites {
		policy, err := composite.ParsePolicy(cc.Policy)
		if err != nil {
			return nil, nil, fmt.Errorf("composite %q: %w", name, err)
		}
		c, err := composite.New(name, cc.Expression, cc.Score, cc.Group, policy, 0)
		if err != nil {
			return nil, nil, fmt.Errorf("composite %q: %w", name, err)
		}
		composites[name] = c
	}

	secondPass := composite.Classify(composites, func(name string) bool {
		item, ok := reg.Lookup(name)
		if !ok {
			return false
		}
		return symbol.SecondPassInducing(item.Type, item.Flags)
	})

	return composites, secondPass, nil
}

// buildAccumulatorOptions translates cfg's scoring settings into
// accumulator.Options.
func buildAccumulatorOptions(cfg config.Config) accumulator.Options {
	actions := make([]accumulator.Action, 0, len(cfg.Actions))
	for name, threshold := range cfg.Actions {
		actions = append(actions, accumulator.Action{Name: name, Threshold: threshold})
	}

	groups := make(map[string]accumulator.GroupConfig, len(cfg.Group))
	for name, gc := range cfg.Group {
		groups[name] = accumulator.GroupConfig{MaxScore: gc.MaxScore, MinScore: gc.MinScore}
	}

	return accumulator.Options{
		AllowUnknown:    cfg.AllowUnknown,
		UnknownWeight:   cfg.UnknownWeight,
		SymbolCap:       cfg.SymbolCap,
		GrowFactor:      cfg.GrowFactor,
		RejectThreshold: cfg.RejectThreshold,
		Actions:         actions,
		Groups:          groups,
	}
}

// buildCollaborators constructs the resilient DNS and Redis adapters from
// cfg.Collaborators (no HTTP adapter is built; no built-in symbol uses
// one), following the teacher's pkg/resilient composition, and
// wires the conventionally-named "sender_allowlist" map (if configured)
// into the SenderAllowlist built-in symbol.
func buildCollaborators(cfg config.Config, mapRegistry *maps.Registry) (symbols.Collaborators, error) {
	backoff := retry.BackoffConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		MaxRetries:      2,
	}

	var out symbols.Collaborators

	dnsTimeout, err := durationOrDefault(cfg.Collaborators.DNS.Timeout, 2*time.Second)
	if err != nil {
		return out, fmt.Errorf("collaborators.dns: %w", err)
	}
	out.Resolver = collaborators.NewResilientResolver(dnsTimeout, backoff)

	if cfg.Collaborators.Redis.Addr != "" {
		redisTimeout, err := durationOrDefault(cfg.Collaborators.Redis.Timeout, time.Second)
		if err != nil {
			return out, fmt.Errorf("collaborators.redis: %w", err)
		}
		out.KV = collaborators.NewResilientRedisClient(cfg.Collaborators.Redis.Addr, redisTimeout, backoff)
	}

	if mapRegistry != nil {
		if m, ok := mapRegistry.Lookup("sender_allowlist"); ok {
			out.Allowlist = m
		}
	}

	return out, nil
}

func durationOrDefault(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return config.ParseDuration(s)
}

// buildMapRegistry opens every configured SQLite-backed map.
func buildMapRegistry(cfg config.Config) (*maps.Registry, error) {
	reg := maps.NewRegistry()
	for name, mc := range cfg.Maps {
		interval, err := mc.GetReloadInterval()
		if err != nil {
			return nil, fmt.Errorf("map %q: %w", name, err)
		}
		m, err := maps.NewSQLiteMap(name, mc.Path, interval)
		if err != nil {
			return nil, fmt.Errorf("map %q: %w", name, err)
		}
		reg.Register(name, m)
	}
	return reg, nil
}

// freezeScheduler builds the registry, composites, and frozen plan from
// cfg, returning every freeze-time diagnostic instead of treating any of
// them as fatal (spec.md §7: unresolved/cross-phase edges and cycles are
// dropped with a logged ConfigError, not a startup abort).
func freezeScheduler(cfg config.Config, collabs symbols.Collaborators) (*symbol.Registry, *scheduler.Plan, []error, error) {
	reg, err := buildRegistry(cfg, collabs)
	if err != nil {
		return nil, nil, nil, err
	}
	composites, secondPass, err := buildComposites(cfg, reg)
	if err != nil {
		return nil, nil, nil, err
	}
	plan, errs := scheduler.Freeze(reg, composites, secondPass)
	return reg, plan, errs, nil
}
