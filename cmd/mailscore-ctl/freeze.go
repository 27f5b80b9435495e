package main

import (
	"fmt"

	"github.com/mailscore/core/config"
	"github.com/mailscore/core/core/composite"
	"github.com/mailscore/core/core/scheduler"
	"github.com/mailscore/core/core/symbol"
	"github.com/mailscore/core/symbols"
)

// freezeConfig builds a registry and frozen plan from cfg the same way
// cmd/mailscored does, but against a collaborator-less symbols.Collaborators
// zero value: this CLI validates and dumps plan shape offline, without DNS,
// Redis, or map-file connections, so only the collaborator-gated built-in
// symbols (rate counter, DNSBL, allowlist) are absent from the result.
func freezeConfig(cfg config.Config) (*symbol.Registry, *scheduler.Plan, []error, error) {
	reg := symbol.NewRegistry()
	if err := symbols.Register(reg, symbols.Collaborators{}); err != nil {
		return nil, nil, nil, fmt.Errorf("registering built-in symbols: %w", err)
	}

	for name, sc := range cfg.Symbols {
		flags, err := symbol.NewFlagSet(sc.Flags...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("symbol %q: %w", name, err)
		}
		timeout, _, err := sc.GetTimeout()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("symbol %q: %w", name, err)
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
			return nil, nil, nil, fmt.Errorf("symbol %q: %w", name, err)
		}
		for _, dep := range sc.Depends {
			reg.RegisterDependency(name, dep, false)
		}
	}

	composites := make(map[string]*composite.Composite, len(cfg.Composites))
	for name, cc := range cfg.Composites {
		policy, err := composite.ParsePolicy(cc.Policy)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("composite %q: %w", name, err)
		}
		c, err := composite.New(name, cc.Expression, cc.Score, cc.Group, policy, 0)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("composite %q: %w", name, err)
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

	plan, errs := scheduler.Freeze(reg, composites, secondPass)
	return reg, plan, errs, nil
}
