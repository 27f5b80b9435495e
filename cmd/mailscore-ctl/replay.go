package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mailscore/core/config"
	"github.com/mailscore/core/core/accumulator"
	"github.com/mailscore/core/core/scheduler"
	"github.com/mailscore/core/core/task"
)

// replayFixture is the on-disk JSON shape a replayed task is read from: a
// plain projection of task.Envelope/task.Settings/task.Message, since those
// types carry no JSON tags of their own (the core never serializes a task;
// only this CLI and server/ingest's request decoding do).
type replayFixture struct {
	Envelope struct {
		SenderIP string   `json:"sender_ip"`
		HELO     string   `json:"helo"`
		From     string   `json:"from"`
		RCPT     []string `json:"rcpt"`
		AuthUser string   `json:"auth_user"`
	} `json:"envelope"`
	Settings struct {
		AllowedIDs        []string `json:"allowed_ids"`
		ForbiddenIDs      []string `json:"forbidden_ids"`
		ExplicitlyEnabled []string `json:"explicit_enabled"`
	} `json:"settings"`
	Message struct {
		Headers map[string][]string `json:"headers"`
		Body    string              `json:"body"`
	} `json:"message"`
}

func handleReplayCommand() {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	taskPath := fs.String("task", "", "Path to a JSON task fixture (required)")
	timeout := fs.Duration("timeout", 30*time.Second, "Deadline applied to the replayed task")
	fs.Parse(os.Args[2:])

	if *taskPath == "" {
		fmt.Fprintln(os.Stderr, "replay: --task is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	reg, plan, diagnostics, err := freezeConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "freeze error: %v\n", err)
		os.Exit(1)
	}
	for _, d := range diagnostics {
		fmt.Fprintf(os.Stderr, "freeze diagnostic: %v\n", d)
	}

	raw, err := os.ReadFile(*taskPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading task fixture: %v\n", err)
		os.Exit(1)
	}

	var fixture replayFixture
	if err := json.Unmarshal(raw, &fixture); err != nil {
		fmt.Fprintf(os.Stderr, "parsing task fixture: %v\n", err)
		os.Exit(1)
	}

	msg := &task.Message{
		Headers: fixture.Message.Headers,
		Body:    []byte(fixture.Message.Body),
		Size:    int64(len(fixture.Message.Body)),
	}
	env := task.Envelope{
		SenderIP: fixture.Envelope.SenderIP,
		HELO:     fixture.Envelope.HELO,
		From:     fixture.Envelope.From,
		RCPT:     fixture.Envelope.RCPT,
		AuthUser: fixture.Envelope.AuthUser,
	}
	settings := task.Settings{
		AllowedIDs:        fixture.Settings.AllowedIDs,
		ForbiddenIDs:      fixture.Settings.ForbiddenIDs,
		ExplicitlyEnabled: fixture.Settings.ExplicitlyEnabled,
	}

	deadlines := scheduler.NewDeadlineScheduler(0, 50*time.Millisecond)
	defer deadlines.Stop()

	t, cancel := task.New(context.Background(), time.Now().Add(*timeout), msg, env, settings)
	defer cancel()

	acc := accumulator.New(reg, buildAccumulatorOptionsFromConfig(cfg))
	t.Accumulator = acc

	result, symbolResults, err := scheduler.Execute(t.Context(), plan, t, acc, deadlines)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan did not complete: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("task_id=%s action=%s score=%.2f message=%q module=%q\n",
		t.ID, result.Action, result.Score, result.Message, result.Module)
	for name, res := range symbolResults {
		if !res.Fired {
			continue
		}
		fmt.Printf("  %-30s multiplier=%.2f options=%v\n", name, res.Multiplier, res.Options)
	}
}

func buildAccumulatorOptionsFromConfig(cfg config.Config) accumulator.Options {
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
