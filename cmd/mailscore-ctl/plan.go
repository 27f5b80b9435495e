package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mailscore/core/config"
)

func handlePlanCommand() {
	if len(os.Args) < 3 {
		printPlanUsage()
		os.Exit(1)
	}

	switch subcommand := os.Args[2]; subcommand {
	case "dump":
		handlePlanDump()
	case "help", "--help", "-h":
		printPlanUsage()
	default:
		fmt.Printf("Unknown plan subcommand: %s\n\n", subcommand)
		printPlanUsage()
		os.Exit(1)
	}
}

func printPlanUsage() {
	fmt.Printf(`Scheduler plan inspection

Usage:
  mailscore-ctl plan <subcommand> [options]

Subcommands:
  dump  Freeze a config file's registry and print the resulting per-phase order

Examples:
  mailscore-ctl plan dump --config config.toml
  mailscore-ctl plan dump --config config.toml --format json
`)
}

// phaseView and itemView are the JSON/text projection of one frozen phase,
// mirroring ScanResponse's convention in server/ingest of never exposing
// core/scheduler's internal types directly.
type phaseView struct {
	Phase string     `json:"phase"`
	Items []itemView `json:"items"`
}

type itemView struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Priority int     `json:"priority"`
	Weight   float64 `json:"weight"`
	Group    string  `json:"group,omitempty"`
}

func handlePlanDump() {
	fs := flag.NewFlagSet("plan dump", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	format := fs.String("format", "text", "Output format: text or json")
	fs.Parse(os.Args[3:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	_, plan, diagnostics, err := freezeConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "freeze error: %v\n", err)
		os.Exit(1)
	}

	phases := make([]phaseView, 0, len(plan.Phases))
	for _, pp := range plan.Phases {
		items := make([]itemView, 0, len(pp.Order))
		for _, it := range pp.Order {
			items = append(items, itemView{
				Name:     it.Name,
				Type:     string(it.Type),
				Priority: it.Priority,
				Weight:   it.Weight,
				Group:    it.Group,
			})
		}
		phases = append(phases, phaseView{Phase: string(pp.Phase), Items: items})
	}

	switch *format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(phases); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode plan as JSON: %v\n", err)
			os.Exit(1)
		}
	case "text":
		for _, p := range phases {
			fmt.Printf("phase %s\n", p.Phase)
			for _, it := range p.Items {
				fmt.Printf("  %-30s type=%-12s priority=%-4d weight=%-6.2f group=%s\n",
					it.Name, it.Type, it.Priority, it.Weight, it.Group)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown format: %s (supported: text, json)\n", *format)
		os.Exit(1)
	}

	for _, d := range diagnostics {
		fmt.Fprintf(os.Stderr, "dropped at freeze: %v\n", d)
	}
}
