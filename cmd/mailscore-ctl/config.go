package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/mailscore/core/config"
)

func handleConfigCommand() {
	if len(os.Args) < 3 {
		printConfigUsage()
		os.Exit(1)
	}

	switch subcommand := os.Args[2]; subcommand {
	case "validate":
		handleConfigValidate()
	case "dump":
		handleConfigDump()
	case "help", "--help", "-h":
		printConfigUsage()
	default:
		fmt.Printf("Unknown config subcommand: %s\n\n", subcommand)
		printConfigUsage()
		os.Exit(1)
	}
}

func printConfigUsage() {
	fmt.Printf(`Configuration management

Usage:
  mailscore-ctl config <subcommand> [options]

Subcommands:
  validate  Load a config file and freeze its scheduler plan, reporting any error or diagnostic
  dump      Load a config file and print it back (default TOML, --format json for JSON)

Examples:
  mailscore-ctl config validate --config config.toml
  mailscore-ctl config dump --config config.toml --format json
`)
}

func handleConfigValidate() {
	fs := flag.NewFlagSet("config validate", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	fs.Parse(os.Args[3:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	_, _, diagnostics, err := freezeConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "freeze error: %v\n", err)
		os.Exit(1)
	}
	for _, d := range diagnostics {
		fmt.Fprintf(os.Stderr, "freeze diagnostic: %v\n", d)
	}

	fmt.Printf("%s: ok (%d freeze diagnostics)\n", *configPath, len(diagnostics))
}

func handleConfigDump() {
	fs := flag.NewFlagSet("config dump", flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to TOML configuration file")
	format := fs.String("format", "toml", "Output format: toml or json")
	maskSecrets := fs.Bool("mask-secrets", true, "Mask API keys and collaborator secrets in the output")
	fs.Parse(os.Args[3:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	if *maskSecrets {
		cfg.Server.APIKey = maskIfSet(cfg.Server.APIKey)
	}

	switch *format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode config as JSON: %v\n", err)
			os.Exit(1)
		}
	case "toml":
		if err := toml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode config as TOML: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown format: %s (supported: toml, json)\n", *format)
		os.Exit(1)
	}
}

func maskIfSet(s string) string {
	if s == "" {
		return s
	}
	return "***MASKED***"
}
