// Package config loads the TOML configuration for the mailscore core: the
// registered symbols, composites, actions, score groups, collaborator
// endpoints, and ambient server settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// LoggingConfig controls the logger package's output.
type LoggingConfig struct {
	Output     string `toml:"output"`      // "stdout", "stderr", "syslog", or a file path
	Format     string `toml:"format"`      // "json" or "console"
	Level      string `toml:"level"`       // "debug", "info", "warn", "error"
	SyslogAddr string `toml:"syslog_addr"` // not read by logger.Initialize, which logs to local syslog only
	SyslogTag  string `toml:"syslog_tag"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enable bool   `toml:"enable"`
	Addr   string `toml:"addr"`
}

// ServerConfig controls the demonstration HTTP ingest API (§6 Task
// submission). The real network workers that accept submissions in
// production are out of the core's scope; this is the thin harness that
// makes the core reachable end to end.
type ServerConfig struct {
	Addr   string `toml:"addr"`
	APIKey string `toml:"api_key"`
}

// GroupConfig is a symbol group's score cap (§3 Scan-result accumulator).
type GroupConfig struct {
	MaxScore *float64 `toml:"max_score"`
	MinScore *float64 `toml:"min_score"`
}

// SymbolConfig describes one registered symbol (§4.1.1, §6).
type SymbolConfig struct {
	Type        string   `toml:"type"` // connect|prefilter|filter|classifier|composite|postfilter|idempotent|virtual|callback
	Score       float64  `toml:"score"`
	Priority    int      `toml:"priority"`
	Group       string   `toml:"group"`
	Flags       []string `toml:"flags"`
	OneShot     bool     `toml:"one_shot"`
	Timeout     string   `toml:"timeout"` // duration string, e.g. "500ms"
	Description string   `toml:"description"`
	Parent      string   `toml:"parent"`
	Depends     []string `toml:"depends"`
}

// GetTimeout parses the per-symbol timeout override, if any.
func (s SymbolConfig) GetTimeout() (time.Duration, bool, error) {
	if strings.TrimSpace(s.Timeout) == "" {
		return 0, false, nil
	}
	d, err := ParseDuration(s.Timeout)
	return d, true, err
}

// CompositeConfig describes one composite rule (§4.3, §6).
type CompositeConfig struct {
	Expression string  `toml:"expression"`
	Score      float64 `toml:"score"`
	Group      string  `toml:"group"`
	Policy     string  `toml:"policy"` // remove_all|remove_symbol|remove_weight|leave
}

// MapConfig describes one hot-reloadable key/value map (§6 Map interface).
type MapConfig struct {
	Path           string `toml:"path"`
	ReloadInterval string `toml:"reload_interval"`
}

// GetReloadInterval parses the map's reload interval, defaulting to 60s.
func (m MapConfig) GetReloadInterval() (time.Duration, error) {
	if strings.TrimSpace(m.ReloadInterval) == "" {
		return 60 * time.Second, nil
	}
	return ParseDuration(m.ReloadInterval)
}

// DNSCollaboratorConfig configures the DNS resolver collaborator.
type DNSCollaboratorConfig struct {
	Timeout string `toml:"timeout"`
	Servers []string `toml:"servers"`
}

// HTTPCollaboratorConfig configures the HTTP client collaborator.
type HTTPCollaboratorConfig struct {
	Timeout    string `toml:"timeout"`
	MaxBody    int64  `toml:"max_body"`
}

// RedisCollaboratorConfig configures the Redis client collaborator.
type RedisCollaboratorConfig struct {
	Addr    string `toml:"addr"`
	Timeout string `toml:"timeout"`
}

// CollaboratorsConfig groups all external I/O collaborator settings (§6).
type CollaboratorsConfig struct {
	DNS   DNSCollaboratorConfig   `toml:"dns"`
	HTTP  HTTPCollaboratorConfig  `toml:"http"`
	Redis RedisCollaboratorConfig `toml:"redis"`
}

// Config is the top-level configuration tree consumed at startup.
type Config struct {
	Logging            LoggingConfig               `toml:"logging"`
	Metrics            MetricsConfig               `toml:"metrics"`
	Server             ServerConfig                `toml:"server"`
	GrowFactor         float64                     `toml:"grow_factor"`
	RejectThreshold    float64                     `toml:"reject_threshold"`
	AllowUnknown       bool                        `toml:"allow_unknown"`
	UnknownWeight      float64                     `toml:"unknown_weight"`
	SymbolCap          float64                     `toml:"symbol_cap"`
	Symbols            map[string]SymbolConfig     `toml:"symbols"`
	Composites         map[string]CompositeConfig  `toml:"composites"`
	CompositeMapFiles  []string                    `toml:"composite_map_files"`
	Actions            map[string]float64          `toml:"actions"`
	Group              map[string]GroupConfig      `toml:"group"`
	Maps               map[string]MapConfig        `toml:"maps"`
	Collaborators      CollaboratorsConfig         `toml:"collaborators"`
}

// Default returns a Config populated with sane defaults, following the
// teacher's newDefaultConfig() convention.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Output: "stderr",
			Format: "console",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Enable: true,
			Addr:   ":9256",
		},
		Server: ServerConfig{
			Addr: ":11333",
		},
		GrowFactor:      1.0,
		RejectThreshold: 15.0,
		AllowUnknown:    false,
		UnknownWeight:   0.0,
		SymbolCap:       999.0,
		Symbols:         map[string]SymbolConfig{},
		Composites:      map[string]CompositeConfig{},
		Actions: map[string]float64{
			"no_action": 0,
		},
		Group: map[string]GroupConfig{},
		Maps:  map[string]MapConfig{},
	}
}

// Load reads and parses a TOML configuration file, starting from Default()
// and overlaying whatever the file sets.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("config file %q not found: %w", path, err)
		}
		return cfg, err
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return cfg, nil
}

// ParseDuration parses a Go-style duration string ("500ms", "2s"), falling
// back to a plain integer meaning seconds for operator convenience.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

// ParseSize parses a human size string ("5mb", "1gb", "100") into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "kb"):
		mult = 1024
		s = strings.TrimSuffix(s, "kb")
	case strings.HasSuffix(s, "mb"):
		mult = 1024 * 1024
		s = strings.TrimSuffix(s, "mb")
	case strings.HasSuffix(s, "gb"):
		mult = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "gb")
	case strings.HasSuffix(s, "b"):
		s = strings.TrimSuffix(s, "b")
	}
	s = strings.TrimSpace(s)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}
