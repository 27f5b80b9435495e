package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, 15.0, cfg.RejectThreshold)
	assert.Equal(t, 999.0, cfg.SymbolCap)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "core.toml")
	const body = `
grow_factor = 1.1
reject_threshold = 15.0

[symbols.RBL_SPAMHAUS]
type = "filter"
score = 3.0
priority = 5
group = "rbl"
flags = ["fine"]

[composites.SUSPICIOUS]
expression = "RBL_SPAMHAUS & SHORT_BODY"
score = 5.0
policy = "remove_all"

[actions]
no_action = 0
reject = 15.0

[group.rbl]
max_score = 10.0
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1.1, cfg.GrowFactor)
	require.Contains(t, cfg.Symbols, "RBL_SPAMHAUS")
	assert.Equal(t, "filter", cfg.Symbols["RBL_SPAMHAUS"].Type)
	require.Contains(t, cfg.Composites, "SUSPICIOUS")
	assert.Equal(t, "remove_all", cfg.Composites["SUSPICIOUS"].Policy)
	assert.Equal(t, 15.0, cfg.Actions["reject"])
	require.Contains(t, cfg.Group, "rbl")
	require.NotNil(t, cfg.Group["rbl"].MaxScore)
	assert.Equal(t, 10.0, *cfg.Group["rbl"].MaxScore)
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("500ms")
	require.NoError(t, err)
	assert.Equal(t, 500_000_000, int(d))

	d, err = ParseDuration("5")
	require.NoError(t, err)
	assert.Equal(t, 5, int(d.Seconds()))

	_, err = ParseDuration("")
	require.Error(t, err)
}

func TestParseSize(t *testing.T) {
	n, err := ParseSize("5mb")
	require.NoError(t, err)
	assert.Equal(t, int64(5*1024*1024), n)

	n, err = ParseSize("100")
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
}
