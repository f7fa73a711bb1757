package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Universe, 7)
	assert.Equal(t, 0.70, cfg.Ensemble.BuyThreshold)
	assert.Equal(t, 0.30, cfg.Ensemble.SellThreshold)
	assert.Equal(t, 48*time.Hour, cfg.Pipeline.EvidenceWindow)
	assert.Equal(t, 5, cfg.Ingest.MaxAttempts)
}

func TestLoadMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Pipeline, cfg.Pipeline)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  concurrency: 8
ensemble:
  buy_threshold: 0.8
logging:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Pipeline.Concurrency)
	assert.Equal(t, 0.8, cfg.Ensemble.BuyThreshold)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Unset fields keep their defaults.
	assert.Equal(t, 0.30, cfg.Ensemble.SellThreshold)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty universe", func(c *Config) { c.Universe = nil }},
		{"zero concurrency", func(c *Config) { c.Pipeline.Concurrency = 0 }},
		{"relevance above one", func(c *Config) { c.Pipeline.MinRelevance = 1.5 }},
		{"inverted thresholds", func(c *Config) { c.Ensemble.BuyThreshold = 0.2 }},
		{"overlap too large", func(c *Config) { c.Ingest.ChunkOverlap = 800 }},
		{"zero recency halflife", func(c *Config) { c.Explain.RecencyHalflife = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("universe: ["), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
