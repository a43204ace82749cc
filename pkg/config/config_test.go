package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := LoadDefaults()
	assert.Equal(t, 20, cfg.Optimizer.Ants)
	assert.Equal(t, 10, cfg.Optimizer.Iterations)
	assert.Equal(t, 2, cfg.Optimizer.Patience)
	assert.Equal(t, 1024, cfg.Cache.Capacity)
	assert.Equal(t, 30*time.Second, cfg.Cache.EvaporationInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DEED_OPTIMIZER_ANTS", "50")
	t.Setenv("DEED_CACHE_CAPACITY", "64")
	t.Setenv("DEED_EVAPORATION_INTERVAL", "5s")
	t.Setenv("DEED_LOG_LEVEL", "debug")

	cfg := LoadFromEnv()
	assert.Equal(t, 50, cfg.Optimizer.Ants)
	assert.Equal(t, 64, cfg.Cache.Capacity)
	assert.Equal(t, 5*time.Second, cfg.Cache.EvaporationInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched values keep their defaults.
	assert.Equal(t, 10, cfg.Optimizer.Iterations)
}

func TestEnvDurationAcceptsBareSeconds(t *testing.T) {
	t.Setenv("DEED_EVAPORATION_INTERVAL", "45")
	cfg := LoadFromEnv()
	assert.Equal(t, 45*time.Second, cfg.Cache.EvaporationInterval)
}

func TestLoadFromFile(t *testing.T) {
	t.Run("file overrides defaults, env overrides file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "deed.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
optimizer:
  ants: 5
  iterations: 3
cache:
  capacity: 16
logging:
  level: warn
`), 0o644))
		t.Setenv("DEED_OPTIMIZER_ANTS", "7")

		cfg, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Optimizer.Ants)
		assert.Equal(t, 3, cfg.Optimizer.Iterations)
		assert.Equal(t, 16, cfg.Cache.Capacity)
		assert.Equal(t, "warn", cfg.Logging.Level)
	})

	t.Run("empty path uses defaults", func(t *testing.T) {
		cfg, err := LoadFromFile("")
		require.NoError(t, err)
		assert.Equal(t, 20, cfg.Optimizer.Ants)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "deed.yaml")
		require.NoError(t, os.WriteFile(path, []byte("optimizer: ["), 0o644))
		_, err := LoadFromFile(path)
		assert.Error(t, err)
	})

	t.Run("invalid values fail validation", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "deed.yaml")
		require.NoError(t, os.WriteFile(path, []byte("optimizer:\n  ants: -1\n"), 0o644))
		_, err := LoadFromFile(path)
		assert.ErrorContains(t, err, "optimizer.ants")
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero ants", func(c *Config) { c.Optimizer.Ants = 0 }},
		{"zero iterations", func(c *Config) { c.Optimizer.Iterations = 0 }},
		{"zero patience", func(c *Config) { c.Optimizer.Patience = 0 }},
		{"zero capacity", func(c *Config) { c.Cache.Capacity = 0 }},
		{"zero interval", func(c *Config) { c.Cache.EvaporationInterval = 0 }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := LoadDefaults()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
