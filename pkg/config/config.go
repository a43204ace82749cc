// Package config handles Deed configuration via YAML files and environment
// variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DEED_*)
//  2. Config file (deed.yaml)
//  3. Built-in defaults
//
// Example usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//
// Environment variables (all use the DEED_ prefix):
//
// Optimizer:
//   - DEED_OPTIMIZER_ANTS=20
//   - DEED_OPTIMIZER_ITERATIONS=10
//   - DEED_OPTIMIZER_PATIENCE=2
//
// Plan cache:
//   - DEED_CACHE_CAPACITY=1024
//   - DEED_EVAPORATION_INTERVAL=30s
//
// Logging:
//   - DEED_LOG_LEVEL="info"
//   - DEED_LOG_FORMAT="text" or "json"
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Deed configuration.
type Config struct {
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// OptimizerConfig tunes the ant colony search.
type OptimizerConfig struct {
	// Ants per iteration.
	Ants int `yaml:"ants"`
	// Iterations is the maximum number of colony iterations per query.
	Iterations int `yaml:"iterations"`
	// Patience is how many non-improving iterations end the search early.
	Patience int `yaml:"patience"`
	// Seed fixes optimizer randomness; zero seeds from the clock.
	Seed int64 `yaml:"seed"`
}

// CacheConfig tunes the stigmergy plan cache.
type CacheConfig struct {
	// Capacity bounds the number of cached plan recipes.
	Capacity int `yaml:"capacity"`
	// EvaporationInterval is the cadence of the background decay cycle
	// over both the plan cache and edge pheromone.
	EvaporationInterval time.Duration `yaml:"evaporation_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// LoadDefaults returns the built-in defaults.
func LoadDefaults() *Config {
	return &Config{
		Optimizer: OptimizerConfig{
			Ants:       20,
			Iterations: 10,
			Patience:   2,
		},
		Cache: CacheConfig{
			Capacity:            1024,
			EvaporationInterval: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromEnv builds a config from defaults plus DEED_* environment
// variables, skipping any config file.
func LoadFromEnv() *Config {
	cfg := LoadDefaults()
	applyEnvVars(cfg)
	return cfg
}

// LoadFromFile loads configuration with full precedence: defaults, then
// the YAML file, then environment variables. An empty path skips the file
// layer.
func LoadFromFile(path string) (*Config, error) {
	cfg := LoadDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvVars(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvVars(cfg *Config) {
	cfg.Optimizer.Ants = getEnvInt("DEED_OPTIMIZER_ANTS", cfg.Optimizer.Ants)
	cfg.Optimizer.Iterations = getEnvInt("DEED_OPTIMIZER_ITERATIONS", cfg.Optimizer.Iterations)
	cfg.Optimizer.Patience = getEnvInt("DEED_OPTIMIZER_PATIENCE", cfg.Optimizer.Patience)
	cfg.Optimizer.Seed = int64(getEnvInt("DEED_OPTIMIZER_SEED", int(cfg.Optimizer.Seed)))

	cfg.Cache.Capacity = getEnvInt("DEED_CACHE_CAPACITY", cfg.Cache.Capacity)
	cfg.Cache.EvaporationInterval = getEnvDuration("DEED_EVAPORATION_INTERVAL", cfg.Cache.EvaporationInterval)

	cfg.Logging.Level = getEnv("DEED_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("DEED_LOG_FORMAT", cfg.Logging.Format)
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Optimizer.Ants <= 0 {
		return fmt.Errorf("optimizer.ants must be positive, got %d", c.Optimizer.Ants)
	}
	if c.Optimizer.Iterations <= 0 {
		return fmt.Errorf("optimizer.iterations must be positive, got %d", c.Optimizer.Iterations)
	}
	if c.Optimizer.Patience <= 0 {
		return fmt.Errorf("optimizer.patience must be positive, got %d", c.Optimizer.Patience)
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity)
	}
	if c.Cache.EvaporationInterval <= 0 {
		return fmt.Errorf("cache.evaporation_interval must be positive, got %s", c.Cache.EvaporationInterval)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	return nil
}

// FindConfigFile searches standard locations and returns the first config
// file found, or an empty string. Search order:
//  1. ~/.deed/config.yaml
//  2. Same directory as the binary (deed.yaml, config.yaml)
//  3. Current working directory (deed.yaml, config.yaml)
//  4. ~/.config/deed/config.yaml
func FindConfigFile() string {
	var candidates []string

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".deed", "config.yaml"))
	}
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(exeDir, "deed.yaml"),
			filepath.Join(exeDir, "config.yaml"),
		)
	}
	candidates = append(candidates, "deed.yaml", "config.yaml")
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "deed", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Bare numbers are taken as seconds.
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
