// Package config loads the liveview YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the liveview configuration.
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Collection  CollectionConfig  `yaml:"collection"`
	Eviction    EvictionConfig    `yaml:"eviction"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// DatabaseConfig holds document store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"` // SQLite file, or ":memory:"
}

// CollectionConfig selects the collection views and mutations target.
type CollectionConfig struct {
	Name      string `yaml:"name"`
	SchemaDir string `yaml:"schema_dir"` // directory of .cue files; empty uses the built-in tasks schema
}

// EvictionConfig bounds physical eviction of hidden documents.
type EvictionConfig struct {
	MinInterval   time.Duration `yaml:"min_interval"`   // sweeps never run more often than this
	SweepInterval time.Duration `yaml:"sweep_interval"` // background sweep period
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Env   string `yaml:"env"`   // local, dev, prod
	Level string `yaml:"level"` // debug, info, warn, error
}

// MetricsConfig holds the metrics endpoint settings.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// DiagnosticsConfig sizes the mutation diagnostics channel.
type DiagnosticsConfig struct {
	Buffer int `yaml:"buffer"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// Load reads configuration from a YAML file. An empty path returns Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "liveview.db"
	}
	if c.Collection.Name == "" {
		c.Collection.Name = "tasks"
	}
	if c.Eviction.MinInterval <= 0 {
		c.Eviction.MinInterval = 24 * time.Hour
	}
	if c.Eviction.SweepInterval <= 0 {
		c.Eviction.SweepInterval = c.Eviction.MinInterval
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "local"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "warn"
	}
	if c.Diagnostics.Buffer <= 0 {
		c.Diagnostics.Buffer = 64
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.Logging.Env {
	case "local", "dev", "prod":
	default:
		return fmt.Errorf("logging.env must be local, dev or prod, got %q", c.Logging.Env)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Eviction.SweepInterval < c.Eviction.MinInterval {
		return fmt.Errorf("eviction.sweep_interval (%s) must not be shorter than eviction.min_interval (%s)",
			c.Eviction.SweepInterval, c.Eviction.MinInterval)
	}
	if c.Diagnostics.Buffer > 1<<16 {
		return fmt.Errorf("diagnostics.buffer must be at most %d, got %d", 1<<16, c.Diagnostics.Buffer)
	}
	return nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
