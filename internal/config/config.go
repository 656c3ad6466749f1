// Package config handles TOML configuration for cloudmark.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/yairfalse/cloudmark/internal/logging"
)

// Config is the root configuration structure.
type Config struct {
	Log     LogConfig    `toml:"log"`
	Rules   RulesConfig  `toml:"rules"`
	Metrics ServerConfig `toml:"metrics"`
	OTEL    OTELConfig   `toml:"otel"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// RulesConfig selects which rules a run evaluates.
type RulesConfig struct {
	// Builtin is a pointer so an absent key can default to true.
	Builtin *bool    `toml:"builtin"`
	Files   []string `toml:"files"`
	Disable []string `toml:"disable"`
}

// BuiltinEnabled reports whether built-in rules are loaded.
func (r RulesConfig) BuiltinEnabled() bool {
	return r.Builtin == nil || *r.Builtin
}

// ServerConfig holds the metrics/health HTTP listener. Empty Addr disables it.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds OTLP metric export settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a configuration with defaults applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "cloudmark"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = logging.FormatJSON
	}
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if c.Log.Format != logging.FormatJSON && c.Log.Format != logging.FormatConsole {
		return fmt.Errorf("log: format must be %q or %q (got %q)", logging.FormatJSON, logging.FormatConsole, c.Log.Format)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if (c.OTEL.Traces.Enabled || c.OTEL.Metrics.Enabled) && c.OTEL.Endpoint == "" {
		return fmt.Errorf("otel: endpoint required when traces or metrics export is enabled")
	}
	return nil
}
