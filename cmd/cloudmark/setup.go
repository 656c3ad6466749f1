package main

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yairfalse/cloudmark/internal/config"
	"github.com/yairfalse/cloudmark/internal/logging"
)

// Rule selection flags, shared by eval and rules.
var (
	ruleFiles    []string
	disableRules []string
	noBuiltin    bool
)

func addRuleFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&ruleFiles, "rules", "r", nil, "YAML rule file to load (repeatable)")
	cmd.Flags().StringSliceVar(&disableRules, "disable", nil, "Comma-separated rule names to skip")
	cmd.Flags().BoolVar(&noBuiltin, "no-builtin", false, "Do not load the built-in rules")
}

// overrides are command-line values layered over the config file.
type overrides struct {
	LogLevel    string
	MetricsAddr string
	RuleFiles   []string
	Disable     []string
	NoBuiltin   bool
}

func overridesFrom(cmd *cobra.Command) overrides {
	o := overrides{
		RuleFiles: ruleFiles,
		Disable:   disableRules,
		NoBuiltin: noBuiltin,
	}
	if cmd.Flags().Changed("log-level") {
		o.LogLevel = logLevel
	}
	if cmd.Flags().Changed("metrics-addr") {
		o.MetricsAddr = metricsAddr
	}
	return o
}

// buildConfig loads path (or the defaults when empty) and applies o.
func buildConfig(path string, o overrides) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.MetricsAddr != "" {
		cfg.Metrics.Addr = o.MetricsAddr
	}
	cfg.Rules.Files = append(cfg.Rules.Files, o.RuleFiles...)
	cfg.Rules.Disable = append(cfg.Rules.Disable, o.Disable...)
	if o.NoBuiltin {
		builtin := false
		cfg.Rules.Builtin = &builtin
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return buildConfig(configPath, overridesFrom(cmd))
}

// newLogger builds the run logger. Every entry carries the run id.
func newLogger(cfg *config.Config, out io.Writer) (zerolog.Logger, error) {
	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Out:    out,
	})
	if err != nil {
		return zerolog.Nop(), err
	}
	return logger.With().Str("run_id", uuid.NewString()).Logger(), nil
}
