package rule

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Builtins returns the Azure PostgreSQL server flag checks shipped with
// cloudmark. All of them share DefaultGuard.
func Builtins() []FlagConfig {
	return []FlagConfig{
		{
			Name:       "az_postgres_log_connections",
			Flag:       "log_connections_enabled",
			FindingTag: "postgres_log_connections_event",
			Condition:  "log connections",
		},
		{
			Name:       "az_postgres_log_disconnections",
			Flag:       "log_disconnections_enabled",
			FindingTag: "postgres_log_disconnections_event",
			Condition:  "log disconnections",
		},
		{
			Name:       "az_postgres_log_checkpoints",
			Flag:       "log_checkpoints_enabled",
			FindingTag: "postgres_log_checkpoints_event",
			Condition:  "log checkpoints",
		},
		{
			Name:       "az_postgres_log_duration",
			Flag:       "log_duration_enabled",
			FindingTag: "postgres_log_duration_event",
			Condition:  "log duration",
		},
		{
			Name:       "az_postgres_connection_throttling",
			Flag:       "connection_throttling_enabled",
			FindingTag: "postgres_connection_throttling_event",
			Condition:  "connection throttling",
		},
	}
}

// NewBuiltins builds a FlagRule for every built-in config.
func NewBuiltins(logger zerolog.Logger) ([]*FlagRule, error) {
	cfgs := Builtins()
	rules := make([]*FlagRule, 0, len(cfgs))
	for _, cfg := range cfgs {
		r, err := NewFlagRule(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("builtin %s: %w", cfg.Name, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}
