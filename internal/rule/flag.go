package rule

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/rs/zerolog"

	"github.com/yairfalse/cloudmark/pkg/record"
)

// ErrInvalidConfig is returned when a rule is built from an incomplete config.
var ErrInvalidConfig = errors.New("invalid rule config")

// FlagConfig describes a rule that fires when a boolean ext flag is false.
type FlagConfig struct {
	Name       string `yaml:"name"`
	Flag       string `yaml:"flag"`        // ext key, e.g. "log_connections_enabled"
	FindingTag string `yaml:"finding_tag"` // event record_type
	Condition  string `yaml:"condition"`   // phrase, e.g. "log connections"
	Guard      `yaml:",inline"`
}

// Validate reports missing fields.
func (c FlagConfig) Validate() error {
	switch {
	case c.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	case c.Flag == "":
		return fmt.Errorf("%w: %s: flag is required", ErrInvalidConfig, c.Name)
	case c.FindingTag == "":
		return fmt.Errorf("%w: %s: finding_tag is required", ErrInvalidConfig, c.Name)
	case c.Condition == "":
		return fmt.Errorf("%w: %s: condition is required", ErrInvalidConfig, c.Name)
	}
	return nil
}

// FlagRule emits one event per matching record whose flag is exactly false.
type FlagRule struct {
	cfg    FlagConfig
	logger zerolog.Logger
}

// NewFlagRule builds a FlagRule. Empty guard fields fall back to DefaultGuard.
func NewFlagRule(cfg FlagConfig, logger zerolog.Logger) (*FlagRule, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Guard = cfg.Guard.withDefaults()

	return &FlagRule{
		cfg:    cfg,
		logger: logger.With().Str("rule", cfg.Name).Logger(),
	}, nil
}

// Name implements Plugin.
func (r *FlagRule) Name() string {
	return r.cfg.Name
}

// FindingTag returns the record_type of generated events.
func (r *FlagRule) FindingTag() string {
	return r.cfg.FindingTag
}

// Config returns the effective configuration.
func (r *FlagRule) Config() FlagConfig {
	return r.cfg
}

// Eval implements Plugin.
func (r *FlagRule) Eval(ctx context.Context, rec record.Record) iter.Seq[record.Record] {
	return func(yield func(record.Record) bool) {
		com, ext, ok := r.cfg.Guard.match(rec)
		if !ok {
			return
		}

		// true, null, a missing key or any non-bool value is not a finding
		if !record.IsFalse(ext, r.cfg.Flag) {
			return
		}

		ev := r.event(com, ext)
		r.logger.Info().
			Ctx(ctx).
			Str("finding", r.cfg.FindingTag).
			Interface("event", ev).
			Msgf("generating %s", r.cfg.FindingTag)
		yield(ev)
	}
}

func (r *FlagRule) event(com, ext map[string]any) record.Record {
	subj := subject(com, ext)
	description := fmt.Sprintf("%s has %s disabled.", subj, r.cfg.Condition)
	recommendation := fmt.Sprintf("Check %s and enable %s.", subj, r.cfg.Condition)
	return newEvent(com, ext, r.cfg.FindingTag, description, recommendation)
}

// Done implements Plugin. FlagRule holds nothing to release.
func (r *FlagRule) Done() error {
	return nil
}
