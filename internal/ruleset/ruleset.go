// Package ruleset assembles the rule registry from built-in checks and rule files.
package ruleset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/cloudmark/internal/logging"
	"github.com/yairfalse/cloudmark/internal/plugin"
	"github.com/yairfalse/cloudmark/internal/rule"
)

var (
	// ErrDuplicateRule is returned when two rules share a name.
	ErrDuplicateRule = errors.New("duplicate rule")
	// ErrInvalidRule is returned for a rule entry missing required fields.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrUnknownRule is returned when disabling a rule that was never loaded.
	ErrUnknownRule = errors.New("unknown rule")
)

// File is the YAML layout of a rule file.
type File struct {
	Rules []Entry `yaml:"rules"`
}

// Entry is one rule in a rule file. Entries naming a rego file are Rego
// rules; the rest are flag rules.
type Entry struct {
	rule.FlagConfig `yaml:",inline"`

	Rego  string `yaml:"rego"`  // path, relative to the rule file
	Query string `yaml:"query"` // defaults to rule.DefaultQuery
}

// Options controls Load.
type Options struct {
	Builtin bool     // register rule.Builtins
	Files   []string // YAML rule files
	Disable []string // rule names to drop after loading
	Logger  zerolog.Logger
}

// Load builds a registry from opts.
func Load(ctx context.Context, opts Options) (*plugin.Registry, error) {
	reg := plugin.NewRegistry()
	logger := logging.Component(opts.Logger, "ruleset")

	if opts.Builtin {
		builtins, err := rule.NewBuiltins(opts.Logger)
		if err != nil {
			return nil, err
		}
		for _, r := range builtins {
			reg.Register(r)
		}
	}

	for _, path := range opts.Files {
		plugins, err := LoadFile(ctx, path, opts.Logger)
		if err != nil {
			return nil, err
		}
		for _, p := range plugins {
			if _, exists := reg.Get(p.Name()); exists {
				return nil, fmt.Errorf("%s: %w: %s", path, ErrDuplicateRule, p.Name())
			}
			reg.Register(p)
		}
		logger.Debug().Str("file", path).Int("rules", len(plugins)).Msg("loaded rule file")
	}

	for _, name := range opts.Disable {
		if !reg.Remove(name) {
			return nil, fmt.Errorf("disable: %w: %s", ErrUnknownRule, name)
		}
	}

	logger.Info().Strs("rules", reg.Names()).Msg("rules loaded")
	return reg, nil
}

// LoadFile parses one YAML rule file.
func LoadFile(ctx context.Context, path string, logger zerolog.Logger) ([]rule.Plugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Rules))
	plugins := make([]rule.Plugin, 0, len(f.Rules))
	for i, e := range f.Rules {
		if e.Name == "" {
			return nil, fmt.Errorf("%s: rule %d: %w: name is required", path, i, ErrInvalidRule)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("%s: %w: %s", path, ErrDuplicateRule, e.Name)
		}
		seen[e.Name] = true

		p, err := build(ctx, filepath.Dir(path), e, logger)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

// Parse decodes a rule file. Unknown keys are rejected.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("parse rule file: %w", err)
	}
	return f, nil
}

func build(ctx context.Context, dir string, e Entry, logger zerolog.Logger) (rule.Plugin, error) {
	if e.Rego == "" {
		r, err := rule.NewFlagRule(e.FlagConfig, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
		}
		return r, nil
	}

	if e.Flag != "" || e.Condition != "" {
		return nil, fmt.Errorf("%w: %s: rego rules take no flag or condition", ErrInvalidRule, e.Name)
	}
	if e.Guard != (rule.Guard{}) {
		return nil, fmt.Errorf("%w: %s: rego rules take no cloud_type, record_type or resource_type; match in the policy instead", ErrInvalidRule, e.Name)
	}

	path := e.Rego
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rule %s: read rego module: %w", e.Name, err)
	}

	r, err := rule.NewRegoRule(ctx, rule.RegoConfig{
		Name:       e.Name,
		FindingTag: e.FindingTag,
		Module:     string(src),
		Query:      e.Query,
	}, logger)
	if err != nil {
		if errors.Is(err, rule.ErrInvalidConfig) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRule, err)
		}
		return nil, err
	}
	return r, nil
}
