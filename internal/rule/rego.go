package rule

import (
	"context"
	"fmt"
	"iter"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/yairfalse/cloudmark/pkg/record"
)

// DefaultQuery is evaluated when a RegoConfig names no query.
const DefaultQuery = "data.cloudmark.violation"

// RegoConfig describes a rule written in Rego.
//
// The query sees {"com": ..., "ext": ...} as input. It may evaluate to:
//   - true, for a finding with generated text;
//   - an object with "description" and optional "recommendation";
//   - a set or array of such objects, one event each.
//
// Anything else, including an undefined result, yields no event.
type RegoConfig struct {
	Name       string
	FindingTag string
	Module     string // Rego source
	Query      string
}

// RegoRule evaluates a prepared Rego query against each record.
type RegoRule struct {
	cfg    RegoConfig
	query  rego.PreparedEvalQuery
	logger zerolog.Logger
}

// NewRegoRule compiles the module. Compile errors are returned here so a bad
// rule never reaches Eval.
func NewRegoRule(ctx context.Context, cfg RegoConfig, logger zerolog.Logger) (*RegoRule, error) {
	switch {
	case cfg.Name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	case cfg.FindingTag == "":
		return nil, fmt.Errorf("%w: %s: finding_tag is required", ErrInvalidConfig, cfg.Name)
	case cfg.Module == "":
		return nil, fmt.Errorf("%w: %s: rego module is empty", ErrInvalidConfig, cfg.Name)
	}
	if cfg.Query == "" {
		cfg.Query = DefaultQuery
	}

	prepared, err := rego.New(
		rego.Query(cfg.Query),
		rego.Module(cfg.Name+".rego", cfg.Module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego rule %s: %w", cfg.Name, err)
	}

	return &RegoRule{
		cfg:    cfg,
		query:  prepared,
		logger: logger.With().Str("rule", cfg.Name).Logger(),
	}, nil
}

// Name implements Plugin.
func (r *RegoRule) Name() string {
	return r.cfg.Name
}

// FindingTag returns the record_type given to events.
func (r *RegoRule) FindingTag() string {
	return r.cfg.FindingTag
}

// Eval implements Plugin.
func (r *RegoRule) Eval(ctx context.Context, rec record.Record) iter.Seq[record.Record] {
	return func(yield func(record.Record) bool) {
		com, ok := rec.Bucket(record.Com)
		if !ok {
			return
		}
		ext, ok := rec.Bucket(record.Ext)
		if !ok {
			return
		}

		input := map[string]any{record.Com: com, record.Ext: ext}
		rs, err := r.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			r.logger.Warn().Ctx(ctx).Err(err).Msg("rego evaluation failed")
			return
		}

		for _, res := range rs {
			for _, expr := range res.Expressions {
				for _, ev := range r.events(com, ext, expr.Value) {
					r.logger.Info().
						Ctx(ctx).
						Str("finding", r.cfg.FindingTag).
						Interface("event", ev).
						Msgf("generating %s", r.cfg.FindingTag)
					if !yield(ev) {
						return
					}
				}
			}
		}
	}
}

func (r *RegoRule) events(com, ext map[string]any, value any) []record.Record {
	switch v := value.(type) {
	case bool:
		if !v {
			return nil
		}
		subj := subject(com, ext)
		return []record.Record{newEvent(com, ext, r.cfg.FindingTag,
			fmt.Sprintf("%s violates %s.", subj, r.cfg.Name),
			fmt.Sprintf("Check %s and resolve %s.", subj, r.cfg.Name),
		)}
	case map[string]any:
		description, ok := record.Str(v, record.KeyDescription)
		if !ok || description == "" {
			return nil
		}
		recommendation, _ := record.Str(v, record.KeyRecommendation)
		return []record.Record{newEvent(com, ext, r.cfg.FindingTag, description, recommendation)}
	case []any:
		var out []record.Record
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				out = append(out, r.events(com, ext, obj)...)
			}
		}
		return out
	default:
		return nil
	}
}

// Done implements Plugin.
func (r *RegoRule) Done() error {
	return nil
}
