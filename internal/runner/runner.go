// Package runner feeds records through the rule registry and hands the
// resulting events to an emitter.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/cloudmark/internal/emitter"
	"github.com/yairfalse/cloudmark/internal/logging"
	"github.com/yairfalse/cloudmark/internal/plugin"
	"github.com/yairfalse/cloudmark/pkg/record"
)

// Telemetry traces evaluation and receives its measurements.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, trace.Span)
	RecordEvaluated(ctx context.Context)
	RecordMalformed(ctx context.Context)
	RecordRuleEvaluation(ctx context.Context, rule string, events int, d time.Duration)
}

// Config wires a Runner.
type Config struct {
	Registry  *plugin.Registry
	Emitter   emitter.Emitter
	Telemetry Telemetry // optional, defaults to the global tracer and no metrics
	Logger    zerolog.Logger
}

// Stats summarizes a Run.
type Stats struct {
	Records   int // objects evaluated
	Malformed int // values skipped because they were not objects
	Events    int // events emitted
}

// Runner evaluates records against every registered rule.
type Runner struct {
	registry  *plugin.Registry
	emit      emitter.Emitter
	telemetry Telemetry
	logger    zerolog.Logger
}

// New creates a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Registry == nil {
		return nil, errors.New("runner: registry is required")
	}
	if cfg.Emitter == nil {
		return nil, errors.New("runner: emitter is required")
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = nopTelemetry{tracer: otel.Tracer("cloudmark.runner")}
	}

	return &Runner{
		registry:  cfg.Registry,
		emit:      cfg.Emitter,
		telemetry: cfg.Telemetry,
		logger:    logging.Component(cfg.Logger, "runner"),
	}, nil
}

// Evaluate runs every rule once over rec and emits what they yield.
// It returns the number of events emitted. An emitter error stops the pass.
func (r *Runner) Evaluate(ctx context.Context, rec record.Record) (int, error) {
	ctx, span := r.telemetry.StartSpan(ctx, "runner.evaluate")
	defer span.End()

	r.telemetry.RecordEvaluated(ctx)

	total := 0
	for _, p := range r.registry.All() {
		start := time.Now()
		n := 0
		for ev := range p.Eval(ctx, rec) {
			if err := r.emit.Emit(ctx, ev); err != nil {
				span.SetStatus(codes.Error, err.Error())
				return total + n, fmt.Errorf("emit %s event: %w", p.Name(), err)
			}
			n++
		}
		r.telemetry.RecordRuleEvaluation(ctx, p.Name(), n, time.Since(start))
		total += n
	}

	span.SetAttributes(attribute.Int("cloudmark.events", total))
	return total, nil
}

// Run decodes a stream of JSON values from in and evaluates each object.
// Values that are not objects are skipped; a syntax error ends the run.
// Numbers are kept as json.Number so events carry them unchanged.
func (r *Runner) Run(ctx context.Context, in io.Reader) (Stats, error) {
	dec := json.NewDecoder(in)
	dec.UseNumber()
	var stats Stats

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		var v any
		if err := dec.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return stats, nil
			}
			return stats, fmt.Errorf("decode value %d: %w", stats.Records+stats.Malformed+1, err)
		}

		obj, ok := v.(map[string]any)
		if !ok {
			stats.Malformed++
			r.telemetry.RecordMalformed(ctx)
			r.logger.Warn().
				Int("value", stats.Records+stats.Malformed).
				Type("type", v).
				Msg("skipping input value that is not an object")
			continue
		}

		n, err := r.Evaluate(ctx, record.Record(obj))
		stats.Records++
		stats.Events += n
		if err != nil {
			return stats, err
		}
	}
}

// Close calls Done on every rule, then closes the emitter.
func (r *Runner) Close() error {
	return errors.Join(r.registry.Done(), r.emit.Close())
}

type nopTelemetry struct {
	tracer trace.Tracer
}

func (t nopTelemetry) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name)
}

func (nopTelemetry) RecordEvaluated(context.Context)                                  {}
func (nopTelemetry) RecordMalformed(context.Context)                                  {}
func (nopTelemetry) RecordRuleEvaluation(context.Context, string, int, time.Duration) {}
