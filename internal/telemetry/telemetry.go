// Package telemetry provides OpenTelemetry instrumentation for cloudmark.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/cloudmark/internal/config"
)

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	registry       *promclient.Registry

	// Metrics
	recordsEvaluated metric.Int64Counter
	recordsMalformed metric.Int64Counter
	events           metric.Int64Counter
	evalDuration     metric.Float64Histogram
}

// Option customizes NewProvider.
type Option func(*options)

type options struct {
	readers    []sdkmetric.Reader
	prometheus bool
}

// WithReader adds a metric reader, e.g. a ManualReader in tests.
func WithReader(r sdkmetric.Reader) Option {
	return func(o *options) { o.readers = append(o.readers, r) }
}

// WithPrometheus exposes metrics on a private Prometheus registry served by Handler.
func WithPrometheus() Option {
	return func(o *options) { o.prometheus = true }
}

// NewProvider creates a new telemetry provider.
func NewProvider(ctx context.Context, cfg config.OTELConfig, opts ...Option) (*Provider, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res, o); err != nil {
		_ = p.tracerProvider.Shutdown(ctx)
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate)
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer("cloudmark")

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource, o options) error {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	if o.prometheus {
		p.registry = promclient.NewRegistry()
		exp, err := promexporter.New(promexporter.WithRegisterer(p.registry))
		if err != nil {
			return fmt.Errorf("create prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(exp))
	}

	for _, r := range o.readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter("cloudmark")

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.recordsEvaluated, err = p.meter.Int64Counter(
		"cloudmark.records.evaluated",
		metric.WithDescription("Records passed through the rule set"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return fmt.Errorf("create records_evaluated: %w", err)
	}

	p.recordsMalformed, err = p.meter.Int64Counter(
		"cloudmark.records.malformed",
		metric.WithDescription("Input values skipped because they were not objects"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return fmt.Errorf("create records_malformed: %w", err)
	}

	p.events, err = p.meter.Int64Counter(
		"cloudmark.events",
		metric.WithDescription("Events generated by rules"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return fmt.Errorf("create events: %w", err)
	}

	p.evalDuration, err = p.meter.Float64Histogram(
		"cloudmark.evaluation.duration",
		metric.WithDescription("Time one rule spent on one record"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create evaluation_duration: %w", err)
	}

	return nil
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name)
}

// Handler serves the Prometheus registry. Nil unless WithPrometheus was given.
func (p *Provider) Handler() http.Handler {
	if p.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// RecordEvaluated counts one record passed through the rule set.
func (p *Provider) RecordEvaluated(ctx context.Context) {
	p.recordsEvaluated.Add(ctx, 1)
}

// RecordMalformed counts one skipped input value.
func (p *Provider) RecordMalformed(ctx context.Context) {
	p.recordsMalformed.Add(ctx, 1)
}

// RecordRuleEvaluation records one rule's pass over one record.
func (p *Provider) RecordRuleEvaluation(ctx context.Context, rule string, events int, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("rule", rule))
	p.evalDuration.Record(ctx, d.Seconds(), attrs)
	if events > 0 {
		p.events.Add(ctx, int64(events), attrs)
	}
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
