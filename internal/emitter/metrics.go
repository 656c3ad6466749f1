package emitter

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/cloudmark/pkg/record"
)

// MetricsEmitter turns events into OTEL metrics. With a Prometheus reader on
// the meter provider they show up on /metrics.
type MetricsEmitter struct {
	findingsTotal metric.Int64Counter
	findingInfo   metric.Int64ObservableGauge

	// State for observable gauge
	mu       sync.RWMutex
	findings map[findingKey]struct{}
}

type findingKey struct {
	cloudType string
	tag       string
	reference string
}

// NewMetricsEmitter registers its instruments on meter.
func NewMetricsEmitter(meter metric.Meter) (*MetricsEmitter, error) {
	e := &MetricsEmitter{findings: make(map[findingKey]struct{})}

	var err error
	e.findingsTotal, err = meter.Int64Counter(
		"cloudmark.findings",
		metric.WithDescription("Events emitted, by cloud and finding"),
	)
	if err != nil {
		return nil, fmt.Errorf("create findings counter: %w", err)
	}

	// One series per distinct finding seen during the run
	e.findingInfo, err = meter.Int64ObservableGauge(
		"cloudmark.finding.info",
		metric.WithDescription("Findings generated during this run"),
		metric.WithInt64Callback(e.observeFindings),
	)
	if err != nil {
		return nil, fmt.Errorf("create finding_info gauge: %w", err)
	}

	return e, nil
}

// Emit counts the event.
func (e *MetricsEmitter) Emit(ctx context.Context, event record.Record) error {
	com, _ := event.Bucket(record.Com)
	cloud, _ := record.Str(com, record.KeyCloudType)
	tag, _ := record.Str(com, record.KeyRecordType)

	e.findingsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cloud_type", cloud),
		attribute.String("finding", tag),
	))

	e.mu.Lock()
	e.findings[findingKey{
		cloudType: cloud,
		tag:       tag,
		reference: record.Text(com[record.KeyReference]),
	}] = struct{}{}
	e.mu.Unlock()

	return nil
}

func (e *MetricsEmitter) observeFindings(_ context.Context, o metric.Int64Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for k := range e.findings {
		o.Observe(1, metric.WithAttributes(
			attribute.String("cloud_type", k.cloudType),
			attribute.String("finding", k.tag),
			attribute.String("reference", k.reference),
		))
	}
	return nil
}

// Close is a no-op for the metrics emitter.
func (e *MetricsEmitter) Close() error {
	return nil
}
