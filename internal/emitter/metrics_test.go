package emitter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/cloudmark/pkg/record"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetricsEmitter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	e, err := NewMetricsEmitter(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Emit(ctx, sampleEvent()))
	require.NoError(t, e.Emit(ctx, sampleEvent()))
	other := sampleEvent()
	other["com"].(map[string]any)["reference"] = "db2"
	require.NoError(t, e.Emit(ctx, other))
	require.NoError(t, e.Close())

	metrics := collect(t, reader)

	findings, ok := metrics["cloudmark.findings"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, findings.DataPoints, 1)
	assert.Equal(t, int64(3), findings.DataPoints[0].Value)
	finding, _ := findings.DataPoints[0].Attributes.Value("finding")
	assert.Equal(t, "postgres_log_connections_event", finding.AsString())

	info, ok := metrics["cloudmark.finding.info"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Len(t, info.DataPoints, 2)
}

func TestMetricsEmitter_OddEvent(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	e, err := NewMetricsEmitter(mp.Meter("test"))
	require.NoError(t, err)

	require.NoError(t, e.Emit(context.Background(), record.Record{"com": "not a map"}))

	findings, ok := collect(t, reader)["cloudmark.findings"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, findings.DataPoints, 1)
	cloud, _ := findings.DataPoints[0].Attributes.Value("cloud_type")
	assert.Equal(t, "", cloud.AsString())
}
