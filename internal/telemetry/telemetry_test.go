package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/cloudmark/internal/config"
)

func disabledConfig() config.OTELConfig {
	return config.OTELConfig{
		ServiceName: "test-cloudmark",
		Traces:      config.TracesConfig{Enabled: false},
		Metrics:     config.MetricsConfig{Enabled: false},
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), disabledConfig())
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.NotNil(t, p.Meter())
	assert.Nil(t, p.Handler())

	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_WithEndpoint(t *testing.T) {
	cfg := config.OTELConfig{
		Endpoint:    "localhost:4317",
		Insecure:    true,
		ServiceName: "test-cloudmark",
		Traces:      config.TracesConfig{Enabled: true, SampleRate: 1.0},
		Metrics:     config.MetricsConfig{Enabled: true},
	}

	// Provider setup should succeed even without a real collector
	p, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Shutdown may fail due to no collector
	_ = p.Shutdown(ctx)
}

func TestProvider_StartSpan(t *testing.T) {
	p, err := NewProvider(context.Background(), disabledConfig())
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	ctx, span := p.StartSpan(context.Background(), "test-operation")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}

func TestProvider_RecordRuleEvaluation(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	p, err := NewProvider(context.Background(), disabledConfig(), WithReader(reader))
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	ctx := context.Background()
	p.RecordRuleEvaluation(ctx, "az_postgres_log_connections", 1, 5*time.Millisecond)
	p.RecordRuleEvaluation(ctx, "az_postgres_log_connections", 0, time.Millisecond)
	p.RecordEvaluated(ctx)
	p.RecordEvaluated(ctx)
	p.RecordMalformed(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}

	events := byName["cloudmark.events"].Data.(metricdata.Sum[int64])
	require.Len(t, events.DataPoints, 1)
	assert.Equal(t, int64(1), events.DataPoints[0].Value)
	assert.Contains(t, events.DataPoints[0].Attributes.ToSlice(),
		attribute.String("rule", "az_postgres_log_connections"))

	evaluated := byName["cloudmark.records.evaluated"].Data.(metricdata.Sum[int64])
	require.Len(t, evaluated.DataPoints, 1)
	assert.Equal(t, int64(2), evaluated.DataPoints[0].Value)

	malformed := byName["cloudmark.records.malformed"].Data.(metricdata.Sum[int64])
	require.Len(t, malformed.DataPoints, 1)
	assert.Equal(t, int64(1), malformed.DataPoints[0].Value)

	duration := byName["cloudmark.evaluation.duration"].Data.(metricdata.Histogram[float64])
	require.Len(t, duration.DataPoints, 1)
	assert.Equal(t, uint64(2), duration.DataPoints[0].Count)
}

func TestProvider_PrometheusHandler(t *testing.T) {
	p, err := NewProvider(context.Background(), disabledConfig(), WithPrometheus())
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	p.RecordEvaluated(context.Background())

	h := p.Handler()
	require.NotNil(t, h)

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "cloudmark_records_evaluated")
}

func TestProvider_PrometheusTwice(t *testing.T) {
	// private registries, so two providers never collide
	for range 2 {
		p, err := NewProvider(context.Background(), disabledConfig(), WithPrometheus())
		require.NoError(t, err)
		require.NoError(t, p.Shutdown(context.Background()))
	}
}
