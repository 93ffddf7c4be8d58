package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

func collect(t *testing.T, r *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, r.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestExecutionMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := NewExecutionMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordExecution(ctx, domain.ModeTWAP, "alpha", true, 250*time.Millisecond, 0.001)
	m.RecordExecution(ctx, domain.ModeDirect, "alpha", false, time.Millisecond, 0)
	m.RecordSubmission(ctx, "alpha", 1, nil)
	m.RecordSubmission(ctx, "alpha", 3, errors.New("rejected"))
	m.RecordVeto(ctx, "BTC/USDT", domain.RiskCritical)

	data := collect(t, reader)

	executions, ok := data["smartexec.executions"].(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range executions.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)

	slip, ok := data["smartexec.execution.slippage"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, slip.DataPoints, 1)
	assert.Equal(t, uint64(1), slip.DataPoints[0].Count)

	subs, ok := data["smartexec.submissions"].(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, subs.DataPoints, 2)

	vetoes, ok := data["smartexec.risk_vetoes"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, vetoes.DataPoints, 1)
	assert.Equal(t, int64(1), vetoes.DataPoints[0].Value)
}

func TestNoopClientWithoutEndpoint(t *testing.T) {
	c, err := New(context.Background(), Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	m, err := NewExecutionMetrics(c.Meter())
	require.NoError(t, err)
	m.RecordVeto(context.Background(), "BTC/USDT", domain.RiskHigh)

	_, span := c.Tracer().Start(context.Background(), "noop")
	span.End()
	assert.NoError(t, c.Shutdown(context.Background()))
}
