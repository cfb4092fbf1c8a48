package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestClientMetricsNoopProvider(t *testing.T) {
	m := NewClientMetrics(nil)
	m.RecordRequest(context.Background(), "db", "A", 200, time.Millisecond)
	m.RecordRequestFailure(context.Background(), "db", "A")
}

func TestClientMetricsRecords(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m := NewClientMetrics(provider)
	m.RecordRequest(context.Background(), "db", "A", 200, 5*time.Millisecond)
	m.RecordRequest(context.Background(), "db", "A", 200, 7*time.Millisecond)
	m.RecordTopologyUpdate(context.Background(), "db")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	found := map[string]metricdata.Aggregation{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		found[m.Name] = m.Data
	}

	requests, ok := found["ravendb_client_requests_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, requests.DataPoints, 1)
	assert.Equal(t, int64(2), requests.DataPoints[0].Value)

	updates, ok := found["ravendb_client_topology_updates_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(1), updates.DataPoints[0].Value)
}
