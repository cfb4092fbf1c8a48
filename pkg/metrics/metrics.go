/*
Copyright 2023-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package metrics

import (
	"context"
	"time"

	"github.com/couchbaselabs/ravenclient/utils/buildversion"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "com.couchbaselabs.ravenclient"

var buildVersion string = buildversion.GetVersion("github.com/couchbaselabs/ravenclient")

type ClientMetrics struct {
	Requests        metric.Int64Counter
	RequestFailures metric.Int64Counter
	RequestDuration metric.Float64Histogram
	TopologyUpdates metric.Int64Counter
	StaleTopologies metric.Int64Counter
	Executors       metric.Int64UpDownCounter
}

// NewClientMetrics creates the client instruments from meterProvider.  A nil
// provider produces no-op instruments.
func NewClientMetrics(meterProvider metric.MeterProvider) *ClientMetrics {
	if meterProvider == nil {
		meterProvider = noop.NewMeterProvider()
	}

	meter := meterProvider.Meter(
		instrumentationName,
		metric.WithInstrumentationVersion(buildVersion))

	requests, _ := meter.Int64Counter("ravendb_client_requests_total",
		metric.WithDescription("requests dispatched to a database node"))
	requestFailures, _ := meter.Int64Counter("ravendb_client_request_failures_total",
		metric.WithDescription("requests which failed to reach a database node"))
	requestDuration, _ := meter.Float64Histogram("ravendb_client_request_duration_seconds",
		metric.WithUnit("s"))
	topologyUpdates, _ := meter.Int64Counter("ravendb_client_topology_updates_total",
		metric.WithDescription("topologies accepted by a request executor"))
	staleTopologies, _ := meter.Int64Counter("ravendb_client_stale_topology_signals_total",
		metric.WithDescription("responses which indicated the client topology was stale"))
	executors, _ := meter.Int64UpDownCounter("ravendb_client_request_executors")

	return &ClientMetrics{
		Requests:        requests,
		RequestFailures: requestFailures,
		RequestDuration: requestDuration,
		TopologyUpdates: topologyUpdates,
		StaleTopologies: staleTopologies,
		Executors:       executors,
	}
}

func (m *ClientMetrics) RecordRequest(ctx context.Context, database, clusterTag string, statusCode int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("database", database),
		attribute.String("node", clusterTag),
		attribute.Int("status", statusCode))

	m.Requests.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, duration.Seconds(), attrs)
}

func (m *ClientMetrics) RecordRequestFailure(ctx context.Context, database, clusterTag string) {
	m.RequestFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("database", database),
		attribute.String("node", clusterTag)))
}

func (m *ClientMetrics) RecordTopologyUpdate(ctx context.Context, database string) {
	m.TopologyUpdates.Add(ctx, 1, metric.WithAttributes(
		attribute.String("database", database)))
}

func (m *ClientMetrics) RecordStaleTopology(ctx context.Context, database string) {
	m.StaleTopologies.Add(ctx, 1, metric.WithAttributes(
		attribute.String("database", database)))
}
