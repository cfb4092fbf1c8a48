/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"time"

	"github.com/couchbaselabs/ravenclient/common/ravencommand"
	"github.com/couchbaselabs/ravenclient/common/topology"
	"github.com/couchbaselabs/ravenclient/pkg/metrics"
	"github.com/couchbaselabs/ravenclient/utils/buildversion"
	"go.opentelemetry.io/contrib/instrumentation/net/http/httptrace/otelhttptrace"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	TopologyEtagHeader    = "Topology-Etag"
	RefreshTopologyHeader = "Refresh-Topology"
	ClientVersionHeader   = "Raven-Client-Version"
)

const tracerName = "com.couchbaselabs.ravenclient"

var buildVersion string = buildversion.GetVersion("github.com/couchbaselabs/ravenclient")

// Response is a fully read response from a node.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Node       *topology.ServerNode
	Duration   time.Duration

	// TopologyStale is set when the node indicated that the topology etag
	// sent with the request is out of date.
	TopologyStale bool
}

type requestDispatcherOptions struct {
	HttpClient     *http.Client
	TracerProvider trace.TracerProvider
	Metrics        *metrics.ClientMetrics
	Logger         *zap.Logger
}

// requestDispatcher performs a single command against a single node.  It
// knows nothing about topologies beyond the etag it is asked to send.
type requestDispatcher struct {
	httpClient     *http.Client
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	metrics        *metrics.ClientMetrics
	logger         *zap.Logger
}

func newRequestDispatcher(opts requestDispatcherOptions) *requestDispatcher {
	return &requestDispatcher{
		httpClient:     opts.HttpClient,
		tracerProvider: opts.TracerProvider,
		tracer:         opts.TracerProvider.Tracer(tracerName, trace.WithInstrumentationVersion(buildVersion)),
		metrics:        opts.Metrics,
		logger:         opts.Logger,
	}
}

func (d *requestDispatcher) Do(
	ctx context.Context,
	database string,
	node *topology.ServerNode,
	variant ravencommand.Variant,
	etag int64,
) (*Response, error) {
	ctx, span := d.tracer.Start(ctx, "ravendb."+variant.Name(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "ravendb"),
			attribute.String("db.name", database),
			attribute.String("server.address", node.URL.Host),
			attribute.String("ravendb.node.tag", node.ClusterTag),
			attribute.Int64("ravendb.topology.etag", etag),
		))
	defer span.End()

	resp, err := d.do(ctx, database, node, variant, etag)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	return resp, nil
}

func (d *requestDispatcher) do(
	ctx context.Context,
	database string,
	node *topology.ServerNode,
	variant ravencommand.Variant,
	etag int64,
) (*Response, error) {
	req, err := ravencommand.New(node.URL, variant).HTTPRequest(ctx)
	if err != nil {
		return nil, requestBuildError(err)
	}

	req.Header.Set(TopologyEtagHeader, strconv.FormatInt(etag, 10))
	req.Header.Set(ClientVersionHeader, buildVersion)

	traceCtx := httptrace.WithClientTrace(ctx,
		otelhttptrace.NewClientTrace(ctx, otelhttptrace.WithTracerProvider(d.tracerProvider)))
	req = req.WithContext(traceCtx)

	start := time.Now()
	httpResp, err := d.httpClient.Do(req)
	if err != nil {
		d.metrics.RecordRequestFailure(ctx, database, node.ClusterTag)
		return nil, &TransportError{URL: nodeURL(node), Cause: err}
	}

	body, err := io.ReadAll(httpResp.Body)

	// make sure the body is closed
	closeErr := httpResp.Body.Close()
	if closeErr != nil {
		d.logger.Debug("unexpected close error", zap.Error(closeErr))
	}

	if err != nil {
		d.metrics.RecordRequestFailure(ctx, database, node.ClusterTag)
		return nil, &TransportError{URL: nodeURL(node), Cause: err}
	}

	duration := time.Since(start)
	d.metrics.RecordRequest(ctx, database, node.ClusterTag, httpResp.StatusCode, duration)

	return &Response{
		StatusCode:    httpResp.StatusCode,
		Header:        httpResp.Header,
		Body:          body,
		Node:          node.Clone(),
		Duration:      duration,
		TopologyStale: strings.EqualFold(strings.TrimSpace(httpResp.Header.Get(RefreshTopologyHeader)), "true"),
	}, nil
}
