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
	"net/http"
	"net/url"
	"sync"

	"github.com/couchbaselabs/ravenclient/common/ravencommand"
	"github.com/couchbaselabs/ravenclient/common/topology"
	"github.com/couchbaselabs/ravenclient/pkg/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

type ExecutorState int

const (
	ExecutorStateUninitialized ExecutorState = iota
	ExecutorStateTopologyPending
	ExecutorStateReady
	ExecutorStateClosed
)

func (s ExecutorState) String() string {
	switch s {
	case ExecutorStateUninitialized:
		return "uninitialized"
	case ExecutorStateTopologyPending:
		return "topology-pending"
	case ExecutorStateReady:
		return "ready"
	case ExecutorStateClosed:
		return "closed"
	}
	return "unknown"
}

type RequestExecutorOptions struct {
	Database    string
	SeedURLs    []*url.URL
	HttpClient  *http.Client
	Conventions Conventions

	Logger         *zap.Logger
	Metrics        *metrics.ClientMetrics
	TracerProvider trace.TracerProvider

	// OnTopologyUpdated is called from the executor with a copy of every
	// topology it accepts.  It must not block.
	OnTopologyUpdated func(database string, t *topology.DatabaseTopology)
}

// RequestExecutor is a handle to the executor for a single database.  Handles
// are safe for concurrent use and may be shared freely, they all talk to the
// same executor.
//
// Requests made before the first topology discovery has finished are queued
// and dispatched once it completes.  A request is sent to exactly one node: a
// transport failure is reported to the caller and counted against the node,
// callers wanting failover simply execute the request again.
type RequestExecutor struct {
	database                  string
	applicationID             uuid.UUID
	sendApplicationIdentifier bool

	inboxCh   chan<- executorMessage
	closeCh   chan struct{}
	closeOnce sync.Once
	doneCh    <-chan struct{}
}

func NewRequestExecutor(opts RequestExecutorOptions) *RequestExecutor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	clientMetrics := opts.Metrics
	if clientMetrics == nil {
		clientMetrics = metrics.NewClientMetrics(nil)
	}

	tracerProvider := opts.TracerProvider
	if tracerProvider == nil {
		tracerProvider = tracenoop.NewTracerProvider()
	}

	httpClient := opts.HttpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	inboxCh := make(chan executorMessage)
	closeCh := make(chan struct{})
	applicationID := uuid.New()

	actor := newRequestExecutorActor(&requestExecutorActorOptions{
		Database:      opts.Database,
		ApplicationID: applicationID,
		SeedURLs:      opts.SeedURLs,
		Conventions:   opts.Conventions.withDefaults(),
		Dispatcher: newRequestDispatcher(requestDispatcherOptions{
			HttpClient:     httpClient,
			TracerProvider: tracerProvider,
			Metrics:        clientMetrics,
			Logger:         logger,
		}),
		Logger:            logger.Named("request-executor").With(zap.String("database", opts.Database)),
		Metrics:           clientMetrics,
		OnTopologyUpdated: opts.OnTopologyUpdated,
		InboxCh:           inboxCh,
		CloseCh:           closeCh,
	})

	return &RequestExecutor{
		database:                  opts.Database,
		applicationID:             applicationID,
		sendApplicationIdentifier: opts.Conventions.SendApplicationIdentifier,
		inboxCh:                   inboxCh,
		closeCh:                   closeCh,
		doneCh:                    actor.doneCh,
	}
}

func (e *RequestExecutor) Database() string {
	return e.database
}

// ApplicationID identifies this executor to the server when application
// identifiers are enabled.
func (e *RequestExecutor) ApplicationID() uuid.UUID {
	return e.applicationID
}

// Execute sends the command to a node chosen by the executor.
func (e *RequestExecutor) Execute(ctx context.Context, variant ravencommand.Variant) (*Response, error) {
	return e.execute(ctx, nil, variant)
}

// ExecuteOnNode sends the command to a specific node, bypassing node selection.
func (e *RequestExecutor) ExecuteOnNode(ctx context.Context, node *topology.ServerNode, variant ravencommand.Variant) (*Response, error) {
	return e.execute(ctx, node, variant)
}

func (e *RequestExecutor) execute(ctx context.Context, node *topology.ServerNode, variant ravencommand.Variant) (*Response, error) {
	if variant == nil {
		return nil, requestBuildError(ravencommand.ErrMissingVariant)
	}

	res, err := roundTrip(ctx, e.inboxCh, e.doneCh, func(replyCh chan executeResult) executorMessage {
		return &executeMsg{
			ctx:           ctx,
			correlationID: uuid.New(),
			variant:       variant,
			node:          node,
			replyCh:       replyCh,
		}
	})
	if err != nil {
		return nil, err
	}

	return res.resp, res.err
}

// Topology returns a copy of the executor's current topology.
func (e *RequestExecutor) Topology(ctx context.Context) (*topology.DatabaseTopology, error) {
	return roundTrip(ctx, e.inboxCh, e.doneCh, func(replyCh chan *topology.DatabaseTopology) executorMessage {
		return &getTopologyMsg{replyCh: replyCh}
	})
}

func (e *RequestExecutor) State(ctx context.Context) (ExecutorState, error) {
	state, err := roundTrip(ctx, e.inboxCh, e.doneCh, func(replyCh chan ExecutorState) executorMessage {
		return &getStateMsg{replyCh: replyCh}
	})
	if err == ErrActorUnavailable {
		return ExecutorStateClosed, nil
	}
	return state, err
}

// WaitReady blocks until the first topology discovery has completed.  It
// returns the discovery error when no node could be found at all.
func (e *RequestExecutor) WaitReady(ctx context.Context) error {
	discoveryErr, err := roundTrip(ctx, e.inboxCh, e.doneCh, func(replyCh chan error) executorMessage {
		return &waitReadyMsg{replyCh: replyCh}
	})
	if err != nil {
		return err
	}
	return discoveryErr
}

// RequestTopologyRefresh asks the executor to refresh its topology.  It does
// nothing when a refresh is already running or topology updates are disabled.
func (e *RequestExecutor) RequestTopologyRefresh(ctx context.Context) error {
	_, err := roundTrip(ctx, e.inboxCh, e.doneCh, func(replyCh chan struct{}) executorMessage {
		return &refreshTopologyMsg{replyCh: replyCh}
	})
	return err
}

// WatchTopology returns a channel receiving every topology the executor
// accepts from now on, starting with the current one if it is ready.  Slow
// readers only see the latest topology.  The channel is closed once ctx is
// done or the executor is closed.
func (e *RequestExecutor) WatchTopology(ctx context.Context) (<-chan *topology.DatabaseTopology, error) {
	return roundTrip(ctx, e.inboxCh, e.doneCh, func(replyCh chan (<-chan *topology.DatabaseTopology)) executorMessage {
		return &watchTopologyMsg{ctx: ctx, replyCh: replyCh}
	})
}

// Close stops the executor and waits for it to exit.  Requests already handed
// to a node are not cancelled.
func (e *RequestExecutor) Close() {
	e.closeOnce.Do(func() {
		close(e.closeCh)
	})
	<-e.doneCh
}
