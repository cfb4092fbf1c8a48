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
	"math/rand"
	"net/http"
	"net/url"

	"github.com/couchbaselabs/ravenclient/common/topology"
	"github.com/couchbaselabs/ravenclient/pkg/metrics"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type documentStoreActorOptions struct {
	Database       string
	SeedURLs       []*url.URL
	HttpClient     *http.Client
	Conventions    Conventions
	Logger         *zap.Logger
	Metrics        *metrics.ClientMetrics
	TracerProvider trace.TracerProvider
	InboxCh        <-chan storeMessage
	CloseCh        <-chan struct{}
}

type documentStoreActor struct {
	logger         *zap.Logger
	database       string
	seedURLs       []*url.URL
	httpClient     *http.Client
	conventions    Conventions
	metrics        *metrics.ClientMetrics
	tracerProvider trace.TracerProvider
	dispatcher     *requestDispatcher
	intn           func(n int) int

	inboxCh   <-chan storeMessage
	selfCh    chan storeMessage
	closeCh   <-chan struct{}
	doneCh    chan struct{}
	ctx       context.Context
	ctxCancel func()

	executors map[string]*RequestExecutor
	topology  *topology.Topology
}

func newDocumentStoreActor(opts *documentStoreActorOptions) *documentStoreActor {
	ctx, ctxCancel := context.WithCancel(context.Background())

	a := &documentStoreActor{
		logger:         opts.Logger,
		database:       opts.Database,
		seedURLs:       opts.SeedURLs,
		httpClient:     opts.HttpClient,
		conventions:    opts.Conventions,
		metrics:        opts.Metrics,
		tracerProvider: opts.TracerProvider,
		dispatcher: newRequestDispatcher(requestDispatcherOptions{
			HttpClient:     opts.HttpClient,
			TracerProvider: opts.TracerProvider,
			Metrics:        opts.Metrics,
			Logger:         opts.Logger,
		}),
		intn:      rand.Intn,
		inboxCh:   opts.InboxCh,
		selfCh:    make(chan storeMessage, 64),
		closeCh:   opts.CloseCh,
		doneCh:    make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		executors: make(map[string]*RequestExecutor),
		topology:  topology.NewSyntheticTopology(opts.SeedURLs),
	}

	go a.procThread()

	return a
}

func (a *documentStoreActor) procThread() {
MainLoop:
	for {
		select {
		case msg := <-a.selfCh:
			a.handleMessage(msg)
		case msg := <-a.inboxCh:
			a.handleMessage(msg)
		case <-a.closeCh:
			break MainLoop
		}
	}

	a.ctxCancel()

	for database, executor := range a.executors {
		a.logger.Debug("closing request executor", zap.String("database", database))
		executor.Close()
	}
	a.executors = nil

	a.logger.Debug("document store closed")
	close(a.doneCh)
}

func (a *documentStoreActor) sendSelf(msg storeMessage) {
	select {
	case a.selfCh <- msg:
	case <-a.doneCh:
	}
}

func (a *documentStoreActor) handleMessage(msg storeMessage) {
	switch msg := msg.(type) {
	case *getRequestExecutorMsg:
		executor, err := a.getRequestExecutor(msg.database)
		msg.replyCh <- getRequestExecutorResult{executor: executor, err: err}
	case *getServerNodeMsg:
		msg.replyCh <- a.randomServerNode()
	case *getClusterTopologyMsg:
		msg.replyCh <- a.topology.Clone()
	case *getDatabaseMsg:
		msg.replyCh <- a.database
	case *executeServerCommandMsg:
		a.handleExecuteServerCommand(msg)
	case *executorTopologyUpdatedMsg:
		a.handleExecutorTopologyUpdated(msg)
	case *serverTopologyStaleMsg:
		a.handleServerTopologyStale(msg)
	default:
		a.logger.Warn("unexpected store message")
	}
}

func (a *documentStoreActor) getRequestExecutor(database string) (*RequestExecutor, error) {
	if database == "" {
		database = a.database
	}
	if database == "" {
		return nil, ErrNoDatabaseSpecified
	}

	if executor, ok := a.executors[database]; ok {
		return executor, nil
	}

	a.logger.Debug("creating request executor", zap.String("database", database))

	executor := NewRequestExecutor(RequestExecutorOptions{
		Database:          database,
		SeedURLs:          a.seedURLs,
		HttpClient:        a.httpClient,
		Conventions:       a.conventions,
		Logger:            a.logger,
		Metrics:           a.metrics,
		TracerProvider:    a.tracerProvider,
		OnTopologyUpdated: a.executorTopologyUpdated,
	})
	a.executors[database] = executor

	return executor, nil
}

// executorTopologyUpdated is invoked on the executor's goroutine, so it only
// forwards the update to the store's own goroutine.
func (a *documentStoreActor) executorTopologyUpdated(database string, t *topology.DatabaseTopology) {
	go a.sendSelf(&executorTopologyUpdatedMsg{
		database: database,
		topology: t,
	})
}

func (a *documentStoreActor) handleExecutorTopologyUpdated(msg *executorTopologyUpdatedMsg) {
	if msg.topology.Len() == 0 || msg.topology.Etag <= a.topology.Etag {
		return
	}

	a.topology = msg.topology.ToTopology()

	a.logger.Debug("cluster topology updated",
		zap.String("database", msg.database),
		zap.Int64("etag", a.topology.Etag),
		zap.Int("nodes", len(a.topology.Nodes)))
}

func (a *documentStoreActor) randomServerNode() *topology.ServerNode {
	if len(a.topology.Nodes) == 0 {
		return nil
	}
	return a.topology.Nodes[a.intn(len(a.topology.Nodes))].Clone()
}

func (a *documentStoreActor) handleExecuteServerCommand(msg *executeServerCommandMsg) {
	node := a.randomServerNode()
	if node == nil {
		msg.replyCh <- executeResult{err: noNodeError("", nil)}
		return
	}

	etag := a.topology.Etag

	go func() {
		resp, err := a.dispatcher.Do(msg.ctx, "", node, msg.variant, etag)
		if err == nil && resp.TopologyStale {
			a.sendSelf(&serverTopologyStaleMsg{node: node})
		}
		msg.replyCh <- executeResult{resp: resp, err: err}
	}()
}

// handleServerTopologyStale forwards a stale topology signal seen on a server
// command to every executor, the store topology follows from their refreshes.
func (a *documentStoreActor) handleServerTopologyStale(msg *serverTopologyStaleMsg) {
	a.metrics.RecordStaleTopology(a.ctx, "")

	a.logger.Debug("server indicated the cluster topology is stale",
		zap.String("node", nodeURL(msg.node)))

	for _, executor := range a.executors {
		go func(executor *RequestExecutor) {
			err := executor.RequestTopologyRefresh(a.ctx)
			if err != nil {
				a.logger.Debug("failed to request topology refresh", zap.Error(err))
			}
		}(executor)
	}
}
