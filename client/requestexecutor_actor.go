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
	"errors"
	"net/url"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/couchbaselabs/ravenclient/common/ravencommand"
	"github.com/couchbaselabs/ravenclient/common/topology"
	"github.com/couchbaselabs/ravenclient/pkg/metrics"
	"github.com/couchbaselabs/ravenclient/utils/latestonlychannel"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type requestExecutorActorOptions struct {
	Database          string
	ApplicationID     uuid.UUID
	SeedURLs          []*url.URL
	Conventions       Conventions
	Dispatcher        *requestDispatcher
	Logger            *zap.Logger
	Metrics           *metrics.ClientMetrics
	OnTopologyUpdated func(database string, t *topology.DatabaseTopology)
	InboxCh           <-chan executorMessage
	CloseCh           <-chan struct{}
}

type topologyPipe = latestonlychannel.Pipe[*topology.DatabaseTopology]

// requestExecutorActor owns all of the state of a request executor.  Every
// field below is only touched from procThread, network calls are made from
// separate goroutines which report back over selfCh.
type requestExecutorActor struct {
	database          string
	applicationID     uuid.UUID
	seedURLs          []*url.URL
	conventions       Conventions
	dispatcher        *requestDispatcher
	logger            *zap.Logger
	metrics           *metrics.ClientMetrics
	onTopologyUpdated func(database string, t *topology.DatabaseTopology)

	inboxCh   <-chan executorMessage
	selfCh    chan executorMessage
	closeCh   <-chan struct{}
	doneCh    chan struct{}
	ctx       context.Context
	ctxCancel func()

	state             ExecutorState
	topology          *topology.DatabaseTopology
	selector          NodeSelectionPolicy
	topologyTakenFrom *topology.ServerNode
	discoveryErr      error
	refreshInFlight   bool

	pending      []*executeMsg
	readyWaiters []chan error
	watchers     map[*topologyPipe]struct{}
}

func newRequestExecutorActor(opts *requestExecutorActorOptions) *requestExecutorActor {
	ctx, ctxCancel := context.WithCancel(context.Background())

	emptyTopology := topology.NewDatabaseTopology(topology.SyntheticEtag, nil)

	a := &requestExecutorActor{
		database:          opts.Database,
		applicationID:     opts.ApplicationID,
		seedURLs:          opts.SeedURLs,
		conventions:       opts.Conventions,
		dispatcher:        opts.Dispatcher,
		logger:            opts.Logger,
		metrics:           opts.Metrics,
		onTopologyUpdated: opts.OnTopologyUpdated,
		inboxCh:           opts.InboxCh,
		selfCh:            make(chan executorMessage, 64),
		closeCh:           opts.CloseCh,
		doneCh:            make(chan struct{}),
		ctx:               ctx,
		ctxCancel:         ctxCancel,
		state:             ExecutorStateUninitialized,
		topology:          emptyTopology,
		selector:          opts.Conventions.NodeSelectorFactory(emptyTopology),
		watchers:          make(map[*topologyPipe]struct{}),
	}

	// discovery is queued before the handle is returned, ahead of any
	// request a caller could make
	a.selfCh <- &initializeTopologyMsg{}

	a.init()
	return a
}

func (a *requestExecutorActor) init() {
	a.metrics.Executors.Add(a.ctx, 1)
	go a.procThread()
}

func (a *requestExecutorActor) procThread() {
	var refreshCh, revalidateCh <-chan time.Time
	if !a.conventions.DisableTopologyUpdates {
		refreshTicker := time.NewTicker(a.conventions.TopologyRefreshInterval)
		defer refreshTicker.Stop()
		revalidateTicker := time.NewTicker(a.conventions.TopologyRevalidationInterval)
		defer revalidateTicker.Stop()

		refreshCh = refreshTicker.C
		revalidateCh = revalidateTicker.C
	}

MainLoop:
	for {
		select {
		case msg := <-a.selfCh:
			a.handleMessage(msg)
		case msg := <-a.inboxCh:
			a.handleMessage(msg)
		case <-refreshCh:
			a.triggerRefresh(nil, "periodic refresh")
		case <-revalidateCh:
			a.handleRevalidateTick()
		case <-a.closeCh:
			break MainLoop
		}
	}

	a.shutdown()
}

func (a *requestExecutorActor) shutdown() {
	a.ctxCancel()
	a.state = ExecutorStateClosed

	for _, msg := range a.pending {
		msg.replyCh <- executeResult{err: ErrActorUnavailable}
	}
	a.pending = nil

	for _, waiter := range a.readyWaiters {
		waiter <- ErrActorUnavailable
	}
	a.readyWaiters = nil

	for pipe := range a.watchers {
		pipe.Close()
	}
	a.watchers = nil

	a.metrics.Executors.Add(context.Background(), -1)
	a.logger.Debug("request executor closed")

	close(a.doneCh)
}

// sendSelf is used by the goroutines spawned by the actor.  It must never be
// called from procThread itself.
func (a *requestExecutorActor) sendSelf(msg executorMessage) {
	select {
	case a.selfCh <- msg:
	case <-a.doneCh:
	}
}

func (a *requestExecutorActor) handleMessage(msg executorMessage) {
	switch msg := msg.(type) {
	case *executeMsg:
		a.handleExecute(msg)
	case *getTopologyMsg:
		msg.replyCh <- a.topology.Clone()
	case *getStateMsg:
		msg.replyCh <- a.state
	case *waitReadyMsg:
		if a.state == ExecutorStateReady {
			msg.replyCh <- a.discoveryErr
		} else {
			a.readyWaiters = append(a.readyWaiters, msg.replyCh)
		}
	case *refreshTopologyMsg:
		a.triggerRefresh(nil, "refresh requested")
		msg.replyCh <- struct{}{}
	case *watchTopologyMsg:
		a.handleWatchTopology(msg)
	case *initializeTopologyMsg:
		a.handleInitialize()
	case *discoveryCompleteMsg:
		a.handleDiscoveryComplete(msg)
	case *updateTopologyMsg:
		a.triggerRefresh(msg.node, msg.reason)
	case *refreshCompleteMsg:
		a.handleRefreshComplete(msg)
	case *nodeFailedMsg:
		failures := a.topology.RecordFailure(msg.node.Key())
		a.logger.Debug("request to node failed",
			zap.String("node", nodeURL(msg.node)),
			zap.Uint32("failures", failures),
			zap.Error(msg.err))
	case *nodeRespondedMsg:
		a.topology.ResetFailures(msg.node.Key())
		a.topology.RecordResponseTime(msg.node.Key(), msg.duration)
	case *unwatchTopologyMsg:
		if _, ok := a.watchers[msg.pipe]; ok {
			delete(a.watchers, msg.pipe)
			msg.pipe.Close()
		}
	default:
		a.logger.Warn("unexpected executor message")
	}
}

func (a *requestExecutorActor) handleInitialize() {
	if a.state != ExecutorStateUninitialized {
		return
	}

	a.state = ExecutorStateTopologyPending
	a.refreshInFlight = true
	go a.runDiscovery()
}

func (a *requestExecutorActor) runDiscovery() {
	dbTopology, takenFrom, err := a.discover(a.ctx)
	a.sendSelf(&discoveryCompleteMsg{
		topology:  dbTopology,
		takenFrom: takenFrom,
		err:       err,
	})
}

// discover asks each seed in turn for the cluster topology, the first answer
// wins.  When no seed answers the seeds themselves are used as the topology.
func (a *requestExecutorActor) discover(ctx context.Context) (*topology.DatabaseTopology, *topology.ServerNode, error) {
	var seedErrs []SeedError
	for _, seedURL := range a.seedURLs {
		seedNode := topology.NewServerNode(seedURL, a.database, topology.UnknownClusterTag, topology.ServerRoleNone)

		dbTopology, err := a.fetchTopology(ctx, seedNode, topology.SyntheticEtag)
		if err != nil {
			a.logger.Warn("failed to fetch topology from seed",
				zap.String("url", seedURL.String()),
				zap.Error(err))

			seedErrs = append(seedErrs, SeedError{URL: seedURL.String(), Err: err})
			continue
		}

		return dbTopology, seedNode, nil
	}

	if len(a.seedURLs) > 0 {
		a.logger.Warn("no seed returned a topology, using the seed urls as the topology",
			zap.Int("seeds", len(a.seedURLs)))

		return topology.NewSyntheticDatabaseTopology(a.database, a.seedURLs), nil, nil
	}

	return nil, nil, &DiscoveryError{SeedErrors: seedErrs}
}

func (a *requestExecutorActor) handleDiscoveryComplete(msg *discoveryCompleteMsg) {
	a.refreshInFlight = false

	if msg.err != nil {
		a.logger.Error("failed to discover topology", zap.Error(msg.err))
		if a.state != ExecutorStateReady {
			a.discoveryErr = msg.err
		}
	} else {
		a.applyTopology(msg.topology, msg.takenFrom, "discovery")
	}

	if a.state != ExecutorStateReady {
		a.becomeReady()
	}
}

func (a *requestExecutorActor) becomeReady() {
	a.state = ExecutorStateReady

	for _, waiter := range a.readyWaiters {
		waiter <- a.discoveryErr
	}
	a.readyWaiters = nil

	pending := a.pending
	a.pending = nil
	if len(pending) > 0 {
		a.logger.Debug("dispatching queued requests", zap.Int("count", len(pending)))
	}
	for _, msg := range pending {
		a.handleExecute(msg)
	}
}

func (a *requestExecutorActor) applyTopology(candidate *topology.DatabaseTopology, takenFrom *topology.ServerNode, source string) bool {
	if !a.topology.IsSupersededBy(candidate) {
		a.logger.Debug("ignoring topology which is not newer than the current one",
			zap.String("source", source),
			zap.Int64("currentEtag", a.topology.Etag),
			zap.Int64("etag", candidate.Etag))
		return false
	}

	a.topology = candidate
	a.selector = a.conventions.NodeSelectorFactory(candidate)
	a.topologyTakenFrom = takenFrom
	a.discoveryErr = nil

	a.metrics.RecordTopologyUpdate(a.ctx, a.database)
	a.logger.Info("topology updated",
		zap.String("source", source),
		zap.Int64("etag", candidate.Etag),
		zap.Int("nodes", candidate.Len()),
		zap.String("takenFrom", nodeURL(takenFrom)))

	for pipe := range a.watchers {
		pipe.Send(candidate.Clone())
	}

	if a.onTopologyUpdated != nil {
		a.onTopologyUpdated(a.database, candidate.Clone())
	}

	return true
}

func (a *requestExecutorActor) selectNode() *topology.ServerNode {
	if a.conventions.ReadBalanceBehavior == ReadBalanceFastestNode {
		return a.selector.FastestNode()
	}
	return a.selector.PreferredNode()
}

func (a *requestExecutorActor) handleExecute(msg *executeMsg) {
	if a.state == ExecutorStateUninitialized || a.state == ExecutorStateTopologyPending {
		a.logger.Debug("queueing request until the topology is known",
			zap.Stringer("correlationId", msg.correlationID))
		a.pending = append(a.pending, msg)
		return
	}

	node := msg.node
	if node == nil {
		node = a.selectNode()
		if node == nil {
			msg.replyCh <- executeResult{err: noNodeError(a.database, a.discoveryErr)}
			return
		}
	}

	etag := a.topology.Etag

	a.logger.Debug("dispatching request",
		zap.Stringer("correlationId", msg.correlationID),
		zap.String("command", msg.variant.Name()),
		zap.String("node", nodeURL(node)),
		zap.Int64("etag", etag))

	go func() {
		resp, err := a.dispatch(msg.ctx, node, msg.variant, etag)
		msg.replyCh <- executeResult{resp: resp, err: err}
	}()
}

// dispatch performs a request and reports the outcome for the node back to
// the actor.
func (a *requestExecutorActor) dispatch(
	ctx context.Context,
	node *topology.ServerNode,
	variant ravencommand.Variant,
	etag int64,
) (*Response, error) {
	resp, err := a.dispatcher.Do(ctx, a.database, node, variant, etag)
	if err != nil {
		if errors.Is(err, ErrTransport) && ctx.Err() == nil {
			a.sendSelf(&nodeFailedMsg{node: node, err: err})
		}
		return nil, err
	}

	a.sendSelf(&nodeRespondedMsg{node: node, duration: resp.Duration})

	if resp.TopologyStale {
		a.metrics.RecordStaleTopology(ctx, a.database)
		a.sendSelf(&updateTopologyMsg{
			node:   node,
			reason: "server indicated the topology is stale",
		})
	}

	return resp, nil
}

func (a *requestExecutorActor) fetchTopology(
	ctx context.Context,
	node *topology.ServerNode,
	etag int64,
) (*topology.DatabaseTopology, error) {
	resp, err := a.dispatch(ctx, node, ravencommand.GetClusterTopology{}, etag)
	if err != nil {
		return nil, err
	}

	var info topology.ClusterTopologyInfo
	err = decodeJSONResponse(resp, &info)
	if err != nil {
		return nil, err
	}

	dbTopology, err := info.ToDatabaseTopology(a.database)
	if err != nil {
		return nil, &ProtocolError{URL: nodeURL(node), StatusCode: resp.StatusCode, Cause: err}
	}

	if dbTopology.Len() == 0 {
		return nil, &ProtocolError{
			URL:        nodeURL(node),
			StatusCode: resp.StatusCode,
			Cause:      errors.New("topology document contains no nodes"),
		}
	}

	return dbTopology, nil
}

func (a *requestExecutorActor) refreshTarget(node *topology.ServerNode) *topology.ServerNode {
	if node != nil {
		if known := a.topology.Node(node.Key()); known != nil {
			return known
		}
		return node
	}

	if a.topologyTakenFrom != nil {
		if known := a.topology.Node(a.topologyTakenFrom.Key()); known != nil {
			return known
		}
	}

	return a.selector.PreferredNode()
}

func (a *requestExecutorActor) triggerRefresh(node *topology.ServerNode, reason string) {
	if a.conventions.DisableTopologyUpdates || a.state != ExecutorStateReady {
		return
	}

	if a.refreshInFlight {
		a.logger.Debug("topology refresh already in progress", zap.String("reason", reason))
		return
	}

	target := a.refreshTarget(node)
	if target == nil {
		return
	}

	a.logger.Debug("refreshing topology",
		zap.String("reason", reason),
		zap.String("node", nodeURL(target)))

	a.refreshInFlight = true
	go a.runRefresh(target, a.topology.Etag)
}

func (a *requestExecutorActor) runRefresh(node *topology.ServerNode, etag int64) {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), a.conventions.TopologyRefreshRetries),
		a.ctx)

	var fetched *topology.DatabaseTopology
	err := backoff.RetryNotify(func() error {
		dbTopology, err := a.fetchTopology(a.ctx, node, etag)
		if err != nil {
			var protoErr *ProtocolError
			if errors.As(err, &protoErr) && protoErr.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			if errors.Is(err, ErrRequestBuild) {
				return backoff.Permanent(err)
			}
			return err
		}

		fetched = dbTopology
		return nil
	}, b, func(err error, delay time.Duration) {
		a.logger.Warn("failed to refresh topology, retrying",
			zap.String("node", nodeURL(node)),
			zap.Duration("delay", delay),
			zap.Error(err))
	})

	a.sendSelf(&refreshCompleteMsg{
		topology: fetched,
		node:     node,
		err:      err,
	})
}

func (a *requestExecutorActor) handleRefreshComplete(msg *refreshCompleteMsg) {
	a.refreshInFlight = false

	if msg.err != nil {
		a.logger.Warn("failed to refresh topology",
			zap.String("node", nodeURL(msg.node)),
			zap.Error(msg.err))
		return
	}

	a.applyTopology(msg.topology, msg.node, "refresh")
}

func (a *requestExecutorActor) handleRevalidateTick() {
	if a.conventions.DisableTopologyUpdates || a.state != ExecutorStateReady || a.refreshInFlight {
		return
	}

	// a topology made up from seeds is only replaced by asking the seeds again
	if a.topology.Len() == 0 || a.topology.IsSynthetic() {
		a.logger.Debug("revalidating topology against the seed urls")
		a.refreshInFlight = true
		go a.runDiscovery()
		return
	}

	a.triggerRefresh(a.selector.RandomNode(), "periodic revalidation")
}

func (a *requestExecutorActor) handleWatchTopology(msg *watchTopologyMsg) {
	pipe := latestonlychannel.NewPipe[*topology.DatabaseTopology]()
	a.watchers[pipe] = struct{}{}

	if a.state == ExecutorStateReady && a.topology.Len() > 0 {
		pipe.Send(a.topology.Clone())
	}

	msg.replyCh <- pipe.Output()

	go func() {
		select {
		case <-msg.ctx.Done():
			a.sendSelf(&unwatchTopologyMsg{pipe: pipe})
		case <-a.doneCh:
		}
	}()
}
