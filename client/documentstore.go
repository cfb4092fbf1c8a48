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
	"net/url"
	"sync"

	"github.com/couchbaselabs/ravenclient/common/ravencommand"
	"github.com/couchbaselabs/ravenclient/common/topology"
)

// DocumentStore is the entry point of the client.  It owns one request
// executor per database and a cluster level view of the topology.  Stores are
// created with a DocumentStoreBuilder and must be closed once no longer needed.
type DocumentStore struct {
	inboxCh   chan<- storeMessage
	closeCh   chan struct{}
	closeOnce sync.Once
	doneCh    <-chan struct{}
}

type documentStoreOptions = documentStoreActorOptions

func newDocumentStore(opts documentStoreOptions) *DocumentStore {
	inboxCh := make(chan storeMessage)
	closeCh := make(chan struct{})

	opts.InboxCh = inboxCh
	opts.CloseCh = closeCh
	actor := newDocumentStoreActor(&opts)

	return &DocumentStore{
		inboxCh: inboxCh,
		closeCh: closeCh,
		doneCh:  actor.doneCh,
	}
}

// GetRequestExecutor returns the executor for a database, creating it on first
// use.  An empty database name selects the store's default database.
func (s *DocumentStore) GetRequestExecutor(ctx context.Context, database string) (*RequestExecutor, error) {
	res, err := roundTrip(ctx, s.inboxCh, s.doneCh, func(replyCh chan getRequestExecutorResult) storeMessage {
		return &getRequestExecutorMsg{database: database, replyCh: replyCh}
	})
	if err != nil {
		return nil, err
	}

	return res.executor, res.err
}

// GetServerAddress returns the address of a random node of the cluster.
func (s *DocumentStore) GetServerAddress(ctx context.Context) (*url.URL, error) {
	node, err := roundTrip(ctx, s.inboxCh, s.doneCh, func(replyCh chan *topology.ServerNode) storeMessage {
		return &getServerNodeMsg{replyCh: replyCh}
	})
	if err != nil {
		return nil, err
	}

	if node == nil {
		return nil, noNodeError("", nil)
	}

	return node.URL, nil
}

// ClusterTopology returns a copy of the store's view of the cluster.  It is
// made up from the seed urls until one of the store's executors has learned
// the real topology.
func (s *DocumentStore) ClusterTopology(ctx context.Context) (*topology.Topology, error) {
	return roundTrip(ctx, s.inboxCh, s.doneCh, func(replyCh chan *topology.Topology) storeMessage {
		return &getClusterTopologyMsg{replyCh: replyCh}
	})
}

// ExecuteServerCommand runs a command which is not scoped to a database on a
// random node of the cluster.
func (s *DocumentStore) ExecuteServerCommand(ctx context.Context, variant ravencommand.Variant) (*Response, error) {
	if variant == nil {
		return nil, requestBuildError(ravencommand.ErrMissingVariant)
	}

	res, err := roundTrip(ctx, s.inboxCh, s.doneCh, func(replyCh chan executeResult) storeMessage {
		return &executeServerCommandMsg{ctx: ctx, variant: variant, replyCh: replyCh}
	})
	if err != nil {
		return nil, err
	}

	return res.resp, res.err
}

// Database returns the default database, which may be empty.
func (s *DocumentStore) Database(ctx context.Context) (string, error) {
	return roundTrip(ctx, s.inboxCh, s.doneCh, func(replyCh chan string) storeMessage {
		return &getDatabaseMsg{replyCh: replyCh}
	})
}

// OpenSession returns a session for a database, an empty name selects the
// default database.  Opening a session performs no I/O.
func (s *DocumentStore) OpenSession(database string) *DocumentSession {
	return &DocumentSession{
		store:    s,
		database: database,
	}
}

// Close closes every executor of the store and then the store itself.
func (s *DocumentStore) Close() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
	})
	<-s.doneCh
}
