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
	"encoding/json"

	"github.com/couchbaselabs/ravenclient/common/ravencommand"
	"github.com/couchbaselabs/ravenclient/common/topology"
)

type DocumentsPage struct {
	Results []json.RawMessage `json:"Results"`
}

// DocumentSession is a lightweight, read-only view of a single database.
// Sessions hold no state of their own and are cheap to open.
type DocumentSession struct {
	store    *DocumentStore
	database string
}

func (s *DocumentSession) requestExecutor(ctx context.Context) (*RequestExecutor, error) {
	return s.store.GetRequestExecutor(ctx, s.database)
}

func (s *DocumentSession) GetClusterTopology(ctx context.Context) (*topology.ClusterTopologyInfo, error) {
	resp, err := s.store.ExecuteServerCommand(ctx, ravencommand.GetClusterTopology{})
	if err != nil {
		return nil, err
	}

	var info topology.ClusterTopologyInfo
	err = decodeJSONResponse(resp, &info)
	if err != nil {
		return nil, err
	}

	return &info, nil
}

// GetAllDocumentsForDatabase fetches a page of documents.  Nil paging
// parameters leave the choice to the server.
func (s *DocumentSession) GetAllDocumentsForDatabase(ctx context.Context, pageSize, start *int64) (*DocumentsPage, error) {
	executor, err := s.requestExecutor(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := executor.Execute(ctx, ravencommand.GetAllDocumentsFromDatabase{
		Database: executor.Database(),
		PageSize: pageSize,
		Start:    start,
	})
	if err != nil {
		return nil, err
	}

	var page DocumentsPage
	err = decodeJSONResponse(resp, &page)
	if err != nil {
		return nil, err
	}

	return &page, nil
}

// GetDatabaseTopology asks the cluster for the topology of the session's
// database, identifying the executor when application identifiers are
// enabled.
func (s *DocumentSession) GetDatabaseTopology(ctx context.Context) (*topology.DatabaseTopology, error) {
	executor, err := s.requestExecutor(ctx)
	if err != nil {
		return nil, err
	}

	variant := ravencommand.GetDatabaseTopology{
		Database: executor.Database(),
	}
	if executor.sendApplicationIdentifier {
		variant.ApplicationIdentifier = executor.ApplicationID().String()
	}

	resp, err := executor.Execute(ctx, variant)
	if err != nil {
		return nil, err
	}

	var topologyJson topology.DatabaseTopologyJson
	err = decodeJSONResponse(resp, &topologyJson)
	if err != nil {
		return nil, err
	}

	dbTopology, err := topologyJson.ToDatabaseTopology(executor.Database())
	if err != nil {
		return nil, &ProtocolError{URL: nodeURL(resp.Node), StatusCode: resp.StatusCode, Cause: err}
	}

	return dbTopology, nil
}
