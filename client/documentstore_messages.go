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

	"github.com/couchbaselabs/ravenclient/common/ravencommand"
	"github.com/couchbaselabs/ravenclient/common/topology"
)

type storeMessage interface {
	isStoreMessage()
}

type getRequestExecutorResult struct {
	executor *RequestExecutor
	err      error
}

type getRequestExecutorMsg struct {
	database string
	replyCh  chan getRequestExecutorResult
}

type getServerNodeMsg struct {
	replyCh chan *topology.ServerNode
}

type getClusterTopologyMsg struct {
	replyCh chan *topology.Topology
}

type getDatabaseMsg struct {
	replyCh chan string
}

type executeServerCommandMsg struct {
	ctx     context.Context
	variant ravencommand.Variant
	replyCh chan executeResult
}

type executorTopologyUpdatedMsg struct {
	database string
	topology *topology.DatabaseTopology
}

type serverTopologyStaleMsg struct {
	node *topology.ServerNode
}

func (*getRequestExecutorMsg) isStoreMessage()      {}
func (*getServerNodeMsg) isStoreMessage()           {}
func (*getClusterTopologyMsg) isStoreMessage()      {}
func (*getDatabaseMsg) isStoreMessage()             {}
func (*executeServerCommandMsg) isStoreMessage()    {}
func (*executorTopologyUpdatedMsg) isStoreMessage() {}
func (*serverTopologyStaleMsg) isStoreMessage()     {}
