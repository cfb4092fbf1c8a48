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
	"time"

	"github.com/couchbaselabs/ravenclient/common/ravencommand"
	"github.com/couchbaselabs/ravenclient/common/topology"
	"github.com/couchbaselabs/ravenclient/utils/latestonlychannel"
	"github.com/google/uuid"
)

type executorMessage interface {
	isExecutorMessage()
}

type executeResult struct {
	resp *Response
	err  error
}

// messages received on the public inbox

type executeMsg struct {
	ctx           context.Context
	correlationID uuid.UUID
	variant       ravencommand.Variant
	node          *topology.ServerNode
	replyCh       chan executeResult
}

type getTopologyMsg struct {
	replyCh chan *topology.DatabaseTopology
}

type getStateMsg struct {
	replyCh chan ExecutorState
}

type waitReadyMsg struct {
	replyCh chan error
}

type refreshTopologyMsg struct {
	replyCh chan struct{}
}

type watchTopologyMsg struct {
	ctx     context.Context
	replyCh chan (<-chan *topology.DatabaseTopology)
}

// messages the actor sends to itself

type initializeTopologyMsg struct{}

type discoveryCompleteMsg struct {
	topology  *topology.DatabaseTopology
	takenFrom *topology.ServerNode
	err       error
}

type updateTopologyMsg struct {
	node   *topology.ServerNode
	reason string
}

type refreshCompleteMsg struct {
	topology *topology.DatabaseTopology
	node     *topology.ServerNode
	err      error
}

type nodeFailedMsg struct {
	node *topology.ServerNode
	err  error
}

type nodeRespondedMsg struct {
	node     *topology.ServerNode
	duration time.Duration
}

type unwatchTopologyMsg struct {
	pipe *latestonlychannel.Pipe[*topology.DatabaseTopology]
}

func (*executeMsg) isExecutorMessage()            {}
func (*getTopologyMsg) isExecutorMessage()        {}
func (*getStateMsg) isExecutorMessage()           {}
func (*waitReadyMsg) isExecutorMessage()          {}
func (*refreshTopologyMsg) isExecutorMessage()    {}
func (*watchTopologyMsg) isExecutorMessage()      {}
func (*initializeTopologyMsg) isExecutorMessage() {}
func (*discoveryCompleteMsg) isExecutorMessage()  {}
func (*updateTopologyMsg) isExecutorMessage()     {}
func (*refreshCompleteMsg) isExecutorMessage()    {}
func (*nodeFailedMsg) isExecutorMessage()         {}
func (*nodeRespondedMsg) isExecutorMessage()      {}
func (*unwatchTopologyMsg) isExecutorMessage()    {}
