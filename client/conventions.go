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
	"time"

	"github.com/couchbaselabs/ravenclient/common/topology"
)

type ReadBalanceBehavior int

const (
	// ReadBalanceNone sends requests to the preferred node.
	ReadBalanceNone ReadBalanceBehavior = iota

	// ReadBalanceFastestNode sends requests to the healthy node with the
	// lowest recorded response time.
	ReadBalanceFastestNode
)

type NodeSelectorFactory func(t *topology.DatabaseTopology) NodeSelectionPolicy

type Conventions struct {
	// DisableTopologyUpdates stops the periodic and server-signalled topology
	// refreshes.  The initial discovery still happens.
	DisableTopologyUpdates bool

	// SendApplicationIdentifier includes the executor's application id when
	// requesting a database topology.
	SendApplicationIdentifier bool

	TopologyRefreshInterval      time.Duration
	TopologyRevalidationInterval time.Duration

	// TopologyRefreshRetries is the number of retries made for a single
	// refresh before giving up until the next trigger.
	TopologyRefreshRetries uint64

	// RequestTimeout bounds each http request.  Zero means no timeout beyond
	// the caller's context.
	RequestTimeout time.Duration

	ReadBalanceBehavior ReadBalanceBehavior

	// NodeSelectorFactory replaces the default node selection policy.
	NodeSelectorFactory NodeSelectorFactory
}

const (
	defaultTopologyRefreshInterval      = 60 * time.Second
	defaultTopologyRevalidationInterval = 5 * time.Minute
	defaultTopologyRefreshRetries       = 3
)

func DefaultConventions() Conventions {
	return Conventions{
		SendApplicationIdentifier:    true,
		TopologyRefreshInterval:      defaultTopologyRefreshInterval,
		TopologyRevalidationInterval: defaultTopologyRevalidationInterval,
		TopologyRefreshRetries:       defaultTopologyRefreshRetries,
	}
}

// DefaultConventionsForSingleServer is used when the client talks to a single
// server which is not part of a cluster.
func DefaultConventionsForSingleServer() Conventions {
	c := DefaultConventions()
	c.DisableTopologyUpdates = true
	return c
}

func (c Conventions) withDefaults() Conventions {
	if c.TopologyRefreshInterval <= 0 {
		c.TopologyRefreshInterval = defaultTopologyRefreshInterval
	}
	if c.TopologyRevalidationInterval <= 0 {
		c.TopologyRevalidationInterval = defaultTopologyRevalidationInterval
	}
	if c.NodeSelectorFactory == nil {
		c.NodeSelectorFactory = func(t *topology.DatabaseTopology) NodeSelectionPolicy {
			return NewNodeSelector(t)
		}
	}
	return c
}
