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
	"math/rand"

	"github.com/couchbaselabs/ravenclient/common/topology"
)

// NodeSelectionPolicy decides which node serves a request.  Implementations
// must not perform I/O and must not modify the topology they are given.  A nil
// node means no node is available.
type NodeSelectionPolicy interface {
	Topology() *topology.DatabaseTopology
	PreferredNode() *topology.ServerNode
	FastestNode() *topology.ServerNode
	NodeBySessionID(sessionID int) *topology.ServerNode
	RequestedNode(clusterTag string) *topology.ServerNode
	RandomNode() *topology.ServerNode
}

// NodeSelector is the default selection policy.  It reads the health counters
// of the topology it was built over, which are maintained by the owning
// request executor.
type NodeSelector struct {
	topology *topology.DatabaseTopology
	intn     func(n int) int
}

var _ NodeSelectionPolicy = (*NodeSelector)(nil)

func NewNodeSelector(t *topology.DatabaseTopology) *NodeSelector {
	return &NodeSelector{
		topology: t,
		intn:     rand.Intn,
	}
}

func (s *NodeSelector) Topology() *topology.DatabaseTopology {
	return s.topology
}

// PreferredNode returns any node which has no recorded failures.  Map order
// decides between healthy nodes, which spreads load across clients.  When
// every node has failed it falls back to a random node.
func (s *NodeSelector) PreferredNode() *topology.ServerNode {
	if s.topology.Len() == 0 {
		return nil
	}

	for key, node := range s.topology.Nodes {
		if s.topology.NodeFailures[key] == 0 {
			return node
		}
	}

	return s.RandomNode()
}

func (s *NodeSelector) RandomNode() *topology.ServerNode {
	nodes := s.topology.NodeList()
	if len(nodes) == 0 {
		return nil
	}

	return nodes[s.intn(len(nodes))]
}

// FastestNode returns the healthy node with the lowest recorded response
// time, or the preferred node when no timings have been recorded yet.
func (s *NodeSelector) FastestNode() *topology.ServerNode {
	var fastest *topology.ServerNode
	var fastestMs uint32

	for _, node := range s.topology.NodeList() {
		key := node.Key()
		if s.topology.NodeFailures[key] != 0 {
			continue
		}

		speedMs, ok := s.topology.NodeResponseSpeedMs[key]
		if !ok {
			continue
		}

		if fastest == nil || speedMs < fastestMs {
			fastest = node
			fastestMs = speedMs
		}
	}

	if fastest == nil {
		return s.PreferredNode()
	}
	return fastest
}

// NodeBySessionID maps a session onto a fixed node.  When that node has
// failures the next healthy node in url order is used instead, so the result
// only depends on the session id and the topology.
func (s *NodeSelector) NodeBySessionID(sessionID int) *topology.ServerNode {
	nodes := s.topology.NodeList()
	if len(nodes) == 0 {
		return nil
	}

	start := sessionID % len(nodes)
	if start < 0 {
		start += len(nodes)
	}

	return s.firstHealthyFrom(nodes, start)
}

// RequestedNode returns the node with the given cluster tag, or the first
// healthy node in url order when the tag is unknown.
func (s *NodeSelector) RequestedNode(clusterTag string) *topology.ServerNode {
	nodes := s.topology.NodeList()
	if len(nodes) == 0 {
		return nil
	}

	for _, node := range nodes {
		if node.ClusterTag == clusterTag {
			return node
		}
	}

	return s.firstHealthyFrom(nodes, 0)
}

func (s *NodeSelector) firstHealthyFrom(nodes []*topology.ServerNode, start int) *topology.ServerNode {
	for i := 0; i < len(nodes); i++ {
		node := nodes[(start+i)%len(nodes)]
		if s.topology.NodeFailures[node.Key()] == 0 {
			return node
		}
	}
	return nodes[start]
}
