/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package topology

import (
	"maps"
	"net/url"
	"strings"
	"time"

	"golang.org/x/exp/slices"
)

// SyntheticEtag is the etag assigned to topologies synthesized from seed urls.
// Any topology reported by a server supersedes it.
const SyntheticEtag int64 = -1

// Topology is the cluster-level view of the nodes.
type Topology struct {
	Etag  int64
	Nodes []*ServerNode
}

func NewSyntheticTopology(seedURLs []*url.URL) *Topology {
	nodes := make([]*ServerNode, 0, len(seedURLs))
	for _, seedURL := range seedURLs {
		nodes = append(nodes, NewServerNode(seedURL, "", UnknownClusterTag, ServerRoleNone))
	}

	return &Topology{
		Etag:  SyntheticEtag,
		Nodes: nodes,
	}
}

func (t *Topology) Clone() *Topology {
	if t == nil {
		return nil
	}

	nodes := make([]*ServerNode, len(t.Nodes))
	for nodeIdx, node := range t.Nodes {
		nodes[nodeIdx] = node.Clone()
	}

	return &Topology{
		Etag:  t.Etag,
		Nodes: nodes,
	}
}

// DatabaseTopology is the database-level view of the nodes along with the
// health counters tracked for each of them.  A DatabaseTopology is owned by a
// single request executor and is never shared without being cloned.
type DatabaseTopology struct {
	Etag                int64
	Nodes               map[NodeKey]*ServerNode
	NodeFailures        map[NodeKey]uint32
	NodeResponseSpeedMs map[NodeKey]uint32
}

func NewDatabaseTopology(etag int64, nodes []*ServerNode) *DatabaseTopology {
	t := &DatabaseTopology{
		Etag:                etag,
		Nodes:               make(map[NodeKey]*ServerNode, len(nodes)),
		NodeFailures:        make(map[NodeKey]uint32, len(nodes)),
		NodeResponseSpeedMs: make(map[NodeKey]uint32),
	}

	for _, node := range nodes {
		key := node.Key()
		t.Nodes[key] = node
		t.NodeFailures[key] = 0
	}

	return t
}

// NewSyntheticDatabaseTopology wraps every seed url as a node with an unknown
// cluster tag, this lets a database be used even when no seed could report the
// real cluster layout.
func NewSyntheticDatabaseTopology(database string, seedURLs []*url.URL) *DatabaseTopology {
	nodes := make([]*ServerNode, 0, len(seedURLs))
	for _, seedURL := range seedURLs {
		nodes = append(nodes, NewServerNode(seedURL, database, UnknownClusterTag, ServerRoleNone))
	}

	return NewDatabaseTopology(SyntheticEtag, nodes)
}

func (t *DatabaseTopology) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Nodes)
}

func (t *DatabaseTopology) Node(key NodeKey) *ServerNode {
	if t == nil {
		return nil
	}
	return t.Nodes[key]
}

// NodeList returns the nodes ordered by url, then database.
func (t *DatabaseTopology) NodeList() []*ServerNode {
	if t == nil {
		return nil
	}

	nodes := make([]*ServerNode, 0, len(t.Nodes))
	for _, node := range t.Nodes {
		nodes = append(nodes, node)
	}

	slices.SortFunc(nodes, func(a, b *ServerNode) int {
		ka, kb := a.Key(), b.Key()
		if c := strings.Compare(ka.URL, kb.URL); c != 0 {
			return c
		}
		return strings.Compare(ka.Database, kb.Database)
	})
	return nodes
}

func (t *DatabaseTopology) IsSynthetic() bool {
	if t == nil || len(t.Nodes) == 0 {
		return false
	}

	for _, node := range t.Nodes {
		if !node.IsSynthetic() {
			return false
		}
	}
	return true
}

// IsSupersededBy reports whether candidate should replace this topology.  An
// empty topology is replaced by anything with nodes, otherwise the etag must
// strictly increase.
func (t *DatabaseTopology) IsSupersededBy(candidate *DatabaseTopology) bool {
	if candidate == nil {
		return false
	}

	if t == nil || len(t.Nodes) == 0 {
		return len(candidate.Nodes) > 0 || candidate.Etag > t.etag()
	}

	return candidate.Etag > t.Etag
}

func (t *DatabaseTopology) etag() int64 {
	if t == nil {
		return SyntheticEtag
	}
	return t.Etag
}

func (t *DatabaseTopology) FailureCount(key NodeKey) uint32 {
	if t == nil {
		return 0
	}
	return t.NodeFailures[key]
}

func (t *DatabaseTopology) RecordFailure(key NodeKey) uint32 {
	if _, ok := t.Nodes[key]; !ok {
		return 0
	}

	t.NodeFailures[key]++
	return t.NodeFailures[key]
}

func (t *DatabaseTopology) ResetFailures(key NodeKey) {
	if _, ok := t.Nodes[key]; !ok {
		return
	}

	t.NodeFailures[key] = 0
}

func (t *DatabaseTopology) RecordResponseTime(key NodeKey, d time.Duration) {
	if _, ok := t.Nodes[key]; !ok {
		return
	}

	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	t.NodeResponseSpeedMs[key] = uint32(ms)
}

func (t *DatabaseTopology) Clone() *DatabaseTopology {
	if t == nil {
		return nil
	}

	nodes := make(map[NodeKey]*ServerNode, len(t.Nodes))
	for key, node := range t.Nodes {
		nodes[key] = node.Clone()
	}

	return &DatabaseTopology{
		Etag:                t.Etag,
		Nodes:               nodes,
		NodeFailures:        maps.Clone(t.NodeFailures),
		NodeResponseSpeedMs: maps.Clone(t.NodeResponseSpeedMs),
	}
}

// ToTopology strips the health counters and database association, producing
// the cluster-level view of the same nodes.
func (t *DatabaseTopology) ToTopology() *Topology {
	if t == nil {
		return nil
	}

	nodes := t.NodeList()
	clusterNodes := make([]*ServerNode, 0, len(nodes))
	for _, node := range nodes {
		clusterNode := node.Clone()
		clusterNode.Database = ""
		clusterNodes = append(clusterNodes, clusterNode)
	}

	return &Topology{
		Etag:  t.Etag,
		Nodes: clusterNodes,
	}
}
