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
	"fmt"
)

type NodeState string

const (
	NodeStateUndefined   NodeState = "Undefined"
	NodeStatePassive     NodeState = "Passive"
	NodeStateCandidate   NodeState = "Candidate"
	NodeStateFollower    NodeState = "Follower"
	NodeStateLeaderElect NodeState = "Leader-Elect"
	NodeStateLeader      NodeState = "Leader"
)

type BuildInfoJson struct {
	ProductVersion string `json:"ProductVersion,omitempty"`
	BuildVersion   int64  `json:"BuildVersion,omitempty"`
	CommitHash     string `json:"CommitHash,omitempty"`
	FullVersion    string `json:"FullVersion,omitempty"`
}

type OsInfoJson struct {
	Type         string `json:"Type,omitempty"`
	FullName     string `json:"FullName,omitempty"`
	Version      string `json:"Version,omitempty"`
	BuildVersion string `json:"BuildVersion,omitempty"`
	Is64Bit      bool   `json:"Is64Bit,omitempty"`
}

type NodeLicenseDetailsJson struct {
	UtilizedCores       int64         `json:"UtilizedCores,omitempty"`
	MaxUtilizedCores    *int64        `json:"MaxUtilizedCores,omitempty"`
	NumberOfCores       int32         `json:"NumberOfCores,omitempty"`
	InstalledMemoryInGb float64       `json:"InstalledMemoryInGb,omitempty"`
	UsableMemoryInGb    float64       `json:"UsableMemoryInGb,omitempty"`
	BuildInfo           BuildInfoJson `json:"BuildInfo"`
	OsInfo              OsInfoJson    `json:"OsInfo"`
}

type NodeStatusJson struct {
	Name              *string `json:"Name,omitempty"`
	Connected         bool    `json:"Connected"`
	ErrorDetails      *string `json:"ErrorDetails,omitempty"`
	LastSent          string  `json:"LastSent,omitempty"`
	LastSentMessage   string  `json:"LastSentMessage,omitempty"`
	LastMatchingIndex int64   `json:"LastMatchingIndex,omitempty"`
}

type ClusterTopologyJson struct {
	TopologyId  string            `json:"TopologyId"`
	AllNodes    map[string]string `json:"AllNodes"`
	Members     map[string]string `json:"Members"`
	Promotables map[string]string `json:"Promotables"`
	Watchers    map[string]string `json:"Watchers"`
	LastNodeId  string            `json:"LastNodeId"`
	Etag        int64             `json:"Etag"`
}

// ClusterTopologyInfo is the document served by GET /cluster/topology.
type ClusterTopologyInfo struct {
	Metadata              map[string]string                 `json:"@metadata,omitempty"`
	Topology              ClusterTopologyJson               `json:"Topology"`
	Etag                  int64                             `json:"Etag"`
	Leader                string                            `json:"Leader,omitempty"`
	LeaderShipDuration    int64                             `json:"LeaderShipDuration,omitempty"`
	CurrentState          NodeState                         `json:"CurrentState,omitempty"`
	NodeTag               string                            `json:"NodeTag,omitempty"`
	CurrentTerm           int64                             `json:"CurrentTerm,omitempty"`
	NodeLicenseDetails    map[string]NodeLicenseDetailsJson `json:"NodeLicenseDetails,omitempty"`
	LastStateChangeReason string                            `json:"LastStateChangeReason,omitempty"`
	Status                map[string]NodeStatusJson         `json:"Status,omitempty"`
}

func (i *ClusterTopologyInfo) effectiveEtag() int64 {
	if i.Topology.Etag != 0 {
		return i.Topology.Etag
	}
	return i.Etag
}

func (i *ClusterTopologyInfo) nodeRole(tag string) ServerRole {
	if _, ok := i.Topology.Members[tag]; ok {
		return ServerRoleMember
	}
	if _, ok := i.Topology.Promotables[tag]; ok {
		return ServerRolePromotable
	}
	// Watchers and nodes missing from every list carry no database role.
	// The cluster document says nothing about rehabilitation, so Rehab is
	// only ever reported by a database topology.
	return ServerRoleNone
}

func (i *ClusterTopologyInfo) parseNodes(database string) ([]*ServerNode, error) {
	nodes := make([]*ServerNode, 0, len(i.Topology.AllNodes))
	for tag, rawURL := range i.Topology.AllNodes {
		nodeURL, err := ParseNodeURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid url for node %s: %w", tag, err)
		}

		nodes = append(nodes, NewServerNode(nodeURL, database, tag, i.nodeRole(tag)))
	}
	return nodes, nil
}

// ToDatabaseTopology builds the routing view used for a single database.  Every
// node the cluster knows about is included, watchers too, since any node can
// forward a request to the database.  Roles come from the cluster membership
// lists.
func (i *ClusterTopologyInfo) ToDatabaseTopology(database string) (*DatabaseTopology, error) {
	nodes, err := i.parseNodes(database)
	if err != nil {
		return nil, err
	}

	return NewDatabaseTopology(i.effectiveEtag(), nodes), nil
}

func (i *ClusterTopologyInfo) ToTopology() (*Topology, error) {
	dbTopology, err := i.ToDatabaseTopology("")
	if err != nil {
		return nil, err
	}

	return dbTopology.ToTopology(), nil
}

type DatabaseTopologyNodeJson struct {
	Url        string     `json:"Url"`
	ClusterTag string     `json:"ClusterTag"`
	Database   string     `json:"Database"`
	ServerRole ServerRole `json:"ServerRole"`
}

// DatabaseTopologyJson is the document served by GET /topology?name={db}.
type DatabaseTopologyJson struct {
	Nodes []DatabaseTopologyNodeJson `json:"Nodes"`
	Etag  int64                      `json:"Etag"`
}

func (j *DatabaseTopologyJson) ToDatabaseTopology(database string) (*DatabaseTopology, error) {
	nodes := make([]*ServerNode, 0, len(j.Nodes))
	for _, nodeJson := range j.Nodes {
		nodeURL, err := ParseNodeURL(nodeJson.Url)
		if err != nil {
			return nil, fmt.Errorf("invalid url for node %s: %w", nodeJson.ClusterTag, err)
		}

		nodeDatabase := nodeJson.Database
		if nodeDatabase == "" {
			nodeDatabase = database
		}

		nodes = append(nodes, NewServerNode(nodeURL, nodeDatabase, nodeJson.ClusterTag, nodeJson.ServerRole))
	}

	return NewDatabaseTopology(j.Etag, nodes), nil
}
