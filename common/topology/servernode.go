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
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// UnknownClusterTag marks a node which was synthesized from a seed url rather
// than reported by the cluster itself.
const UnknownClusterTag = "!"

type ServerRole int

const (
	ServerRoleNone ServerRole = iota
	ServerRolePromotable
	ServerRoleMember
	ServerRoleRehab
)

func (r ServerRole) String() string {
	switch r {
	case ServerRoleNone:
		return "None"
	case ServerRolePromotable:
		return "Promotable"
	case ServerRoleMember:
		return "Member"
	case ServerRoleRehab:
		return "Rehab"
	}
	return fmt.Sprintf("ServerRole(%d)", int(r))
}

func (r ServerRole) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *ServerRole) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "none", "":
		*r = ServerRoleNone
	case "promotable":
		*r = ServerRolePromotable
	case "member":
		*r = ServerRoleMember
	case "rehab":
		*r = ServerRoleRehab
	default:
		return fmt.Errorf("unknown server role %q", string(text))
	}
	return nil
}

// NodeKey identifies a ServerNode.  Two nodes with the same url and database
// are the same node, regardless of their tag or role.
type NodeKey struct {
	URL      string
	Database string
}

func (k NodeKey) String() string {
	if k.Database == "" {
		return k.URL
	}
	return k.URL + "#" + k.Database
}

type ServerNode struct {
	URL        *url.URL
	Database   string
	ClusterTag string
	Role       ServerRole
}

func NewServerNode(nodeURL *url.URL, database, clusterTag string, role ServerRole) *ServerNode {
	return &ServerNode{
		URL:        NormalizeURL(nodeURL),
		Database:   database,
		ClusterTag: clusterTag,
		Role:       role,
	}
}

func (n *ServerNode) Key() NodeKey {
	return NodeKey{
		URL:      n.URL.String(),
		Database: n.Database,
	}
}

// Equal compares nodes by identity only, ClusterTag and Role are ignored.
func (n *ServerNode) Equal(o *ServerNode) bool {
	if n == nil || o == nil {
		return n == o
	}
	return n.Key() == o.Key()
}

func (n *ServerNode) IsSynthetic() bool {
	return n.ClusterTag == UnknownClusterTag
}

func (n *ServerNode) Clone() *ServerNode {
	if n == nil {
		return nil
	}
	copiedURL := *n.URL
	return &ServerNode{
		URL:        &copiedURL,
		Database:   n.Database,
		ClusterTag: n.ClusterTag,
		Role:       n.Role,
	}
}

// MarshalJSON renders the node in the same shape the server uses for the
// nodes of a database topology.
func (n *ServerNode) MarshalJSON() ([]byte, error) {
	nodeURL := ""
	if n.URL != nil {
		nodeURL = n.URL.String()
	}

	return json.Marshal(DatabaseTopologyNodeJson{
		Url:        nodeURL,
		ClusterTag: n.ClusterTag,
		Database:   n.Database,
		ServerRole: n.Role,
	})
}

func (n *ServerNode) String() string {
	return fmt.Sprintf("%s[%s/%s]", n.Key(), n.ClusterTag, n.Role)
}

// NormalizeURL returns a copy of the url with a lower-cased scheme and host,
// and without a trailing slash, query or fragment.
func NormalizeURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}

	n := &url.URL{
		Scheme: strings.ToLower(u.Scheme),
		User:   u.User,
		Host:   strings.ToLower(u.Host),
		Path:   strings.TrimRight(u.Path, "/"),
	}
	if u.RawPath != "" {
		n.RawPath = strings.TrimRight(u.RawPath, "/")
	}
	return n
}

// ParseNodeURL parses and normalizes a node address.  Only absolute http and
// https urls with a host are accepted.
func ParseNodeURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, err
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q in %q", u.Scheme, rawURL)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("url %q has no host", rawURL)
	}

	return NormalizeURL(u), nil
}
