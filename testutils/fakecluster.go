/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package testutils

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/couchbaselabs/ravenclient/common/topology"
	"github.com/couchbaselabs/ravenclient/utils/selfsignedcert"
	"github.com/gorilla/mux"
)

type FakeClusterOptions struct {
	// NumNodes is the number of nodes started, tagged A, B, C and so on.
	NumNodes int

	// Etag is the initial topology etag.
	Etag int64

	// Certificate enables https on every node.
	Certificate *selfsignedcert.Certificate

	// RequireClientCert makes the nodes reject connections that do not
	// present a client certificate.
	RequireClientCert bool
}

// FakeCluster is a set of in-process http servers which answer the small
// subset of the server api used by the client.
type FakeCluster struct {
	lock      sync.Mutex
	etag      int64
	members   []string
	nodes     []*FakeNode
	documents map[string][]json.RawMessage
	gateCh    chan struct{}
	override  *topologyResponse
}

type topologyResponse struct {
	status int
	body   []byte
}

type FakeNode struct {
	Tag string
	URL string

	cluster *FakeCluster
	server  *httptest.Server

	lock          sync.Mutex
	requests      map[string]int
	receivedEtags []int64
	appIDs        []string
	clientCerts   int
	closed        bool
}

func NewFakeCluster(t *testing.T, opts FakeClusterOptions) *FakeCluster {
	numNodes := opts.NumNodes
	if numNodes <= 0 {
		numNodes = 1
	}

	c := &FakeCluster{
		etag:      opts.Etag,
		documents: make(map[string][]json.RawMessage),
	}

	for i := 0; i < numNodes; i++ {
		tag := string(rune('A' + i))
		node := &FakeNode{
			Tag:      tag,
			cluster:  c,
			requests: make(map[string]int),
		}

		server := httptest.NewUnstartedServer(node.router())
		if opts.Certificate != nil {
			server.TLS = &tls.Config{
				Certificates: []tls.Certificate{opts.Certificate.TLS},
			}
			if opts.RequireClientCert {
				server.TLS.ClientAuth = tls.RequireAnyClientCert
			}
			server.StartTLS()
		} else {
			server.Start()
		}

		node.server = server
		node.URL = server.URL

		c.nodes = append(c.nodes, node)
		c.members = append(c.members, tag)
	}

	t.Cleanup(c.Close)

	return c
}

// DeadURL returns the url of a server which is no longer listening.
func DeadURL(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.NotFoundHandler())
	deadURL := server.URL
	server.Close()
	return deadURL
}

func (c *FakeCluster) Nodes() []*FakeNode {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]*FakeNode(nil), c.nodes...)
}

func (c *FakeCluster) Node(tag string) *FakeNode {
	for _, node := range c.Nodes() {
		if node.Tag == tag {
			return node
		}
	}
	return nil
}

func (c *FakeCluster) URLs() []string {
	var urls []string
	for _, node := range c.Nodes() {
		urls = append(urls, node.URL)
	}
	return urls
}

func (c *FakeCluster) Etag() int64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.etag
}

// SetTopology changes the etag and the set of nodes advertised as members.
func (c *FakeCluster) SetTopology(etag int64, memberTags ...string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.etag = etag
	c.members = append([]string(nil), memberTags...)
}

func (c *FakeCluster) AddDocuments(database string, docs ...any) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, doc := range docs {
		docBytes, _ := json.Marshal(doc)
		c.documents[database] = append(c.documents[database], docBytes)
	}
}

// BlockTopology holds every topology request until the returned function is
// called.
func (c *FakeCluster) BlockTopology() func() {
	gateCh := make(chan struct{})

	c.lock.Lock()
	c.gateCh = gateCh
	c.lock.Unlock()

	var releaseOnce sync.Once
	return func() {
		releaseOnce.Do(func() {
			c.lock.Lock()
			if c.gateCh == gateCh {
				c.gateCh = nil
			}
			c.lock.Unlock()
			close(gateCh)
		})
	}
}

// ServeTopologyResponse makes every node answer cluster topology requests
// with the given status and raw body until the returned function is called.
func (c *FakeCluster) ServeTopologyResponse(status int, body []byte) func() {
	override := &topologyResponse{status: status, body: body}

	c.lock.Lock()
	c.override = override
	c.lock.Unlock()

	return func() {
		c.lock.Lock()
		if c.override == override {
			c.override = nil
		}
		c.lock.Unlock()
	}
}

// TopologyDocument renders the cluster topology document a node would serve,
// stamped with the given etag instead of the cluster's own.
func (c *FakeCluster) TopologyDocument(nodeTag string, etag int64) []byte {
	info := c.clusterTopology(nodeTag)
	info.Etag = etag
	info.Topology.Etag = etag
	docBytes, _ := json.Marshal(info)
	return docBytes
}

func (c *FakeCluster) topologyOverride() *topologyResponse {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.override
}

func (c *FakeCluster) Close() {
	for _, node := range c.Nodes() {
		node.Close()
	}
}

func (c *FakeCluster) clusterTopology(nodeTag string) *topology.ClusterTopologyInfo {
	c.lock.Lock()
	defer c.lock.Unlock()

	allNodes := make(map[string]string)
	members := make(map[string]string)
	for _, tag := range c.members {
		for _, node := range c.nodes {
			if node.Tag == tag {
				allNodes[tag] = node.URL
				members[tag] = node.URL
			}
		}
	}

	return &topology.ClusterTopologyInfo{
		Topology: topology.ClusterTopologyJson{
			TopologyId:  "fake-cluster",
			AllNodes:    allNodes,
			Members:     members,
			Promotables: map[string]string{},
			Watchers:    map[string]string{},
			LastNodeId:  nodeTag,
			Etag:        c.etag,
		},
		Etag:         c.etag,
		Leader:       "A",
		CurrentState: topology.NodeStateFollower,
		NodeTag:      nodeTag,
	}
}

func (c *FakeCluster) databaseTopology(database string) *topology.DatabaseTopologyJson {
	c.lock.Lock()
	defer c.lock.Unlock()

	dbTopology := &topology.DatabaseTopologyJson{
		Etag: c.etag,
	}
	for _, tag := range c.members {
		for _, node := range c.nodes {
			if node.Tag == tag {
				dbTopology.Nodes = append(dbTopology.Nodes, topology.DatabaseTopologyNodeJson{
					Url:        node.URL,
					ClusterTag: tag,
					Database:   database,
					ServerRole: topology.ServerRoleMember,
				})
			}
		}
	}
	return dbTopology
}

func (c *FakeCluster) documentPage(database string, start, pageSize int) []json.RawMessage {
	c.lock.Lock()
	defer c.lock.Unlock()

	docs := c.documents[database]
	if start >= len(docs) {
		return []json.RawMessage{}
	}
	end := len(docs)
	if pageSize > 0 && start+pageSize < end {
		end = start + pageSize
	}
	return append([]json.RawMessage{}, docs[start:end]...)
}

func (c *FakeCluster) topologyGate() chan struct{} {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.gateCh
}

func (n *FakeNode) router() http.Handler {
	r := mux.NewRouter()
	r.Use(n.trackRequest)
	r.HandleFunc("/cluster/topology", n.handleClusterTopology).Methods(http.MethodGet).Name("cluster-topology")
	r.HandleFunc("/topology", n.handleDatabaseTopology).Methods(http.MethodGet).Name("topology")
	r.HandleFunc("/databases/{db}/docs", n.handleDocs).Methods(http.MethodGet).Name("docs")
	return r
}

func (n *FakeNode) trackRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		routeName := ""
		if route := mux.CurrentRoute(r); route != nil {
			routeName = route.GetName()
		}

		etag, etagErr := strconv.ParseInt(r.Header.Get("Topology-Etag"), 10, 64)

		n.lock.Lock()
		n.requests[routeName]++
		if etagErr == nil {
			n.receivedEtags = append(n.receivedEtags, etag)
		}
		if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
			n.clientCerts++
		}
		n.lock.Unlock()

		if etagErr == nil && etag < n.cluster.Etag() {
			w.Header().Set("Refresh-Topology", "true")
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func (n *FakeNode) handleClusterTopology(w http.ResponseWriter, r *http.Request) {
	if gateCh := n.cluster.topologyGate(); gateCh != nil {
		select {
		case <-gateCh:
		case <-r.Context().Done():
			return
		}
	}

	if override := n.cluster.topologyOverride(); override != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(override.status)
		_, _ = w.Write(override.body)
		return
	}

	writeJSON(w, n.cluster.clusterTopology(n.Tag))
}

func (n *FakeNode) handleDatabaseTopology(w http.ResponseWriter, r *http.Request) {
	database := r.URL.Query().Get("name")
	if database == "" {
		http.Error(w, "missing database name", http.StatusBadRequest)
		return
	}

	n.lock.Lock()
	n.appIDs = append(n.appIDs, r.URL.Query().Get("applicationIdentifier"))
	n.lock.Unlock()

	writeJSON(w, n.cluster.databaseTopology(database))
}

func (n *FakeNode) handleDocs(w http.ResponseWriter, r *http.Request) {
	database := mux.Vars(r)["db"]

	start, pageSize := 0, 0
	if startStr := r.URL.Query().Get("start"); startStr != "" {
		parsed, err := strconv.Atoi(startStr)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid start: %s", err), http.StatusBadRequest)
			return
		}
		start = parsed
	}
	if pageSizeStr := r.URL.Query().Get("pageSize"); pageSizeStr != "" {
		parsed, err := strconv.Atoi(pageSizeStr)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid pageSize: %s", err), http.StatusBadRequest)
			return
		}
		pageSize = parsed
	}

	writeJSON(w, map[string]any{
		"Results": n.cluster.documentPage(database, start, pageSize),
	})
}

// RequestCount returns the number of requests received for a route, one of
// "cluster-topology", "topology" or "docs".
func (n *FakeNode) RequestCount(route string) int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.requests[route]
}

func (n *FakeNode) ReceivedEtags() []int64 {
	n.lock.Lock()
	defer n.lock.Unlock()
	return append([]int64(nil), n.receivedEtags...)
}

func (n *FakeNode) ApplicationIdentifiers() []string {
	n.lock.Lock()
	defer n.lock.Unlock()
	return append([]string(nil), n.appIDs...)
}

// ClientCertRequests is the number of requests which presented a client
// certificate.
func (n *FakeNode) ClientCertRequests() int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.clientCerts
}

// Close stops the node, later requests to it fail to connect.
func (n *FakeNode) Close() {
	n.lock.Lock()
	if n.closed {
		n.lock.Unlock()
		return
	}
	n.closed = true
	n.lock.Unlock()

	n.server.CloseClientConnections()
	n.server.Close()
}
