package topology

import (
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseNodeURL(t *testing.T, rawURL string) *url.URL {
	u, err := ParseNodeURL(rawURL)
	require.NoError(t, err)
	return u
}

func TestServerNodeIdentity(t *testing.T) {
	a := NewServerNode(mustParseNodeURL(t, "http://Node1:8080/"), "db", "A", ServerRoleMember)
	b := NewServerNode(mustParseNodeURL(t, "http://node1:8080"), "db", "B", ServerRoleRehab)
	c := NewServerNode(mustParseNodeURL(t, "http://node1:8080"), "other", "A", ServerRoleMember)

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Key(), b.Key())
	assert.False(t, a.Equal(c))

	m := map[NodeKey]string{a.Key(): "first"}
	m[b.Key()] = "second"
	assert.Len(t, m, 1)
}

func TestParseNodeURL(t *testing.T) {
	u, err := ParseNodeURL("HTTPS://Example.com:443/raven/")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com:443/raven", u.String())

	_, err = ParseNodeURL("ftp://example.com")
	assert.Error(t, err)

	_, err = ParseNodeURL("/relative/path")
	assert.Error(t, err)

	_, err = ParseNodeURL("http://[::1")
	assert.Error(t, err)
}

func TestServerRoleText(t *testing.T) {
	var role ServerRole
	require.NoError(t, json.Unmarshal([]byte(`"Promotable"`), &role))
	assert.Equal(t, ServerRolePromotable, role)

	data, err := json.Marshal(ServerRoleRehab)
	require.NoError(t, err)
	assert.Equal(t, `"Rehab"`, string(data))

	assert.Error(t, json.Unmarshal([]byte(`"Leader"`), &role))
}

func TestSyntheticDatabaseTopology(t *testing.T) {
	seeds := []*url.URL{
		mustParseNodeURL(t, "http://node1:8080"),
		mustParseNodeURL(t, "http://node2:8080"),
	}

	topo := NewSyntheticDatabaseTopology("sample", seeds)
	assert.Equal(t, SyntheticEtag, topo.Etag)
	assert.Equal(t, 2, topo.Len())
	assert.True(t, topo.IsSynthetic())

	for _, node := range topo.NodeList() {
		assert.Equal(t, UnknownClusterTag, node.ClusterTag)
		assert.Equal(t, "sample", node.Database)
		assert.Equal(t, uint32(0), topo.FailureCount(node.Key()))
	}
}

func TestDatabaseTopologySupersede(t *testing.T) {
	node := NewServerNode(mustParseNodeURL(t, "http://node1:8080"), "db", "A", ServerRoleMember)

	var empty *DatabaseTopology
	assert.True(t, empty.IsSupersededBy(NewDatabaseTopology(0, []*ServerNode{node})))

	current := NewDatabaseTopology(5, []*ServerNode{node})
	assert.False(t, current.IsSupersededBy(NewDatabaseTopology(5, []*ServerNode{node})))
	assert.False(t, current.IsSupersededBy(NewDatabaseTopology(4, []*ServerNode{node})))
	assert.True(t, current.IsSupersededBy(NewDatabaseTopology(6, []*ServerNode{node})))
	assert.False(t, current.IsSupersededBy(nil))

	synthetic := NewSyntheticDatabaseTopology("db", []*url.URL{node.URL})
	assert.True(t, synthetic.IsSupersededBy(NewDatabaseTopology(0, []*ServerNode{node})))
}

func TestDatabaseTopologyCounters(t *testing.T) {
	node := NewServerNode(mustParseNodeURL(t, "http://node1:8080"), "db", "A", ServerRoleMember)
	unknown := NewServerNode(mustParseNodeURL(t, "http://node9:8080"), "db", "Z", ServerRoleMember)
	topo := NewDatabaseTopology(1, []*ServerNode{node})

	assert.Equal(t, uint32(1), topo.RecordFailure(node.Key()))
	assert.Equal(t, uint32(2), topo.RecordFailure(node.Key()))
	assert.Equal(t, uint32(0), topo.RecordFailure(unknown.Key()))
	assert.NotContains(t, topo.NodeFailures, unknown.Key())

	clone := topo.Clone()
	topo.ResetFailures(node.Key())
	assert.Equal(t, uint32(0), topo.FailureCount(node.Key()))
	assert.Equal(t, uint32(2), clone.FailureCount(node.Key()))

	topo.RecordResponseTime(node.Key(), 42*time.Millisecond)
	assert.Equal(t, uint32(42), topo.NodeResponseSpeedMs[node.Key()])
	assert.NotContains(t, clone.NodeResponseSpeedMs, node.Key())
}

func TestNodeListOrdering(t *testing.T) {
	topo := NewDatabaseTopology(1, []*ServerNode{
		NewServerNode(mustParseNodeURL(t, "http://node3:8080"), "db", "C", ServerRoleMember),
		NewServerNode(mustParseNodeURL(t, "http://node1:8080"), "db", "A", ServerRoleMember),
		NewServerNode(mustParseNodeURL(t, "http://node2:8080"), "db", "B", ServerRoleMember),
	})

	var tags []string
	for _, node := range topo.NodeList() {
		tags = append(tags, node.ClusterTag)
	}
	assert.Equal(t, []string{"A", "B", "C"}, tags)
}

const testClusterTopology = `{
	"@metadata": {"@change-vector": "A:1"},
	"Topology": {
		"TopologyId": "b7f3c1",
		"AllNodes": {"A": "http://node1:8080", "B": "http://node2:8080", "C": "http://node3:8080", "D": "http://node4:8080"},
		"Members": {"A": "http://node1:8080", "B": "http://node2:8080"},
		"Promotables": {"C": "http://node3:8080"},
		"Watchers": {"D": "http://node4:8080"},
		"LastNodeId": "D",
		"Etag": 12
	},
	"Etag": 7,
	"Leader": "A",
	"CurrentState": "Leader-Elect",
	"NodeTag": "A",
	"CurrentTerm": 3,
	"Status": {"D": {"Connected": false, "LastSent": "2024-01-01T00:00:00"}}
}`

func TestClusterTopologyInfoConversion(t *testing.T) {
	var info ClusterTopologyInfo
	require.NoError(t, json.Unmarshal([]byte(testClusterTopology), &info))

	assert.Equal(t, NodeStateLeaderElect, info.CurrentState)
	assert.Equal(t, "A:1", info.Metadata["@change-vector"])

	dbTopology, err := info.ToDatabaseTopology("sample")
	require.NoError(t, err)
	assert.Equal(t, int64(12), dbTopology.Etag)
	require.Equal(t, 4, dbTopology.Len())

	roles := map[string]ServerRole{}
	for _, node := range dbTopology.NodeList() {
		assert.Equal(t, "sample", node.Database)
		roles[node.ClusterTag] = node.Role
	}
	assert.Equal(t, map[string]ServerRole{
		"A": ServerRoleMember,
		"B": ServerRoleMember,
		"C": ServerRolePromotable,
		"D": ServerRoleNone,
	}, roles)

	clusterTopology, err := info.ToTopology()
	require.NoError(t, err)
	assert.Len(t, clusterTopology.Nodes, 4)
	assert.Equal(t, "", clusterTopology.Nodes[0].Database)
}

func TestClusterTopologyInfoEtagFallback(t *testing.T) {
	info := ClusterTopologyInfo{
		Topology: ClusterTopologyJson{
			AllNodes: map[string]string{"A": "http://node1:8080"},
		},
		Etag: 9,
	}

	dbTopology, err := info.ToDatabaseTopology("db")
	require.NoError(t, err)
	assert.Equal(t, int64(9), dbTopology.Etag)
}

func TestClusterTopologyInfoBadURL(t *testing.T) {
	info := ClusterTopologyInfo{
		Topology: ClusterTopologyJson{
			AllNodes: map[string]string{"A": "not a url"},
		},
	}

	_, err := info.ToDatabaseTopology("db")
	assert.Error(t, err)
}

func TestDatabaseTopologyJson(t *testing.T) {
	var doc DatabaseTopologyJson
	require.NoError(t, json.Unmarshal([]byte(`{
		"Nodes": [
			{"Url": "http://node1:8080", "ClusterTag": "A", "Database": "sample", "ServerRole": "Member"},
			{"Url": "http://node2:8080", "ClusterTag": "B", "ServerRole": "Rehab"}
		],
		"Etag": 3
	}`), &doc))

	topo, err := doc.ToDatabaseTopology("sample")
	require.NoError(t, err)
	assert.Equal(t, int64(3), topo.Etag)

	nodes := topo.NodeList()
	require.Len(t, nodes, 2)
	assert.Equal(t, ServerRoleMember, nodes[0].Role)
	assert.Equal(t, ServerRoleRehab, nodes[1].Role)
	assert.Equal(t, "sample", nodes[1].Database)
}

func TestServerNodeJSON(t *testing.T) {
	node := NewServerNode(mustParseNodeURL(t, "http://node1:8080"), "db", "A", ServerRoleMember)

	data, err := json.Marshal(node)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Url":"http://node1:8080","ClusterTag":"A","Database":"db","ServerRole":"Member"}`, string(data))
}
