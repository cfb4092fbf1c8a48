package client

import (
	"github.com/couchbaselabs/ravenclient/common/ravencommand"
	"github.com/couchbaselabs/ravenclient/testutils"
)

type testDocument struct {
	Name string `json:"name"`
}

func (s *ClientTestSuite) TestSessionGetAllDocuments() {
	cluster := testutils.NewFakeCluster(s.T(), testutils.FakeClusterOptions{
		NumNodes: 1,
		Etag:     5,
	})
	cluster.AddDocuments(testDatabase,
		testDocument{Name: "first"},
		testDocument{Name: "second"},
		testDocument{Name: "third"})

	store := s.newStore(cluster.URLs(), DefaultConventions())
	session := store.OpenSession("")

	page, err := session.GetAllDocumentsForDatabase(s.testContext(), nil, nil)
	s.Require().NoError(err)
	s.Assert().Len(page.Results, 3)

	page, err = session.GetAllDocumentsForDatabase(s.testContext(), ravencommand.Int64(1), ravencommand.Int64(1))
	s.Require().NoError(err)
	s.Require().Len(page.Results, 1)
	s.Assert().JSONEq(`{"name":"second"}`, string(page.Results[0]))

	otherPage, err := store.OpenSession("empty").GetAllDocumentsForDatabase(s.testContext(), nil, nil)
	s.Require().NoError(err)
	s.Assert().Empty(otherPage.Results)
}

func (s *ClientTestSuite) TestSessionGetClusterTopology() {
	cluster := testutils.NewFakeCluster(s.T(), testutils.FakeClusterOptions{
		NumNodes: 2,
		Etag:     9,
	})
	store := s.newStore(cluster.URLs(), DefaultConventions())

	info, err := store.OpenSession("").GetClusterTopology(s.testContext())
	s.Require().NoError(err)
	s.Assert().Equal(int64(9), info.Topology.Etag)
	s.Assert().Len(info.Topology.AllNodes, 2)
	s.Assert().Contains([]string{"A", "B"}, info.NodeTag)
}

func (s *ClientTestSuite) TestSessionGetDatabaseTopology() {
	cluster := testutils.NewFakeCluster(s.T(), testutils.FakeClusterOptions{
		NumNodes: 1,
		Etag:     4,
	})
	node := cluster.Node("A")
	store := s.newStore(cluster.URLs(), DefaultConventions())

	dbTopology, err := store.OpenSession("").GetDatabaseTopology(s.testContext())
	s.Require().NoError(err)
	s.Assert().Equal(int64(4), dbTopology.Etag)
	s.Require().Equal(1, dbTopology.Len())
	s.Assert().Equal(testDatabase, dbTopology.NodeList()[0].Database)

	executor, err := store.GetRequestExecutor(s.testContext(), "")
	s.Require().NoError(err)
	s.Assert().Equal([]string{executor.ApplicationID().String()}, node.ApplicationIdentifiers())
}

func (s *ClientTestSuite) TestSessionWithoutApplicationIdentifier() {
	cluster := testutils.NewFakeCluster(s.T(), testutils.FakeClusterOptions{
		NumNodes: 1,
		Etag:     4,
	})
	node := cluster.Node("A")

	conventions := DefaultConventions()
	conventions.SendApplicationIdentifier = false
	store := s.newStore(cluster.URLs(), conventions)

	_, err := store.OpenSession("").GetDatabaseTopology(s.testContext())
	s.Require().NoError(err)
	s.Assert().Equal([]string{""}, node.ApplicationIdentifiers())
}

func (s *ClientTestSuite) TestSessionInvalidDatabase() {
	cluster := testutils.NewFakeCluster(s.T(), testutils.FakeClusterOptions{
		NumNodes: 1,
		Etag:     4,
	})
	store := s.newStore(cluster.URLs(), DefaultConventions())

	_, err := store.OpenSession("a/b").GetAllDocumentsForDatabase(s.testContext(), nil, nil)
	s.Assert().ErrorIs(err, ErrRequestBuild)
	s.Assert().ErrorIs(err, ravencommand.ErrInvalidDatabase)
}
