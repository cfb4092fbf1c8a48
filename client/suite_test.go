package client

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/couchbaselabs/ravenclient/testutils"
	"github.com/couchbaselabs/ravenclient/utils/selfsignedcert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

const (
	testDatabase     = "northwind"
	eventuallyWait   = 5 * time.Second
	eventuallyTick   = 10 * time.Millisecond
	testTimeout      = 10 * time.Second
	refreshQuietTime = 200 * time.Millisecond
)

type ClientTestSuite struct {
	suite.Suite

	logger *zap.Logger
	cert   *selfsignedcert.Certificate
}

func (s *ClientTestSuite) SetupSuite() {
	s.T().Logf("setting up client suite")

	logger, err := zap.NewDevelopment()
	if err != nil {
		s.T().Fatalf("failed to initialize test logging: %s", err)
	}
	s.logger = logger

	cert, err := selfsignedcert.GenerateLocalhost()
	if err != nil {
		s.T().Fatalf("failed to generate test certificate: %s", err)
	}
	s.cert = cert
}

func (s *ClientTestSuite) TearDownSuite() {
	s.T().Logf("tearing down client suite")
	_ = s.logger.Sync()
}

func (s *ClientTestSuite) testContext() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	s.T().Cleanup(cancel)
	return ctx
}

func (s *ClientTestSuite) identityFile() string {
	path := filepath.Join(s.T().TempDir(), "identity.pem")
	err := os.WriteFile(path, s.cert.IdentityPEM(), 0600)
	s.Require().NoError(err)
	return path
}

func (s *ClientTestSuite) newStore(urls []string, conventions Conventions) *DocumentStore {
	store, err := NewDocumentStoreBuilder().
		SetURLs(urls...).
		SetDatabaseName(testDatabase).
		SetConventions(conventions).
		SetLogger(s.logger).
		Build()
	s.Require().NoError(err)
	s.T().Cleanup(store.Close)
	return store
}

func (s *ClientTestSuite) readyExecutor(store *DocumentStore) *RequestExecutor {
	ctx := s.testContext()

	executor, err := store.GetRequestExecutor(ctx, "")
	s.Require().NoError(err)
	s.Require().NoError(executor.WaitReady(ctx))

	return executor
}

func (s *ClientTestSuite) topologyEtag(executor *RequestExecutor) int64 {
	dbTopology, err := executor.Topology(s.testContext())
	s.Require().NoError(err)
	return dbTopology.Etag
}

func (s *ClientTestSuite) deadHTTPSURL() string {
	return strings.Replace(testutils.DeadURL(s.T()), "http://", "https://", 1)
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}
