package ravencommand

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParseURL(t *testing.T, rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return u
}

func TestGetClusterTopology(t *testing.T) {
	cmd := New(mustParseURL(t, "https://node1:443"), GetClusterTopology{})

	req, err := cmd.HTTPRequest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "https://node1:443/cluster/topology", req.URL.String())
	assert.Empty(t, req.URL.RawQuery)
}

func TestGetAllDocumentsFromDatabase(t *testing.T) {
	base := mustParseURL(t, "http://node1:8080")

	t.Run("PageSizeOnly", func(t *testing.T) {
		req, err := New(base, GetAllDocumentsFromDatabase{
			Database: "sample",
			PageSize: Int64(1),
		}).HTTPRequest(context.Background())
		require.NoError(t, err)
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "/databases/sample/docs", req.URL.Path)
		assert.Equal(t, "pageSize=1", req.URL.RawQuery)
	})

	t.Run("PageSizeAndStart", func(t *testing.T) {
		req, err := New(base, GetAllDocumentsFromDatabase{
			Database: "sample",
			PageSize: Int64(25),
			Start:    Int64(50),
		}).HTTPRequest(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "http://node1:8080/databases/sample/docs?pageSize=25&start=50", req.URL.String())
	})

	t.Run("NoPaging", func(t *testing.T) {
		req, err := New(base, GetAllDocumentsFromDatabase{
			Database: "sample",
		}).HTTPRequest(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "http://node1:8080/databases/sample/docs", req.URL.String())
	})

	t.Run("EscapedName", func(t *testing.T) {
		target, err := New(base, GetAllDocumentsFromDatabase{
			Database: "my db",
		}).URL()
		require.NoError(t, err)
		assert.Equal(t, "/databases/my db/docs", target.Path)
		assert.Equal(t, "/databases/my%20db/docs", target.EscapedPath())
	})

	t.Run("EmptyDatabase", func(t *testing.T) {
		_, err := New(base, GetAllDocumentsFromDatabase{}).HTTPRequest(context.Background())
		assert.ErrorIs(t, err, ErrInvalidDatabase)
	})

	t.Run("SlashInDatabase", func(t *testing.T) {
		_, err := New(base, GetAllDocumentsFromDatabase{Database: "a/b"}).HTTPRequest(context.Background())
		assert.ErrorIs(t, err, ErrInvalidDatabase)
	})

	t.Run("DotSegmentDatabase", func(t *testing.T) {
		for _, name := range []string{".", ".."} {
			_, err := New(base, GetAllDocumentsFromDatabase{Database: name}).HTTPRequest(context.Background())
			assert.ErrorIs(t, err, ErrInvalidDatabase, name)

			_, err = New(base, GetDatabaseTopology{Database: name}).URL()
			assert.ErrorIs(t, err, ErrInvalidDatabase, name)
		}
	})

	t.Run("DottedNameIsKept", func(t *testing.T) {
		target, err := New(base, GetAllDocumentsFromDatabase{Database: "..db"}).URL()
		require.NoError(t, err)
		assert.Equal(t, "/databases/..db/docs", target.Path)
	})
}

func TestGetDatabaseTopology(t *testing.T) {
	base := mustParseURL(t, "http://node1:8080")

	req, err := New(base, GetDatabaseTopology{
		Database:              "sample",
		ApplicationIdentifier: "6f1c1b52-0f5e-4d3c-9c57-1f2d7c8e0a11",
	}).HTTPRequest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/topology", req.URL.Path)
	assert.Equal(t, "sample", req.URL.Query().Get("name"))
	assert.Equal(t, "6f1c1b52-0f5e-4d3c-9c57-1f2d7c8e0a11", req.URL.Query().Get("applicationIdentifier"))

	req, err = New(base, GetDatabaseTopology{Database: "sample"}).HTTPRequest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "name=sample", req.URL.RawQuery)
}

func TestBaseURLPrefixIsKept(t *testing.T) {
	for _, rawBase := range []string{"https://proxy:443/raven", "https://proxy:443/raven/"} {
		target, err := New(mustParseURL(t, rawBase), GetClusterTopology{}).URL()
		require.NoError(t, err)
		assert.Equal(t, "https://proxy:443/raven/cluster/topology", target.String())
	}
}

func TestMissingParts(t *testing.T) {
	_, err := New(nil, GetClusterTopology{}).HTTPRequest(context.Background())
	assert.True(t, errors.Is(err, ErrMissingBaseURL))

	_, err = New(mustParseURL(t, "http://node1:8080"), nil).HTTPRequest(context.Background())
	assert.True(t, errors.Is(err, ErrMissingVariant))
}
