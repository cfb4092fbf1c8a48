package netutils

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOverride(t *testing.T) {
	overrides := map[string]net.IP{
		"node1.raven.test": net.ParseIP("10.0.0.1"),
		"node6.raven.test": net.ParseIP("fd00::6"),
	}

	assert.Equal(t, "10.0.0.1:8080", ResolveOverride(overrides, "node1.raven.test:8080"))
	assert.Equal(t, "[fd00::6]:443", ResolveOverride(overrides, "node6.raven.test:443"))
	assert.Equal(t, "node2.raven.test:8080", ResolveOverride(overrides, "node2.raven.test:8080"))
	assert.Equal(t, "no-port", ResolveOverride(overrides, "no-port"))
}

func TestOverrideDialContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Host))
	}))
	defer srv.Close()

	_, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)

	dial := OverrideDialContext(nil, map[string]net.IP{
		"Raven-Node.test": net.ParseIP("127.0.0.1"),
	})

	conn, err := dial(context.Background(), "tcp", net.JoinHostPort("raven-node.test", port))
	require.NoError(t, err)
	assert.Equal(t, srv.Listener.Addr().String(), conn.RemoteAddr().String())
	require.NoError(t, conn.Close())
}
