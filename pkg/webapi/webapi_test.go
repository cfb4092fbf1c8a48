package webapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func doRequest(t *testing.T, handler http.Handler, method, path, body string) (int, string) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	respBody, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(respBody)
}

func TestHealth(t *testing.T) {
	var healthErr error
	webServer := NewWebServer(WebServerOptions{
		HealthCheck: func(ctx context.Context) error {
			return healthErr
		},
	})
	handler := webServer.Handler()

	code, body := doRequest(t, handler, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	healthErr = errors.New("no node available")
	code, body = doRequest(t, handler, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "no node available")
}

func TestTopology(t *testing.T) {
	webServer := NewWebServer(WebServerOptions{
		TopologyFunc: func(ctx context.Context) (any, error) {
			return map[string]int64{"Etag": 5}, nil
		},
	})

	code, body := doRequest(t, webServer.Handler(), http.MethodGet, "/topology", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"Etag":5}`, body)

	code, _ = doRequest(t, NewWebServer(WebServerOptions{}).Handler(), http.MethodGet, "/topology", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestLogLevel(t *testing.T) {
	logLevel := zap.NewAtomicLevelAt(zap.InfoLevel)
	webServer := NewWebServer(WebServerOptions{
		LogLevel: &logLevel,
	})
	handler := webServer.Handler()

	code, body := doRequest(t, handler, http.MethodGet, "/loglevel", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "info")

	code, _ = doRequest(t, handler, http.MethodPut, "/loglevel", `{"level":"debug"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, zap.DebugLevel, logLevel.Level())
}
