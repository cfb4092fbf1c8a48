// This file is to handle things such as metrics/health/log levels, etc

package webapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type WebServerOptions struct {
	Logger        *zap.Logger
	LogLevel      *zap.AtomicLevel
	ListenAddress string

	// HealthCheck reports whether the client is able to serve requests.  The
	// health endpoint always succeeds when it is nil.
	HealthCheck func(ctx context.Context) error

	// TopologyFunc returns the topology currently in use, which is served as
	// json on the topology endpoint.
	TopologyFunc func(ctx context.Context) (any, error)
}

type WebServer struct {
	logger        *zap.Logger
	logLevel      *zap.AtomicLevel
	listenAddress string
	healthCheck   func(ctx context.Context) error
	topologyFunc  func(ctx context.Context) (any, error)
	httpServer    *http.Server
}

func NewWebServer(opts WebServerOptions) *WebServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebServer{
		logger:        logger,
		logLevel:      opts.LogLevel,
		listenAddress: opts.ListenAddress,
		healthCheck:   opts.HealthCheck,
		topologyFunc:  opts.TopologyFunc,
	}
}

func (w *WebServer) handleRoot(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(200)
	_, err := rw.Write([]byte("Welcome to the ravenclient internal webapi"))
	if err != nil {
		w.logger.Debug("failed to write generic root response", zap.Error(err))
	}
}

func (w *WebServer) handleHealth(rw http.ResponseWriter, r *http.Request) {
	if w.healthCheck != nil {
		err := w.healthCheck(r.Context())
		if err != nil {
			w.logger.Debug("health check failed", zap.Error(err))
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}

	rw.WriteHeader(200)
	_, err := rw.Write([]byte("OK"))
	if err != nil {
		w.logger.Debug("failed to write health response", zap.Error(err))
	}
}

func (w *WebServer) handleTopology(rw http.ResponseWriter, r *http.Request) {
	if w.topologyFunc == nil {
		http.NotFound(rw, r)
		return
	}

	topology, err := w.topologyFunc(r.Context())
	if err != nil {
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(rw).Encode(topology)
	if err != nil {
		w.logger.Debug("failed to write topology response", zap.Error(err))
	}
}

// Handler builds the router serving every endpoint of the web server.
func (w *WebServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", w.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/topology", w.handleTopology).Methods(http.MethodGet)
	if w.logLevel != nil {
		// zap serves GET and PUT of the level in its json form
		r.Handle("/loglevel", w.logLevel).Methods(http.MethodGet, http.MethodPut)
	}
	r.HandleFunc("/", w.handleRoot)

	return r
}

func (w *WebServer) ListenAndServe() error {
	w.httpServer = &http.Server{
		Handler:      w.Handler(),
		Addr:         w.listenAddress,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return w.httpServer.ListenAndServe()
}

func (w *WebServer) Shutdown(ctx context.Context) error {
	if w.httpServer == nil {
		return nil
	}
	return w.httpServer.Shutdown(ctx)
}

var globalWebLock sync.Mutex
var globalWebServer *WebServer = nil

func InitializeWebServer(opts WebServerOptions) *WebServer {
	globalWebLock.Lock()
	if globalWebServer != nil {
		webServer := globalWebServer
		globalWebLock.Unlock()
		return webServer
	}

	globalWebServer = NewWebServer(opts)
	webServer := globalWebServer
	globalWebLock.Unlock()

	go func() {
		err := webServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			webServer.logger.Error("Failed to listen and serve web server", zap.Error(err))
		}
	}()

	return webServer
}
