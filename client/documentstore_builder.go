/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package client

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"maps"
	"net"
	"net/url"

	"github.com/couchbaselabs/ravenclient/common/topology"
	"github.com/couchbaselabs/ravenclient/pkg/metrics"
	"github.com/couchbaselabs/ravenclient/utils/sliceutils"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// DocumentStoreBuilder collects the configuration of a DocumentStore.  The
// builder is only a template, every call to Build validates the configuration
// again and produces an independent store.
type DocumentStoreBuilder struct {
	urls            []string
	certificatePath string
	certificatePEM  []byte
	trustStore      *x509.CertPool
	database        string
	dnsOverrides    map[string]net.IP
	proxyAddress    string
	conventions     *Conventions
	logger          *zap.Logger
	meterProvider   metric.MeterProvider
	tracerProvider  trace.TracerProvider
}

func NewDocumentStoreBuilder() *DocumentStoreBuilder {
	return &DocumentStoreBuilder{}
}

func (b *DocumentStoreBuilder) SetURLs(urls ...string) *DocumentStoreBuilder {
	b.urls = append([]string(nil), urls...)
	return b
}

// SetClientCertificate sets the path of a PEM file holding the client
// certificate and its private key.
func (b *DocumentStoreBuilder) SetClientCertificate(path string) *DocumentStoreBuilder {
	b.certificatePath = path
	b.certificatePEM = nil
	return b
}

// SetClientCertificatePEM is like SetClientCertificate but takes the PEM data
// directly.
func (b *DocumentStoreBuilder) SetClientCertificatePEM(data []byte) *DocumentStoreBuilder {
	b.certificatePEM = append([]byte(nil), data...)
	b.certificatePath = ""
	return b
}

// SetTrustStore sets the pool used to verify server certificates.  The system
// pool is used when none is set.
func (b *DocumentStoreBuilder) SetTrustStore(pool *x509.CertPool) *DocumentStoreBuilder {
	b.trustStore = pool
	return b
}

func (b *DocumentStoreBuilder) SetDatabaseName(database string) *DocumentStoreBuilder {
	b.database = database
	return b
}

// SetDNSOverrides makes connections to the given host names go to fixed
// addresses instead of resolving them.
func (b *DocumentStoreBuilder) SetDNSOverrides(overrides map[string]net.IP) *DocumentStoreBuilder {
	b.dnsOverrides = maps.Clone(overrides)
	return b
}

func (b *DocumentStoreBuilder) SetProxyAddress(address string) *DocumentStoreBuilder {
	b.proxyAddress = address
	return b
}

func (b *DocumentStoreBuilder) SetConventions(conventions Conventions) *DocumentStoreBuilder {
	b.conventions = &conventions
	return b
}

func (b *DocumentStoreBuilder) SetLogger(logger *zap.Logger) *DocumentStoreBuilder {
	b.logger = logger
	return b
}

func (b *DocumentStoreBuilder) SetMeterProvider(meterProvider metric.MeterProvider) *DocumentStoreBuilder {
	b.meterProvider = meterProvider
	return b
}

func (b *DocumentStoreBuilder) SetTracerProvider(tracerProvider trace.TracerProvider) *DocumentStoreBuilder {
	b.tracerProvider = tracerProvider
	return b
}

func (b *DocumentStoreBuilder) loadIdentity() (*tls.Certificate, error) {
	if b.certificatePath != "" {
		return LoadIdentity(b.certificatePath)
	}
	if b.certificatePEM != nil {
		return ParseIdentityPEM(b.certificatePEM)
	}
	return nil, nil
}

// Build validates the configuration and starts a new store.  Every failure is
// a *ConfigError.
func (b *DocumentStoreBuilder) Build() (*DocumentStore, error) {
	identity, err := b.loadIdentity()
	if err != nil {
		return nil, err
	}

	seedURLs, err := validateURLs(b.urls, identity != nil)
	if err != nil {
		return nil, err
	}

	var proxyURL *url.URL
	if b.proxyAddress != "" {
		proxyURL, err = parseProxyAddress(b.proxyAddress)
		if err != nil {
			return nil, err
		}
	}

	conventions := DefaultConventions()
	if b.conventions != nil {
		conventions = *b.conventions
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tracerProvider := b.tracerProvider
	if tracerProvider == nil {
		tracerProvider = tracenoop.NewTracerProvider()
	}

	httpClient := newHTTPClient(httpClientOptions{
		Identity:       identity,
		TrustStore:     b.trustStore,
		DNSOverrides:   maps.Clone(b.dnsOverrides),
		ProxyURL:       proxyURL,
		Timeout:        conventions.RequestTimeout,
		TracerProvider: tracerProvider,
		MeterProvider:  b.meterProvider,
	})

	logger = logger.Named("document-store")
	logger.Debug("building document store",
		zap.Int("seeds", len(seedURLs)),
		zap.String("database", b.database),
		zap.Bool("clientCertificate", identity != nil))

	return newDocumentStore(documentStoreOptions{
		Database:       b.database,
		SeedURLs:       seedURLs,
		HttpClient:     httpClient,
		Conventions:    conventions,
		Logger:         logger,
		Metrics:        metrics.NewClientMetrics(b.meterProvider),
		TracerProvider: tracerProvider,
	}), nil
}

// validateURLs parses and normalizes seed urls, dropping duplicates while
// keeping the original order.  Every url must use the same scheme, https when
// a client certificate is configured and http otherwise.
func validateURLs(urls []string, requireHTTPS bool) ([]*url.URL, error) {
	if len(urls) == 0 {
		return nil, newConfigError(ErrMissingURLs, "")
	}

	parsedURLs := make([]*url.URL, 0, len(urls))
	scheme := ""
	for _, rawURL := range urls {
		parsedURL, err := topology.ParseNodeURL(rawURL)
		if err != nil {
			return nil, newConfigError(ErrInvalidURL, err.Error())
		}

		if scheme == "" {
			scheme = parsedURL.Scheme
		} else if parsedURL.Scheme != scheme {
			return nil, newConfigError(ErrSchemeMismatch,
				fmt.Sprintf("urls mix %s and %s schemes", scheme, parsedURL.Scheme))
		}

		parsedURLs = append(parsedURLs, parsedURL)
	}

	if requireHTTPS && scheme != "https" {
		return nil, newConfigError(ErrSchemeMismatch, "a client certificate requires https urls")
	}
	if !requireHTTPS && scheme != "http" {
		return nil, newConfigError(ErrSchemeMismatch, "https urls require a client certificate")
	}

	return sliceutils.RemoveDuplicatesFunc(parsedURLs, func(u *url.URL) string {
		return u.String()
	}), nil
}
