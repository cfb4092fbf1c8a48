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
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/couchbaselabs/ravenclient/utils/netutils"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type httpClientOptions struct {
	Identity       *tls.Certificate
	TrustStore     *x509.CertPool
	DNSOverrides   map[string]net.IP
	ProxyURL       *url.URL
	Timeout        time.Duration
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// newHTTPClient builds the client shared by a store and all of its request
// executors.
func newHTTPClient(opts httpClientOptions) *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = netutils.OverrideDialContext(dialer, opts.DNSOverrides)
	if opts.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(opts.ProxyURL)
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    opts.TrustStore,
	}
	if opts.Identity != nil {
		tlsConfig.Certificates = []tls.Certificate{*opts.Identity}
	}
	transport.TLSClientConfig = tlsConfig

	var otelOpts []otelhttp.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	if opts.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(opts.MeterProvider))
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(transport, otelOpts...),
		Timeout:   opts.Timeout,
	}
}

func parseProxyAddress(address string) (*url.URL, error) {
	proxyURL, err := url.Parse(address)
	if err != nil {
		return nil, newConfigError(ErrInvalidProxy, err.Error())
	}

	switch proxyURL.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, newConfigError(ErrInvalidProxy, "unsupported proxy scheme in "+address)
	}

	if proxyURL.Host == "" {
		return nil, newConfigError(ErrInvalidProxy, "proxy address has no host: "+address)
	}

	return proxyURL, nil
}
