/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package netutils

import (
	"context"
	"net"
	"strings"
)

type DialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// OverrideDialContext wraps a dialer so that connections to any host listed in
// overrides are made to the mapped ip instead, keeping the requested port.  The
// host name itself is left untouched for TLS verification by the caller.
func OverrideDialContext(dialer *net.Dialer, overrides map[string]net.IP) DialContextFunc {
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	normalized := make(map[string]net.IP, len(overrides))
	for host, ip := range overrides {
		normalized[strings.ToLower(host)] = ip
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.DialContext(ctx, network, ResolveOverride(normalized, addr))
	}
}

// ResolveOverride rewrites a host:port address using overrides.  Addresses
// without a matching override are returned unchanged.
func ResolveOverride(overrides map[string]net.IP, addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}

	ip, ok := overrides[strings.ToLower(host)]
	if !ok || ip == nil {
		return addr
	}

	return net.JoinHostPort(ip.String(), port)
}
