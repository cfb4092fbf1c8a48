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
	"errors"
	"fmt"
	"strings"

	"github.com/couchbaselabs/ravenclient/common/topology"
)

// Error kinds.  Errors returned by this package can be matched against these
// with errors.Is.
var (
	ErrConfiguration       = errors.New("invalid configuration")
	ErrTransport           = errors.New("transport error")
	ErrProtocol            = errors.New("protocol error")
	ErrNoNodeAvailable     = errors.New("no node available")
	ErrRequestBuild        = errors.New("failed to build request")
	ErrActorUnavailable    = errors.New("actor is no longer running")
	ErrNoDatabaseSpecified = errors.New("no database specified")
)

// Configuration failures, each reported wrapped in a ConfigError.
var (
	ErrMissingURLs        = errors.New("at least one url must be provided")
	ErrInvalidURL         = errors.New("invalid url")
	ErrSchemeMismatch     = errors.New("url scheme does not match the certificate configuration")
	ErrInvalidCertificate = errors.New("invalid client certificate")
	ErrInvalidProxy       = errors.New("invalid proxy address")
)

type ConfigError struct {
	Cause  error
	Detail string
}

func newConfigError(cause error, detail string) *ConfigError {
	return &ConfigError{Cause: cause, Detail: detail}
}

func (e *ConfigError) Error() string {
	if e.Detail == "" {
		return e.Cause.Error()
	}
	return e.Cause.Error() + ": " + e.Detail
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// TransportError is returned when a node could not be reached or the response
// could not be read.
type TransportError struct {
	URL   string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error contacting %s: %v", e.URL, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// ProtocolError is returned when a node responded with something other than
// what was expected, such as a malformed topology document.
type ProtocolError struct {
	URL        string
	StatusCode int
	Cause      error
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("protocol error from %s (status %d): %v", e.URL, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("protocol error from %s: %v", e.URL, e.Cause)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

type SeedError struct {
	URL string
	Err error
}

// DiscoveryError holds every per-seed failure from an initial topology
// discovery which produced no nodes at all.
type DiscoveryError struct {
	SeedErrors []SeedError
}

func (e *DiscoveryError) Error() string {
	if len(e.SeedErrors) == 0 {
		return "topology discovery failed: no seed urls configured"
	}

	parts := make([]string, 0, len(e.SeedErrors))
	for _, seedErr := range e.SeedErrors {
		parts = append(parts, fmt.Sprintf("%s: %v", seedErr.URL, seedErr.Err))
	}
	return "topology discovery failed: " + strings.Join(parts, "; ")
}

func (e *DiscoveryError) Unwrap() []error {
	errs := make([]error, 0, len(e.SeedErrors))
	for _, seedErr := range e.SeedErrors {
		errs = append(errs, seedErr.Err)
	}
	return errs
}

func (e *DiscoveryError) Is(target error) bool {
	return target == ErrNoNodeAvailable
}

func requestBuildError(err error) error {
	return fmt.Errorf("%w: %w", ErrRequestBuild, err)
}

func noNodeError(database string, cause error) error {
	target := "the cluster"
	if database != "" {
		target = fmt.Sprintf("database %q", database)
	}

	if cause != nil {
		return fmt.Errorf("%w for %s: %w", ErrNoNodeAvailable, target, cause)
	}
	return fmt.Errorf("%w for %s", ErrNoNodeAvailable, target)
}

func nodeURL(node *topology.ServerNode) string {
	if node == nil || node.URL == nil {
		return ""
	}
	return node.URL.String()
}
