/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package ravencommand

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

var (
	ErrMissingBaseURL  = errors.New("command has no base server url")
	ErrMissingVariant  = errors.New("command has no variant")
	ErrInvalidDatabase = errors.New("invalid database name")
)

// Variant is one of the operations a Command can perform.  The set of variants
// is closed, each one fully determines the method, path and query string.
type Variant interface {
	Name() string

	method() string
	pathSegments() ([]string, error)
	query() url.Values
}

type GetClusterTopology struct{}

var _ Variant = GetClusterTopology{}

func (GetClusterTopology) Name() string                    { return "GetClusterTopology" }
func (GetClusterTopology) method() string                  { return http.MethodGet }
func (GetClusterTopology) pathSegments() ([]string, error) { return []string{"cluster", "topology"}, nil }
func (GetClusterTopology) query() url.Values               { return nil }

type GetAllDocumentsFromDatabase struct {
	Database string
	PageSize *int64
	Start    *int64
}

var _ Variant = GetAllDocumentsFromDatabase{}

func (GetAllDocumentsFromDatabase) Name() string   { return "GetAllDocumentsFromDatabase" }
func (GetAllDocumentsFromDatabase) method() string { return http.MethodGet }

func (v GetAllDocumentsFromDatabase) pathSegments() ([]string, error) {
	if err := validateDatabaseName(v.Database); err != nil {
		return nil, err
	}
	return []string{"databases", v.Database, "docs"}, nil
}

func (v GetAllDocumentsFromDatabase) query() url.Values {
	q := url.Values{}
	if v.PageSize != nil {
		q.Set("pageSize", strconv.FormatInt(*v.PageSize, 10))
	}
	if v.Start != nil {
		q.Set("start", strconv.FormatInt(*v.Start, 10))
	}
	return q
}

type GetDatabaseTopology struct {
	Database              string
	ApplicationIdentifier string
}

var _ Variant = GetDatabaseTopology{}

func (GetDatabaseTopology) Name() string   { return "GetDatabaseTopology" }
func (GetDatabaseTopology) method() string { return http.MethodGet }

func (v GetDatabaseTopology) pathSegments() ([]string, error) {
	if err := validateDatabaseName(v.Database); err != nil {
		return nil, err
	}
	return []string{"topology"}, nil
}

func (v GetDatabaseTopology) query() url.Values {
	q := url.Values{}
	q.Set("name", v.Database)
	if v.ApplicationIdentifier != "" {
		q.Set("applicationIdentifier", v.ApplicationIdentifier)
	}
	return q
}

func validateDatabaseName(database string) error {
	if database == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidDatabase)
	}
	if strings.ContainsAny(database, "/\\") {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidDatabase, database)
	}
	if database == "." || database == ".." {
		return fmt.Errorf("%w: %q is a dot segment", ErrInvalidDatabase, database)
	}
	return nil
}

// Int64 is a helper for the optional paging parameters.
func Int64(v int64) *int64 {
	return &v
}

// Command pairs a variant with the node it is to be sent to.  It carries no
// routing, retry or response handling of its own.
type Command struct {
	BaseServerURL *url.URL
	Variant       Variant
}

func New(baseServerURL *url.URL, variant Variant) *Command {
	return &Command{
		BaseServerURL: baseServerURL,
		Variant:       variant,
	}
}

// URL renders the full request url.  Any path prefix on the base url is kept.
func (c *Command) URL() (*url.URL, error) {
	if c.BaseServerURL == nil {
		return nil, ErrMissingBaseURL
	}
	if c.Variant == nil {
		return nil, ErrMissingVariant
	}

	segments, err := c.Variant.pathSegments()
	if err != nil {
		return nil, err
	}

	base := *c.BaseServerURL
	base.RawQuery = ""
	base.Fragment = ""
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	base.RawPath = ""

	escaped := make([]string, len(segments))
	for segIdx, segment := range segments {
		escaped[segIdx] = url.PathEscape(segment)
	}

	target, err := base.Parse(strings.Join(escaped, "/"))
	if err != nil {
		return nil, err
	}

	if q := c.Variant.query(); len(q) > 0 {
		target.RawQuery = q.Encode()
	}

	return target, nil
}

func (c *Command) HTTPRequest(ctx context.Context) (*http.Request, error) {
	target, err := c.URL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, c.Variant.method(), target.String(), nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")

	return req, nil
}
