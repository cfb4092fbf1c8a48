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
	"os"

	"github.com/pkg/errors"
)

// LoadIdentity reads a client identity from a PEM file holding both the
// certificate chain and the private key.
func LoadIdentity(path string) (*tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newConfigError(ErrInvalidCertificate, errors.Wrap(err, "failed to read certificate file").Error())
	}

	return ParseIdentityPEM(data)
}

func ParseIdentityPEM(data []byte) (*tls.Certificate, error) {
	cert, err := tls.X509KeyPair(data, data)
	if err != nil {
		return nil, newConfigError(ErrInvalidCertificate, errors.Wrap(err, "failed to parse pem identity").Error())
	}

	return &cert, nil
}
