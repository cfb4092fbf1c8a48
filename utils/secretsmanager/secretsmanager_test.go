package secretsmanager

import (
	"strings"
	"testing"

	"github.com/couchbaselabs/ravenclient/utils/selfsignedcert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityFromSecret(t *testing.T) {
	cert, err := selfsignedcert.GenerateLocalhost()
	require.NoError(t, err)

	identity, err := IdentityFromSecret(string(cert.IdentityPEM()))
	require.NoError(t, err)
	assert.Equal(t, cert.IdentityPEM(), identity)

	escaped := strings.ReplaceAll(string(cert.IdentityPEM()), "\n", `\n`)
	identity, err = IdentityFromSecret(escaped)
	require.NoError(t, err)
	assert.Contains(t, string(identity), "-----BEGIN CERTIFICATE-----\n")

	_, err = IdentityFromSecret(string(cert.CertPEM))
	assert.Error(t, err)

	_, err = IdentityFromSecret("username:password")
	assert.Error(t, err)
}
