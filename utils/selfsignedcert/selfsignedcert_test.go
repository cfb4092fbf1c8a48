package selfsignedcert

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIdentityPEM(t *testing.T) {
	cert, err := Generate(Options{
		CommonName: "client-a",
		DNSNames:   []string{"node1.raven.test"},
	})
	require.NoError(t, err)

	identity := cert.IdentityPEM()
	pair, err := tls.X509KeyPair(identity, identity)
	require.NoError(t, err)
	require.Len(t, pair.Certificate, 1)
	assert.Equal(t, cert.TLS.Certificate[0], pair.Certificate[0])
	assert.Equal(t, "client-a", cert.Leaf.Subject.CommonName)
}

func TestGenerateLocalhostVerifies(t *testing.T) {
	cert, err := GenerateLocalhost()
	require.NoError(t, err)

	_, err = cert.Leaf.Verify(x509.VerifyOptions{
		DNSName: "127.0.0.1",
		Roots:   cert.CertPool(),
	})
	require.NoError(t, err)

	assert.Contains(t, cert.Leaf.DNSNames, "localhost")
	assert.True(t, cert.Leaf.IPAddresses[0].Equal(net.IPv4(127, 0, 0, 1)))
}
