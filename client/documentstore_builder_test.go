package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/couchbaselabs/ravenclient/utils/selfsignedcert"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURLs(t *testing.T) {
	t.Run("uniform http", func(t *testing.T) {
		urls, err := validateURLs([]string{"http://a:8080", "http://b:8080"}, false)
		require.NoError(t, err)
		require.Len(t, urls, 2)
		assert.Equal(t, "http://a:8080", urls[0].String())
		assert.Equal(t, "http://b:8080", urls[1].String())
	})

	t.Run("uniform https", func(t *testing.T) {
		urls, err := validateURLs([]string{"https://a:443", "https://b:443"}, true)
		require.NoError(t, err)
		assert.Len(t, urls, 2)
	})

	t.Run("duplicates collapse", func(t *testing.T) {
		urls, err := validateURLs([]string{"http://a:8080", "http://B:8080/", "http://a:8080/", "http://b:8080"}, false)
		require.NoError(t, err)
		require.Len(t, urls, 2)
		assert.Equal(t, "http://a:8080", urls[0].String())
		assert.Equal(t, "http://b:8080", urls[1].String())
	})

	t.Run("mixed schemes", func(t *testing.T) {
		for _, requireHTTPS := range []bool{false, true} {
			_, err := validateURLs([]string{"http://a:8080", "https://b:443"}, requireHTTPS)
			assert.ErrorIs(t, err, ErrSchemeMismatch)
			assert.ErrorIs(t, err, ErrConfiguration)
		}
	})

	t.Run("certificate requires https", func(t *testing.T) {
		_, err := validateURLs([]string{"http://a:8080"}, true)
		assert.ErrorIs(t, err, ErrSchemeMismatch)
	})

	t.Run("https requires certificate", func(t *testing.T) {
		_, err := validateURLs([]string{"https://a:443"}, false)
		assert.ErrorIs(t, err, ErrSchemeMismatch)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := validateURLs(nil, false)
		assert.ErrorIs(t, err, ErrMissingURLs)
		assert.ErrorIs(t, err, ErrConfiguration)

		var configErr *ConfigError
		assert.ErrorAs(t, err, &configErr)
	})

	t.Run("invalid", func(t *testing.T) {
		for _, rawURL := range []string{"ftp://a:21", "http://", "not a url", "://missing-scheme"} {
			_, err := validateURLs([]string{rawURL}, false)
			assert.ErrorIs(t, err, ErrInvalidURL, rawURL)
		}
	})
}

func TestBuildInvalidCertificate(t *testing.T) {
	dir := t.TempDir()

	garbagePath := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbagePath, []byte("-----BEGIN CERTIFICATE-----\nnope\n-----END CERTIFICATE-----\n"), 0600))

	_, err := NewDocumentStoreBuilder().
		SetURLs("https://a:443").
		SetClientCertificate(garbagePath).
		Build()
	assert.ErrorIs(t, err, ErrInvalidCertificate)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = NewDocumentStoreBuilder().
		SetURLs("https://a:443").
		SetClientCertificate(filepath.Join(dir, "missing.pem")).
		Build()
	assert.ErrorIs(t, err, ErrInvalidCertificate)

	cert, err := selfsignedcert.GenerateLocalhost()
	require.NoError(t, err)

	_, err = NewDocumentStoreBuilder().
		SetURLs("https://a:443").
		SetClientCertificatePEM(cert.CertPEM).
		Build()
	assert.ErrorIs(t, err, ErrInvalidCertificate)
}

func TestBuildValidCertificate(t *testing.T) {
	cert, err := selfsignedcert.GenerateLocalhost()
	require.NoError(t, err)

	store, err := NewDocumentStoreBuilder().
		SetURLs("https://127.0.0.1:1").
		SetClientCertificatePEM(cert.IdentityPEM()).
		SetTrustStore(cert.CertPool()).
		Build()
	require.NoError(t, err)
	store.Close()

	_, err = NewDocumentStoreBuilder().
		SetURLs("http://127.0.0.1:1").
		SetClientCertificatePEM(cert.IdentityPEM()).
		Build()
	assert.ErrorIs(t, err, ErrSchemeMismatch)
}

func TestBuildProxyAddress(t *testing.T) {
	_, err := NewDocumentStoreBuilder().
		SetURLs("http://127.0.0.1:1").
		SetProxyAddress("gopher://proxy:70").
		Build()
	assert.ErrorIs(t, err, ErrInvalidProxy)

	_, err = NewDocumentStoreBuilder().
		SetURLs("http://127.0.0.1:1").
		SetProxyAddress("http://").
		Build()
	assert.ErrorIs(t, err, ErrInvalidProxy)

	store, err := NewDocumentStoreBuilder().
		SetURLs("http://127.0.0.1:1").
		SetProxyAddress("http://proxy.local:3128").
		Build()
	require.NoError(t, err)
	store.Close()
}

func TestBuildWithoutURLs(t *testing.T) {
	_, err := NewDocumentStoreBuilder().Build()
	assert.ErrorIs(t, err, ErrMissingURLs)
}
