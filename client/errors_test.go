package client

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/couchbaselabs/ravenclient/common/ravencommand"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	kinds := []error{
		ErrConfiguration,
		ErrTransport,
		ErrProtocol,
		ErrNoNodeAvailable,
		ErrRequestBuild,
		ErrActorUnavailable,
		ErrNoDatabaseSpecified,
	}

	errs := map[error]error{
		ErrConfiguration:    newConfigError(ErrInvalidURL, "bad"),
		ErrTransport:        &TransportError{URL: "http://a", Cause: errors.New("refused")},
		ErrProtocol:         &ProtocolError{URL: "http://a", StatusCode: 500, Cause: errors.New("boom")},
		ErrNoNodeAvailable:  noNodeError("db", nil),
		ErrRequestBuild:     requestBuildError(ravencommand.ErrMissingVariant),
		ErrActorUnavailable: ErrActorUnavailable,
	}

	for kind, err := range errs {
		for _, other := range kinds {
			if other == kind {
				assert.ErrorIs(t, err, other)
			} else {
				assert.NotErrorIs(t, err, other, "%v should not be %v", err, other)
			}
		}
	}
}

func TestDiscoveryError(t *testing.T) {
	seedErr := &TransportError{URL: "http://a", Cause: errors.New("refused")}
	err := noNodeError("db", &DiscoveryError{
		SeedErrors: []SeedError{{URL: "http://a", Err: seedErr}},
	})

	assert.ErrorIs(t, err, ErrNoNodeAvailable)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "http://a")

	var discoveryErr *DiscoveryError
	require.ErrorAs(t, err, &discoveryErr)
	assert.Len(t, discoveryErr.SeedErrors, 1)

	emptyErr := &DiscoveryError{}
	assert.Contains(t, emptyErr.Error(), "no seed urls")
}

func TestDecodeJSONResponse(t *testing.T) {
	var data map[string]int

	err := decodeJSONResponse(&Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{"a":1}`),
	}, &data)
	require.NoError(t, err)
	assert.Equal(t, 1, data["a"])

	err = decodeJSONResponse(&Response{
		StatusCode: http.StatusServiceUnavailable,
		Body:       []byte(`unavailable`),
	}, &data)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, http.StatusServiceUnavailable, protoErr.StatusCode)
	assert.Contains(t, err.Error(), "unavailable")

	err = decodeJSONResponse(&Response{
		StatusCode: http.StatusOK,
		Body:       []byte(`{not json`),
	}, &data)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestTruncateBody(t *testing.T) {
	assert.Equal(t, "short", truncateBody([]byte("short")))

	ascii := strings.Repeat("a", 300)
	assert.Equal(t, strings.Repeat("a", 256)+"...", truncateBody([]byte(ascii)))

	// 255 single byte characters followed by two byte runes puts a rune
	// boundary one byte past the limit.
	multi := strings.Repeat("a", 255) + strings.Repeat("é", 10)
	truncated := truncateBody([]byte(multi))
	assert.True(t, utf8.ValidString(truncated))
	assert.Equal(t, strings.Repeat("a", 255)+"...", truncated)

	exact := strings.Repeat("a", 254) + "é" + "tail"
	assert.Equal(t, strings.Repeat("a", 254)+"é...", truncateBody([]byte(exact)))
}
