package buildversion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetVersionUnknownModule(t *testing.T) {
	assert.Equal(t, "dev", GetVersion("example.com/does/not/exist"))
}

func TestVersionOrDev(t *testing.T) {
	assert.Equal(t, "dev", versionOrDev(""))
	assert.Equal(t, "dev", versionOrDev("(devel)"))
	assert.Equal(t, "v1.2.3", versionOrDev("v1.2.3"))
}
