package sliceutils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoveDuplicates(t *testing.T) {
	assert.Equal(t, []int{3, 1, 2}, RemoveDuplicates([]int{3, 1, 3, 2, 1}))
	assert.Empty(t, RemoveDuplicates[string](nil))
}

func TestRemoveDuplicatesFunc(t *testing.T) {
	out := RemoveDuplicatesFunc([]string{"http://A", "http://b", "http://a"}, strings.ToLower)
	assert.Equal(t, []string{"http://A", "http://b"}, out)
}
