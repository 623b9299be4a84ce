package scope

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAbsent(t *testing.T) {
	id, scheme, err := Normalize("")
	require.NoError(t, err)
	assert.Equal(t, FallbackProject, id)
	assert.Equal(t, SchemeV1, scheme)
}

func TestNormalizeExplicit(t *testing.T) {
	id, scheme, err := Normalize("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", id)
	assert.Equal(t, SchemeV2, scheme)
}

func TestNormalizeExplicitFallbackName(t *testing.T) {
	// Explicitly requesting "legacy" is allowed and uses the current scheme.
	id, scheme, err := Normalize("legacy")
	require.NoError(t, err)
	assert.Equal(t, "legacy", id)
	assert.Equal(t, SchemeV2, scheme)
}

func TestNormalizeInvalid(t *testing.T) {
	invalid := []string{
		"Alpha",                            // uppercase
		"has space",                        // space
		"-leading",                         // leading hyphen
		"trailing-",                        // trailing hyphen
		"a",                                // length 1
		strings.Repeat("a", 65),            // length > 64
		"unicode-é",                        // non-ascii
	}
	for _, id := range invalid {
		_, _, err := Normalize(id)
		assert.Error(t, err, "id %q should be rejected", id)
	}
}

func TestNormalizeBoundaryLengths(t *testing.T) {
	_, scheme, err := Normalize("ab")
	require.NoError(t, err)
	assert.Equal(t, SchemeV2, scheme)

	_, _, err = Normalize(strings.Repeat("a", 64))
	require.NoError(t, err)

	_, _, err = Normalize("a-b-c-9")
	require.NoError(t, err)
}
