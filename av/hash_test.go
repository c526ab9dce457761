package av_test

import (
	"encoding/hex"
	"testing"

	"github.com/fabio-d/rawcompr"
	"github.com/fabio-d/rawcompr/av"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHashSizes(t *testing.T) {
	sizes := map[string]int{
		"MD5":     16,
		"SHA-1":   20,
		"SHA-256": 32,
		"SHA-512": 64,
		"CRC32":   4,
		"Adler32": 4,
	}

	for name, expectedSize := range sizes {
		h, err := av.NewHash(name)
		require.NoError(t, err, name)
		assert.Equal(t, expectedSize, h.Size(), name)
	}
}

func TestNewHashDigest(t *testing.T) {
	h, err := av.NewHash("MD5")
	require.NoError(t, err)

	h.Write([]byte("abc"))
	assert.Equal(
		t,
		"900150983cd24fb0d6963f7d28e17f72",
		hex.EncodeToString(h.Sum(nil)))
}

func TestNewHashUnknown(t *testing.T) {
	_, err := av.NewHash("whirlpool-512")
	assert.ErrorIs(t, err, rawcompr.ErrInvalidInput)
}

func TestHashNamesContainsDefaults(t *testing.T) {
	names := av.HashNames()
	assert.Contains(t, names, "MD5")
	assert.Contains(t, names, "SHA-256")
	assert.IsIncreasing(t, names)
}
