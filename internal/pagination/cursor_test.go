package pagination

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	encoded := Encode(42)
	assert.NotEmpty(t, encoded)

	cursor, err := Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.Equal(t, uint64(42), cursor.Before)
	assert.Equal(t, uint64(42), BeforeOf(cursor))
}

func TestDecode_Empty(t *testing.T) {
	cursor, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
	assert.Equal(t, uint64(0), BeforeOf(cursor))
}

func TestDecode_Invalid(t *testing.T) {
	for _, in := range []string{
		"not-base64!!!",
		base64.RawURLEncoding.EncodeToString([]byte("nopipe")),
		base64.RawURLEncoding.EncodeToString([]byte("r:abc")),
		base64.RawURLEncoding.EncodeToString([]byte("r:0")),
		base64.RawURLEncoding.EncodeToString([]byte("r:-1")),
	} {
		_, err := Decode(in)
		require.Error(t, err, in)
		assert.Contains(t, err.Error(), "invalid cursor")
	}
}

func TestComputePage_NoMore(t *testing.T) {
	items := []uint64{5, 4, 3}
	result, cursor, hasMore := ComputePage(items, 5, func(r uint64) uint64 { return r })
	assert.Len(t, result, 3)
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}

func TestComputePage_HasMore(t *testing.T) {
	items := []uint64{9, 8, 7, 6}
	result, cursor, hasMore := ComputePage(items, 3, func(r uint64) uint64 { return r })
	assert.Equal(t, []uint64{9, 8, 7}, result)
	assert.True(t, hasMore)

	c, err := Decode(cursor)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), c.Before)
}

func TestComputePage_ExactLimit(t *testing.T) {
	items := []uint64{3, 2, 1}
	result, cursor, hasMore := ComputePage(items, 3, func(r uint64) uint64 { return r })
	assert.Len(t, result, 3)
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
}
