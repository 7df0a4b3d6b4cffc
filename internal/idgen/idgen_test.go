package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	id := New()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
	assert.NotEqual(t, id, New())
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("wd_")
	assert.True(t, strings.HasPrefix(id, "wd_"))
	assert.Len(t, id, 3+24)
}

func TestHex(t *testing.T) {
	for _, n := range []int{1, 16, 33} {
		h := Hex(n)
		assert.Len(t, h, n*2)
		assert.Regexp(t, "^[0-9a-f]+$", h)
	}
}
