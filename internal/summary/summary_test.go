package summary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureIsIdempotentOnContentHash(t *testing.T) {
	c := NewCache()
	calls := 0
	fn := func(path string, content []byte) (string, error) {
		calls++
		return "summary of " + path, nil
	}

	text, err := c.Ensure("c0", "a.go", []byte("package a\n"), fn)
	require.NoError(t, err)
	assert.Equal(t, "summary of a.go", text)
	assert.Equal(t, 1, calls)

	// Same content at a later commit: no new summarizer call.
	text, err = c.Ensure("c1", "a.go", []byte("package a\n"), fn)
	require.NoError(t, err)
	assert.Equal(t, "summary of a.go", text)
	assert.Equal(t, 1, calls)

	// Changed content does call again.
	_, err = c.Ensure("c2", "a.go", []byte("package b\n"), fn)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGetMissesUnknownKey(t *testing.T) {
	c := NewCache()
	c.Put("c0", "a.go", HashContent([]byte("x")), "desc")

	text, ok := c.Get("c0", "a.go")
	assert.True(t, ok)
	assert.Equal(t, "desc", text)

	_, ok = c.Get("c1", "a.go")
	assert.False(t, ok)
}
