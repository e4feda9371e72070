package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	assert.Equal(t, filepath.Join("base", "calls.db"), ResolvePath("base", "calls.db"))
	assert.Equal(t, "/var/lib/calls.db", ResolvePath("base", "/var/lib/../lib/calls.db"))
}

func TestValidateDisplayName(t *testing.T) {
	n, err := ValidateDisplayName("  Amina K  ")
	require.NoError(t, err)
	assert.Equal(t, "Amina K", n)

	n, err = ValidateDisplayName("")
	require.NoError(t, err)
	assert.Equal(t, "", n)

	_, err = ValidateDisplayName("bad\x07name")
	assert.Error(t, err)

	_, err = ValidateDisplayName(strings.Repeat("x", 65))
	assert.Error(t, err)
}

func TestWriteJSONFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "nested", "out.json")
	require.NoError(t, WriteJSONFile(p, map[string]int{"a": 1}))
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"a": 1`)
}

func TestExtractIP(t *testing.T) {
	assert.Equal(t, "10.0.0.2", ExtractIP("10.0.0.2:5555"))
	assert.Equal(t, "::1", ExtractIP("[::1]:80"))
	assert.Equal(t, "garbage", ExtractIP("garbage"))
}

func TestRingBuffer(t *testing.T) {
	r := NewRingBuffer[int](3)
	assert.Empty(t, r.Snapshot())
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	assert.Equal(t, []int{3, 4, 5}, r.Snapshot())
	assert.Equal(t, []int{4, 5}, r.Tail(2))
	assert.Equal(t, []int{3, 4, 5}, r.Tail(10))
	assert.Equal(t, 3, r.Len())
}

func TestReconnectorBoundedIncreasing(t *testing.T) {
	r := NewReconnector(5, 100*time.Millisecond)

	var prev time.Duration
	for i := 0; i < 5; i++ {
		d, ok := r.Next()
		require.True(t, ok, "attempt %d", i+1)
		assert.Greater(t, d, prev)
		prev = d
	}
	assert.Equal(t, 5, r.Attempt())

	_, ok := r.Next()
	assert.False(t, ok)

	r.Reset()
	assert.Equal(t, 0, r.Attempt())
	d, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, d)
}

func TestReconnectorCapsDelay(t *testing.T) {
	r := NewReconnector(10, time.Second)
	r.Cap = 3 * time.Second
	var last time.Duration
	for {
		d, ok := r.Next()
		if !ok {
			break
		}
		last = d
	}
	assert.Equal(t, 3*time.Second, last)
}

func TestReconnectorDefaults(t *testing.T) {
	r := NewReconnector(0, 0)
	assert.Equal(t, DefaultMaxReconnectAttempts, r.Max)
	assert.Equal(t, DefaultReconnectBase, r.Base)
}
