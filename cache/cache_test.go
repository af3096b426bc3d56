package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalCache(t *testing.T) {
	cache, err := NewLocalCache(time.Minute)
	require.NoError(t, err)

	err = cache.Set("score:0xabc", []byte("1500"))
	assert.NoError(t, err)

	data, err := cache.Get("score:0xabc")
	assert.NoError(t, err)
	assert.Equal(t, "1500", string(data))

	assert.NoError(t, cache.Delete("score:0xabc"))
	_, err = cache.Get("score:0xabc")
	assert.ErrorIs(t, err, ErrMiss)

	// deleting a missing key is not an error
	assert.NoError(t, cache.Delete("score:0xdef"))
}
