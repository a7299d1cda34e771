package wavecache

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimCache_DeletesOldestFirst(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemoryStorage().Open(ctx, "radiowave-images-v1")
	require.NoError(t, err)

	for i := 0; i < 205; i++ {
		require.NoError(t, c.Put(ctx, fmt.Sprintf("img-%03d", i), opaqueResponse("x")))
	}

	n, err := trimCache(ctx, c, 200)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 200)
	assert.Equal(t, "img-005", keys[0])
	assert.Equal(t, "img-204", keys[len(keys)-1])
	for i := 0; i < 5; i++ {
		_, ok := c.Match(ctx, fmt.Sprintf("img-%03d", i))
		assert.False(t, ok)
	}
}

func TestTrimCache_UnderLimitIsNoop(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemoryStorage().Open(ctx, "s")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "a", okResponse("a", "")))

	n, err := trimCache(ctx, c, 200)
	require.NoError(t, err)
	assert.Zero(t, n)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)
}

func TestTrimCache_RewrittenEntrySurvives(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemoryStorage().Open(ctx, "s")
	require.NoError(t, err)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Put(ctx, k, okResponse(k, "")))
	}
	require.NoError(t, c.Put(ctx, "a", okResponse("a", "")))

	n, err := trimCache(ctx, c, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, keys)
}
