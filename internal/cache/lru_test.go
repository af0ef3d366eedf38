package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUSetGet(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(8, time.Minute)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))

	v, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	_, ok, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRUGenerations(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(1, time.Minute)

	g, err := c.Generation(ctx, "day")
	require.NoError(t, err)
	assert.Zero(t, g)

	n, err := c.Bump(ctx, "day")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, _ = c.Bump(ctx, "day")
	assert.Equal(t, int64(2), n)

	// entry churn does not evict counters
	_ = c.Set(ctx, "x", []byte("1"), 0)
	_ = c.Set(ctx, "y", []byte("2"), 0)
	g, _ = c.Generation(ctx, "day")
	assert.Equal(t, int64(2), g)

	g, _ = c.Generation(ctx, "other")
	assert.Zero(t, g)
}

func TestLRUPerEntryTTL(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(8, time.Hour)
	now := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 30*time.Second))

	now = now.Add(29 * time.Second)
	_, ok, _ := c.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestLRUEvictsOldest(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(2, time.Minute)

	_ = c.Set(ctx, "a", []byte("1"), 0)
	_ = c.Set(ctx, "b", []byte("2"), 0)
	_ = c.Set(ctx, "c", []byte("3"), 0)

	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestLRUCopiesValue(t *testing.T) {
	ctx := context.Background()
	c := NewLRU(2, time.Minute)
	buf := []byte("abc")
	_ = c.Set(ctx, "k", buf, 0)
	buf[0] = 'z'

	v, _, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), v)
}
