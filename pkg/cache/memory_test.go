package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Symbol string    `json:"symbol"`
	Values []float64 `json:"values"`
}

func TestMemoryCacheRoundTripsJSON(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "forecast:SAP", payload{Symbol: "SAP", Values: []float64{1, 2}}, time.Minute))

	var got payload
	require.NoError(t, mc.Get(ctx, "forecast:SAP", &got))
	assert.Equal(t, payload{Symbol: "SAP", Values: []float64{1, 2}}, got)

	var s string
	require.NoError(t, mc.Set(ctx, "raw", "hello", 0))
	require.NoError(t, mc.Get(ctx, "raw", &s))
	assert.Equal(t, "hello", s)

	err := mc.Get(ctx, "missing", &got)
	assert.True(t, errors.Is(err, ErrCacheMiss))
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	now := time.Date(2018, 1, 2, 8, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }

	require.NoError(t, mc.Set(ctx, "k", 1, time.Minute))
	now = now.Add(2 * time.Minute)

	var v int
	assert.ErrorIs(t, mc.Get(ctx, "k", &v), ErrCacheMiss)
	assert.Equal(t, 0, mc.Len())
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()

	now := time.Date(2018, 1, 2, 8, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { now = now.Add(time.Second); return now }

	require.NoError(t, mc.Set(ctx, "a", 1, time.Hour))
	require.NoError(t, mc.Set(ctx, "b", 2, time.Hour))
	var v int
	require.NoError(t, mc.Get(ctx, "a", &v))
	require.NoError(t, mc.Set(ctx, "c", 3, time.Hour))

	assert.ErrorIs(t, mc.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, mc.Get(ctx, "a", &v))
	assert.NoError(t, mc.Get(ctx, "c", &v))
}

func TestMemoryCachePatternsAndLocks(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "forecast:ep:SAP", 1, 0))
	require.NoError(t, mc.Set(ctx, "forecast:ep:BMW", 1, 0))
	require.NoError(t, mc.Set(ctx, "other", 1, 0))
	require.NoError(t, mc.DeleteByPattern(ctx, "forecast:*"))
	assert.Equal(t, 1, mc.Len())

	ok, err := mc.TryLock(ctx, "refresh", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = mc.TryLock(ctx, "refresh", time.Minute)
	assert.False(t, ok)
	require.NoError(t, mc.Unlock(ctx, "refresh"))
	ok, _ = mc.TryLock(ctx, "refresh", time.Minute)
	assert.True(t, ok)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "forecast:ep:SAP", Key("forecast", "", "ep", "SAP"))
	assert.Len(t, HashKey("body"), 24)
	assert.Equal(t, HashKey("body"), HashKey("body"))
}
