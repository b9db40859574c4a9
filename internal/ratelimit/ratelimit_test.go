package ratelimit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/cache"
	"github.com/kiranshivaraju/shopmind/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenCache struct{ cache.Cache }

func (brokenCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

func TestAllow_FixedWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 10, 0, time.UTC)
	l := ratelimit.New(cache.NewMemoryCache(), "http", 2, time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	d, err := l.Allow(ctx, "key1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 1, 0, 0, time.UTC), d.ResetTime)

	d, _ = l.Allow(ctx, "key1")
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, _ = l.Allow(ctx, "key1")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	other, _ := l.Allow(ctx, "key2")
	assert.True(t, other.Allowed, "keys are counted independently")

	now = now.Add(time.Minute)
	d, _ = l.Allow(ctx, "key1")
	assert.True(t, d.Allowed, "a new window starts from zero")
}

func TestCheck_ReturnsRateLimitError(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	l := ratelimit.New(cache.NewMemoryCache(), "llm", 1, time.Hour).WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, l.Check(ctx, "ollama"))
	err := l.Check(ctx, "ollama")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrRateLimit)

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Hour), e.ResetAt)
}

func TestAllow_DisabledLimit(t *testing.T) {
	l := ratelimit.New(cache.NewMemoryCache(), "http", 0, time.Minute)
	for i := 0; i < 100; i++ {
		d, err := l.Allow(context.Background(), "k")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
}

func TestCheck_FailsOpenOnCacheError(t *testing.T) {
	l := ratelimit.New(brokenCache{}, "http", 1, time.Minute)

	d, err := l.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.True(t, d.Allowed)
	assert.NoError(t, l.Check(context.Background(), "k"))
}
