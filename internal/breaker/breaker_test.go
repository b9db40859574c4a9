package breaker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/breaker"
	"github.com/kiranshivaraju/shopmind/internal/cache"
	"github.com/kiranshivaraju/shopmind/internal/config"
	"github.com/kiranshivaraju/shopmind/internal/store"
	"github.com/kiranshivaraju/shopmind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newGuard(t *testing.T, threshold int) (*breaker.Guard, *clock, *cache.MemoryCache) {
	t.Helper()
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := cache.NewMemoryCache()
	g := breaker.New(store.NewMemoryStore(models.TierFree), c, config.BreakerConfig{
		FailureThreshold: threshold,
		RecoveryTimeout:  time.Minute,
		CallTimeout:      50 * time.Millisecond,
		CacheTTL:         time.Hour,
	}).WithClock(clk.now)
	return g, clk, c
}

var errDown = apperr.Transport("catalog request", errors.New("connection refused"))

func failing(calls *int32) func(context.Context) error {
	return func(context.Context) error {
		atomic.AddInt32(calls, 1)
		return errDown
	}
}

func TestGuard_OpensAfterThreshold(t *testing.T) {
	g, _, _ := newGuard(t, 3)
	ctx := context.Background()
	var calls int32

	for i := 0; i < 3; i++ {
		err := g.Do(ctx, "catalog", failing(&calls))
		assert.ErrorIs(t, err, apperr.ErrTransport)
	}

	st, err := g.State(ctx, "catalog")
	require.NoError(t, err)
	assert.Equal(t, models.CircuitOpen, st.State)
	assert.Equal(t, 3, st.FailureCount)

	err = g.Do(ctx, "catalog", failing(&calls))
	assert.ErrorIs(t, err, apperr.ErrCircuitOpen)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "open circuit must not invoke fn")

	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeCircuitOpen, e.Code)
	assert.False(t, e.ResetAt.IsZero())
}

func TestGuard_HalfOpenSuccessCloses(t *testing.T) {
	g, clk, _ := newGuard(t, 2)
	ctx := context.Background()
	var calls int32

	_ = g.Do(ctx, "llm:ollama", failing(&calls))
	_ = g.Do(ctx, "llm:ollama", failing(&calls))

	clk.advance(2 * time.Minute)
	err := g.Do(ctx, "llm:ollama", func(context.Context) error { return nil })
	require.NoError(t, err)

	st, err := g.State(ctx, "llm:ollama")
	require.NoError(t, err)
	assert.Equal(t, models.CircuitClosed, st.State)
	assert.Equal(t, 0, st.FailureCount)
}

func TestGuard_HalfOpenFailureReopens(t *testing.T) {
	g, clk, _ := newGuard(t, 2)
	ctx := context.Background()
	var calls int32

	_ = g.Do(ctx, "catalog", failing(&calls))
	_ = g.Do(ctx, "catalog", failing(&calls))

	clk.advance(2 * time.Minute)
	err := g.Do(ctx, "catalog", failing(&calls))
	assert.ErrorIs(t, err, apperr.ErrTransport)

	err = g.Do(ctx, "catalog", failing(&calls))
	assert.ErrorIs(t, err, apperr.ErrCircuitOpen)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGuard_HalfOpenAllowsOneTrial(t *testing.T) {
	g, clk, _ := newGuard(t, 1)
	ctx := context.Background()
	var calls int32
	_ = g.Do(ctx, "catalog", failing(&calls))
	clk.advance(2 * time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	trialDone := make(chan error, 1)
	go func() {
		trialDone <- g.Do(ctx, "catalog", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := g.Do(ctx, "catalog", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, apperr.ErrCircuitOpen)

	close(release)
	require.NoError(t, <-trialDone)
	require.NoError(t, g.Do(ctx, "catalog", func(context.Context) error { return nil }))
}

func TestGuard_SuccessResetsFailureCount(t *testing.T) {
	g, _, _ := newGuard(t, 3)
	ctx := context.Background()
	var calls int32

	_ = g.Do(ctx, "catalog", failing(&calls))
	_ = g.Do(ctx, "catalog", failing(&calls))
	require.NoError(t, g.Do(ctx, "catalog", func(context.Context) error { return nil }))
	_ = g.Do(ctx, "catalog", failing(&calls))

	st, err := g.State(ctx, "catalog")
	require.NoError(t, err)
	assert.Equal(t, models.CircuitClosed, st.State)
	assert.Equal(t, 1, st.FailureCount)
}

func TestGuard_ValidationErrorsDoNotCount(t *testing.T) {
	g, _, _ := newGuard(t, 1)
	ctx := context.Background()

	err := g.Do(ctx, "catalog", func(context.Context) error { return apperr.NotFound("product", 9) })
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	err = g.Do(ctx, "catalog", func(context.Context) error { return apperr.Validation("bad id") })
	assert.ErrorIs(t, err, apperr.ErrValidation)

	st, err := g.State(ctx, "catalog")
	require.NoError(t, err)
	assert.Equal(t, models.CircuitClosed, st.State)
	assert.Equal(t, 0, st.FailureCount)
}

func TestGuard_TimeoutCountsAsFailure(t *testing.T) {
	g, _, _ := newGuard(t, 1)
	ctx := context.Background()

	err := g.Do(ctx, "llm:ollama", func(context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, apperr.ErrTimeout)
	assert.Equal(t, apperr.CodeTimeout, apperr.CodeOf(err))

	st, err := g.State(ctx, "llm:ollama")
	require.NoError(t, err)
	assert.Equal(t, models.CircuitOpen, st.State)
}

func TestGuard_CallerCancelDoesNotCount(t *testing.T) {
	g, _, _ := newGuard(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.Do(ctx, "catalog", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)

	st, err := g.State(context.Background(), "catalog")
	require.NoError(t, err)
	assert.Equal(t, models.CircuitClosed, st.State)
}

func TestGuard_RecoversPanics(t *testing.T) {
	g, _, _ := newGuard(t, 5)
	err := g.Do(context.Background(), "catalog", func(context.Context) error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestGuard_Reset(t *testing.T) {
	g, _, _ := newGuard(t, 1)
	ctx := context.Background()
	var calls int32
	_ = g.Do(ctx, "catalog", failing(&calls))

	require.NoError(t, g.Reset(ctx, "catalog"))
	require.NoError(t, g.Do(ctx, "catalog", func(context.Context) error { return nil }))
}

type item struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func TestFetch_FallsBackToCache(t *testing.T) {
	g, _, _ := newGuard(t, 5)
	ctx := context.Background()

	v, fromCache, err := breaker.Fetch(ctx, g, "catalog", "k:1", func(context.Context) (item, error) {
		return item{ID: 1, Name: "Mug"}, nil
	})
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, "Mug", v.Name)

	v, fromCache, err = breaker.Fetch(ctx, g, "catalog", "k:1", func(context.Context) (item, error) {
		return item{}, errDown
	})
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, item{ID: 1, Name: "Mug"}, v)
}

func TestFetch_NoCacheReturnsError(t *testing.T) {
	g, _, _ := newGuard(t, 5)
	_, fromCache, err := breaker.Fetch(context.Background(), g, "catalog", "k:missing", func(context.Context) (item, error) {
		return item{}, errDown
	})
	assert.ErrorIs(t, err, apperr.ErrTransport)
	assert.False(t, fromCache)
}

func TestFetch_NotFoundSkipsCache(t *testing.T) {
	g, _, c := newGuard(t, 5)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k:2", []byte(`{"id":2,"name":"stale"}`), time.Hour))

	_, fromCache, err := breaker.Fetch(ctx, g, "catalog", "k:2", func(context.Context) (item, error) {
		return item{}, apperr.NotFound("product", 2)
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.False(t, fromCache)
}

func TestFetch_OpenCircuitServesCache(t *testing.T) {
	g, _, c := newGuard(t, 1)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k:3", []byte(`{"id":3,"name":"cached"}`), time.Hour))
	var calls int32
	_ = g.Do(ctx, "catalog", failing(&calls))

	v, fromCache, err := breaker.Fetch(ctx, g, "catalog", "k:3", func(context.Context) (item, error) {
		t.Fatal("fn must not run while the circuit is open")
		return item{}, nil
	})
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, "cached", v.Name)
}
