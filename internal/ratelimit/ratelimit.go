// Package ratelimit implements fixed-window request counting over the cache.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/cache"
	"github.com/kiranshivaraju/shopmind/internal/metrics"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

// Limiter allows up to limit hits per key in each window.
type Limiter struct {
	cache  cache.Cache
	scope  string
	limit  int
	window time.Duration
	now    func() time.Time
}

// New returns a limiter. scope labels metrics ("http", "llm"). A limit of
// zero or less disables limiting.
func New(c cache.Cache, scope string, limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{cache: c, scope: scope, limit: limit, window: window, now: time.Now}
}

// WithClock replaces the time source. Test helper.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Limit returns the configured per-window limit.
func (l *Limiter) Limit() int { return l.limit }

// Allow counts one hit for key. A cache failure is returned alongside an
// allowing decision so callers can fail open.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	start := l.now().Truncate(l.window)
	reset := start.Add(l.window)
	if l.limit <= 0 {
		return Decision{Allowed: true, Limit: l.limit, Remaining: -1, ResetTime: reset}, nil
	}

	count, err := l.cache.IncrWithExpiry(ctx, cache.RateLimitKey(l.scope+":"+key, start.Unix()), l.window)
	if err != nil {
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetTime: reset}, err
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: remaining,
		ResetTime: reset,
	}
	if !d.Allowed {
		metrics.IncRateLimited(l.scope)
	}
	return d, nil
}

// Check is Allow reduced to an error: a RateLimit error carrying the reset
// time when denied, nil otherwise. Cache failures fail open.
func (l *Limiter) Check(ctx context.Context, key string) error {
	d, err := l.Allow(ctx, key)
	if err != nil {
		slog.Warn("rate limiter unavailable, allowing", "scope", l.scope, "key", key, "error", err)
		return nil
	}
	if !d.Allowed {
		return apperr.RateLimited(l.scope+" "+key, d.ResetTime)
	}
	return nil
}
