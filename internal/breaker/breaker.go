// Package breaker guards calls to external systems with a timeout, a
// persisted circuit breaker per operation name, and a cache fallback for reads.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/cache"
	"github.com/kiranshivaraju/shopmind/internal/config"
	"github.com/kiranshivaraju/shopmind/internal/metrics"
	"github.com/kiranshivaraju/shopmind/internal/store"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// StateStore persists breaker records so every process sees the same circuit.
type StateStore interface {
	GetBreakerState(ctx context.Context, name string) (*models.CircuitBreakerState, error)
	SaveBreakerState(ctx context.Context, st *models.CircuitBreakerState) error
}

// Guard runs operations through their named circuit.
type Guard struct {
	states StateStore
	cache  cache.Cache
	cfg    config.BreakerConfig
	now    func() time.Time

	mu     sync.Mutex
	trials map[string]bool
}

func New(states StateStore, c cache.Cache, cfg config.BreakerConfig) *Guard {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 60 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 90 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	return &Guard{
		states: states,
		cache:  c,
		cfg:    cfg,
		now:    time.Now,
		trials: make(map[string]bool),
	}
}

// WithClock replaces the time source. Test helper.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Do runs fn unless the circuit for name is open. fn gets a context bounded
// by the call timeout; overrunning it counts as a failure even if fn ignores
// its context.
func (g *Guard) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	trial, err := g.admit(ctx, name)
	if err != nil {
		return err
	}

	callErr := g.call(ctx, name, fn)
	if callErr != nil && ctx.Err() != nil {
		// Caller went away; the dependency is not to blame.
		g.endTrial(name, trial)
		return callErr
	}
	g.record(ctx, name, trial, callErr)
	return callErr
}

// State returns the current record for name, closed when none was saved.
func (g *Guard) State(ctx context.Context, name string) (*models.CircuitBreakerState, error) {
	st, err := g.states.GetBreakerState(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return closedState(name, g.now()), nil
	}
	if err != nil {
		return nil, apperr.Persistence("loading circuit breaker", err)
	}
	return st, nil
}

// Reset force-closes the circuit for name.
func (g *Guard) Reset(ctx context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.trials, name)
	if err := g.states.SaveBreakerState(ctx, closedState(name, g.now())); err != nil {
		return apperr.Persistence("saving circuit breaker", err)
	}
	metrics.SetBreakerState(name, models.CircuitClosed)
	return nil
}

// admit decides whether a call may run and reports whether it is the
// half-open trial.
func (g *Guard) admit(ctx context.Context, name string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.load(ctx, name)
	now := g.now()

	switch st.State {
	case models.CircuitOpen:
		if st.NextRetryAt != nil && now.Before(*st.NextRetryAt) {
			return false, apperr.CircuitOpen(name, *st.NextRetryAt)
		}
		st.State = models.CircuitHalfOpen
		st.UpdatedAt = now
		g.save(ctx, st)
		g.trials[name] = true
		slog.Info("circuit half-open, allowing trial call", "name", name)
		return true, nil

	case models.CircuitHalfOpen:
		// Another process may own the trial; reclaim it only once it is
		// clearly abandoned.
		abandoned := now.Sub(st.UpdatedAt) > g.cfg.RecoveryTimeout+g.cfg.CallTimeout
		if g.trials[name] || !abandoned {
			return false, apperr.CircuitOpen(name, st.UpdatedAt.Add(g.cfg.CallTimeout))
		}
		st.UpdatedAt = now
		g.save(ctx, st)
		g.trials[name] = true
		return true, nil
	}
	return false, nil
}

func (g *Guard) call(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%s panicked: %v", name, r)
			}
		}()
		done <- fn(callCtx)
	}()

	select {
	case err = <-done:
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return apperr.Timeout(name, g.cfg.CallTimeout)
		}
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return apperr.Transport(name, ctx.Err())
		}
		return apperr.Timeout(name, g.cfg.CallTimeout)
	}
}

func (g *Guard) record(ctx context.Context, name string, trial bool, callErr error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if trial {
		delete(g.trials, name)
	}

	st := g.load(ctx, name)
	now := g.now()

	if !countsAsFailure(callErr) {
		if st.State == models.CircuitClosed && st.FailureCount == 0 {
			return
		}
		if st.State != models.CircuitClosed {
			slog.Info("circuit closed", "name", name)
		}
		g.save(ctx, closedState(name, now))
		return
	}

	st.FailureCount++
	st.UpdatedAt = now
	if trial || st.State == models.CircuitHalfOpen || st.FailureCount >= g.cfg.FailureThreshold {
		retry := now.Add(g.cfg.RecoveryTimeout)
		st.State = models.CircuitOpen
		st.OpenedAt = &now
		st.NextRetryAt = &retry
		slog.Warn("circuit opened",
			"name", name,
			"failures", st.FailureCount,
			"retry_at", retry,
			"error", callErr,
		)
	}
	g.save(ctx, st)
}

func (g *Guard) endTrial(name string, trial bool) {
	if !trial {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.trials, name)
}

// load falls back to a closed circuit when the store is unavailable so a
// database outage does not block every external call.
func (g *Guard) load(ctx context.Context, name string) *models.CircuitBreakerState {
	st, err := g.states.GetBreakerState(ctx, name)
	if err == nil {
		return st
	}
	if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("failed to load circuit breaker state", "name", name, "error", err)
	}
	return closedState(name, g.now())
}

func (g *Guard) save(ctx context.Context, st *models.CircuitBreakerState) {
	if err := g.states.SaveBreakerState(ctx, st); err != nil {
		slog.Warn("failed to save circuit breaker state", "name", st.Name, "error", err)
	}
	metrics.SetBreakerState(st.Name, st.State)
}

func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindNotFound:
		return false
	}
	return true
}

func closedState(name string, now time.Time) *models.CircuitBreakerState {
	return &models.CircuitBreakerState{
		Name:      name,
		State:     models.CircuitClosed,
		UpdatedAt: now,
	}
}

// Fetch runs a read through the circuit for name. Success refreshes the
// cached copy under key; a failure or open circuit falls back to it, in which
// case fromCache is true. Validation and NotFound errors never fall back.
// Never use it for mutations.
func Fetch[T any](ctx context.Context, g *Guard, name, key string, fn func(ctx context.Context) (T, error)) (T, bool, error) {
	var (
		zero T
		out  T
	)
	err := g.Do(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err == nil {
		if cerr := cache.SetJSON(ctx, g.cache, key, out, g.cfg.CacheTTL); cerr != nil {
			slog.Warn("failed to refresh fallback cache", "key", key, "error", cerr)
		}
		return out, false, nil
	}

	if !countsAsFailure(err) {
		return zero, false, err
	}
	var cached T
	ok, cerr := cache.GetJSON(ctx, g.cache, key, &cached)
	if cerr != nil {
		slog.Warn("reading fallback cache failed", "key", key, "error", cerr)
		return zero, false, err
	}
	if !ok {
		return zero, false, err
	}
	slog.Warn("serving cached value", "name", name, "key", key, "error", err)
	return cached, true, nil
}
