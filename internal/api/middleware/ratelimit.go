package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/api/response"
	"github.com/kiranshivaraju/shopmind/internal/ratelimit"
)

// RateLimit applies a per-key fixed window.
type RateLimit struct {
	limiter *ratelimit.Limiter
}

func NewRateLimit(l *ratelimit.Limiter) *RateLimit {
	return &RateLimit{limiter: l}
}

// Limit keys on the prefix set by Authenticate. Cache failures fail open.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFrom(r.Context())
		if !ok || caller.Prefix == "" {
			next.ServeHTTP(w, r)
			return
		}
		prefix := caller.Prefix

		d, err := rl.limiter.Allow(r.Context(), prefix)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing", "key_prefix", prefix, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if d.Limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetTime.Unix(), 10))

		if !d.Allowed {
			retry := int(time.Until(d.ResetTime).Seconds()) + 1
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
