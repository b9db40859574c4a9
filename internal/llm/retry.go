package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// maxRetryWait caps a single wait between attempts.
const maxRetryWait = 30 * time.Second

type retrying struct {
	models.LLMProvider
	attempts int
	delay    time.Duration
}

// WithRetry retries Call on transport errors only, doubling delay between
// attempts. attempts counts the first call.
func WithRetry(p models.LLMProvider, attempts int, delay time.Duration) models.LLMProvider {
	if attempts < 1 {
		attempts = 1
	}
	return &retrying{LLMProvider: p, attempts: attempts, delay: delay}
}

func (r *retrying) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.delay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = max(maxRetryWait, r.delay)
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.attempts-1)), ctx)
}

func (r *retrying) Call(ctx context.Context, messages []models.Message, opts models.CallOptions) (models.Completion, error) {
	attempt := 0
	c, err := backoff.RetryNotifyWithData(func() (models.Completion, error) {
		attempt++
		c, err := r.LLMProvider.Call(ctx, messages, opts)
		if err != nil && !apperr.Retryable(err) {
			return c, backoff.Permanent(err)
		}
		return c, err
	}, r.policy(ctx), func(err error, wait time.Duration) {
		slog.Warn("llm call failed, retrying",
			"provider", r.Name(),
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	})
	if err == nil {
		return c, nil
	}
	if _, ok := apperr.As(err); !ok && ctx.Err() != nil {
		// Cancelled while waiting between attempts.
		return models.Completion{}, apperr.Transport(r.Name()+" request", err)
	}
	return c, err
}
