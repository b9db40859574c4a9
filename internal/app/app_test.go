package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/cache"
	"github.com/kiranshivaraju/shopmind/internal/config"
	"github.com/kiranshivaraju/shopmind/internal/store"
	"github.com/kiranshivaraju/shopmind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalog(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(catalogURL string) *config.Config {
	return &config.Config{
		Catalog: config.CatalogConfig{BaseURL: catalogURL, Timeout: 2 * time.Second},
		AI: config.AIConfig{
			Provider:      "ollama",
			RetryAttempts: 1,
			CallsPerHour:  100,
			Ollama:        config.ProviderConfig{Name: "ollama", BaseURL: "http://127.0.0.1:11434"},
		},
		Job:       config.JobConfig{BatchSize: 5, StaleAfter: 5 * time.Minute, LeaseTTL: time.Minute},
		Breaker:   config.BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Minute, CallTimeout: time.Second},
		RateLimit: config.RateLimitConfig{RequestsPerMinute: 60},
		Worker:    config.WorkerConfig{Interval: time.Second},
		Retention: config.RetentionConfig{Days: 90},
	}
}

func build(t *testing.T, cfg *config.Config, tier models.Tier) *App {
	t.Helper()
	a, err := Build(context.Background(), cfg, store.NewMemoryStore(tier), cache.NewMemoryCache())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestBuild_HealthyRouter(t *testing.T) {
	a := build(t, testConfig(newCatalog(t).URL), models.TierFree)
	assert.Equal(t, "ollama", a.Provider.Name())

	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Status   string            `json:"status"`
			Services map[string]string `json:"services"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "ok", body.Data.Status)
	assert.Equal(t, map[string]string{"cache": "ok", "catalog": "ok", "database": "ok"}, body.Data.Services)
}

func TestBuild_CatalogDownDegradesHealth(t *testing.T) {
	srv := newCatalog(t)
	url := srv.URL
	srv.Close()

	a := build(t, testConfig(url), models.TierFree)
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "catalog is degraded")
}

func TestBuild_ProviderNotOnTier(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.AI.Provider = "anthropic"
	cfg.AI.Anthropic = config.ProviderConfig{Name: "anthropic", APIKey: "sk-test"}

	_, err := Build(context.Background(), cfg, store.NewMemoryStore(models.TierFree), cache.NewMemoryCache())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestSuggestableKinds_EnabledAndTier(t *testing.T) {
	cfg := testConfig(newCatalog(t).URL)
	cfg.Actions.Enabled = []string{"send_email", "send_sms", "create_discount"}
	a := build(t, cfg, models.TierFree)

	kinds := a.suggestableKinds(context.Background())
	assert.Equal(t, []models.ActionType{models.ActionSendEmail, models.ActionCreateDiscount}, kinds)
}

func TestWorkerTick_IdleJob(t *testing.T) {
	a := build(t, testConfig(newCatalog(t).URL), models.TierEnterprise)
	ctx := context.Background()

	a.Worker.Tick(ctx)

	p, err := a.Jobs.GetJobProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusIdle, p.Status)
}

func TestClose_Idempotent(t *testing.T) {
	a := build(t, testConfig(newCatalog(t).URL), models.TierEnterprise)
	a.Close()
	assert.NotPanics(t, a.Close)
}
