package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/cache"
	"github.com/kiranshivaraju/shopmind/internal/config"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// modelsTTL bounds how long a configured provider's model list is cached.
const modelsTTL = time.Hour

// TierSource is satisfied by *subscription.Meter.
type TierSource interface {
	Tier(ctx context.Context) (models.Tier, error)
}

// Inspector probes providers for the provider endpoints: connection tests,
// model listing and offline config validation.
type Inspector struct {
	ai    config.AIConfig
	tiers TierSource
	cache cache.Cache
	build func(cfg config.ProviderConfig, tier models.Tier) (models.LLMProvider, error)
}

func NewInspector(ai config.AIConfig, tiers TierSource, c cache.Cache) *Inspector {
	return &Inspector{ai: ai, tiers: tiers, cache: c, build: NewProvider}
}

// Merge lays non-zero overrides over the configured settings for the
// provider the override names, or the active provider when it names none.
func (i *Inspector) Merge(o config.ProviderConfig) config.ProviderConfig {
	name := o.Name
	if name == "" {
		name = i.ai.Provider
	}
	cfg := i.ai.ByName(name)
	cfg.Name = name
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	if o.APIKey != "" {
		cfg.APIKey = o.APIKey
	}
	if o.Model != "" {
		cfg.Model = o.Model
	}
	if o.Temperature != nil {
		cfg.Temperature = o.Temperature
	}
	if o.MaxTokens != 0 {
		cfg.MaxTokens = o.MaxTokens
	}
	if o.Timeout != 0 {
		cfg.Timeout = o.Timeout
	}
	return cfg
}

// Validate checks cfg without touching the network.
func (i *Inspector) Validate(cfg config.ProviderConfig) error {
	return ValidateConfig(cfg)
}

// TestConnection builds the provider for cfg and probes it. Build errors
// (unknown name, tier, invalid config) are returned; probe failures are
// reported in the status.
func (i *Inspector) TestConnection(ctx context.Context, cfg config.ProviderConfig) (models.ConnectionStatus, error) {
	p, err := i.provider(ctx, cfg)
	if err != nil {
		return models.ConnectionStatus{}, err
	}
	status := p.TestConnection(ctx)
	slog.Info("provider connection tested", "provider", p.Name(), "success", status.Success)
	return status, nil
}

// AvailableModels lists the models cfg's provider serves. Lists for the
// active, unmodified configuration are cached.
func (i *Inspector) AvailableModels(ctx context.Context, cfg config.ProviderConfig) ([]string, error) {
	cacheable := i.cache != nil && cfg == i.Merge(config.ProviderConfig{})
	key := cache.ProviderModelsKey(cfg.Name)
	if cacheable {
		var names []string
		if ok, err := cache.GetJSON(ctx, i.cache, key, &names); err == nil && ok {
			return names, nil
		}
	}

	p, err := i.provider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	names, err := p.AvailableModels(ctx)
	if err != nil {
		return nil, err
	}
	if cacheable {
		if err := cache.SetJSON(ctx, i.cache, key, names, modelsTTL); err != nil {
			slog.Warn("caching provider models failed", "provider", cfg.Name, "error", err)
		}
	}
	return names, nil
}

func (i *Inspector) provider(ctx context.Context, cfg config.ProviderConfig) (models.LLMProvider, error) {
	tier := models.TierEnterprise
	if i.tiers != nil {
		t, err := i.tiers.Tier(ctx)
		if err != nil {
			return nil, err
		}
		tier = t
	}
	return i.build(cfg, tier)
}
