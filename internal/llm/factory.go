// Package llm selects and decorates the configured LLM provider.
package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/config"
	"github.com/kiranshivaraju/shopmind/internal/llm/anthropic"
	"github.com/kiranshivaraju/shopmind/internal/llm/ollama"
	"github.com/kiranshivaraju/shopmind/internal/llm/openai"
	"github.com/kiranshivaraju/shopmind/internal/llm/vllm"
	"github.com/kiranshivaraju/shopmind/internal/subscription"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// Names lists the supported providers.
var Names = []string{"ollama", "vllm", "openai", "anthropic"}

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 2000
	defaultTimeout     = 60 * time.Second
)

var defaultBaseURLs = map[string]string{
	"ollama":    "http://localhost:11434",
	"vllm":      "http://localhost:8000",
	"openai":    "https://api.openai.com",
	"anthropic": "https://api.anthropic.com",
}

var defaultModels = map[string]string{
	"ollama":    "llama3.1",
	"vllm":      "mistralai/Mistral-7B-Instruct-v0.3",
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-sonnet-4-5-20250929",
}

// Resolve fills every unset field of cfg with the provider default.
func Resolve(cfg config.ProviderConfig) config.ProviderConfig {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURLs[cfg.Name]
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModels[cfg.Name]
	}
	if cfg.Temperature == nil {
		t := defaultTemperature
		cfg.Temperature = &t
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return cfg
}

// NewProvider constructs the provider named by cfg.Name after merging
// defaults, validating, and checking the tier allows it.
func NewProvider(cfg config.ProviderConfig, tier models.Tier) (models.LLMProvider, error) {
	if !known(cfg.Name) {
		return nil, apperr.Validation(fmt.Sprintf("unknown LLM provider %q: must be one of %s", cfg.Name, strings.Join(Names, ", ")))
	}
	if !subscription.ProviderAllowed(tier, cfg.Name) {
		return nil, apperr.Validation(fmt.Sprintf("provider %q is not available on the %s tier", cfg.Name, tier))
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	resolved := Resolve(cfg)
	switch resolved.Name {
	case "ollama":
		return ollama.NewProvider(resolved), nil
	case "vllm":
		return vllm.NewProvider(resolved), nil
	case "openai":
		return openai.NewProvider(resolved), nil
	default:
		return anthropic.NewProvider(resolved), nil
	}
}

func known(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}
