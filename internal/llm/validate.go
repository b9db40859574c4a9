package llm

import (
	"time"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/config"
	"github.com/kiranshivaraju/shopmind/internal/validate"
)

type providerSettings struct {
	Provider    string        `json:"provider"    validate:"required,oneof=ollama vllm openai anthropic"`
	BaseURL     string        `json:"base_url"    validate:"required,http_url"`
	APIKey      string        `json:"api_key"     validate:"required_if=Provider openai,required_if=Provider anthropic"`
	Model       string        `json:"model"       validate:"required"`
	Temperature float64       `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `json:"max_tokens"  validate:"gte=1,lte=32000"`
	Timeout     time.Duration `json:"timeout"     validate:"gte=1s,lte=10m"`
}

var validator = validate.New()

// ValidateConfig checks cfg after defaults are merged. It never touches the network.
func ValidateConfig(cfg config.ProviderConfig) error {
	r := Resolve(cfg)
	s := providerSettings{
		Provider:    r.Name,
		BaseURL:     r.BaseURL,
		APIKey:      r.APIKey,
		Model:       r.Model,
		Temperature: *r.Temperature,
		MaxTokens:   r.MaxTokens,
		Timeout:     r.Timeout,
	}
	if details := validator.Struct(s); len(details) > 0 {
		return apperr.Validation("invalid provider configuration", details...)
	}
	return nil
}
