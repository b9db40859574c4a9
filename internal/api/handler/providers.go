package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/api/response"
	"github.com/kiranshivaraju/shopmind/internal/config"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// ProviderInspector is satisfied by *llm.Inspector.
type ProviderInspector interface {
	Merge(o config.ProviderConfig) config.ProviderConfig
	Validate(cfg config.ProviderConfig) error
	TestConnection(ctx context.Context, cfg config.ProviderConfig) (models.ConnectionStatus, error)
	AvailableModels(ctx context.Context, cfg config.ProviderConfig) ([]string, error)
}

type Providers struct {
	inspector ProviderInspector
}

func NewProviders(i ProviderInspector) *Providers {
	return &Providers{inspector: i}
}

// providerRequest overrides the configured provider settings. Every field
// is optional; an empty body targets the active provider as configured.
type providerRequest struct {
	Provider    string   `json:"provider"     validate:"omitempty,oneof=ollama vllm openai anthropic"`
	BaseURL     string   `json:"base_url"     validate:"omitempty,http_url"`
	APIKey      string   `json:"api_key"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"   validate:"gte=0"`
	TimeoutSecs int      `json:"timeout_secs" validate:"gte=0"`
}

func (p providerRequest) config() config.ProviderConfig {
	return config.ProviderConfig{
		Name:        p.Provider,
		BaseURL:     p.BaseURL,
		APIKey:      p.APIKey,
		Model:       p.Model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Timeout:     time.Duration(p.TimeoutSecs) * time.Second,
	}
}

// Test handles POST /providers/test. A failed probe is a 200 with
// success=false; only an unusable configuration is an error.
func (h *Providers) Test(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if err := decodeBody(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	status, err := h.inspector.TestConnection(r.Context(), h.inspector.Merge(req.config()))
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, status)
}

// Models handles GET /providers/models?provider=openai.
func (h *Providers) Models(w http.ResponseWriter, r *http.Request) {
	req := providerRequest{Provider: r.URL.Query().Get("provider")}
	if details := validator.Struct(req); len(details) > 0 {
		response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid query", details)
		return
	}
	cfg := h.inspector.Merge(req.config())
	names, err := h.inspector.AvailableModels(r.Context(), cfg)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, map[string]any{"provider": cfg.Name, "models": names})
}

// Validate handles POST /providers/validate. It never touches the network.
func (h *Providers) Validate(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if err := decodeBody(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	cfg := h.inspector.Merge(req.config())
	if err := h.inspector.Validate(cfg); err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Message(w, "provider configuration is valid", map[string]string{"provider": cfg.Name})
}
