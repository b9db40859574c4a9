// Package vllm serves a local vLLM server through its OpenAI-compatible API.
package vllm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kiranshivaraju/shopmind/internal/config"
	"github.com/kiranshivaraju/shopmind/internal/llm/openai"
	"github.com/kiranshivaraju/shopmind/internal/llm/transport"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// Provider reuses the OpenAI wire format and adds vLLM's health probe.
type Provider struct {
	*openai.Provider
	health *transport.Client
}

func NewProvider(cfg config.ProviderConfig) *Provider {
	return &Provider{
		Provider: openai.NewCompatible("vllm", cfg),
		health:   transport.New("vllm", cfg.Timeout),
	}
}

func (p *Provider) TestConnection(ctx context.Context) models.ConnectionStatus {
	if err := p.health.Do(ctx, http.MethodGet, p.BaseURL()+"/health", nil, nil, nil); err != nil {
		return models.ConnectionStatus{Success: false, Message: err.Error()}
	}
	names, err := p.AvailableModels(ctx)
	if err != nil {
		return models.ConnectionStatus{Success: false, Message: err.Error()}
	}
	return models.ConnectionStatus{
		Success: true,
		Message: fmt.Sprintf("connected to vLLM (serving %d models)", len(names)),
	}
}

var _ models.LLMProvider = (*Provider)(nil)
