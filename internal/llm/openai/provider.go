// Package openai implements models.LLMProvider over the OpenAI chat
// completions wire format. The same client serves OpenAI-compatible servers.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/config"
	"github.com/kiranshivaraju/shopmind/internal/llm/transport"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// Provider implements models.LLMProvider using /v1/chat/completions.
type Provider struct {
	name   string
	cfg    config.ProviderConfig
	client *transport.Client
}

// NewProvider expects cfg to already carry defaults for every field.
func NewProvider(cfg config.ProviderConfig) *Provider {
	return NewCompatible("openai", cfg)
}

// NewCompatible builds a client for an OpenAI-compatible server reported under name.
func NewCompatible(name string, cfg config.ProviderConfig) *Provider {
	return &Provider{name: name, cfg: cfg, client: transport.New(name, cfg.Timeout)}
}

func (p *Provider) Name() string { return p.name }

// BaseURL is exposed for compatible servers that probe extra endpoints.
func (p *Provider) BaseURL() string { return p.cfg.BaseURL }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (p *Provider) Call(ctx context.Context, messages []models.Message, opts models.CallOptions) (models.Completion, error) {
	req := chatRequest{
		Model:       p.cfg.Model,
		Messages:    make([]chatMessage, 0, len(messages)),
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.Temperature != nil {
		req.Temperature = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.JSONMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	start := time.Now()
	var resp chatResponse
	if err := p.client.Do(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/chat/completions", p.headers(), req, &resp); err != nil {
		return models.Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return models.Completion{}, apperr.Provider(p.name, "invalid response: missing choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return models.Completion{}, apperr.Provider(p.name, "empty content")
	}

	c := models.Completion{
		Content:      content,
		Model:        resp.Model,
		DurationMs:   transport.Elapsed(start),
		FinishReason: resp.Choices[0].FinishReason,
	}
	if c.Model == "" {
		c.Model = req.Model
	}
	if resp.Usage != nil {
		c.TokensUsed = resp.Usage.TotalTokens
	}
	return c, nil
}

func (p *Provider) TestConnection(ctx context.Context) models.ConnectionStatus {
	names, err := p.AvailableModels(ctx)
	if err != nil {
		return models.ConnectionStatus{Success: false, Message: err.Error()}
	}
	return models.ConnectionStatus{
		Success: true,
		Message: fmt.Sprintf("connected to %s (%d models available)", p.name, len(names)),
	}
}

func (p *Provider) AvailableModels(ctx context.Context) ([]string, error) {
	var resp modelsResponse
	if err := p.client.Do(ctx, http.MethodGet, p.cfg.BaseURL+"/v1/models", p.headers(), nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

func (p *Provider) headers() map[string]string {
	if p.cfg.APIKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
}

var _ models.LLMProvider = (*Provider)(nil)
