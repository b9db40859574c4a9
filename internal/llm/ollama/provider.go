// Package ollama implements models.LLMProvider against a local Ollama server.
package ollama

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

// Provider implements models.LLMProvider using Ollama's generate API.
type Provider struct {
	cfg    config.ProviderConfig
	client *transport.Client
}

// NewProvider expects cfg to already carry defaults for every field.
func NewProvider(cfg config.ProviderConfig) *Provider {
	return &Provider{cfg: cfg, client: transport.New("ollama", cfg.Timeout)}
}

func (p *Provider) Name() string { return "ollama" }

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (p *Provider) Call(ctx context.Context, messages []models.Message, opts models.CallOptions) (models.Completion, error) {
	model := p.cfg.Model
	if opts.Model != "" {
		model = opts.Model
	}
	req := generateRequest{
		Model:  model,
		Prompt: BuildPrompt(messages),
		Options: generateOptions{
			Temperature: temperature(p.cfg, opts),
			NumPredict:  maxTokens(p.cfg, opts),
		},
	}
	if opts.JSONMode {
		req.Format = "json"
	}

	start := time.Now()
	var resp generateResponse
	if err := p.client.Do(ctx, http.MethodPost, p.cfg.BaseURL+"/api/generate", nil, req, &resp); err != nil {
		return models.Completion{}, err
	}
	if strings.TrimSpace(resp.Response) == "" {
		return models.Completion{}, apperr.Provider("ollama", "empty content")
	}
	if resp.Model == "" {
		resp.Model = model
	}

	return models.Completion{
		Content:      resp.Response,
		Model:        resp.Model,
		TokensUsed:   resp.PromptEvalCount + resp.EvalCount,
		DurationMs:   transport.Elapsed(start),
		FinishReason: resp.DoneReason,
	}, nil
}

func (p *Provider) TestConnection(ctx context.Context) models.ConnectionStatus {
	names, err := p.AvailableModels(ctx)
	if err != nil {
		return models.ConnectionStatus{Success: false, Message: err.Error()}
	}
	return models.ConnectionStatus{
		Success: true,
		Message: fmt.Sprintf("connected to Ollama (%d models available)", len(names)),
	}
}

func (p *Provider) AvailableModels(ctx context.Context) ([]string, error) {
	var resp tagsResponse
	if err := p.client.Do(ctx, http.MethodGet, p.cfg.BaseURL+"/api/tags", nil, nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// BuildPrompt flattens a conversation into Ollama's single prompt string.
func BuildPrompt(messages []models.Message) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			b.WriteString("System: ")
		case models.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}

func temperature(cfg config.ProviderConfig, opts models.CallOptions) float64 {
	if opts.Temperature != nil {
		return *opts.Temperature
	}
	if cfg.Temperature != nil {
		return *cfg.Temperature
	}
	return 0
}

func maxTokens(cfg config.ProviderConfig, opts models.CallOptions) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return cfg.MaxTokens
}

var _ models.LLMProvider = (*Provider)(nil)
