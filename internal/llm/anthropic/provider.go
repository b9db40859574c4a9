// Package anthropic implements models.LLMProvider against the Messages API.
package anthropic

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

const (
	apiVersion = "2023-06-01"
	// jsonInstruction emulates JSON mode, which the Messages API lacks.
	jsonInstruction = "Respond with a single valid JSON object and nothing else."
)

// Provider implements models.LLMProvider using Anthropic's Messages API.
type Provider struct {
	cfg    config.ProviderConfig
	client *transport.Client
}

// NewProvider expects cfg to already carry defaults for every field.
func NewProvider(cfg config.ProviderConfig) *Provider {
	return &Provider{cfg: cfg, client: transport.New("anthropic", cfg.Timeout)}
}

func (p *Provider) Name() string { return "anthropic" }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (p *Provider) Call(ctx context.Context, messages []models.Message, opts models.CallOptions) (models.Completion, error) {
	system, rest := SplitSystem(messages)
	if opts.JSONMode {
		if system != "" {
			system += "\n\n"
		}
		system += jsonInstruction
	}

	req := messagesRequest{
		Model:       p.cfg.Model,
		MaxTokens:   p.cfg.MaxTokens,
		System:      system,
		Messages:    rest,
		Temperature: p.cfg.Temperature,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature != nil {
		req.Temperature = opts.Temperature
	}

	start := time.Now()
	var resp messagesResponse
	if err := p.client.Do(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/messages", p.headers(), req, &resp); err != nil {
		return models.Completion{}, err
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(b.String())
	if content == "" {
		return models.Completion{}, apperr.Provider("anthropic", "empty content")
	}

	c := models.Completion{
		Content:      content,
		Model:        resp.Model,
		TokensUsed:   resp.Usage.InputTokens + resp.Usage.OutputTokens,
		DurationMs:   transport.Elapsed(start),
		FinishReason: resp.StopReason,
	}
	if c.Model == "" {
		c.Model = req.Model
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
		Message: fmt.Sprintf("connected to Anthropic (%d models available)", len(names)),
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
	return map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": apiVersion,
	}
}

// SplitSystem lifts system messages into one system string and keeps the
// rest of the conversation in order.
func SplitSystem(messages []models.Message) (string, []message) {
	var (
		system []string
		rest   = make([]message, 0, len(messages))
	)
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, message{Role: string(m.Role), Content: m.Content})
	}
	return strings.Join(system, "\n\n"), rest
}

var _ models.LLMProvider = (*Provider)(nil)
