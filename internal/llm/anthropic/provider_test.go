package anthropic_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/config"
	"github.com/kiranshivaraju/shopmind/internal/llm/anthropic"
	"github.com/kiranshivaraju/shopmind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.ProviderConfig {
	return config.ProviderConfig{
		Name:      "anthropic",
		BaseURL:   baseURL,
		APIKey:    "sk-ant-test",
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 2000,
		Timeout:   5 * time.Second,
	}
}

func TestSplitSystem(t *testing.T) {
	system, rest := anthropic.SplitSystem([]models.Message{
		{Role: models.RoleSystem, Content: "a"},
		{Role: models.RoleUser, Content: "q"},
		{Role: models.RoleSystem, Content: "b"},
		{Role: models.RoleAssistant, Content: "r"},
	})
	assert.Equal(t, "a\n\nb", system)
	assert.Len(t, rest, 2)
}

func TestCall_LiftsSystemAndEmulatesJSONMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var body struct {
			Model     string              `json:"model"`
			MaxTokens int                 `json:"max_tokens"`
			System    string              `json:"system"`
			Messages  []map[string]string `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 2000, body.MaxTokens)
		assert.Contains(t, body.System, "You analyze customers.")
		assert.Contains(t, body.System, "valid JSON object")
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "user", body.Messages[0]["role"])

		w.Write([]byte(`{"model":"claude-sonnet-4-5-20250929","content":[{"type":"text","text":"{\"a\":"},{"type":"text","text":"1}"}],"stop_reason":"end_turn","usage":{"input_tokens":40,"output_tokens":12}}`))
	}))
	defer srv.Close()

	c, err := anthropic.NewProvider(testConfig(srv.URL)).Call(context.Background(), []models.Message{
		{Role: models.RoleSystem, Content: "You analyze customers."},
		{Role: models.RoleUser, Content: "Customer 7"},
	}, models.CallOptions{JSONMode: true})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, c.Content)
	assert.Equal(t, 52, c.TokensUsed)
	assert.Equal(t, "end_turn", c.FinishReason)
}

func TestCall_OverloadedIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer srv.Close()

	_, err := anthropic.NewProvider(testConfig(srv.URL)).Call(context.Background(), nil, models.CallOptions{})
	require.Error(t, err)
	assert.True(t, apperr.Retryable(err))
	assert.Contains(t, err.Error(), "Overloaded")
}

func TestCall_NoTextBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[{"type":"tool_use"}]}`))
	}))
	defer srv.Close()

	_, err := anthropic.NewProvider(testConfig(srv.URL)).Call(context.Background(), nil, models.CallOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrProvider)
}

func TestAvailableModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Write([]byte(`{"data":[{"id":"claude-sonnet-4-5-20250929"}]}`))
	}))
	defer srv.Close()

	names, err := anthropic.NewProvider(testConfig(srv.URL)).AvailableModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"claude-sonnet-4-5-20250929"}, names)
}
