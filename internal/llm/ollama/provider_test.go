package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/internal/config"
	"github.com/kiranshivaraju/shopmind/internal/llm/ollama"
	"github.com/kiranshivaraju/shopmind/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.ProviderConfig {
	temp := 0.7
	return config.ProviderConfig{
		Name:        "ollama",
		BaseURL:     baseURL,
		Model:       "llama3.1",
		Temperature: &temp,
		MaxTokens:   2000,
		Timeout:     5 * time.Second,
	}
}

func conversation() []models.Message {
	return []models.Message{
		{Role: models.RoleSystem, Content: "You are a merchandising analyst."},
		{Role: models.RoleUser, Content: "Analyze product 42."},
	}
}

func TestBuildPrompt(t *testing.T) {
	got := ollama.BuildPrompt(conversation())
	assert.Equal(t, "System: You are a merchandising analyst.\n\nUser: Analyze product 42.\n\nAssistant:", got)
}

func TestCall_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama3.1", body["model"])
		assert.Equal(t, "json", body["format"])
		assert.Equal(t, false, body["stream"])
		opts := body["options"].(map[string]any)
		assert.InDelta(t, 0.2, opts["temperature"], 0.0001)
		assert.Equal(t, float64(2000), opts["num_predict"])

		w.Write([]byte(`{"model":"llama3.1","response":"{\"priority_score\":80}","done":true,"done_reason":"stop","prompt_eval_count":120,"eval_count":30}`))
	}))
	defer srv.Close()

	temp := 0.2
	p := ollama.NewProvider(testConfig(srv.URL))
	c, err := p.Call(context.Background(), conversation(), models.CallOptions{JSONMode: true, Temperature: &temp})
	require.NoError(t, err)
	assert.Equal(t, `{"priority_score":80}`, c.Content)
	assert.Equal(t, 150, c.TokensUsed)
	assert.Equal(t, "stop", c.FinishReason)
	assert.Equal(t, "llama3.1", c.Model)
}

func TestCall_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"llama3.1","response":"  ","done":true}`))
	}))
	defer srv.Close()

	_, err := ollama.NewProvider(testConfig(srv.URL)).Call(context.Background(), conversation(), models.CallOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrProvider)
	assert.Contains(t, err.Error(), "empty content")
}

func TestCall_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model 'llama3.1' not found, try pulling it first"}`))
	}))
	defer srv.Close()

	_, err := ollama.NewProvider(testConfig(srv.URL)).Call(context.Background(), conversation(), models.CallOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrProvider)
	assert.Contains(t, err.Error(), "try pulling it first")
}

func TestAvailableModelsAndTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"llama3.1:latest"},{"name":"mistral:7b"}]}`))
	}))
	defer srv.Close()

	p := ollama.NewProvider(testConfig(srv.URL))
	names, err := p.AvailableModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.1:latest", "mistral:7b"}, names)

	status := p.TestConnection(context.Background())
	assert.True(t, status.Success)
	assert.Contains(t, status.Message, "2 models")
}

func TestTestConnection_Unreachable(t *testing.T) {
	p := ollama.NewProvider(testConfig("http://127.0.0.1:1"))
	status := p.TestConnection(context.Background())
	assert.False(t, status.Success)
	assert.NotEmpty(t, status.Message)
}
