// Package models contains shared data models used across the ShopMind codebase.
package models

import (
	"context"
)

// Role identifies the speaker of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a provider-agnostic conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CallOptions tunes a single LLM call. Zero values fall back to provider defaults.
type CallOptions struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	JSONMode    bool
}

// Completion is the normalized result of a successful LLM call.
type Completion struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	TokensUsed   int    `json:"tokens_used"`
	DurationMs   int64  `json:"duration_ms"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// ConnectionStatus is the outcome of a provider connectivity probe.
type ConnectionStatus struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// LLMProvider is the core interface that all LLM integrations must implement.
// Never call specific providers directly; always inject this interface.
type LLMProvider interface {
	// Call sends the conversation and returns the generated text.
	Call(ctx context.Context, messages []Message, opts CallOptions) (Completion, error)
	// TestConnection probes the provider without generating text.
	TestConnection(ctx context.Context) ConnectionStatus
	// AvailableModels lists model identifiers the provider can serve.
	AvailableModels(ctx context.Context) ([]string, error)
	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}
