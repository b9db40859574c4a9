package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/shopmind/internal/apperr"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// DefaultResponse is a well-formed analysis reply suggesting one discount.
const DefaultResponse = `{
  "summary": "Slow mover with healthy stock.",
  "priority_score": 72,
  "suggestions": [
    {"type": "create_discount", "priority": "high", "data": {"product_id": 42, "discount_percent": 15}, "reasoning": "Sales dropped 40% month over month."}
  ]
}`

// MockProvider satisfies models.LLMProvider for testing.
type MockProvider struct {
	Name_              string
	CallFunc           func(ctx context.Context, messages []models.Message, opts models.CallOptions) (models.Completion, error)
	TestConnectionFunc func(ctx context.Context) models.ConnectionStatus
	ModelsFunc         func(ctx context.Context) ([]string, error)

	mu    sync.Mutex
	calls [][]models.Message
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Call(ctx context.Context, messages []models.Message, opts models.CallOptions) (models.Completion, error) {
	m.mu.Lock()
	m.calls = append(m.calls, messages)
	m.mu.Unlock()
	if m.CallFunc != nil {
		return m.CallFunc(ctx, messages, opts)
	}
	return models.Completion{}, nil
}

func (m *MockProvider) TestConnection(ctx context.Context) models.ConnectionStatus {
	if m.TestConnectionFunc != nil {
		return m.TestConnectionFunc(ctx)
	}
	return models.ConnectionStatus{Success: true, Message: "mock provider ready"}
}

func (m *MockProvider) AvailableModels(ctx context.Context) ([]string, error) {
	if m.ModelsFunc != nil {
		return m.ModelsFunc(ctx)
	}
	return []string{"mock-v1"}, nil
}

// CallCount returns how many times Call ran.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastMessages returns the conversation passed to the most recent Call.
func (m *MockProvider) LastMessages() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// NewMockProvider returns a MockProvider answering every call with DefaultResponse.
func NewMockProvider() *MockProvider {
	return NewScriptedProvider(DefaultResponse)
}

// NewScriptedProvider answers calls with responses in order, repeating the last one.
func NewScriptedProvider(responses ...string) *MockProvider {
	var (
		mu sync.Mutex
		i  int
	)
	return &MockProvider{
		Name_: "mock",
		CallFunc: func(_ context.Context, _ []models.Message, _ models.CallOptions) (models.Completion, error) {
			mu.Lock()
			defer mu.Unlock()
			content := responses[len(responses)-1]
			if i < len(responses) {
				content = responses[i]
			}
			i++
			return models.Completion{Content: content, Model: "mock-v1", TokensUsed: 100, DurationMs: 5, FinishReason: "stop"}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		CallFunc: func(_ context.Context, _ []models.Message, _ models.CallOptions) (models.Completion, error) {
			return models.Completion{}, err
		},
		TestConnectionFunc: func(context.Context) models.ConnectionStatus {
			return models.ConnectionStatus{Success: false, Message: err.Error()}
		},
		ModelsFunc: func(context.Context) ([]string, error) {
			return nil, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		CallFunc: func(ctx context.Context, _ []models.Message, _ models.CallOptions) (models.Completion, error) {
			<-ctx.Done()
			return models.Completion{}, apperr.Transport("mock request", ctx.Err())
		},
	}
}

// Compile-time check that MockProvider implements LLMProvider.
var _ models.LLMProvider = (*MockProvider)(nil)
