package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/agentcore/dispatchcore/internal/vectorrecall"
	"github.com/agentcore/dispatchcore/pkg/contracts"
	"github.com/agentcore/dispatchcore/pkg/types"
)

// MockRuntime is an in-memory contracts.ModelRuntime for tests. Every
// Generate, Chat and Vision call is counted, so tests can assert on
// single-flight de-duplication and retry behavior.
type MockRuntime struct {
	mu         sync.Mutex
	calls      int64
	generateFn func(prompt, system string, params types.Params) (contracts.GenerateResult, error)

	EmbedDimension int
}

// NewMockRuntime creates a MockRuntime that echoes the prompt back as
// its generated text unless GenerateFn is overridden.
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{EmbedDimension: 8}
}

// SetGenerateFn overrides Generate's behavior for tests that need
// specific responses or injected failures.
func (m *MockRuntime) SetGenerateFn(fn func(prompt, system string, params types.Params) (contracts.GenerateResult, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateFn = fn
}

// CallCount reports the number of Generate, Chat and Vision calls made.
// Embed calls are not counted.
func (m *MockRuntime) CallCount() int64 {
	return atomic.LoadInt64(&m.calls)
}

func (m *MockRuntime) Generate(_ context.Context, prompt, system string, params types.Params) (contracts.GenerateResult, error) {
	atomic.AddInt64(&m.calls, 1)
	m.mu.Lock()
	fn := m.generateFn
	m.mu.Unlock()
	if fn != nil {
		return fn(prompt, system, params)
	}
	return contracts.GenerateResult{
		Text:  fmt.Sprintf("echo: %s", prompt),
		Usage: types.TokenUsage{PromptTokens: int64(len(prompt)), CompletionTokens: int64(len(prompt)), TotalTokens: int64(2 * len(prompt))},
	}, nil
}

func (m *MockRuntime) Chat(_ context.Context, messages []types.Message, _ string, _ types.Params) (contracts.ChatResult, error) {
	atomic.AddInt64(&m.calls, 1)
	last := ""
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	return contracts.ChatResult{Message: types.Message{Role: types.RoleAssistant, Content: "echo: " + last}}, nil
}

func (m *MockRuntime) Embed(_ context.Context, text string) (contracts.EmbedResult, error) {
	return contracts.EmbedResult{Embedding: vectorrecall.FallbackEmbed(text, m.EmbedDimension)}, nil
}

func (m *MockRuntime) Vision(_ context.Context, _ []byte, _, prompt, _ string, _ types.Params) (contracts.ChatResult, error) {
	atomic.AddInt64(&m.calls, 1)
	return contracts.ChatResult{Message: types.Message{Role: types.RoleAssistant, Content: "described: " + prompt}}, nil
}

func (m *MockRuntime) ListModels(_ context.Context) ([]string, error) {
	return []string{"mock-large", "mock-small"}, nil
}

func (m *MockRuntime) Pull(_ context.Context, _ string) error { return nil }
