package runtime_test

import (
	"context"
	"testing"

	"github.com/agentcore/dispatchcore/internal/runtime"
	"github.com/agentcore/dispatchcore/pkg/contracts"
	"github.com/agentcore/dispatchcore/pkg/types"
)

var _ contracts.ModelRuntime = (*runtime.MockRuntime)(nil)
var _ contracts.ModelRuntime = (*runtime.OllamaRuntime)(nil)

func TestMockRuntimeGenerateEchoesPrompt(t *testing.T) {
	rt := runtime.NewMockRuntime()
	res, err := rt.Generate(context.Background(), "hello", "", types.DefaultParams())
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Text != "echo: hello" {
		t.Fatalf("Generate().Text = %q, want 'echo: hello'", res.Text)
	}
	if rt.CallCount() != 1 {
		t.Fatalf("CallCount() = %d, want 1", rt.CallCount())
	}
}

func TestMockRuntimeEmbedIsDeterministic(t *testing.T) {
	rt := runtime.NewMockRuntime()
	a, err := rt.Embed(context.Background(), "same text")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, err := rt.Embed(context.Background(), "same text")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	for i := range a.Embedding {
		if a.Embedding[i] != b.Embedding[i] {
			t.Fatalf("Embed() not deterministic at index %d", i)
		}
	}
}
