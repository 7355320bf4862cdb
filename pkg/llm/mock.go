package llm

import "context"

// MockClient is a test double for Client with function fields for each
// method and call counters.
type MockClient struct {
	CompleteFunc   func(ctx context.Context, systemPrompt string, history []ChatMessage) (*CompletionResult, error)
	EmbedFunc      func(ctx context.Context, input string) ([]float32, error)
	EmbedBatchFunc func(ctx context.Context, inputs []string) ([][]float32, error)
	ModelName      string

	CompleteCalls   int
	EmbedCalls      int
	EmbedBatchCalls int
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) Complete(ctx context.Context, systemPrompt string, history []ChatMessage) (*CompletionResult, error) {
	m.CompleteCalls++
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, systemPrompt, history)
	}
	return &CompletionResult{Content: "mock response"}, nil
}

func (m *MockClient) Embed(ctx context.Context, input string) ([]float32, error) {
	m.EmbedCalls++
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, input)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *MockClient) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	m.EmbedBatchCalls++
	if m.EmbedBatchFunc != nil {
		return m.EmbedBatchFunc(ctx, inputs)
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (m *MockClient) Model() string {
	if m.ModelName != "" {
		return m.ModelName
	}
	return "mock-model"
}
