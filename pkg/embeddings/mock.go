package embeddings

import (
	"context"
	"hash/fnv"
)

// MockProvider is a deterministic embedding provider for tests. Each input
// hashes to a fixed-dimension vector so equal texts get equal vectors.
type MockProvider struct {
	Dim       int
	EmbedFunc func(ctx context.Context, input string) ([]float32, error)
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a mock provider with the given vector dimension.
func NewMockProvider(dim int) *MockProvider {
	return &MockProvider{Dim: dim}
}

// Embed implements Provider.
func (m *MockProvider) Embed(ctx context.Context, input string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, input)
	}

	dim := m.Dim
	if dim <= 0 {
		dim = 8
	}

	h := fnv.New32a()
	h.Write([]byte(input))
	seed := h.Sum32()

	vec := make([]float32, dim)
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%1000)/1000.0 - 0.5
	}
	return vec, nil
}

// EmbedBatch implements Provider.
func (m *MockProvider) EmbedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		vec, err := m.Embed(ctx, in)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
