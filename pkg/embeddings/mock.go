package embeddings

import (
	"context"
	"crypto/sha256"
	"math"
)

// MockClient is a deterministic EmbeddingClient for tests. Each text maps
// to a fixed unit vector derived from its hash, so equal texts always get
// equal embeddings and different texts almost never collide.
type MockClient struct {
	Dimensions int

	// Err, when set, is returned by every call.
	Err error

	// Calls counts Embed invocations, not texts.
	Calls int
}

// NewMockClient creates a mock client producing vectors of the given
// dimensionality. dims <= 0 defaults to 16.
func NewMockClient(dims int) *MockClient {
	if dims <= 0 {
		dims = 16
	}
	return &MockClient{Dimensions: dims}
}

// Embed returns a deterministic embedding per text.
func (m *MockClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.vectorFor(text)
	}
	return out, nil
}

// EmbedOne returns a deterministic embedding for a single text.
func (m *MockClient) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := m.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (m *MockClient) vectorFor(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, m.Dimensions)
	var norm float64
	for i := range vec {
		b := sum[i%len(sum)]
		// Spread byte values over [-1, 1).
		v := float64(b)/128.0 - 1.0
		vec[i] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1.0 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// Compile-time interface check
var _ EmbeddingClient = (*MockClient)(nil)
