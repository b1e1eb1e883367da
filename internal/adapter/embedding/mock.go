package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"strandbus/internal/domain"
)

// MockProvider is a deterministic in-process embedding provider for
// tests and the "mock" config backend. Each text hashes to a unit
// vector, so identical texts always embed identically and distinct
// texts are usually far apart.
type MockProvider struct {
	dims int

	// Err, when set, is returned from every Embed call.
	Err error
	// Calls counts Embed invocations.
	Calls int
}

// NewMockProvider creates a mock provider of the given dimensionality.
// If dims <= 0, 8 is used.
func NewMockProvider(dims int) *MockProvider {
	if dims <= 0 {
		dims = 8
	}
	return &MockProvider{dims: dims}
}

// Embed implements domain.EmbeddingProvider.
func (p *MockProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	p.Calls++
	if p.Err != nil {
		return nil, p.Err
	}

	result := make([][]float32, len(texts))
	for i, text := range texts {
		result[i] = p.vectorize(text)
	}
	return result, nil
}

// vectorize maps a text to a deterministic unit vector by seeding each
// component from a rolling FNV hash.
func (p *MockProvider) vectorize(text string) []float32 {
	vec := make([]float32, p.dims)
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		// Map to [-1, 1).
		vec[i] = float32(int64(seed>>11))/float32(1<<52) - 1
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// Dimensions implements domain.EmbeddingProvider.
func (p *MockProvider) Dimensions() int { return p.dims }

// Name implements domain.EmbeddingProvider.
func (p *MockProvider) Name() string { return "mock" }

var _ domain.EmbeddingProvider = (*MockProvider)(nil)
