package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/hyperjump/kensa/pkg/utils"
)

// MockEmbedder is a deterministic local provider for demos. It returns a fixed-dimension
// unit vector derived from a hash of the model and normalized text, so the same input
// always gets the same embedding. Similarity between vectors carries no meaning.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Name implements Provider.
func (e *MockEmbedder) Name() string {
	return "mock"
}

// Embed implements Provider.
func (e *MockEmbedder) Embed(_ context.Context, model, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(model))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(Normalize(text)))
	seed := float64(h.Sum64() % (1 << 31))

	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = float32(math.Sin(seed*float64(i+1))*0.1 + 0.01)
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}
