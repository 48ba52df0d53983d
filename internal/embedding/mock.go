package embedding

import (
	"context"
	"math"
)

// MockEmbedder is a deterministic embedder for tests. Each text maps to a
// hashed bag-of-tokens vector, so the same text always gets the same
// embedding and texts sharing tokens score high cosine similarity while
// unrelated texts score near zero.
type MockEmbedder struct {
	dimensions int
	// FailOn, when set, is consulted per text; a non-nil error fails that item.
	FailOn func(text string) error
}

// NewMockEmbedder returns an embedder producing deterministic unit vectors of
// the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a unit-normalized hashed bag-of-tokens vector for text.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.FailOn != nil {
		if err := e.FailOn(text); err != nil {
			return nil, err
		}
	}
	emb := make([]float32, e.dimensions)
	for _, token := range SplitWords(text) {
		emb[HashString(token)%e.dimensions] += 1
	}
	var sum float64
	for _, v := range emb {
		sum += float64(v * v)
	}
	if sum > 0 {
		norm := 1.0 / math.Sqrt(sum)
		for i := range emb {
			emb[i] *= float32(norm)
		}
	}
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
