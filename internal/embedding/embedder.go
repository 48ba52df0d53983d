// Package embedding provides pluggable text embedding for description matching.
package embedding

import (
	"context"
	"errors"
)

// Embedder produces fixed-dimension vector embeddings for text. Output order
// mirrors input order and every vector has Dimensions() length. Splitting one
// logical batch into sub-batches must not change the produced vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// ErrProviderUnavailable reports a systemic provider failure (model not
// loaded, backend down). The whole run fails; retries are the caller's call.
var ErrProviderUnavailable = errors.New("embedding provider unavailable")

// ErrEmbeddingFailed reports a single item the provider could not embed.
// The item degrades to unmatched; the rest of the batch proceeds.
var ErrEmbeddingFailed = errors.New("embedding failed")
