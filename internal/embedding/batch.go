package embedding

import (
	"context"
	"errors"
	"time"
)

// ItemResult is the embedding outcome for one text in a batch. Either Vector
// is set or Err explains why this item could not be embedded.
type ItemResult struct {
	Index  int
	Vector []float32
	Err    error
}

// Batcher splits embedding work into sub-batches with a per-batch timeout.
// Sub-batching amortizes provider overhead without changing results: the
// wrapped embedder is deterministic per text, so any batch boundaries yield
// identical vectors. A failed item never aborts the rest of the work; a
// provider-level failure does.
type Batcher struct {
	embedder  Embedder
	batchSize int
	timeout   time.Duration
}

// NewBatcher wraps embedder with the given sub-batch size and per-batch timeout.
// A non-positive batchSize embeds everything in one batch; a non-positive
// timeout disables the per-batch deadline.
func NewBatcher(embedder Embedder, batchSize int, timeout time.Duration) *Batcher {
	return &Batcher{embedder: embedder, batchSize: batchSize, timeout: timeout}
}

// Dimensions returns the wrapped embedder's dimension.
func (b *Batcher) Dimensions() int {
	return b.embedder.Dimensions()
}

// EmbedItems embeds texts and returns one ItemResult per input, in input
// order. Items the provider cannot embed carry ErrEmbeddingFailed (or the
// per-batch deadline error); callers mark those rows unmatchable and
// continue. ErrProviderUnavailable or caller cancellation aborts the run.
func (b *Batcher) EmbedItems(ctx context.Context, texts []string) ([]ItemResult, error) {
	results := make([]ItemResult, len(texts))
	size := b.batchSize
	if size <= 0 {
		size = len(texts)
	}
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		if err := b.embedBatch(ctx, texts[start:end], results[start:end], start); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (b *Batcher) embedBatch(ctx context.Context, texts []string, out []ItemResult, offset int) error {
	batchCtx, cancel := b.withDeadline(ctx)
	defer cancel()

	vectors, err := b.embedder.EmbedBatch(batchCtx, texts)
	if err == nil {
		for i, v := range vectors {
			out[i] = ItemResult{Index: offset + i, Vector: v}
		}
		return nil
	}
	if errors.Is(err, ErrProviderUnavailable) {
		return err
	}
	if ctx.Err() != nil {
		// Caller cancelled; not a per-item condition.
		return ctx.Err()
	}

	// The batch failed for a non-systemic reason (one bad item, or the batch
	// deadline). Retry item by item so only the offending items degrade.
	for i, text := range texts {
		itemCtx, itemCancel := b.withDeadline(ctx)
		vector, itemErr := b.embedder.Embed(itemCtx, text)
		itemCancel()
		switch {
		case itemErr == nil:
			out[i] = ItemResult{Index: offset + i, Vector: vector}
		case errors.Is(itemErr, ErrProviderUnavailable):
			return itemErr
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			if !errors.Is(itemErr, ErrEmbeddingFailed) {
				itemErr = errors.Join(ErrEmbeddingFailed, itemErr)
			}
			out[i] = ItemResult{Index: offset + i, Err: itemErr}
		}
	}
	return nil
}

func (b *Batcher) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout > 0 {
		return context.WithTimeout(ctx, b.timeout)
	}
	return ctx, func() {}
}
