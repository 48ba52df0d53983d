// Package engine runs the full matching pipeline: normalize, embed, score,
// select, persist.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openbid/pricematch/internal/embedding"
	"github.com/openbid/pricematch/internal/match"
	"github.com/openbid/pricematch/internal/models"
	"github.com/openbid/pricematch/internal/normalize"
	"github.com/openbid/pricematch/internal/session"
	"github.com/openbid/pricematch/internal/similarity"
	"github.com/openbid/pricematch/pkg/utils"
)

// ErrEmptyCatalog reports a catalog with no priced rows. It is a problem with
// the request, not the service, so callers map it to a client error.
var ErrEmptyCatalog = errors.New("reference catalog is empty")

// Options carries the run parameters the engine applies to every match run
// unless the request overrides them.
type Options struct {
	Threshold  float64
	TieEpsilon float64
}

// Engine wires the pipeline stages together. It is safe for concurrent use;
// each run is independent.
type Engine struct {
	batcher *embedding.Batcher
	store   session.Store
	opts    Options
	logger  *zap.Logger
}

// New creates an engine over the given embedder and session store.
func New(batcher *embedding.Batcher, store session.Store, opts Options, logger *zap.Logger) *Engine {
	return &Engine{batcher: batcher, store: store, opts: opts, logger: logger}
}

// RunOutput is the outcome of one match run.
type RunOutput struct {
	SessionID uuid.UUID
	Results   []match.Result
	Summary   models.MatchSummary
	Elapsed   time.Duration
}

// RunMatch matches every offer row against the catalog and persists the run
// as a session. threshold overrides the engine default when non-nil; it is
// validated before any embedding work starts. Exactly one result per offer
// row comes back, in offer row order.
func (e *Engine) RunMatch(ctx context.Context, wf []models.DescriptionItem, ref []models.CatalogEntry, threshold *float64) (*RunOutput, error) {
	started := time.Now()

	th := e.opts.Threshold
	if threshold != nil {
		th = *threshold
	}
	selector, err := match.NewSelector(th, e.opts.TieEpsilon)
	if err != nil {
		return nil, err
	}
	if len(ref) == 0 {
		return nil, ErrEmptyCatalog
	}

	// Normalize both sides. Offer rows with nothing to match stay in the
	// result set as unmatched; they are never sent to the embedder.
	reasons := make([]string, len(wf))
	wfTexts := make([]string, len(wf))
	for i := range wf {
		norm, err := normalize.Normalize(wf[i].RawText)
		if err != nil {
			if errors.Is(err, normalize.ErrEmptyDescription) {
				reasons[i] = "empty description"
				continue
			}
			return nil, fmt.Errorf("normalize offer row %d: %w", wf[i].RowIndex, err)
		}
		wf[i].NormalizedText = norm
		wfTexts[i] = norm
	}
	refTexts := make([]string, len(ref))
	for i := range ref {
		norm, err := normalize.Normalize(ref[i].RawText)
		if err != nil {
			return nil, fmt.Errorf("normalize catalog row %d: %w", ref[i].RowIndex, err)
		}
		ref[i].NormalizedText = norm
		refTexts[i] = norm
	}

	// Embed. Per-item failures leave a nil vector; those offer rows are forced
	// unmatched after selection and those catalog columns are excluded from it,
	// so a zero score never wins anything. Provider failures abort the run.
	wfVectors, err := e.embedSide(ctx, wfTexts, reasons)
	if err != nil {
		return nil, fmt.Errorf("embed offer descriptions: %w", err)
	}
	for i := range wf {
		wf[i].Embedding = wfVectors[i]
	}
	refVectors, err := e.embedSide(ctx, refTexts, nil)
	if err != nil {
		return nil, fmt.Errorf("embed catalog descriptions: %w", err)
	}
	for i := range ref {
		ref[i].Embedding = refVectors[i]
	}

	matrix, err := similarity.Compute(ctx, wfVectors, refVectors)
	if err != nil {
		return nil, fmt.Errorf("compute similarity: %w", err)
	}

	wfRowIndexes := make([]int, len(wf))
	for i := range wf {
		wfRowIndexes[i] = wf[i].RowIndex
	}
	prices := make([]float64, len(ref))
	eligible := make([]bool, len(ref))
	for i := range ref {
		prices[i] = ref[i].UnitPrice
		eligible[i] = refVectors[i] != nil
	}
	results, err := selector.Select(matrix, wfRowIndexes, prices, eligible)
	if err != nil {
		return nil, err
	}
	// Rows that never got an embedding are unmatched no matter what the
	// threshold admits; their nil vector scored zero against every column.
	for i := range results {
		if reasons[i] != "" {
			results[i] = match.Result{
				WFRowIndex: wfRowIndexes[i],
				Status:     match.StatusUnmatched,
				Reason:     reasons[i],
			}
			continue
		}
		if results[i].Status == match.StatusUnmatched && results[i].Reason == "" {
			results[i].Reason = "below threshold"
		}
	}

	id, err := e.store.Create(ctx, wf, ref)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := e.store.PutMatrix(ctx, id, matrix); err != nil {
		return nil, fmt.Errorf("store matrix: %w", err)
	}
	if err := e.store.PutResults(ctx, id, results); err != nil {
		return nil, fmt.Errorf("store results: %w", err)
	}

	out := &RunOutput{
		SessionID: id,
		Results:   results,
		Summary:   summarize(results),
		Elapsed:   time.Since(started),
	}
	e.logger.Info("match run complete",
		zap.String("session_id", id.String()),
		zap.Int("offer_rows", len(wf)),
		zap.Int("catalog_rows", len(ref)),
		zap.Float64("threshold", th),
		zap.Int("matched", out.Summary.Matched),
		zap.Int("unmatched", out.Summary.Unmatched),
		zap.Int("ambiguous", out.Summary.Ambiguous),
		zap.Duration("elapsed", out.Elapsed))
	return out, nil
}

// embedSide embeds one side's texts. Empty texts (already marked in reasons)
// are skipped; failed items record their reason and leave a nil vector.
func (e *Engine) embedSide(ctx context.Context, texts []string, reasons []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	embeddable := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, text := range texts {
		if text == "" {
			continue
		}
		embeddable = append(embeddable, text)
		positions = append(positions, i)
	}
	if len(embeddable) == 0 {
		return vectors, nil
	}

	items, err := e.batcher.EmbedItems(ctx, embeddable)
	if err != nil {
		return nil, err
	}
	for k, item := range items {
		pos := positions[k]
		if item.Err != nil {
			e.logger.Warn("embedding failed for row",
				zap.Int("position", pos),
				zap.String("text", utils.Truncate(texts[pos], 80)),
				zap.Error(item.Err))
			if reasons != nil {
				reasons[pos] = "embedding failed"
			}
			continue
		}
		vectors[pos] = item.Vector
	}
	return vectors, nil
}

func summarize(results []match.Result) models.MatchSummary {
	s := models.MatchSummary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case match.StatusMatched:
			s.Matched++
		case match.StatusAmbiguous:
			s.Ambiguous++
		default:
			s.Unmatched++
		}
	}
	return s
}
