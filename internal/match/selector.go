// Package match turns similarity scores into per-offer-row price assignments.
package match

import (
	"errors"
	"fmt"

	"github.com/openbid/pricematch/internal/similarity"
)

// Status classifies the outcome for one offer row.
type Status string

const (
	// StatusMatched means a single best catalog row cleared the threshold.
	StatusMatched Status = "matched"
	// StatusUnmatched means no catalog row cleared the threshold, or the row
	// itself could not participate (empty or unembeddable description).
	StatusUnmatched Status = "unmatched"
	// StatusAmbiguous means two or more catalog rows tied for best within the
	// tie epsilon. The lowest catalog index is assigned, but the tie stays
	// visible for downstream review.
	StatusAmbiguous Status = "ambiguous_tie"
)

// ErrInvalidThreshold reports a threshold outside the similarity range.
// Rejected before any embedding work starts, never clamped.
var ErrInvalidThreshold = errors.New("threshold out of similarity range [-1, 1]")

// Result is the decision for one offer row. Exactly one Result exists per
// offer row, in offer row order; this is the contract handed to the
// spreadsheet writer.
type Result struct {
	WFRowIndex    int      `json:"wf_row_index"`
	RefRowIndex   *int     `json:"ref_row_index,omitempty"`
	Score         *float64 `json:"score,omitempty"`
	AssignedPrice *float64 `json:"assigned_price,omitempty"`
	Status        Status   `json:"status"`
	// Reason explains unmatched rows that never reached selection
	// (empty description, embedding failure).
	Reason string `json:"reason,omitempty"`
}

// Selector applies the threshold and tie policy to similarity scores.
// Each offer row is decided independently by arg-max; this is deliberately
// not a global bipartite assignment, since one catalog price legitimately
// prices many offer rows.
type Selector struct {
	Threshold  float64
	TieEpsilon float64
}

// NewSelector validates the run parameters. An out-of-range threshold or a
// negative epsilon is a configuration error.
func NewSelector(threshold, tieEpsilon float64) (*Selector, error) {
	if threshold < -1 || threshold > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}
	if tieEpsilon < 0 {
		return nil, fmt.Errorf("tie epsilon must not be negative, got %v", tieEpsilon)
	}
	return &Selector{Threshold: threshold, TieEpsilon: tieEpsilon}, nil
}

// Select decides every offer row of the matrix. wfRowIndexes maps matrix rows
// to original spreadsheet row indexes; prices maps matrix columns to catalog
// unit prices. eligible marks which catalog columns may win; nil means all.
// Columns without a real embedding score zero against everything, which would
// win whole rows at non-positive thresholds, so callers mark them ineligible.
// Results come back in matrix (offer) row order.
func (s *Selector) Select(m *similarity.Matrix, wfRowIndexes []int, prices []float64, eligible []bool) ([]Result, error) {
	if m.Rows() != len(wfRowIndexes) {
		return nil, fmt.Errorf("row index count %d does not match matrix rows %d", len(wfRowIndexes), m.Rows())
	}
	if m.Cols() != len(prices) {
		return nil, fmt.Errorf("price count %d does not match matrix columns %d", len(prices), m.Cols())
	}
	if eligible != nil && len(eligible) != len(prices) {
		return nil, fmt.Errorf("eligibility count %d does not match matrix columns %d", len(eligible), m.Cols())
	}
	results := make([]Result, m.Rows())
	for i := 0; i < m.Rows(); i++ {
		results[i] = s.SelectRow(m.Row(i), wfRowIndexes[i], prices, eligible)
	}
	return results, nil
}

// SelectRow decides a single offer row from its similarity scores against
// the whole catalog. Usable directly in row-by-row mode where the full
// matrix is never materialized.
func (s *Selector) SelectRow(scores []float64, wfRowIndex int, prices []float64, eligible []bool) Result {
	best, bestScore := argMax(scores, eligible)
	if best < 0 || bestScore < s.Threshold {
		return Result{WFRowIndex: wfRowIndex, Status: StatusUnmatched}
	}

	ties := 0
	winner := -1
	for j, score := range scores {
		if eligible != nil && !eligible[j] {
			continue
		}
		if bestScore-score <= s.TieEpsilon {
			ties++
			if winner < 0 {
				winner = j // first catalog occurrence wins deterministically
			}
		}
	}

	score := scores[winner]
	price := prices[winner]
	result := Result{
		WFRowIndex:    wfRowIndex,
		RefRowIndex:   &winner,
		Score:         &score,
		AssignedPrice: &price,
		Status:        StatusMatched,
	}
	if ties > 1 {
		result.Status = StatusAmbiguous
	}
	return result
}

// argMax returns the index and value of the maximum eligible score, or
// (-1, 0) when no column is eligible.
func argMax(scores []float64, eligible []bool) (int, float64) {
	best := -1
	bestScore := 0.0
	for j, score := range scores {
		if eligible != nil && !eligible[j] {
			continue
		}
		if best < 0 || score > bestScore {
			best = j
			bestScore = score
		}
	}
	return best, bestScore
}
