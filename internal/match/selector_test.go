package match

import (
	"context"
	"errors"
	"testing"

	"github.com/openbid/pricematch/internal/similarity"
)

func mustSelector(t *testing.T, threshold, epsilon float64) *Selector {
	t.Helper()
	s, err := NewSelector(threshold, epsilon)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func matrixFrom(t *testing.T, wf, ref [][]float32) *similarity.Matrix {
	t.Helper()
	m, err := similarity.Compute(context.Background(), wf, ref)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNewSelector_thresholdValidation(t *testing.T) {
	for _, threshold := range []float64{-1.01, 1.01, 2, -50} {
		if _, err := NewSelector(threshold, 0); !errors.Is(err, ErrInvalidThreshold) {
			t.Errorf("threshold %v: err = %v, want ErrInvalidThreshold", threshold, err)
		}
	}
	for _, threshold := range []float64{-1, 0, 0.8, 1} {
		if _, err := NewSelector(threshold, 0); err != nil {
			t.Errorf("threshold %v: unexpected error %v", threshold, err)
		}
	}
	if _, err := NewSelector(0.5, -0.1); err == nil {
		t.Error("negative epsilon should be rejected")
	}
}

func TestSelect_basicMatch(t *testing.T) {
	// Offer row aligned with catalog row 0, orthogonal to row 1.
	m := matrixFrom(t, [][]float32{{1, 0}}, [][]float32{{1, 0}, {0, 1}})
	s := mustSelector(t, 0.8, 1e-6)
	results, err := s.Select(m, []int{7}, []float64{25.50, 12.00}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("len = %d, want 1", len(results))
	}
	r := results[0]
	if r.Status != StatusMatched {
		t.Fatalf("status = %s, want matched", r.Status)
	}
	if r.WFRowIndex != 7 || *r.RefRowIndex != 0 {
		t.Errorf("indexes: wf=%d ref=%d", r.WFRowIndex, *r.RefRowIndex)
	}
	if *r.AssignedPrice != 25.50 {
		t.Errorf("price = %v, want 25.50", *r.AssignedPrice)
	}
	if *r.Score < 0.99 {
		t.Errorf("score = %v, want ~1", *r.Score)
	}
}

func TestSelect_belowThresholdUnmatched(t *testing.T) {
	m := matrixFrom(t, [][]float32{{1, 0}}, [][]float32{{0, 1}})
	s := mustSelector(t, 0.8, 1e-6)
	results, err := s.Select(m, []int{2}, []float64{5.00}, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := results[0]
	if r.Status != StatusUnmatched {
		t.Fatalf("status = %s, want unmatched", r.Status)
	}
	if r.RefRowIndex != nil || r.Score != nil || r.AssignedPrice != nil {
		t.Error("unmatched row must carry no match fields")
	}
}

func TestSelect_tieFlaggedLowestIndexWins(t *testing.T) {
	// Two identical catalog rows tie for best.
	m := matrixFrom(t, [][]float32{{1, 1}}, [][]float32{{1, 1}, {1, 1}, {0, 1}})
	s := mustSelector(t, 0.8, 1e-6)
	results, err := s.Select(m, []int{0}, []float64{100.00, 100.00, 7.00}, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := results[0]
	if r.Status != StatusAmbiguous {
		t.Fatalf("status = %s, want ambiguous_tie", r.Status)
	}
	if *r.RefRowIndex != 0 {
		t.Errorf("tie must resolve to lowest catalog index, got %d", *r.RefRowIndex)
	}
	if *r.AssignedPrice != 100.00 {
		t.Errorf("price = %v, want 100.00", *r.AssignedPrice)
	}
}

func TestSelect_thresholdMonotonicity(t *testing.T) {
	// Best score for the row is cos(45°) ≈ 0.7071.
	wf := [][]float32{{1, 1}}
	ref := [][]float32{{1, 0}}
	m := matrixFrom(t, wf, ref)
	bestScore := m.At(0, 0)

	below := mustSelector(t, bestScore-0.01, 0)
	results, _ := below.Select(m, []int{0}, []float64{9.99}, nil)
	if results[0].Status != StatusMatched {
		t.Fatalf("threshold below best score: status = %s, want matched", results[0].Status)
	}

	above := mustSelector(t, bestScore+0.01, 0)
	results, _ = above.Select(m, []int{0}, []float64{9.99}, nil)
	if results[0].Status != StatusUnmatched {
		t.Fatalf("threshold above best score: status = %s, want unmatched", results[0].Status)
	}
}

func TestSelect_oneResultPerRowInOrder(t *testing.T) {
	m := matrixFrom(t,
		[][]float32{{1, 0}, {0, 1}, nil},
		[][]float32{{1, 0}, {0, 1}},
	)
	s := mustSelector(t, 0.5, 1e-6)
	results, err := s.Select(m, []int{3, 1, 8}, []float64{1, 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("len = %d, want one result per offer row", len(results))
	}
	wantRows := []int{3, 1, 8}
	for i, r := range results {
		if r.WFRowIndex != wantRows[i] {
			t.Errorf("result %d row = %d, want %d (order preserved)", i, r.WFRowIndex, wantRows[i])
		}
	}
	// nil embedding row scores 0 everywhere and stays unmatched
	if results[2].Status != StatusUnmatched {
		t.Errorf("degenerate row status = %s, want unmatched", results[2].Status)
	}
}

func TestSelect_shapeMismatch(t *testing.T) {
	m := matrixFrom(t, [][]float32{{1}}, [][]float32{{1}})
	s := mustSelector(t, 0.5, 0)
	if _, err := s.Select(m, []int{0, 1}, []float64{1}, nil); err == nil {
		t.Error("expected error for row index count mismatch")
	}
	if _, err := s.Select(m, []int{0}, []float64{1, 2}, nil); err == nil {
		t.Error("expected error for price count mismatch")
	}
}

func TestSelectRow_negativeThresholdAcceptsWeakMatches(t *testing.T) {
	s := mustSelector(t, -1, 0)
	r := s.SelectRow([]float64{-0.2, -0.9}, 0, []float64{3, 4}, nil)
	if r.Status != StatusMatched || *r.RefRowIndex != 0 {
		t.Errorf("got %+v, want matched at index 0", r)
	}
}

func TestSelectRow_ineligibleColumnCannotWin(t *testing.T) {
	// Column 0 failed to embed, so its zero score must not beat the genuine
	// negative best even when the threshold admits it.
	s := mustSelector(t, -1, 0)
	r := s.SelectRow([]float64{0, -0.4}, 0, []float64{3, 4}, []bool{false, true})
	if r.Status != StatusMatched {
		t.Fatalf("status = %s, want matched", r.Status)
	}
	if *r.RefRowIndex != 1 || *r.AssignedPrice != 4 {
		t.Errorf("got index %d price %v, want eligible column 1", *r.RefRowIndex, *r.AssignedPrice)
	}

	// With every column ineligible the row cannot match at all.
	r = s.SelectRow([]float64{0, 0}, 0, []float64{3, 4}, []bool{false, false})
	if r.Status != StatusUnmatched {
		t.Errorf("status = %s, want unmatched when nothing is eligible", r.Status)
	}
}

func TestSelect_eligibilityShapeMismatch(t *testing.T) {
	m := matrixFrom(t, [][]float32{{1}}, [][]float32{{1}})
	s := mustSelector(t, 0.5, 0)
	if _, err := s.Select(m, []int{0}, []float64{1}, []bool{true, false}); err == nil {
		t.Error("expected error for eligibility count mismatch")
	}
}
