package similarity

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Matrix is a dense offer-rows × catalog-rows table of cosine scores.
// Recomputed per run and never mutated after Compute returns.
type Matrix struct {
	rows, cols int
	data       []float64
}

// Rows returns the number of offer rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of catalog rows.
func (m *Matrix) Cols() int { return m.cols }

// At returns the score at row i, column j.
func (m *Matrix) At(i, j int) float64 {
	return m.data[i*m.cols+j]
}

// Row returns the backing slice for row i. Callers must not modify it.
func (m *Matrix) Row(i int) []float64 {
	return m.data[i*m.cols : (i+1)*m.cols]
}

// Compute builds the full similarity matrix between wf and ref vectors,
// parallelized over offer rows. Cell values are exact cosine similarities
// and do not depend on how the input vectors were batched. A nil vector
// (failed or empty row) scores 0 against everything. Returns an error when
// non-nil vectors disagree on dimension.
func Compute(ctx context.Context, wf, ref [][]float32) (*Matrix, error) {
	if err := checkDimensions(wf, ref); err != nil {
		return nil, err
	}
	m := &Matrix{rows: len(wf), cols: len(ref), data: make([]float64, len(wf)*len(ref))}

	workers := runtime.NumCPU()
	if workers > len(wf) {
		workers = len(wf)
	}
	if workers < 1 {
		workers = 1
	}

	rowCh := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rowCh {
				row := m.data[i*m.cols : (i+1)*m.cols]
				for j, refVec := range ref {
					row[j] = Cosine(wf[i], refVec)
				}
			}
		}()
	}

feed:
	for i := range wf {
		select {
		case <-ctx.Done():
			break feed
		case rowCh <- i:
		}
	}
	close(rowCh)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func checkDimensions(wf, ref [][]float32) error {
	dim := 0
	for _, sets := range [][][]float32{wf, ref} {
		for _, v := range sets {
			if v == nil {
				continue
			}
			if dim == 0 {
				dim = len(v)
				continue
			}
			if len(v) != dim {
				return fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(v), dim)
			}
		}
	}
	return nil
}
