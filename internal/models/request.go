package models

import "fmt"

// CellRange is an inclusive row span within one spreadsheet column.
type CellRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// WorkingFileParams describes where to read offer descriptions and where to
// write assigned prices in the working file.
type WorkingFileParams struct {
	FileID            string    `json:"file_id"`
	Sheet             string    `json:"sheet,omitempty"`
	DescriptionColumn string    `json:"description_column"`
	DescriptionRange  CellRange `json:"description_range"`
	PriceTargetColumn string    `json:"price_target_column"`
	ReportColumn      string    `json:"report_column,omitempty"`
}

// ReferenceFileParams describes where to read catalog descriptions and prices.
type ReferenceFileParams struct {
	FileID            string    `json:"file_id"`
	Sheet             string    `json:"sheet,omitempty"`
	DescriptionColumn string    `json:"description_column"`
	DescriptionRange  CellRange `json:"description_range"`
	PriceSourceColumn string    `json:"price_source_column"`
}

// CompareRequest is the API input for a full compare run over two uploaded files.
type CompareRequest struct {
	WorkingFile   WorkingFileParams   `json:"working_file"`
	ReferenceFile ReferenceFileParams `json:"reference_file"`
	// Threshold is the minimum similarity for a match, in [-1, 1].
	// When nil, the server's configured threshold is used.
	Threshold *float64 `json:"threshold,omitempty"`
}

// Validate checks required fields and range sanity. Threshold range is
// validated by the engine before any embedding work.
func (r *CompareRequest) Validate() error {
	if r.WorkingFile.FileID == "" {
		return fmt.Errorf("working_file.file_id is required")
	}
	if r.ReferenceFile.FileID == "" {
		return fmt.Errorf("reference_file.file_id is required")
	}
	if r.WorkingFile.DescriptionColumn == "" {
		return fmt.Errorf("working_file.description_column is required")
	}
	if r.ReferenceFile.DescriptionColumn == "" {
		return fmt.Errorf("reference_file.description_column is required")
	}
	if r.WorkingFile.PriceTargetColumn == "" {
		return fmt.Errorf("working_file.price_target_column is required")
	}
	if r.ReferenceFile.PriceSourceColumn == "" {
		return fmt.Errorf("reference_file.price_source_column is required")
	}
	for _, rng := range []struct {
		name string
		r    CellRange
	}{
		{"working_file.description_range", r.WorkingFile.DescriptionRange},
		{"reference_file.description_range", r.ReferenceFile.DescriptionRange},
	} {
		if rng.r.Start < 1 {
			return fmt.Errorf("%s.start must be >= 1", rng.name)
		}
		if rng.r.End < rng.r.Start {
			return fmt.Errorf("%s.end must be >= start", rng.name)
		}
	}
	return nil
}

// MatchSummary aggregates per-status counts for one run.
type MatchSummary struct {
	Total     int `json:"total"`
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
	Ambiguous int `json:"ambiguous"`
}

// CompareResponse is the API output for a compare run.
type CompareResponse struct {
	SessionID      string       `json:"session_id"`
	Summary        MatchSummary `json:"summary"`
	PricedFilePath string       `json:"priced_file_path,omitempty"`
	QueryTime      int64        `json:"query_time_ms"`
}
