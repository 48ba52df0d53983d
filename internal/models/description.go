// Package models defines core data structures for descriptions, catalog entries,
// and match results exchanged between the matching engine and its callers.
package models

// DescriptionItem is one work-item description taken from a spreadsheet row.
// Once normalized and embedded for a run it is treated as immutable; the
// embedding slice is owned by the item that produced it.
type DescriptionItem struct {
	RowIndex       int       `json:"row_index"`
	RawText        string    `json:"raw_text"`
	NormalizedText string    `json:"normalized_text,omitempty"`
	Embedding      []float32 `json:"-"`
}

// CatalogEntry is a reference (REF) description together with its unit price.
// An entry may be matched by zero, one, or many offer rows.
type CatalogEntry struct {
	DescriptionItem
	UnitPrice float64 `json:"unit_price"`
}
