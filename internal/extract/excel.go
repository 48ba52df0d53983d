// Package extract reads description and price columns out of .xlsx workbooks
// and writes matched prices back.
package extract

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/openbid/pricematch/internal/match"
	"github.com/openbid/pricematch/internal/models"
)

// Row is one description cell, keyed by its spreadsheet row number.
type Row struct {
	RowIndex int
	Text     string
}

// CatalogRow is one priced catalog entry.
type CatalogRow struct {
	RowIndex  int
	Text      string
	UnitPrice float64
}

// Descriptions reads the description column over the given row range. Every
// row in the range is returned, empty cells included, so callers see the
// spreadsheet as the user ranged it.
func Descriptions(data []byte, sheet, col string, rng models.CellRange) ([]Row, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet, err = resolveSheet(f, sheet)
	if err != nil {
		return nil, err
	}

	rows := make([]Row, 0, rng.End-rng.Start+1)
	for r := rng.Start; r <= rng.End; r++ {
		text, err := f.GetCellValue(sheet, fmt.Sprintf("%s%d", col, r))
		if err != nil {
			return nil, fmt.Errorf("read cell %s%d: %w", col, r, err)
		}
		rows = append(rows, Row{RowIndex: r, Text: text})
	}
	return rows, nil
}

// Catalog reads description and price columns over the given row range. Rows
// with an empty description or empty price cell are skipped; a non-empty
// price that cannot be parsed is an error, not a silent zero.
func Catalog(data []byte, sheet, descCol, priceCol string, rng models.CellRange) ([]CatalogRow, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet, err = resolveSheet(f, sheet)
	if err != nil {
		return nil, err
	}

	var rows []CatalogRow
	for r := rng.Start; r <= rng.End; r++ {
		text, err := f.GetCellValue(sheet, fmt.Sprintf("%s%d", descCol, r))
		if err != nil {
			return nil, fmt.Errorf("read cell %s%d: %w", descCol, r, err)
		}
		priceText, err := f.GetCellValue(sheet, fmt.Sprintf("%s%d", priceCol, r))
		if err != nil {
			return nil, fmt.Errorf("read cell %s%d: %w", priceCol, r, err)
		}
		if strings.TrimSpace(text) == "" || strings.TrimSpace(priceText) == "" {
			continue
		}
		price, err := ParsePrice(priceText)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		rows = append(rows, CatalogRow{RowIndex: r, Text: text, UnitPrice: price})
	}
	return rows, nil
}

// WritePrices writes assigned prices into priceCol of the working file and
// returns the updated workbook. Matched and ambiguous rows get their price;
// unmatched rows are left untouched. When reportCol is set, ambiguous and
// unmatched rows get a review note there.
func WritePrices(data []byte, sheet, priceCol, reportCol string, results []match.Result) ([]byte, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet, err = resolveSheet(f, sheet)
	if err != nil {
		return nil, err
	}

	for _, res := range results {
		if res.AssignedPrice != nil {
			cell := fmt.Sprintf("%s%d", priceCol, res.WFRowIndex)
			if err := f.SetCellValue(sheet, cell, *res.AssignedPrice); err != nil {
				return nil, fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
		if reportCol == "" {
			continue
		}
		note := reportNote(res)
		if note == "" {
			continue
		}
		cell := fmt.Sprintf("%s%d", reportCol, res.WFRowIndex)
		if err := f.SetCellValue(sheet, cell, note); err != nil {
			return nil, fmt.Errorf("write cell %s: %w", cell, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func reportNote(res match.Result) string {
	switch res.Status {
	case match.StatusAmbiguous:
		if res.Score != nil {
			return fmt.Sprintf("ambiguous: multiple catalog rows tied at %.4f, review", *res.Score)
		}
		return "ambiguous: multiple catalog rows tied, review"
	case match.StatusUnmatched:
		if res.Reason != "" {
			return "no match: " + res.Reason
		}
		return "no match"
	}
	return ""
}

// resolveSheet defaults to the workbook's first sheet and verifies the named
// sheet exists.
func resolveSheet(f *excelize.File, sheet string) (string, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", fmt.Errorf("workbook has no sheets")
	}
	if sheet == "" {
		return sheets[0], nil
	}
	for _, s := range sheets {
		if s == sheet {
			return sheet, nil
		}
	}
	return "", fmt.Errorf("sheet %q not found", sheet)
}

// ParsePrice parses a price cell tolerantly: currency marks, spacing, and
// both comma and period decimal separators are accepted.
func ParsePrice(s string) (float64, error) {
	cleaned := strings.TrimSpace(s)
	for _, mark := range []string{"zł", "PLN", "pln", "EUR", "eur", "USD", "usd", "€", "$", "£"} {
		cleaned = strings.ReplaceAll(cleaned, mark, "")
	}
	cleaned = strings.Map(func(r rune) rune {
		if r == ' ' || r == ' ' || r == ' ' {
			return -1
		}
		return r
	}, cleaned)
	if cleaned == "" {
		return 0, fmt.Errorf("empty price %q", s)
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		// Whichever separator comes last is the decimal one.
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(cleaned, ",") == 1 && len(cleaned)-lastComma-1 <= 2 {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable price %q", s)
	}
	return v, nil
}
