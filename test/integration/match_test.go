// Package integration provides full-pipeline tests (requires real SQLite
// storage and workbook round trips).
package integration

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/openbid/pricematch/internal/embedding"
	"github.com/openbid/pricematch/internal/engine"
	"github.com/openbid/pricematch/internal/extract"
	"github.com/openbid/pricematch/internal/match"
	"github.com/openbid/pricematch/internal/models"
	"github.com/openbid/pricematch/internal/session"
	"github.com/openbid/pricematch/internal/storage"
)

func buildWorkbook(t *testing.T, cells map[string]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for cell, value := range cells {
		if err := f.SetCellValue(sheet, cell, value); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestIntegration_WorkbookToPricedWorkbook(t *testing.T) {
	dir := t.TempDir()

	db, err := storage.Open(filepath.Join(dir, "pricematch.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	store, err := session.NewSQLiteStore(db, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	embedder := embedding.NewMockEmbedder(384)
	defer embedder.Close()
	batcher := embedding.NewBatcher(embedder, 8, 10*time.Second)
	eng := engine.New(batcher, store, engine.Options{Threshold: 0.8, TieEpsilon: 1e-6}, zap.NewNop())

	wfData := buildWorkbook(t, map[string]interface{}{
		"B2": "Install 50 mm pipe",
		"B3": "demolish partition wall",
		"B4": "supply crane rental",
	})
	refData := buildWorkbook(t, map[string]interface{}{
		"A2": "install 50mm pipe", "C2": "25,50 zł",
		"A3": "demolish partition wall", "C3": "40.00",
		"A4": "paint ceiling", "C4": "8.00",
	})

	wfRows, err := extract.Descriptions(wfData, "", "B", models.CellRange{Start: 2, End: 4})
	if err != nil {
		t.Fatal(err)
	}
	catalogRows, err := extract.Catalog(refData, "", "A", "C", models.CellRange{Start: 2, End: 4})
	if err != nil {
		t.Fatal(err)
	}

	wfItems := make([]models.DescriptionItem, len(wfRows))
	for i, row := range wfRows {
		wfItems[i] = models.DescriptionItem{RowIndex: row.RowIndex, RawText: row.Text}
	}
	refItems := make([]models.CatalogEntry, len(catalogRows))
	for i, row := range catalogRows {
		refItems[i] = models.CatalogEntry{
			DescriptionItem: models.DescriptionItem{RowIndex: row.RowIndex, RawText: row.Text},
			UnitPrice:       row.UnitPrice,
		}
	}

	ctx := context.Background()
	out, err := eng.RunMatch(ctx, wfItems, refItems, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Summary.Matched != 2 || out.Summary.Unmatched != 1 {
		t.Fatalf("summary = %+v", out.Summary)
	}

	// The run survives a store round trip.
	sess, err := store.Get(ctx, out.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.Results) != 3 || len(sess.RefItems) != 3 {
		t.Errorf("session: %d results, %d catalog entries", len(sess.Results), len(sess.RefItems))
	}

	// And the priced copy carries the assignments.
	priced, err := extract.WritePrices(wfData, "", "D", "E", out.Results)
	if err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(priced))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	sheet := f.GetSheetName(0)
	if got, _ := f.GetCellValue(sheet, "D2"); got != "25.5" {
		t.Errorf("D2 = %q, want 25.5", got)
	}
	if got, _ := f.GetCellValue(sheet, "D3"); got != "40" {
		t.Errorf("D3 = %q, want 40", got)
	}
	if got, _ := f.GetCellValue(sheet, "D4"); got != "" {
		t.Errorf("D4 = %q, want untouched", got)
	}
	if got, _ := f.GetCellValue(sheet, "E4"); got == "" {
		t.Error("E4 should carry a no-match note")
	}
	for i, res := range out.Results {
		if i < 2 && res.Status != match.StatusMatched {
			t.Errorf("row %d status = %s", res.WFRowIndex, res.Status)
		}
	}
}
