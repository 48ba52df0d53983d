package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/openbid/pricematch/internal/embedding"
	"github.com/openbid/pricematch/internal/match"
	"github.com/openbid/pricematch/internal/models"
	"github.com/openbid/pricematch/internal/session"
)

func newTestEngine(t *testing.T, opts Options, mockOpts ...func(*embedding.MockEmbedder)) (*Engine, session.Store) {
	t.Helper()
	mock := embedding.NewMockEmbedder(384)
	for _, o := range mockOpts {
		o(mock)
	}
	batcher := embedding.NewBatcher(mock, 32, time.Second)
	store := session.NewMemoryStore(time.Hour)
	t.Cleanup(func() { store.Close() })
	if opts.Threshold == 0 && opts.TieEpsilon == 0 {
		opts = Options{Threshold: 0.8, TieEpsilon: 1e-6}
	}
	return New(batcher, store, opts, zap.NewNop()), store
}

func wfItems(texts ...string) []models.DescriptionItem {
	items := make([]models.DescriptionItem, len(texts))
	for i, text := range texts {
		items[i] = models.DescriptionItem{RowIndex: i + 2, RawText: text}
	}
	return items
}

func refEntries(entries ...struct {
	Text  string
	Price float64
}) []models.CatalogEntry {
	out := make([]models.CatalogEntry, len(entries))
	for i, e := range entries {
		out[i] = models.CatalogEntry{
			DescriptionItem: models.DescriptionItem{RowIndex: i + 2, RawText: e.Text},
			UnitPrice:       e.Price,
		}
	}
	return out
}

type entry = struct {
	Text  string
	Price float64
}

func TestRunMatch_assignsPriceToEquivalentDescription(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	wf := wfItems("Install 50 mm pipe")
	ref := refEntries(
		entry{"install 50mm pipe", 25.50},
		entry{"remove tiles", 12.00},
	)

	out, err := e.RunMatch(context.Background(), wf, ref, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(out.Results))
	}
	r := out.Results[0]
	if r.Status != match.StatusMatched {
		t.Fatalf("status = %s, want matched (reason %q)", r.Status, r.Reason)
	}
	if r.RefRowIndex == nil || *r.RefRowIndex != 0 {
		t.Errorf("ref index = %v, want 0", r.RefRowIndex)
	}
	if r.AssignedPrice == nil || *r.AssignedPrice != 25.50 {
		t.Errorf("price = %v, want 25.50", r.AssignedPrice)
	}
	if out.Summary.Matched != 1 || out.Summary.Total != 1 {
		t.Errorf("summary = %+v", out.Summary)
	}
}

func TestRunMatch_unrelatedDescriptionStaysUnmatched(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	wf := wfItems("supply crane rental")
	ref := refEntries(entry{"paint interior wall", 8.00})

	out, err := e.RunMatch(context.Background(), wf, ref, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := out.Results[0]
	if r.Status != match.StatusUnmatched {
		t.Fatalf("status = %s, want unmatched", r.Status)
	}
	if r.AssignedPrice != nil || r.RefRowIndex != nil {
		t.Errorf("unmatched row must carry no assignment: %+v", r)
	}
	if r.Reason != "below threshold" {
		t.Errorf("reason = %q", r.Reason)
	}
}

func TestRunMatch_emptyDescriptionNeverEmbedded(t *testing.T) {
	var embedded []string
	e, _ := newTestEngine(t, Options{}, func(m *embedding.MockEmbedder) {
		m.FailOn = func(text string) error {
			embedded = append(embedded, text)
			return nil
		}
	})

	wf := wfItems("install 50mm pipe", "   ", "remove tiles")
	ref := refEntries(entry{"install 50mm pipe", 25.50})

	out, err := e.RunMatch(context.Background(), wf, ref, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 3 {
		t.Fatalf("results = %d, want one per offer row", len(out.Results))
	}
	blank := out.Results[1]
	if blank.Status != match.StatusUnmatched || blank.Reason != "empty description" {
		t.Errorf("blank row: %+v", blank)
	}
	for _, text := range embedded {
		if text == "" || text == "   " {
			t.Error("empty description reached the embedder")
		}
	}
	// Neighbors still proceed.
	if out.Results[0].Status != match.StatusMatched {
		t.Errorf("row 0: %+v", out.Results[0])
	}
}

func TestRunMatch_blankRowStaysUnmatchedAtPermissiveThresholds(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	wf := wfItems("   ")
	ref := refEntries(entry{"paint wall", 5.00})

	for _, th := range []float64{0, -1} {
		th := th
		out, err := e.RunMatch(context.Background(), wf, ref, &th)
		if err != nil {
			t.Fatal(err)
		}
		r := out.Results[0]
		if r.Status != match.StatusUnmatched || r.Reason != "empty description" {
			t.Errorf("threshold %v: %+v, want unmatched with empty-description reason", th, r)
		}
		if r.AssignedPrice != nil || r.RefRowIndex != nil || r.Score != nil {
			t.Errorf("threshold %v: blank row carries match fields: %+v", th, r)
		}
	}
}

func TestRunMatch_failedCatalogColumnCannotWin(t *testing.T) {
	e, _ := newTestEngine(t, Options{}, func(m *embedding.MockEmbedder) {
		m.FailOn = func(text string) error {
			if text == "cursed catalog entry" {
				return errors.New("token limit exceeded")
			}
			return nil
		}
	})

	// At threshold -1 every real score qualifies, so the failed column's zero
	// score would otherwise beat the genuine (possibly negative) best.
	wf := wfItems("supply crane rental")
	ref := refEntries(
		entry{"cursed catalog entry", 999.00},
		entry{"paint interior wall", 8.00},
	)

	th := -1.0
	out, err := e.RunMatch(context.Background(), wf, ref, &th)
	if err != nil {
		t.Fatal(err)
	}
	r := out.Results[0]
	if r.Status != match.StatusMatched {
		t.Fatalf("status = %s (reason %q), want matched", r.Status, r.Reason)
	}
	if r.RefRowIndex == nil || *r.RefRowIndex != 1 {
		t.Errorf("ref index = %v, want 1 (failed column must not win)", r.RefRowIndex)
	}
	if r.AssignedPrice == nil || *r.AssignedPrice != 8.00 {
		t.Errorf("price = %v, want 8.00", r.AssignedPrice)
	}
}

func TestRunMatch_tiePicksFirstCatalogOccurrence(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	wf := wfItems("concrete slab 20cm")
	ref := refEntries(
		entry{"concrete slab 20cm", 100.00},
		entry{"concrete slab 20cm", 120.00},
	)

	out, err := e.RunMatch(context.Background(), wf, ref, nil)
	if err != nil {
		t.Fatal(err)
	}
	r := out.Results[0]
	if r.Status != match.StatusAmbiguous {
		t.Fatalf("status = %s, want ambiguous_tie", r.Status)
	}
	if r.RefRowIndex == nil || *r.RefRowIndex != 0 {
		t.Errorf("ref index = %v, want first occurrence", r.RefRowIndex)
	}
	if r.AssignedPrice == nil || *r.AssignedPrice != 100.00 {
		t.Errorf("price = %v, want 100.00", r.AssignedPrice)
	}
	if out.Summary.Ambiguous != 1 {
		t.Errorf("summary = %+v", out.Summary)
	}
}

func TestRunMatch_invalidThresholdRejectedBeforeEmbedding(t *testing.T) {
	calls := 0
	e, _ := newTestEngine(t, Options{}, func(m *embedding.MockEmbedder) {
		m.FailOn = func(string) error {
			calls++
			return nil
		}
	})

	bad := 1.5
	_, err := e.RunMatch(context.Background(), wfItems("pipe"), refEntries(entry{"pipe", 1}), &bad)
	if !errors.Is(err, match.ErrInvalidThreshold) {
		t.Fatalf("err = %v, want ErrInvalidThreshold", err)
	}
	if calls != 0 {
		t.Errorf("embedder was called %d times before validation", calls)
	}
}

func TestRunMatch_perItemEmbeddingFailureDegrades(t *testing.T) {
	e, _ := newTestEngine(t, Options{}, func(m *embedding.MockEmbedder) {
		m.FailOn = func(text string) error {
			if text == "cursed row" {
				return errors.New("token limit exceeded")
			}
			return nil
		}
	})

	wf := wfItems("install 50mm pipe", "cursed row")
	ref := refEntries(entry{"install 50mm pipe", 25.50})

	out, err := e.RunMatch(context.Background(), wf, ref, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Results[0].Status != match.StatusMatched {
		t.Errorf("healthy row: %+v", out.Results[0])
	}
	failed := out.Results[1]
	if failed.Status != match.StatusUnmatched || failed.Reason != "embedding failed" {
		t.Errorf("failed row: %+v", failed)
	}
}

func TestRunMatch_providerUnavailableAborts(t *testing.T) {
	e, _ := newTestEngine(t, Options{}, func(m *embedding.MockEmbedder) {
		m.FailOn = func(string) error { return embedding.ErrProviderUnavailable }
	})

	_, err := e.RunMatch(context.Background(), wfItems("pipe"), refEntries(entry{"pipe", 1}), nil)
	if !errors.Is(err, embedding.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestRunMatch_emptyCatalogRejected(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	if _, err := e.RunMatch(context.Background(), wfItems("pipe"), nil, nil); !errors.Is(err, ErrEmptyCatalog) {
		t.Errorf("err = %v, want ErrEmptyCatalog", err)
	}
}

func TestRunMatch_resultsInOfferRowOrder(t *testing.T) {
	e, _ := newTestEngine(t, Options{})

	wf := wfItems("install 50mm pipe", "remove tiles", "paint wall")
	ref := refEntries(
		entry{"paint wall", 8.00},
		entry{"remove tiles", 12.00},
		entry{"install 50mm pipe", 25.50},
	)

	out, err := e.RunMatch(context.Background(), wf, ref, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != len(wf) {
		t.Fatalf("results = %d, want %d", len(out.Results), len(wf))
	}
	for i, r := range out.Results {
		if r.WFRowIndex != wf[i].RowIndex {
			t.Errorf("result %d has row index %d, want %d", i, r.WFRowIndex, wf[i].RowIndex)
		}
	}
	if got := *out.Results[0].AssignedPrice; got != 25.50 {
		t.Errorf("row 0 price = %v", got)
	}
	if got := *out.Results[1].AssignedPrice; got != 12.00 {
		t.Errorf("row 1 price = %v", got)
	}
}

func TestRunMatch_persistsSession(t *testing.T) {
	e, store := newTestEngine(t, Options{})

	wf := wfItems("install 50mm pipe")
	ref := refEntries(entry{"install 50mm pipe", 25.50})

	out, err := e.RunMatch(context.Background(), wf, ref, nil)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := store.Get(context.Background(), out.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.WFItems) != 1 || len(sess.RefItems) != 1 {
		t.Errorf("session items: %d wf, %d ref", len(sess.WFItems), len(sess.RefItems))
	}
	if sess.Matrix == nil || sess.Matrix.Rows() != 1 || sess.Matrix.Cols() != 1 {
		t.Error("session matrix missing or wrong shape")
	}
	if len(sess.Results) != 1 || sess.Results[0].Status != match.StatusMatched {
		t.Errorf("session results: %+v", sess.Results)
	}
}
