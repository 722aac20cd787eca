package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aioscope/aioscope/internal/report"
	"github.com/aioscope/aioscope/internal/storage"
)

func newTestBackend(t *testing.T) storage.Backend {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "records.db")
	b, err := New(dsn)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func sample(id, runID, text string, triggered bool, score float64, createdAt time.Time) *report.Record {
	result := "not_triggered"
	if triggered {
		result = "triggered"
	}
	return &report.Record{
		ID:                id,
		RunID:             runID,
		Text:              text,
		Origin:            "seed",
		MonthlyVolume:     500,
		CompetitionLevel:  "MEDIUM",
		CompetitionIndex:  55,
		OverviewResult:    result,
		OverviewTriggered: triggered,
		PotentialScore:    score,
		CreatedAt:         createdAt,
	}
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := b.Save(ctx, sample("id1", "run-1", "stored keyword", true, 0.55, now)); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := b.Query(ctx, storage.Filter{RunID: "run-1"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	r := got[0]
	if r.Text != "stored keyword" || !r.OverviewTriggered || r.PotentialScore != 0.55 {
		t.Errorf("round trip mangled record: %+v", r)
	}
	if r.CompetitionLevel != "MEDIUM" || r.CompetitionIndex != 55 {
		t.Errorf("round trip mangled metrics: %+v", r)
	}
}

func TestSQLiteBackendFilters(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	b.Save(ctx, sample("id1", "run-1", "triggered keyword", true, 0.8, now.Add(-time.Hour)))
	b.Save(ctx, sample("id2", "run-1", "quiet keyword", false, 0.2, now))
	b.Save(ctx, sample("id3", "run-2", "other run", true, 0.9, now))

	yes := true
	got, err := b.Query(ctx, storage.Filter{Triggered: &yes})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 triggered records, got %d", len(got))
	}

	got, err = b.Query(ctx, storage.Filter{RunID: "run-1", MinScore: 0.5})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "id1" {
		t.Errorf("unexpected filter result: %+v", got)
	}

	since := now.Add(-time.Minute)
	got, err = b.Query(ctx, storage.Filter{Since: &since})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 recent records, got %d", len(got))
	}
}

func TestSQLiteBackendPagination(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		rec := sample(
			string(rune('a'+i)), "run-1", "keyword", false, 0.1,
			base.Add(time.Duration(i)*time.Second),
		)
		if err := b.Save(ctx, rec); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	got, err := b.Query(ctx, storage.Filter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	// Newest first; offset 1 skips the newest.
	if got[0].ID != "d" || got[1].ID != "c" {
		t.Errorf("unexpected page: %s, %s", got[0].ID, got[1].ID)
	}
}
