package jsonbackend

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aioscope/aioscope/internal/report"
	"github.com/aioscope/aioscope/internal/storage"
)

func sample(id, runID, text string, score float64, createdAt time.Time) *report.Record {
	return &report.Record{
		ID:             id,
		RunID:          runID,
		Text:           text,
		Origin:         "expanded",
		MonthlyVolume:  250,
		OverviewResult: "triggered",
		PotentialScore: score,
		CreatedAt:      createdAt,
	}
}

func TestJSONBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.ndjson")
	b, err := New(path)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	if err := b.Save(ctx, sample("id1", "run-1", "first keyword", 0.5, now)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := b.Save(ctx, sample("id2", "run-1", "second keyword", 0.3, now.Add(time.Second))); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := b.Query(ctx, storage.Filter{RunID: "run-1"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].ID != "id2" {
		t.Errorf("expected newest first, got %s", got[0].ID)
	}
	if got[1].Text != "first keyword" || got[1].MonthlyVolume != 250 {
		t.Errorf("round trip mangled record: %+v", got[1])
	}
}

func TestJSONBackendOneRecordPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.ndjson")
	b, err := New(path)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}

	ctx := context.Background()
	b.Save(ctx, sample("id1", "run-1", "one", 0.1, time.Now()))
	b.Save(ctx, sample("id2", "run-1", "two", 0.2, time.Now()))
	b.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 lines, got %d", len(lines))
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
			t.Errorf("line is not a JSON object: %s", line)
		}
	}
}

func TestJSONBackendSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.ndjson")
	if err := os.WriteFile(path, []byte("not json at all\n"), 0644); err != nil {
		t.Fatalf("seed file failed: %v", err)
	}

	b, err := New(path)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	if err := b.Save(ctx, sample("id1", "run-1", "good record", 0.4, time.Now())); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := b.Query(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "id1" {
		t.Errorf("expected only the valid record, got %+v", got)
	}
}
