package keyword

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"What Is AI Overview", "what is ai overview"},
		{"  leading and trailing  ", "leading and trailing"},
		{"tabs\tand\nnewlines", "tabs and newlines"},
		{"double  internal   spaces", "double internal spaces"},
		{"already normal", "already normal"},
		{"   ", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBatchAdd_DeduplicatesByNormalizedText(t *testing.T) {
	b := NewBatch()

	first, err := b.Add(&Query{Text: "What Is AI Overview", Origin: OriginSeed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := b.Add(&Query{Text: "  what is ai overview ", Origin: OriginExpanded})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Error("normalized duplicates must collapse to one query")
	}
	if b.Len() != 1 {
		t.Errorf("expected batch length 1, got %d", b.Len())
	}
	if first.Origin != OriginSeed {
		t.Errorf("first insertion wins on origin, got %v", first.Origin)
	}
}

func TestBatchAdd_MergesMetrics(t *testing.T) {
	b := NewBatch()

	if _, err := b.Add(&Query{
		Text:          "keyword",
		SourceMetrics: map[string]float64{MetricImpressions: 100, MetricClicks: 5},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q, err := b.Add(&Query{
		Text:             "keyword",
		SourceMetrics:    map[string]float64{MetricClicks: 9},
		ExpansionMetrics: map[string]float64{MetricMonthlyVolume: 500},
		CompetitionLevel: "LOW",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if q.SourceMetrics[MetricImpressions] != 100 {
		t.Errorf("merge must keep metrics absent from the newer query")
	}
	if q.SourceMetrics[MetricClicks] != 9 {
		t.Errorf("merge is last-write-wins, clicks = %v", q.SourceMetrics[MetricClicks])
	}
	if !q.Expanded() || q.ExpansionMetrics[MetricMonthlyVolume] != 500 {
		t.Errorf("expansion metrics must merge in, got %+v", q.ExpansionMetrics)
	}
	if q.CompetitionLevel != "LOW" {
		t.Errorf("competition level must merge in, got %q", q.CompetitionLevel)
	}
}

func TestBatchAdd_RejectsEmptyText(t *testing.T) {
	b := NewBatch()

	_, err := b.Add(&Query{Text: "   \t  "})
	if err == nil {
		t.Fatal("expected validation error for whitespace-only text")
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if b.Len() != 0 {
		t.Errorf("rejected query must not enter the batch")
	}
}

func TestBatchSeeds(t *testing.T) {
	b := NewBatch()
	b.Add(&Query{Text: "seed one", Origin: OriginSeed})
	b.Add(&Query{Text: "expanded one", Origin: OriginExpanded})
	b.Add(&Query{Text: "seed two", Origin: OriginSeed})

	seeds := b.Seeds()
	if len(seeds) != 2 || seeds[0] != "seed one" || seeds[1] != "seed two" {
		t.Errorf("unexpected seeds %v", seeds)
	}
}

func TestBatchGet_NormalizesLookup(t *testing.T) {
	b := NewBatch()
	b.Add(&Query{Text: "ai overview examples"})

	if q := b.Get("  AI Overview   Examples "); q == nil {
		t.Error("lookup must normalize before matching")
	}
	if q := b.Get("missing"); q != nil {
		t.Error("expected nil for absent text")
	}
}

func TestQueryMetric_FallsBackToSource(t *testing.T) {
	q := &Query{
		SourceMetrics:    map[string]float64{MetricImpressions: 40, MetricClicks: 2},
		ExpansionMetrics: map[string]float64{MetricMonthlyVolume: 900},
	}

	if got := q.Metric(MetricMonthlyVolume); got != 900 {
		t.Errorf("expansion metric wins, got %v", got)
	}
	if got := q.Metric(MetricImpressions); got != 40 {
		t.Errorf("fallback to source metric, got %v", got)
	}
	if got := q.Metric("absent"); got != 0 {
		t.Errorf("absent metric reads zero, got %v", got)
	}
}

func TestOverviewResultString(t *testing.T) {
	if OverviewTriggered.String() != "triggered" ||
		OverviewNotTriggered.String() != "not_triggered" ||
		OverviewUnknown.String() != "unknown" {
		t.Error("unexpected OverviewResult string forms")
	}
}
