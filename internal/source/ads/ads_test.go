package ads

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aioscope/aioscope/internal/source"
)

func TestFetch_ParsesIdeas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "customers/1234567890:generateKeywordIdeas") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Write([]byte(`{"results":[
			{"text":"what is ai overview","keywordIdeaMetrics":{"avgMonthlySearches":500,"competition":"LOW","competitionIndex":20,"lowTopOfPageBidMicros":250000,"highTopOfPageBidMicros":1200000}},
			{"text":"ai overview examples","keywordIdeaMetrics":{"avgMonthlySearches":90,"competition":"MEDIUM","competitionIndex":55}},
			{"text":"no metrics idea"}
		]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, CustomerID: "123-456-7890", Timeout: 2 * time.Second})

	rows, err := c.Fetch(context.Background(), []string{"what is ai overview"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].MonthlyVolume != 500 || rows[0].CompetitionLevel != "LOW" {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
	if got := source.BidUSD(rows[0].BidHighMicros); got != 1.2 {
		t.Errorf("expected high bid 1.2 USD, got %v", got)
	}
	if rows[1].CompetitionIndex == nil || *rows[1].CompetitionIndex != 55 {
		t.Errorf("unexpected second-row index: %+v", rows[1].CompetitionIndex)
	}
	if rows[2].CompetitionLevel != "UNKNOWN" {
		t.Errorf("missing metrics should map to UNKNOWN, got %q", rows[2].CompetitionLevel)
	}
	if rows[2].CompetitionIndex != nil {
		t.Errorf("omitted index must stay nil, got %d", *rows[2].CompetitionIndex)
	}
}

func TestFetch_CapsSeeds(t *testing.T) {
	var gotSeeds int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			KeywordSeed struct {
				Keywords []string `json:"keywords"`
			} `json:"keywordSeed"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotSeeds = len(req.KeywordSeed.Keywords)
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, CustomerID: "1", Timeout: 2 * time.Second})

	seeds := make([]string, 30)
	for i := range seeds {
		seeds[i] = "seed"
	}
	if _, err := c.Fetch(context.Background(), seeds); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotSeeds != 20 {
		t.Errorf("expected seeds capped at 20, got %d", gotSeeds)
	}
}

func TestFetch_NoSeeds(t *testing.T) {
	c := New(Config{BaseURL: "http://unused", CustomerID: "1"})
	rows, err := c.Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows != nil {
		t.Errorf("expected nil rows for no seeds")
	}
}

func TestFetch_ErrorTaxonomy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, CustomerID: "1", Timeout: 2 * time.Second})
	_, err := c.Fetch(context.Background(), []string{"seed"})
	if !source.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}

	var te *source.TransientError
	if !errors.As(err, &te) || te.RetryAfter != 7*time.Second {
		t.Errorf("expected Retry-After 7s, got %+v", te)
	}
}
