// Package source defines the connector contracts the pipeline depends on.
// Implementations wrap one provider each and normalize both payloads and
// error classification; they perform exactly one network call per Fetch and
// never retry internally.
package source

import (
	"context"
	"time"
)

// DateRange bounds a search-analytics query.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Locale selects the country/language pair for SERP lookups.
type Locale struct {
	Country  string // e.g. "us", "tw"
	Language string // e.g. "en", "zh-tw"
}

// SeedRow is one row of search-analytics history.
type SeedRow struct {
	Text        string
	Impressions float64
	Clicks      float64
	CTR         float64
	AvgPosition float64
}

// IdeaRow is one keyword idea returned by expansion, bids in micros.
// CompetitionIndex is nil when the provider omitted the numeric index;
// scoring then falls back to the categorical level.
type IdeaRow struct {
	Text             string
	MonthlyVolume    int64
	CompetitionLevel string
	CompetitionIndex *int
	BidLowMicros     int64
	BidHighMicros    int64
}

// BidUSD converts a micros bid to currency units.
func BidUSD(micros int64) float64 {
	return float64(micros) / 1_000_000
}

// SerpPayload is the raw result-page payload handed to overview
// classification. Provider names the wire shape ("serper", "serpapi",
// "html"); the pipeline never inspects Body itself.
type SerpPayload struct {
	Provider string
	Body     []byte
}

// SearchAnalytics fetches historical queries matching a text filter.
type SearchAnalytics interface {
	Fetch(ctx context.Context, dr DateRange, textFilter string) ([]SeedRow, error)
}

// KeywordExpansion generates keyword ideas from seed texts.
type KeywordExpansion interface {
	Fetch(ctx context.Context, seeds []string) ([]IdeaRow, error)
}

// SerpLookup fetches the raw result page for a single query text.
type SerpLookup interface {
	Fetch(ctx context.Context, text string, loc Locale) (*SerpPayload, error)
}
