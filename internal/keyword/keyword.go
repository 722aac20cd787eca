package keyword

import (
	"fmt"
	"strings"
)

// Origin records where a query entered the batch.
type Origin int

const (
	OriginSeed Origin = iota
	OriginExpanded
)

func (o Origin) String() string {
	switch o {
	case OriginSeed:
		return "seed"
	case OriginExpanded:
		return "expanded"
	default:
		return "unknown"
	}
}

// OverviewResult is the tri-state outcome of SERP verification.
type OverviewResult int

const (
	OverviewUnknown OverviewResult = iota
	OverviewTriggered
	OverviewNotTriggered
)

func (r OverviewResult) String() string {
	switch r {
	case OverviewTriggered:
		return "triggered"
	case OverviewNotTriggered:
		return "not_triggered"
	default:
		return "unknown"
	}
}

// Metric names used in the per-query metric maps.
const (
	MetricImpressions      = "impressions"
	MetricClicks           = "clicks"
	MetricCTR              = "ctr"
	MetricAvgPosition      = "avg_position"
	MetricMonthlyVolume    = "monthly_volume"
	MetricCompetitionIndex = "competition_index"
	MetricBidLowUSD        = "bid_low_usd"
	MetricBidHighUSD       = "bid_high_usd"
)

// Query is the unit of work flowing through the pipeline. Stages annotate it
// in place; the text is fixed once the query joins a batch.
type Query struct {
	Text   string
	Origin Origin

	// SourceMetrics is populated for seed-origin queries from search analytics.
	SourceMetrics map[string]float64

	// ExpansionMetrics is populated by keyword expansion. A nil map means the
	// query never made it through expansion.
	ExpansionMetrics map[string]float64

	// CompetitionLevel is the provider's categorical competition bucket
	// (LOW, MEDIUM, HIGH, UNKNOWN), kept alongside the numeric index.
	CompetitionLevel string

	Overview        OverviewResult
	VerificationErr error
}

// Expanded reports whether expansion metrics have been recorded.
func (q *Query) Expanded() bool {
	return q.ExpansionMetrics != nil
}

// Metric returns the named expansion metric, falling back to source metrics.
func (q *Query) Metric(name string) float64 {
	if v, ok := q.ExpansionMetrics[name]; ok {
		return v
	}
	return q.SourceMetrics[name]
}

// Normalize lowercases, trims, and collapses internal whitespace. It is the
// identity key for uniqueness within a batch.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// ValidationError marks a query that failed normalization checks before any
// dispatch. It is bookkeeping, not a connector failure.
type ValidationError struct {
	Text   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid query %q: %s", e.Text, e.Reason)
}

// Batch is an ordered set of queries, unique by normalized text. It is owned
// by the orchestrator for the duration of a run; stages receive a borrowed
// reference and must not alter its shape while workers are in flight.
type Batch struct {
	queries []*Query
	index   map[string]*Query
}

func NewBatch() *Batch {
	return &Batch{index: make(map[string]*Query)}
}

// Add normalizes the text and inserts a new query, or returns the existing
// one when the normalized text is already present. Duplicates collapse; an
// explicit re-add merges metrics with last-write-wins semantics.
// Empty text after normalization is rejected with a ValidationError.
func (b *Batch) Add(q *Query) (*Query, error) {
	text := Normalize(q.Text)
	if text == "" {
		return nil, &ValidationError{Text: q.Text, Reason: "empty after normalization"}
	}

	if existing, ok := b.index[text]; ok {
		mergeMetrics(existing, q)
		return existing, nil
	}

	q.Text = text
	b.queries = append(b.queries, q)
	b.index[text] = q
	return q, nil
}

// Get returns the query for the given (raw) text, or nil.
func (b *Batch) Get(text string) *Query {
	return b.index[Normalize(text)]
}

// Queries returns the batch contents in insertion order. The slice header is
// shared; callers mutate individual queries, never the collection.
func (b *Batch) Queries() []*Query {
	return b.queries
}

func (b *Batch) Len() int {
	return len(b.queries)
}

// Seeds returns the texts of all seed-origin queries in insertion order.
func (b *Batch) Seeds() []string {
	var seeds []string
	for _, q := range b.queries {
		if q.Origin == OriginSeed {
			seeds = append(seeds, q.Text)
		}
	}
	return seeds
}

func mergeMetrics(dst, src *Query) {
	if src.SourceMetrics != nil {
		if dst.SourceMetrics == nil {
			dst.SourceMetrics = make(map[string]float64, len(src.SourceMetrics))
		}
		for k, v := range src.SourceMetrics {
			dst.SourceMetrics[k] = v
		}
	}
	if src.ExpansionMetrics != nil {
		if dst.ExpansionMetrics == nil {
			dst.ExpansionMetrics = make(map[string]float64, len(src.ExpansionMetrics))
		}
		for k, v := range src.ExpansionMetrics {
			dst.ExpansionMetrics[k] = v
		}
	}
	if src.CompetitionLevel != "" {
		dst.CompetitionLevel = src.CompetitionLevel
	}
	if src.Overview != OverviewUnknown {
		dst.Overview = src.Overview
	}
}
