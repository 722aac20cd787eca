// Package report turns an annotated query batch into persistent records and
// human-readable summaries.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aioscope/aioscope/internal/keyword"
)

// Record is one report row, the unit handed to storage backends.
type Record struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`

	Text   string `json:"text"`
	Origin string `json:"origin"`

	// Search analytics metrics, zero for expanded-origin rows.
	Impressions float64 `json:"impressions"`
	Clicks      float64 `json:"clicks"`
	CTR         float64 `json:"ctr"`
	AvgPosition float64 `json:"avg_position"`

	// Expansion metrics.
	MonthlyVolume    float64 `json:"monthly_volume"`
	CompetitionLevel string  `json:"competition_level"`
	CompetitionIndex float64 `json:"competition_index"`
	BidLowUSD        float64 `json:"bid_low_usd"`
	BidHighUSD       float64 `json:"bid_high_usd"`

	OverviewResult    string `json:"overview_result"`
	OverviewTriggered bool   `json:"overview_triggered"`

	PotentialScore    float64 `json:"potential_score"`
	VerificationError string  `json:"verification_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Weights control the potential score blend. They should sum to 1 but are
// used as given.
type Weights struct {
	Volume      float64 `json:"volume" yaml:"volume"`
	Competition float64 `json:"competition" yaml:"competition"`
	Overview    float64 `json:"overview" yaml:"overview"`
}

func DefaultWeights() Weights {
	return Weights{Volume: 0.5, Competition: 0.3, Overview: 0.2}
}

// volumeSaturation flattens the volume term so a single high-volume keyword
// cannot drown out competition and overview signals.
const volumeSaturation = 1000

// competitionIndexFor maps a categorical competition bucket onto the 0-100
// index scale, used when the provider omitted the numeric index.
func competitionIndexFor(level string) float64 {
	switch level {
	case "LOW":
		return 25
	case "MEDIUM":
		return 50
	case "HIGH":
		return 100
	default:
		return 50
	}
}

// Score computes the potential score for one annotated query. Queries whose
// verification never produced a definite answer score zero: an opportunity we
// could not confirm is not an opportunity.
func Score(q *keyword.Query, w Weights) float64 {
	if q.Overview == keyword.OverviewUnknown || q.VerificationErr != nil {
		return 0
	}

	volume := q.Metric(keyword.MetricMonthlyVolume)
	volumeTerm := volume / (volume + volumeSaturation)

	index, ok := q.ExpansionMetrics[keyword.MetricCompetitionIndex]
	if !ok {
		index = competitionIndexFor(q.CompetitionLevel)
	}
	competitionTerm := 1 - index/100

	var overviewTerm float64
	if q.Overview == keyword.OverviewTriggered {
		overviewTerm = 1
	}

	score := w.Volume*volumeTerm + w.Competition*competitionTerm + w.Overview*overviewTerm
	return math.Round(score*10000) / 10000
}

// recordIDSpace is the namespace for name-based row IDs.
var recordIDSpace = uuid.MustParse("5e86d8a1-3c4f-4b7a-9f5d-2c6a1e9b0d43")

// recordID derives the row ID from run and text, so assembling the same
// batch twice yields identical rows.
func recordID(runID, text string) string {
	return uuid.NewSHA1(recordIDSpace, []byte(runID+"\n"+text)).String()
}

// Assemble builds report rows for every expanded query in the batch, sorted
// by score descending with text as the tiebreaker. Queries that never made it
// through expansion carry no plannable metrics and are left to the failure
// ledger. Assembly is deterministic: two calls over the same annotated batch
// produce identical output.
func Assemble(runID string, queries []*keyword.Query, w Weights, createdAt time.Time) []*Record {
	records := make([]*Record, 0, len(queries))
	for _, q := range queries {
		if !q.Expanded() {
			continue
		}

		r := &Record{
			ID:    recordID(runID, q.Text),
			RunID: runID,

			Text:   q.Text,
			Origin: q.Origin.String(),

			Impressions: q.SourceMetrics[keyword.MetricImpressions],
			Clicks:      q.SourceMetrics[keyword.MetricClicks],
			CTR:         q.SourceMetrics[keyword.MetricCTR],
			AvgPosition: q.SourceMetrics[keyword.MetricAvgPosition],

			MonthlyVolume:    q.ExpansionMetrics[keyword.MetricMonthlyVolume],
			CompetitionLevel: q.CompetitionLevel,
			CompetitionIndex: q.ExpansionMetrics[keyword.MetricCompetitionIndex],
			BidLowUSD:        q.ExpansionMetrics[keyword.MetricBidLowUSD],
			BidHighUSD:       q.ExpansionMetrics[keyword.MetricBidHighUSD],

			OverviewResult:    q.Overview.String(),
			OverviewTriggered: q.Overview == keyword.OverviewTriggered,

			PotentialScore: Score(q, w),
			CreatedAt:      createdAt,
		}
		if q.VerificationErr != nil {
			r.VerificationError = q.VerificationErr.Error()
		}
		records = append(records, r)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].PotentialScore != records[j].PotentialScore {
			return records[i].PotentialScore > records[j].PotentialScore
		}
		return records[i].Text < records[j].Text
	})
	return records
}
