package pipeline

import "time"

// Stage names, stable identifiers used in logs, metrics, and results.
const (
	StageSeedExtraction = "seed_extraction"
	StageExpansion      = "keyword_expansion"
	StageVerification   = "overview_verification"
	StageAggregation    = "report_aggregation"
)

// Failure is one ledger entry: the query or seed text that failed and the
// classified error it failed with.
type Failure struct {
	Text string
	Err  error
}

// StageResult is the per-stage accounting block. Attempted always equals
// Succeeded + Failed + Skipped; Skipped covers work abandoned before dispatch
// (cancellation, validation rejects), never network failures.
type StageResult struct {
	Stage     string
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
	Failures  []Failure
	Duration  time.Duration
}
