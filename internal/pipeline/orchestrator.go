// Package pipeline orchestrates the enrichment run: seed extraction from
// search analytics, keyword expansion, per-keyword overview verification, and
// report aggregation. Stages run in order; within verification, workers fan
// out under a shared rate limiter.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aioscope/aioscope/internal/keyword"
	"github.com/aioscope/aioscope/internal/metrics"
	"github.com/aioscope/aioscope/internal/overview"
	"github.com/aioscope/aioscope/internal/report"
	"github.com/aioscope/aioscope/internal/source"
	"github.com/aioscope/aioscope/pkg/ratelimit"
)

// RecordSink receives assembled report rows. Satisfied by storage backends.
type RecordSink interface {
	Save(ctx context.Context, rec *report.Record) error
}

// Config assembles an Orchestrator. Analytics, Expansion, and Serp are
// required and RateLimitRPS and MaxConcurrency must be positive; everything
// else has working defaults.
type Config struct {
	Analytics source.SearchAnalytics
	Expansion source.KeywordExpansion
	Serp      source.SerpLookup

	DateRange  source.DateRange
	SeedFilter string // regex forwarded to the analytics source
	Locale     source.Locale
	Window     int // organic positions scanned for the overview block
	Weights    report.Weights

	Retry           RetryPolicy
	RateLimitRPS    float64
	MaxConcurrency  int64
	LimiterJitter   float64
	PerQueryTimeout time.Duration
	RunTimeout      time.Duration

	Sink   RecordSink // optional persistence
	Logger *slog.Logger
}

// RunResult is the complete outcome of one enrichment run.
type RunResult struct {
	RunID   string
	Stages  []StageResult
	Records []*report.Record
	Summary report.Summary
}

// Orchestrator executes enrichment runs. Construct with New; the zero value
// is not usable.
type Orchestrator struct {
	cfg    Config
	retry  RetryPolicy
	seedRE *regexp.Regexp
	logger *slog.Logger
}

// New validates the configuration and returns a ready orchestrator.
// Misconfiguration is fatal here, never mid-run.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Analytics == nil {
		return nil, errors.New("pipeline: analytics source is required")
	}
	if cfg.Expansion == nil {
		return nil, errors.New("pipeline: expansion source is required")
	}
	if cfg.Serp == nil {
		return nil, errors.New("pipeline: serp source is required")
	}
	if cfg.RateLimitRPS <= 0 {
		return nil, fmt.Errorf("pipeline: rate limit must be > 0, got %v", cfg.RateLimitRPS)
	}
	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("pipeline: max concurrency must be >= 1, got %d", cfg.MaxConcurrency)
	}
	if cfg.PerQueryTimeout <= 0 {
		cfg.PerQueryTimeout = 30 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = overview.DefaultWindow
	}
	if cfg.Weights == (report.Weights{}) {
		cfg.Weights = report.DefaultWeights()
	}
	if cfg.DateRange.Start.IsZero() {
		cfg.DateRange.End = time.Now().UTC()
		cfg.DateRange.Start = cfg.DateRange.End.AddDate(0, 0, -90)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var seedRE *regexp.Regexp
	if cfg.SeedFilter != "" {
		re, err := regexp.Compile(cfg.SeedFilter)
		if err != nil {
			return nil, fmt.Errorf("pipeline: seed filter: %w", err)
		}
		seedRE = re
	}

	return &Orchestrator{
		cfg:    cfg,
		retry:  cfg.Retry.withDefaults(),
		seedRE: seedRE,
		logger: cfg.Logger,
	}, nil
}

// Run executes one enrichment run. A seed-extraction failure aborts the run;
// later stages degrade per keyword and the run completes with a partial
// report plus a failure ledger.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	res := &RunResult{RunID: uuid.NewString()}
	logger := o.logger.With("run_id", res.RunID)
	logger.Info("run started",
		"window", o.cfg.Window,
		"rps", o.cfg.RateLimitRPS,
		"concurrency", o.cfg.MaxConcurrency)

	batch := keyword.NewBatch()

	seedStage, err := o.runSeedExtraction(ctx, logger, batch)
	res.Stages = append(res.Stages, seedStage)
	if err != nil {
		return res, fmt.Errorf("pipeline: seed extraction: %w", err)
	}

	if batch.Len() == 0 {
		logger.Info("no seeds extracted, producing empty report")
		res.Summary = report.GenerateSummary(res.RunID, nil)
		return res, nil
	}

	res.Stages = append(res.Stages, o.runExpansion(ctx, logger, batch))
	res.Stages = append(res.Stages, o.runVerification(ctx, logger, batch))

	aggStage, records, summary := o.runAggregation(ctx, logger, res.RunID, batch)
	res.Stages = append(res.Stages, aggStage)
	res.Records = records
	res.Summary = summary

	logger.Info("run finished",
		"keywords", len(records),
		"triggered", summary.OverviewTriggered,
		"failures", totalFailures(res.Stages))
	return res, nil
}

func totalFailures(stages []StageResult) int {
	var n int
	for _, s := range stages {
		n += s.Failed
	}
	return n
}

// runSeedExtraction pulls search-analytics rows and loads them into the
// batch. The fetch is one retried call; per-row validation rejects are
// skipped, not failed.
func (o *Orchestrator) runSeedExtraction(ctx context.Context, logger *slog.Logger, batch *keyword.Batch) (StageResult, error) {
	res := StageResult{Stage: StageSeedExtraction}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		metrics.StageDuration.WithLabelValues(res.Stage).Observe(res.Duration.Seconds())
	}()

	var rows []source.SeedRow
	err := o.retry.do(ctx, "analytics", func(ctx context.Context) error {
		var ferr error
		rows, ferr = o.cfg.Analytics.Fetch(ctx, o.cfg.DateRange, o.cfg.SeedFilter)
		metrics.RecordFetch("analytics", ferr)
		return ferr
	})
	if err != nil {
		return res, err
	}

	res.Attempted = len(rows)
	for _, row := range rows {
		// The filter is forwarded to the analytics API, but not every
		// deployment enforces includingRegex server-side.
		if o.seedRE != nil && !o.seedRE.MatchString(keyword.Normalize(row.Text)) {
			res.Skipped++
			continue
		}
		q := &keyword.Query{
			Text:   row.Text,
			Origin: keyword.OriginSeed,
			SourceMetrics: map[string]float64{
				keyword.MetricImpressions: row.Impressions,
				keyword.MetricClicks:      row.Clicks,
				keyword.MetricCTR:         row.CTR,
				keyword.MetricAvgPosition: row.AvgPosition,
			},
		}
		if _, err := batch.Add(q); err != nil {
			res.Skipped++
			res.Failures = append(res.Failures, Failure{Text: row.Text, Err: err})
			continue
		}
		res.Succeeded++
	}

	logger.Info("seeds extracted", "rows", len(rows), "unique", batch.Len(), "skipped", res.Skipped)
	return res, nil
}

// runExpansion fetches keyword ideas seed by seed so a failure attributes to
// exactly one seed. Idea rows join the batch as expanded-origin queries;
// ideas matching an existing text merge metrics into it.
func (o *Orchestrator) runExpansion(ctx context.Context, logger *slog.Logger, batch *keyword.Batch) StageResult {
	res := StageResult{Stage: StageExpansion}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		metrics.StageDuration.WithLabelValues(res.Stage).Observe(res.Duration.Seconds())
	}()

	seeds := batch.Seeds()
	res.Attempted = len(seeds)

	for i, seed := range seeds {
		if ctx.Err() != nil {
			res.Skipped = len(seeds) - i
			logger.Warn("expansion interrupted", "remaining", res.Skipped, "reason", ctx.Err())
			break
		}

		var rows []source.IdeaRow
		err := o.retry.do(ctx, "expansion", func(ctx context.Context) error {
			var ferr error
			rows, ferr = o.cfg.Expansion.Fetch(ctx, []string{seed})
			metrics.RecordFetch("expansion", ferr)
			return ferr
		})
		if err != nil {
			if ctx.Err() != nil {
				res.Skipped = len(seeds) - i
				logger.Warn("expansion interrupted", "remaining", res.Skipped, "reason", ctx.Err())
				break
			}
			res.Failed++
			res.Failures = append(res.Failures, Failure{Text: seed, Err: err})
			logger.Warn("expansion failed", "seed", seed, "error", err)
			continue
		}

		res.Succeeded++
		for _, row := range rows {
			q := &keyword.Query{
				Text:             row.Text,
				Origin:           keyword.OriginExpanded,
				ExpansionMetrics: ideaMetrics(row),
				CompetitionLevel: row.CompetitionLevel,
			}
			if _, err := batch.Add(q); err != nil {
				res.Failures = append(res.Failures, Failure{Text: row.Text, Err: err})
			}
		}
	}

	logger.Info("expansion done",
		"seeds", res.Attempted, "failed", res.Failed, "batch", batch.Len())
	return res
}

func ideaMetrics(row source.IdeaRow) map[string]float64 {
	m := map[string]float64{
		keyword.MetricMonthlyVolume: float64(row.MonthlyVolume),
		keyword.MetricBidLowUSD:     source.BidUSD(row.BidLowMicros),
		keyword.MetricBidHighUSD:    source.BidUSD(row.BidHighMicros),
	}
	// An omitted index stays omitted so scoring can fall back to the
	// categorical level.
	if row.CompetitionIndex != nil {
		m[keyword.MetricCompetitionIndex] = float64(*row.CompetitionIndex)
	}
	return m
}

// progressEvery controls how often verification logs a progress line.
const progressEvery = 25

// runVerification fans verification workers out over every expanded query.
// Each network attempt holds one limiter token; per-query failures mark the
// query and continue, cancellation drains the remaining work as skipped.
func (o *Orchestrator) runVerification(ctx context.Context, logger *slog.Logger, batch *keyword.Batch) StageResult {
	res := StageResult{Stage: StageVerification}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		metrics.StageDuration.WithLabelValues(res.Stage).Observe(res.Duration.Seconds())
	}()

	var pending []*keyword.Query
	for _, q := range batch.Queries() {
		if q.Expanded() {
			pending = append(pending, q)
		}
	}
	res.Attempted = len(pending)
	if len(pending) == 0 {
		return res
	}

	limiter, err := ratelimit.New(o.cfg.RateLimitRPS, o.cfg.MaxConcurrency, o.cfg.LimiterJitter)
	if err != nil {
		// Config validated at construction; this is unreachable in practice.
		res.Skipped = len(pending)
		res.Failures = append(res.Failures, Failure{Err: err})
		return res
	}
	defer limiter.Stop()

	var (
		mu   sync.Mutex
		done atomic.Int64
	)
	g := new(errgroup.Group)

	for _, q := range pending {
		q := q
		g.Go(func() error {
			verr := o.verifyQuery(ctx, limiter, q)

			mu.Lock()
			switch {
			case verr == nil:
				res.Succeeded++
				if q.Overview == keyword.OverviewTriggered {
					metrics.OverviewTriggersTotal.Inc()
				}
			case errors.Is(verr, context.Canceled) || ctx.Err() != nil:
				res.Skipped++
			default:
				res.Failed++
				res.Failures = append(res.Failures, Failure{Text: q.Text, Err: verr})
				q.VerificationErr = verr
			}
			mu.Unlock()

			if n := done.Add(1); n%progressEvery == 0 || n == int64(len(pending)) {
				logger.Info("verification progress", "done", n, "total", len(pending))
			}
			return nil
		})
	}
	g.Wait()

	logger.Info("verification done",
		"verified", res.Succeeded, "failed", res.Failed, "skipped", res.Skipped)
	return res
}

// verifyQuery performs one rate-limited, retried SERP lookup and classifies
// the payload in place.
func (o *Orchestrator) verifyQuery(ctx context.Context, limiter *ratelimit.Limiter, q *keyword.Query) error {
	return o.retry.do(ctx, "serp", func(ctx context.Context) error {
		if err := limiter.Acquire(ctx); err != nil {
			return err
		}
		defer limiter.Release()

		// Run cancellation gates new dispatch (the limiter Acquire and the
		// retry loop above), but a fetch that already started is allowed to
		// finish under its own timeout.
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PerQueryTimeout)
		defer cancel()

		payload, err := o.cfg.Serp.Fetch(qctx, q.Text, o.cfg.Locale)
		metrics.RecordFetch("serp", err)
		if err != nil {
			return err
		}

		triggered, _ := overview.Classify(payload, o.cfg.Window, nil)
		if triggered {
			q.Overview = keyword.OverviewTriggered
		} else {
			q.Overview = keyword.OverviewNotTriggered
		}
		return nil
	})
}

// runAggregation assembles the final rows, generates the summary, and pushes
// rows to the sink when one is configured. Persistence failures degrade per
// row; the in-memory report is authoritative either way.
func (o *Orchestrator) runAggregation(ctx context.Context, logger *slog.Logger, runID string, batch *keyword.Batch) (StageResult, []*report.Record, report.Summary) {
	res := StageResult{Stage: StageAggregation}
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		metrics.StageDuration.WithLabelValues(res.Stage).Observe(res.Duration.Seconds())
	}()

	records := report.Assemble(runID, batch.Queries(), o.cfg.Weights, time.Now().UTC())
	summary := report.GenerateSummary(runID, records)

	res.Attempted = len(records)
	if o.cfg.Sink == nil {
		res.Succeeded = len(records)
		return res, records, summary
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			res.Skipped = res.Attempted - res.Succeeded - res.Failed
			break
		}
		if err := o.cfg.Sink.Save(ctx, rec); err != nil {
			res.Failed++
			res.Failures = append(res.Failures, Failure{Text: rec.Text, Err: err})
			logger.Warn("record persistence failed", "text", rec.Text, "error", err)
			continue
		}
		res.Succeeded++
	}

	logger.Info("aggregation done", "records", len(records), "persist_failed", res.Failed)
	return res, records, summary
}
