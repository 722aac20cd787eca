// Package postgres stores report records in PostgreSQL via a pgx pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aioscope/aioscope/internal/report"
	"github.com/aioscope/aioscope/internal/storage"
)

var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS keyword_records (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	text TEXT NOT NULL,
	origin TEXT NOT NULL,
	impressions DOUBLE PRECISION NOT NULL,
	clicks DOUBLE PRECISION NOT NULL,
	ctr DOUBLE PRECISION NOT NULL,
	avg_position DOUBLE PRECISION NOT NULL,
	monthly_volume DOUBLE PRECISION NOT NULL,
	competition_level TEXT,
	competition_index DOUBLE PRECISION NOT NULL,
	bid_low_usd DOUBLE PRECISION NOT NULL,
	bid_high_usd DOUBLE PRECISION NOT NULL,
	overview_result TEXT NOT NULL,
	overview_triggered BOOLEAN NOT NULL,
	potential_score DOUBLE PRECISION NOT NULL,
	verification_error TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_keyword_records_run ON keyword_records (run_id);
`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, rec *report.Record) error {
	const query = `
	INSERT INTO keyword_records (
		id, run_id, text, origin,
		impressions, clicks, ctr, avg_position,
		monthly_volume, competition_level, competition_index,
		bid_low_usd, bid_high_usd,
		overview_result, overview_triggered, potential_score,
		verification_error, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := b.pool.Exec(ctx, query,
		rec.ID, rec.RunID, rec.Text, rec.Origin,
		rec.Impressions, rec.Clicks, rec.CTR, rec.AvgPosition,
		rec.MonthlyVolume, rec.CompetitionLevel, rec.CompetitionIndex,
		rec.BidLowUSD, rec.BidHighUSD,
		rec.OverviewResult, rec.OverviewTriggered, rec.PotentialScore,
		rec.VerificationError, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert record: %w", err)
	}
	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*report.Record, error) {
	query := `SELECT id, run_id, text, origin,
		impressions, clicks, ctr, avg_position,
		monthly_volume, competition_level, competition_index,
		bid_low_usd, bid_high_usd,
		overview_result, overview_triggered, potential_score,
		verification_error, created_at
	FROM keyword_records WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, paramCount)
		args = append(args, filter.RunID)
		paramCount++
	}
	if filter.Triggered != nil {
		query += fmt.Sprintf(` AND overview_triggered = $%d`, paramCount)
		args = append(args, *filter.Triggered)
		paramCount++
	}
	if filter.MinScore > 0 {
		query += fmt.Sprintf(` AND potential_score >= $%d`, paramCount)
		args = append(args, filter.MinScore)
		paramCount++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, paramCount)
		args = append(args, *filter.Since)
		paramCount++
	}

	query += ` ORDER BY created_at DESC, potential_score DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, paramCount)
		args = append(args, filter.Offset)
		paramCount++
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query records: %w", err)
	}
	defer rows.Close()

	var results []*report.Record
	for rows.Next() {
		var r report.Record
		err := rows.Scan(
			&r.ID, &r.RunID, &r.Text, &r.Origin,
			&r.Impressions, &r.Clicks, &r.CTR, &r.AvgPosition,
			&r.MonthlyVolume, &r.CompetitionLevel, &r.CompetitionIndex,
			&r.BidLowUSD, &r.BidHighUSD,
			&r.OverviewResult, &r.OverviewTriggered, &r.PotentialScore,
			&r.VerificationError, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("storage: scan record: %w", err)
		}
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate records: %w", err)
	}

	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
