// Package sqlite stores report records in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/aioscope/aioscope/internal/report"
	"github.com/aioscope/aioscope/internal/storage"
)

var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS keyword_records (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	text TEXT NOT NULL,
	origin TEXT NOT NULL,
	impressions REAL NOT NULL,
	clicks REAL NOT NULL,
	ctr REAL NOT NULL,
	avg_position REAL NOT NULL,
	monthly_volume REAL NOT NULL,
	competition_level TEXT,
	competition_index REAL NOT NULL,
	bid_low_usd REAL NOT NULL,
	bid_high_usd REAL NOT NULL,
	overview_result TEXT NOT NULL,
	overview_triggered BOOLEAN NOT NULL,
	potential_score REAL NOT NULL,
	verification_error TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_keyword_records_run ON keyword_records (run_id);
`

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, rec *report.Record) error {
	const query = `
	INSERT INTO keyword_records (
		id, run_id, text, origin,
		impressions, clicks, ctr, avg_position,
		monthly_volume, competition_level, competition_index,
		bid_low_usd, bid_high_usd,
		overview_result, overview_triggered, potential_score,
		verification_error, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := b.db.ExecContext(ctx, query,
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

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*report.Record, error) {
	query := `SELECT id, run_id, text, origin,
		impressions, clicks, ctr, avg_position,
		monthly_volume, competition_level, competition_index,
		bid_low_usd, bid_high_usd,
		overview_result, overview_triggered, potential_score,
		verification_error, created_at
	FROM keyword_records WHERE 1=1`
	args := []any{}

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Triggered != nil {
		query += ` AND overview_triggered = ?`
		args = append(args, *filter.Triggered)
	}
	if filter.MinScore > 0 {
		query += ` AND potential_score >= ?`
		args = append(args, filter.MinScore)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}

	query += ` ORDER BY created_at DESC, potential_score DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
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

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
