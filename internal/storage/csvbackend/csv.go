// Package csvbackend stores report records in an append-only CSV file.
package csvbackend

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/aioscope/aioscope/internal/report"
	"github.com/aioscope/aioscope/internal/storage"
)

var _ storage.Backend = (*csvBackend)(nil)

type csvBackend struct {
	mu   sync.Mutex
	file *os.File
}

// headers defines the CSV column order
var headers = []string{
	"id",
	"run_id",
	"text",
	"origin",
	"impressions",
	"clicks",
	"ctr",
	"avg_position",
	"monthly_volume",
	"competition_level",
	"competition_index",
	"bid_low_usd",
	"bid_high_usd",
	"overview_result",
	"overview_triggered",
	"potential_score",
	"verification_error",
	"created_at",
}

// New creates a new CSV-backed storage.Backend, appending to filePath.
func New(filePath string) (storage.Backend, error) {
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("storage: open csv: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: stat csv: %w", err)
	}

	if info.Size() == 0 {
		w := csv.NewWriter(f)
		if err := w.Write(headers); err != nil {
			f.Close()
			return nil, fmt.Errorf("storage: write csv header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("storage: write csv header: %w", err)
		}
	}

	return &csvBackend{file: f}, nil
}

func (b *csvBackend) Save(ctx context.Context, rec *report.Record) error {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	row := []string{
		rec.ID,
		rec.RunID,
		rec.Text,
		rec.Origin,
		f(rec.Impressions),
		f(rec.Clicks),
		f(rec.CTR),
		f(rec.AvgPosition),
		f(rec.MonthlyVolume),
		rec.CompetitionLevel,
		f(rec.CompetitionIndex),
		f(rec.BidLowUSD),
		f(rec.BidHighUSD),
		rec.OverviewResult,
		strconv.FormatBool(rec.OverviewTriggered),
		f(rec.PotentialScore),
		rec.VerificationError,
		rec.CreatedAt.Format(time.RFC3339Nano),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("storage: seek csv: %w", err)
	}

	w := csv.NewWriter(b.file)
	if err := w.Write(row); err != nil {
		return fmt.Errorf("storage: write csv row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("storage: write csv row: %w", err)
	}
	return nil
}

func (b *csvBackend) Query(ctx context.Context, filter storage.Filter) ([]*report.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("storage: seek csv: %w", err)
	}
	defer func() {
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	r := csv.NewReader(b.file)

	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return []*report.Record{}, nil
		}
		return nil, fmt.Errorf("storage: read csv header: %w", err)
	}

	var matched []*report.Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("storage: read csv row: %w", err)
		}
		if len(row) != len(headers) {
			continue // skip malformed rows
		}

		rec := decodeRow(row)
		if !filter.Match(rec) {
			continue
		}
		matched = append(matched, rec)
	}

	// Rows append in creation order; reverse for created_at DESC.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	return filter.Page(matched), nil
}

func decodeRow(row []string) *report.Record {
	p := func(s string) float64 {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	triggered, _ := strconv.ParseBool(row[14])
	createdAt, _ := time.Parse(time.RFC3339Nano, row[17])

	return &report.Record{
		ID:                row[0],
		RunID:             row[1],
		Text:              row[2],
		Origin:            row[3],
		Impressions:       p(row[4]),
		Clicks:            p(row[5]),
		CTR:               p(row[6]),
		AvgPosition:       p(row[7]),
		MonthlyVolume:     p(row[8]),
		CompetitionLevel:  row[9],
		CompetitionIndex:  p(row[10]),
		BidLowUSD:         p(row[11]),
		BidHighUSD:        p(row[12]),
		OverviewResult:    row[13],
		OverviewTriggered: triggered,
		PotentialScore:    p(row[15]),
		VerificationError: row[16],
		CreatedAt:         createdAt,
	}
}

func (b *csvBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}
