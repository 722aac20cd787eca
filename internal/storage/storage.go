// Package storage persists report records across runs and serves filtered
// reads back. Backends share one contract so the sink is swappable per
// deployment: flat files for one-off audits, a database for scheduled runs.
package storage

import (
	"context"
	"time"

	"github.com/aioscope/aioscope/internal/report"
)

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	RunID     string
	Triggered *bool
	MinScore  float64
	Since     *time.Time
	Limit     int
	Offset    int
}

// Backend defines the interface for storing and querying report records.
// Query returns records ordered by creation time descending.
type Backend interface {
	Save(ctx context.Context, rec *report.Record) error
	Query(ctx context.Context, filter Filter) ([]*report.Record, error)
	Close() error
}

// Match reports whether a record passes the filter's row constraints.
// Backends without query pushdown use it for client-side filtering.
func (f Filter) Match(r *report.Record) bool {
	if f.RunID != "" && r.RunID != f.RunID {
		return false
	}
	if f.Triggered != nil && r.OverviewTriggered != *f.Triggered {
		return false
	}
	if f.MinScore > 0 && r.PotentialScore < f.MinScore {
		return false
	}
	if f.Since != nil && r.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Page applies offset and limit to an already-filtered, already-ordered set.
func (f Filter) Page(recs []*report.Record) []*report.Record {
	if f.Offset > 0 {
		if f.Offset >= len(recs) {
			return nil
		}
		recs = recs[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(recs) {
		recs = recs[:f.Limit]
	}
	return recs
}
