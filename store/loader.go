package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/promozone/dedup"
	"github.com/use-agent/promozone/metrics"
	"github.com/use-agent/promozone/models"
)

// InsertResult counts the outcome of one batch load.
type InsertResult struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

// Loader runs candidates through the dedup gate and appends the survivors.
type Loader struct {
	store   Store
	metrics *metrics.Metrics
}

// NewLoader creates a Loader over s. m may be nil.
func NewLoader(s Store, m *metrics.Metrics) *Loader {
	return &Loader{store: s, metrics: m}
}

// InsertBatch loads records that are not stored yet.
//
// A schema failure is returned as an error. A failed append is reported as
// one error in the result with nothing inserted, and a nil error.
func (l *Loader) InsertBatch(ctx context.Context, records []models.Product) (InsertResult, error) {
	if len(records) == 0 {
		return InsertResult{}, nil
	}
	start := time.Now()

	if err := l.store.EnsureSchema(ctx); err != nil {
		return InsertResult{}, fmt.Errorf("ensure schema: %w", err)
	}

	fresh, duplicates := dedup.FilterNew(ctx, records, l.store)
	if len(fresh) == 0 {
		slog.Info("all records already stored", "duplicates", duplicates)
		res := InsertResult{Duplicates: duplicates}
		l.metrics.RecordInsert(0, duplicates, 0, time.Since(start))
		return res, nil
	}

	written, err := l.store.Append(ctx, fresh)
	if err != nil {
		slog.Error("bulk append failed", "backend", l.store.Name(), "records", len(fresh), "error", err)
		res := InsertResult{Duplicates: duplicates, Errors: 1}
		l.metrics.RecordInsert(0, duplicates, 1, time.Since(start))
		return res, nil
	}

	// Keys another writer stored between the check and the append.
	if rejected := len(fresh) - written; rejected > 0 {
		duplicates += rejected
	}

	res := InsertResult{Inserted: written, Duplicates: duplicates}
	l.metrics.RecordInsert(res.Inserted, res.Duplicates, 0, time.Since(start))
	slog.Info("batch loaded", "backend", l.store.Name(), "inserted", res.Inserted, "duplicates", res.Duplicates)
	return res, nil
}
