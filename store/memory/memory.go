// Package memory is an in-process record store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/use-agent/promozone/models"
)

// Store keeps records in a map keyed by dedupe key. A key is stored once;
// later appends of the same key are ignored.
type Store struct {
	mu      sync.RWMutex
	records map[string]models.StoredRecord
	now     func() time.Time

	// FailAppend, when set, is returned by Append. Used to simulate outages.
	FailAppend error
	// FailLookup, when set, is returned by ExistingKeys.
	FailLookup error
}

// New creates an empty Store.
func New() *Store {
	return &Store{records: make(map[string]models.StoredRecord), now: time.Now}
}

// Name identifies the backend.
func (s *Store) Name() string { return "memory" }

// EnsureSchema is a no-op.
func (s *Store) EnsureSchema(ctx context.Context) error { return ctx.Err() }

// ExistingKeys returns the subset of keys already stored.
func (s *Store) ExistingKeys(_ context.Context, keys []string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.FailLookup != nil {
		return nil, s.FailLookup
	}
	found := make(map[string]struct{})
	for _, k := range keys {
		if _, ok := s.records[k]; ok {
			found[k] = struct{}{}
		}
	}
	return found, nil
}

// Append stores records whose key is not present yet and returns how many
// were written.
func (s *Store) Append(_ context.Context, records []models.Product) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppend != nil {
		return 0, s.FailAppend
	}
	insertedAt := s.now().UTC()
	written := 0
	for _, p := range records {
		k := p.DedupeKey()
		if _, ok := s.records[k]; ok {
			continue
		}
		s.records[k] = models.StoredRecord{Product: p, InsertedAt: insertedAt}
		written++
	}
	return written, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Recent returns records collected in the last hours, newest first.
func (s *Store) Recent(_ context.Context, hours, limit int) ([]models.StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-time.Duration(hours) * time.Hour)
	var out []models.StoredRecord
	for _, r := range s.records {
		if !r.CollectedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CollectedAt.Equal(out[j].CollectedAt) {
			return out[i].CollectedAt.After(out[j].CollectedAt)
		}
		return out[i].DedupeKey() < out[j].DedupeKey()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats summarizes the stored records.
func (s *Store) Stats(_ context.Context) (models.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats models.StoreStats
	if len(s.records) == 0 {
		return stats, nil
	}

	items := make(map[string]struct{})
	executions := make(map[string]struct{})
	sum := decimal.Zero
	var first, last time.Time
	for _, r := range s.records {
		stats.TotalProducts++
		items[r.ItemID] = struct{}{}
		executions[r.CrawlID] = struct{}{}
		sum = sum.Add(r.Price)
		if r.HasDiscount() {
			stats.ProductsOnSale++
		}
		if first.IsZero() || r.CollectedAt.Before(first) {
			first = r.CollectedAt
		}
		if r.CollectedAt.After(last) {
			last = r.CollectedAt
		}
	}
	stats.UniqueItems = int64(len(items))
	stats.TotalExecutions = int64(len(executions))
	stats.FirstCollection = &first
	stats.LastCollection = &last
	stats.AvgPrice = decimal.NewNullDecimal(sum.Div(decimal.NewFromInt(stats.TotalProducts)).Round(2))
	return stats, nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// Close is a no-op.
func (s *Store) Close() error { return nil }
