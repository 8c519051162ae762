package crawler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/use-agent/promozone/models"
)

// Collection aggregates the results of every processed source, in
// submission order.
type Collection struct {
	Sources []SourceResult
	Stats   Stats
}

// Stats are the run counters of a collection.
type Stats struct {
	SourcesProcessed int
	PagesFetched     int
	TotalCollected   int
}

// Records flattens all source records, keeping source order.
func (c *Collection) Records() []models.Product {
	out := make([]models.Product, 0, c.Stats.TotalCollected)
	for _, s := range c.Sources {
		out = append(out, s.Records...)
	}
	return out
}

// SourceStats reports per-source outcomes.
func (c *Collection) SourceStats() []models.SourceStats {
	out := make([]models.SourceStats, 0, len(c.Sources))
	for _, s := range c.Sources {
		out = append(out, s.Stats())
	}
	return out
}

// Orchestrator runs a Fetcher over a list of source terms.
type Orchestrator struct {
	fetcher *Fetcher
	workers int
}

// NewOrchestrator creates an Orchestrator. workers <= 1 processes terms
// one after the other.
func NewOrchestrator(f *Fetcher, workers int) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{fetcher: f, workers: workers}
}

// NormalizeSources trims terms, drops empty ones and collapses duplicates,
// keeping the first occurrence.
func NormalizeSources(sources []string) []string {
	seen := make(map[string]struct{}, len(sources))
	out := make([]string, 0, len(sources))
	for _, s := range sources {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Collect fetches every source and aggregates the results. A failing
// source never stops the others; cancellation of ctx does.
func (o *Orchestrator) Collect(ctx context.Context, sources []string, limitPerSource, maxPagesPerSource int, delay time.Duration) *Collection {
	terms := NormalizeSources(sources)

	var results []SourceResult
	if o.workers > 1 && len(terms) > 1 {
		results = o.collectConcurrent(ctx, terms, limitPerSource, maxPagesPerSource, delay)
	} else {
		results = o.collectSequential(ctx, terms, limitPerSource, maxPagesPerSource, delay)
	}

	c := &Collection{Sources: results}
	for _, r := range results {
		c.Stats.SourcesProcessed++
		c.Stats.PagesFetched += r.Pages
		c.Stats.TotalCollected += len(r.Records)
		if r.Err != nil {
			o.fetcher.metrics.RecordSourceFailure()
		}
	}
	return c
}

func (o *Orchestrator) collectSequential(ctx context.Context, terms []string, limit, maxPages int, delay time.Duration) []SourceResult {
	results := make([]SourceResult, 0, len(terms))
	for i, term := range terms {
		if i > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				slog.Warn("collection interrupted", "remaining", len(terms)-i, "error", err)
				break
			}
		} else if ctx.Err() != nil {
			break
		}

		r := o.fetcher.FetchPaginated(ctx, term, limit, maxPages, delay)
		slog.Info("source done", "source", term, "pages", r.Pages, "records", len(r.Records), "failed", r.Err != nil)
		results = append(results, r)
	}
	return results
}

// collectConcurrent bounds the number of terms in flight and paces term
// starts with a shared limiter, one start per delay.
func (o *Orchestrator) collectConcurrent(ctx context.Context, terms []string, limit, maxPages int, delay time.Duration) []SourceResult {
	pace := rate.NewLimiter(rate.Every(delay), 1)
	slots := make([]*SourceResult, len(terms))

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, term := range terms {
		g.Go(func() error {
			if err := pace.Wait(ctx); err != nil {
				return nil
			}
			r := o.fetcher.FetchPaginated(ctx, term, limit, maxPages, delay)
			slog.Info("source done", "source", term, "pages", r.Pages, "records", len(r.Records), "failed", r.Err != nil)
			slots[i] = &r
			return nil
		})
	}
	_ = g.Wait()

	results := make([]SourceResult, 0, len(terms))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	return results
}
