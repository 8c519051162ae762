// Package collector wires one collection run: crawl every source, then
// load the records.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/promozone/config"
	"github.com/use-agent/promozone/crawler"
	"github.com/use-agent/promozone/engine"
	"github.com/use-agent/promozone/extractor"
	"github.com/use-agent/promozone/metrics"
	"github.com/use-agent/promozone/models"
	"github.com/use-agent/promozone/runs"
	"github.com/use-agent/promozone/store"
)

// Params describes one collection.
type Params struct {
	CrawlID        string
	Sources        []string
	LimitPerSource int
	MaxPages       int
	Delay          time.Duration
	Persist        bool
}

// Outcome is the result of Execute.
type Outcome struct {
	Collection *crawler.Collection
	Insert     *store.InsertResult
}

// Service builds per-run pipelines around a shared fetch engine.
type Service struct {
	engine  engine.Engine
	loader  *store.Loader
	cfg     config.CrawlerConfig
	metrics *metrics.Metrics
}

// New creates a Service. loader may be nil when no store is configured;
// persisting runs then fail.
func New(eng engine.Engine, loader *store.Loader, cfg config.CrawlerConfig, m *metrics.Metrics) *Service {
	return &Service{engine: eng, loader: loader, cfg: cfg, metrics: m}
}

// NewEngine builds the retrying HTTP engine described by cfg.
func NewEngine(cfg config.CrawlerConfig, m *metrics.Metrics) engine.Engine {
	base := engine.NewHTTPEngine(engine.HTTPOptions{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.RequestTimeout,
	})
	r := engine.NewRetrying(base, engine.RetryPolicy{
		Attempts: cfg.MaxRetries,
		Floor:    cfg.RetryMin,
		Ceiling:  cfg.RetryMax,
	})
	r.OnRetry = func(url string, attempt int, err error) {
		m.RecordRetry()
		slog.Warn("page fetch retry", "url", url, "attempt", attempt, "error", err)
	}
	return r
}

// Fetcher returns a fetcher whose records carry crawlID.
func (s *Service) Fetcher(crawlID string) *crawler.Fetcher {
	ex := extractor.New(extractor.Options{
		BaseURL:      s.cfg.BaseURL,
		Marketplace:  s.cfg.Marketplace,
		Currency:     s.cfg.Currency,
		ItemIDPrefix: s.cfg.ItemIDPrefix,
		CrawlID:      crawlID,
	})
	return crawler.NewFetcher(s.engine, ex, crawler.FetcherOptions{
		BaseURL:  s.cfg.BaseURL,
		PageSize: s.cfg.PageSize,
		Metrics:  s.metrics,
	})
}

// Execute crawls p.Sources and, when p.Persist is set, loads the records.
func (s *Service) Execute(ctx context.Context, p Params) (*Outcome, error) {
	if p.Persist && s.loader == nil {
		return nil, models.NewAPIError(models.ErrCodeStoreUnavailable, "no warehouse configured", store.ErrNotConfigured)
	}

	orch := crawler.NewOrchestrator(s.Fetcher(p.CrawlID), s.cfg.Workers)
	coll := orch.Collect(ctx, p.Sources, p.LimitPerSource, p.MaxPages, p.Delay)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Outcome{Collection: coll}
	if !p.Persist {
		return out, nil
	}

	res, err := s.loader.InsertBatch(ctx, coll.Records())
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	out.Insert = &res
	return out, nil
}

// FetchURL extracts the products of a single page. Failures yield no
// records.
func (s *Service) FetchURL(ctx context.Context, crawlID, pageURL, sourceName string) []models.Product {
	return s.Fetcher(crawlID).FetchURL(ctx, pageURL, sourceName)
}

// Run implements runs.Runner.
func (s *Service) Run(ctx context.Context, job runs.Job) (runs.Outcome, error) {
	req := job.Request
	out, err := s.Execute(ctx, Params{
		CrawlID:        job.CrawlID,
		Sources:        req.Sources,
		LimitPerSource: req.LimitPerSource,
		MaxPages:       req.MaxPagesPerSource,
		Delay:          time.Duration(req.DelayBetweenRequests * float64(time.Second)),
		Persist:        req.ShouldPersist(),
	})
	if err != nil {
		return runs.Outcome{}, err
	}

	ro := runs.Outcome{
		SourceStats:      out.Collection.SourceStats(),
		SourcesProcessed: out.Collection.Stats.SourcesProcessed,
		PagesFetched:     out.Collection.Stats.PagesFetched,
		TotalCollected:   out.Collection.Stats.TotalCollected,
	}
	if out.Insert != nil {
		ro.Insert = &runs.InsertCounts{
			Inserted:   out.Insert.Inserted,
			Duplicates: out.Insert.Duplicates,
			Errors:     out.Insert.Errors,
		}
	}
	return ro, nil
}

var _ runs.Runner = (*Service)(nil)
