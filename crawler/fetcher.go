// Package crawler drives paginated search collection across source terms.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/promozone/engine"
	"github.com/use-agent/promozone/extractor"
	"github.com/use-agent/promozone/metrics"
	"github.com/use-agent/promozone/models"
)

// DefaultPageSize is the number of results the marketplace renders per page.
const DefaultPageSize = 50

// SourceResult is what one search term produced.
type SourceResult struct {
	Source  string
	Records []models.Product
	Pages   int

	// Err is set when the term stopped early on a fetch failure or
	// cancellation. Records still holds what was collected before it.
	Err error
}

// Stats converts the result into its reported form.
func (r SourceResult) Stats() models.SourceStats {
	s := models.SourceStats{Source: r.Source, Pages: r.Pages, Records: len(r.Records)}
	if r.Err != nil {
		s.Error = r.Err.Error()
	}
	return s
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	BaseURL  string
	PageSize int // default: 50
	Metrics  *metrics.Metrics
}

// Fetcher walks the result pages of one search term.
type Fetcher struct {
	engine    engine.Engine
	extractor *extractor.Extractor
	baseURL   string
	pageSize  int
	metrics   *metrics.Metrics
}

// NewFetcher creates a Fetcher. eng is expected to already carry a retry policy.
func NewFetcher(eng engine.Engine, ex *extractor.Extractor, opts FetcherOptions) *Fetcher {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &Fetcher{
		engine:    eng,
		extractor: ex,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		pageSize:  opts.PageSize,
		metrics:   opts.Metrics,
	}
}

// PageURL returns the address of a search results page. Pages are 1-based.
func PageURL(baseURL, term string, page, pageSize int) string {
	slug := url.PathEscape(strings.ReplaceAll(strings.TrimSpace(term), " ", "-"))
	u := strings.TrimRight(baseURL, "/") + "/" + slug
	if page > 1 {
		offset := (page - 1) * pageSize
		u += "_Desde_" + strconv.Itoa(offset+1)
	}
	return u
}

// FetchPaginated collects up to limit records for term over at most
// maxPages pages, waiting delay between pages.
//
// After each page the walk stops when the page had no records, the limit
// was reached (the excess is dropped), the page was shorter than half a
// full page, or maxPages was reached.
func (f *Fetcher) FetchPaginated(ctx context.Context, term string, limit, maxPages int, delay time.Duration) SourceResult {
	result := SourceResult{Source: term}
	log := slog.With("source", term, "crawl_id", f.extractor.CrawlID())

	for page := 1; page <= maxPages; page++ {
		pageURL := PageURL(f.baseURL, term, page, f.pageSize)

		start := time.Now()
		res, err := f.engine.Fetch(ctx, &engine.FetchRequest{URL: pageURL})
		f.metrics.RecordPage(err == nil, time.Since(start))
		if err != nil {
			result.Err = fmt.Errorf("fetch %q page %d: %w", term, page, err)
			log.Error("page fetch failed", "page", page, "url", pageURL, "error", err)
			f.metrics.RecordExtracted(len(result.Records))
			return result
		}
		result.Pages++
		if res.FinalURL != "" && res.FinalURL != pageURL {
			log.Warn("page redirected", "page", page, "url", pageURL, "final_url", res.FinalURL)
		}

		records := f.extractor.Extract(res.HTML, term)
		log.Info("page fetched", "page", page, "records", len(records))
		if len(records) == 0 {
			// A titled page with no items is usually a block or captcha page.
			log.Info("page returned no records", "page", page, "title", res.Title)
			break
		}

		result.Records = append(result.Records, records...)
		if len(result.Records) >= limit {
			result.Records = result.Records[:limit]
			break
		}
		if len(records) < f.pageSize/2 {
			break
		}
		if page == maxPages {
			break
		}
		if err := sleepCtx(ctx, delay); err != nil {
			result.Err = err
			break
		}
	}

	f.metrics.RecordExtracted(len(result.Records))
	return result
}

// FetchURL collects the records of a single, already built listing URL.
// Errors are logged and yield an empty slice.
func (f *Fetcher) FetchURL(ctx context.Context, pageURL, sourceName string) []models.Product {
	if sourceName == "" {
		sourceName = "custom"
	}
	start := time.Now()
	res, err := f.engine.Fetch(ctx, &engine.FetchRequest{URL: pageURL})
	f.metrics.RecordPage(err == nil, time.Since(start))
	if err != nil {
		slog.Error("direct url fetch failed", "url", pageURL, "source", sourceName, "error", err)
		return []models.Product{}
	}
	records := f.extractor.Extract(res.HTML, sourceName)
	f.metrics.RecordExtracted(len(records))
	slog.Info("direct url fetched", "url", pageURL, "source", sourceName, "records", len(records))
	return records
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
