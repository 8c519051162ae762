// Command promozone-collect runs one collection in the foreground and
// prints its summary as JSON.
//
//	promozone-collect -sources "fone bluetooth,smart tv" -pages 2
//	promozone-collect -url https://lista.example/tv_Desde_51 -source tv
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/promozone/collector"
	"github.com/use-agent/promozone/config"
	"github.com/use-agent/promozone/metrics"
	"github.com/use-agent/promozone/models"
	"github.com/use-agent/promozone/store"
)

type summary struct {
	CrawlID          string               `json:"execution_id"`
	SourcesProcessed int                  `json:"sources_processed"`
	PagesFetched     int                  `json:"pages_fetched"`
	TotalCollected   int                  `json:"total_collected"`
	Sources          []models.SourceStats `json:"sources,omitempty"`
	Insert           *store.InsertResult  `json:"insert,omitempty"`
	Products         []models.Product     `json:"products,omitempty"`
}

func main() {
	var (
		sources  = flag.String("sources", "", "comma-separated search terms")
		pageURL  = flag.String("url", "", "collect a single listing URL instead of searching")
		source   = flag.String("source", "", "source name recorded for -url (default \"custom\")")
		limit    = flag.Int("limit", 100, "records kept per source (1-500)")
		pages    = flag.Int("pages", 3, "search pages per source (1-10)")
		delay    = flag.Float64("delay", 1.5, "seconds between requests (0.5-5)")
		persist  = flag.Bool("persist", false, "load records into the configured warehouse")
		products = flag.Bool("products", false, "include the collected products in the output")
	)
	flag.Parse()

	cfg := config.Load()
	initLogger(cfg.Log)

	if err := validate(*sources, *pageURL, *limit, *pages, *delay); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New("promozone")
	var loader *store.Loader
	if *persist && *pageURL == "" {
		st, err := store.Open(ctx, cfg.Warehouse)
		if err != nil {
			slog.Error("warehouse unavailable", "error", err)
			os.Exit(1)
		}
		defer st.Close()
		loader = store.NewLoader(st, m)
	}

	svc := collector.New(collector.NewEngine(cfg.Crawler, m), loader, cfg.Crawler, m)
	crawlID := uuid.NewString()[:8]
	out := summary{CrawlID: crawlID}

	if *pageURL != "" {
		recs := svc.FetchURL(ctx, crawlID, *pageURL, *source)
		out.SourcesProcessed, out.PagesFetched, out.TotalCollected = 1, 1, len(recs)
		if *products {
			out.Products = recs
		}
		emit(out)
		return
	}

	res, err := svc.Execute(ctx, collector.Params{
		CrawlID:        crawlID,
		Sources:        strings.Split(*sources, ","),
		LimitPerSource: *limit,
		MaxPages:       *pages,
		Delay:          time.Duration(*delay * float64(time.Second)),
		Persist:        *persist,
	})
	if err != nil {
		slog.Error("collection failed", "execution_id", crawlID, "error", err)
		os.Exit(1)
	}

	out.SourcesProcessed = res.Collection.Stats.SourcesProcessed
	out.PagesFetched = res.Collection.Stats.PagesFetched
	out.TotalCollected = res.Collection.Stats.TotalCollected
	out.Sources = res.Collection.SourceStats()
	out.Insert = res.Insert
	if *products {
		out.Products = res.Collection.Records()
	}
	emit(out)
}

func validate(sources, pageURL string, limit, pages int, delay float64) error {
	switch {
	case sources == "" && pageURL == "":
		return fmt.Errorf("one of -sources or -url is required")
	case sources != "" && pageURL != "":
		return fmt.Errorf("-sources and -url are mutually exclusive")
	case limit < 1 || limit > 500:
		return fmt.Errorf("-limit must be within 1-500")
	case pages < 1 || pages > 10:
		return fmt.Errorf("-pages must be within 1-10")
	case delay < 0.5 || delay > 5:
		return fmt.Errorf("-delay must be within 0.5-5")
	}
	return nil
}

func emit(s summary) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		slog.Error("write summary", "error", err)
		os.Exit(1)
	}
}

// initLogger writes logs to stderr so stdout carries only the summary.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
