package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/promozone/api"
	"github.com/use-agent/promozone/api/middleware"
	"github.com/use-agent/promozone/collector"
	"github.com/use-agent/promozone/config"
	"github.com/use-agent/promozone/metrics"
	"github.com/use-agent/promozone/runs"
	"github.com/use-agent/promozone/store"
	"github.com/use-agent/promozone/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("promozone starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"warehouse", cfg.Warehouse.Backend,
		"project", cfg.Warehouse.Project,
		"workers", cfg.Crawler.Workers,
	)

	m := metrics.New("promozone")

	// ── 3. Connect the warehouse ────────────────────────────────────
	// A missing or unreachable warehouse does not stop the server: runs
	// that ask to persist fail and health reports the warehouse degraded.
	openCtx, cancelOpen := context.WithTimeout(context.Background(), 15*time.Second)
	st, err := store.Open(openCtx, cfg.Warehouse)
	cancelOpen()
	var loader *store.Loader
	if err != nil {
		slog.Error("warehouse unavailable", "backend", cfg.Warehouse.Backend, "error", err)
	} else {
		loader = store.NewLoader(st, m)
		slog.Info("warehouse connected", "backend", st.Name(),
			"dataset", cfg.Warehouse.Dataset, "table", cfg.Warehouse.Table)
	}

	// ── 4. Collection pipeline and run tracker ──────────────────────
	svc := collector.New(collector.NewEngine(cfg.Crawler, m), loader, cfg.Crawler, m)
	notifier := webhook.NewNotifier()
	states := runs.NewMemoryStore(cfg.Runs.TTL)
	tracker := runs.NewTracker(svc, runs.Options{
		States:   states,
		Notifier: notifier,
		Metrics:  m,
	})

	// ── 5. Setup router ─────────────────────────────────────────────
	limiter := middleware.NewLimiter(cfg.RateLimit)
	router := api.NewRouter(cfg, api.Deps{
		Runs:      tracker,
		Store:     st,
		Metrics:   m,
		Limiter:   limiter,
		StartTime: time.Now(),
	})

	// ── 6. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// Runs in flight end as failed and still notify their webhooks.
	if err := tracker.Shutdown(ctx); err != nil {
		slog.Error("runs did not stop in time", "error", err)
	}
	notifier.Wait()
	limiter.Close()
	states.Close()

	if st != nil {
		if err := st.Close(); err != nil {
			slog.Error("warehouse close failed", "error", err)
		}
	}
	slog.Info("promozone stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
