// Package runs tracks asynchronous collection runs from submission to a
// terminal state.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/promozone/crawler"
	"github.com/use-agent/promozone/metrics"
	"github.com/use-agent/promozone/models"
)

// Tracker errors.
var (
	ErrNotFound     = errors.New("run not found")
	ErrTerminal     = errors.New("run already finished")
	ErrNoSources    = errors.New("no usable source terms")
	ErrShuttingDown = errors.New("tracker is shutting down")
)

// cancelledMessage is the failure message of a run stopped before completion.
const cancelledMessage = "run cancelled"

// Job is one accepted run handed to a Runner.
type Job struct {
	RunID   string
	CrawlID string
	Request models.CollectRequest
}

// InsertCounts is the outcome of loading a run's records.
type InsertCounts struct {
	Inserted   int
	Duplicates int
	Errors     int
}

// Outcome is what a finished run produced.
type Outcome struct {
	SourceStats      []models.SourceStats
	SourcesProcessed int
	PagesFetched     int
	TotalCollected   int

	// Insert is nil when persistence was not requested.
	Insert *InsertCounts
}

// Runner executes the work of a run.
type Runner interface {
	Run(ctx context.Context, job Job) (Outcome, error)
}

// Notifier is told about every terminal state.
type Notifier interface {
	Notify(state models.RunState, url, secret string)
}

// Submission is returned to the caller when a run is accepted.
type Submission struct {
	RunID            string
	CrawlID          string
	Sources          []string
	EstimatedSeconds float64
}

// Options configures a Tracker.
type Options struct {
	States   StateStore // default: NewMemoryStore(0)
	Notifier Notifier
	Metrics  *metrics.Metrics
}

// Tracker launches runs in the background and records their state.
type Tracker struct {
	runner   Runner
	states   StateStore
	notifier Notifier
	metrics  *metrics.Metrics

	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// NewTracker creates a Tracker that executes runs with runner.
func NewTracker(runner Runner, opts Options) *Tracker {
	if opts.States == nil {
		opts.States = NewMemoryStore(0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		runner:    runner,
		states:    opts.States,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		baseCtx:   ctx,
		cancelAll: cancel,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// EstimateSeconds is the rough duration of a run: every page of every
// source plus its delay and two seconds of fetch time.
func EstimateSeconds(sources, maxPages int, delaySeconds float64) float64 {
	return float64(sources) * float64(maxPages) * (delaySeconds + 2)
}

// Submit accepts a run and starts it in the background. The run is
// visible as started before Submit returns.
func (t *Tracker) Submit(req models.CollectRequest) (Submission, error) {
	req.Defaults()
	req.Sources = crawler.NormalizeSources(req.Sources)
	if len(req.Sources) == 0 {
		return Submission{}, ErrNoSources
	}

	job := Job{
		RunID:   uuid.NewString(),
		CrawlID: uuid.NewString()[:8],
		Request: req,
	}
	started := models.RunState{
		RunID:     job.RunID,
		CrawlID:   job.CrawlID,
		Status:    models.RunStarted,
		Sources:   req.Sources,
		StartedAt: time.Now().UTC(),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Submission{}, ErrShuttingDown
	}
	ctx, cancel := context.WithCancel(t.baseCtx)
	t.cancels[job.RunID] = cancel
	t.states.Put(started)
	t.wg.Add(1)
	t.mu.Unlock()

	t.metrics.RunStarted()
	slog.Info("run submitted", "run_id", job.RunID, "crawl_id", job.CrawlID, "sources", len(req.Sources))

	go t.execute(ctx, job, started)

	return Submission{
		RunID:            job.RunID,
		CrawlID:          job.CrawlID,
		Sources:          append([]string(nil), req.Sources...),
		EstimatedSeconds: EstimateSeconds(len(req.Sources), req.MaxPagesPerSource, req.DelayBetweenRequests),
	}, nil
}

// Status returns a copy of the run's current state.
func (t *Tracker) Status(runID string) (models.RunState, bool) {
	return t.states.Get(runID)
}

// Cancel stops a run in progress. The run ends as failed.
func (t *Tracker) Cancel(runID string) error {
	state, ok := t.states.Get(runID)
	if !ok {
		return ErrNotFound
	}
	if state.Status.Terminal() {
		return ErrTerminal
	}

	t.mu.Lock()
	cancel, ok := t.cancels[runID]
	t.mu.Unlock()
	if !ok {
		return ErrTerminal
	}
	cancel()
	slog.Info("run cancel requested", "run_id", runID)
	return nil
}

// Shutdown refuses new runs, cancels the ones in flight and waits for
// them to record their terminal state or for ctx to expire.
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.cancelAll()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) execute(ctx context.Context, job Job, started models.RunState) {
	defer t.wg.Done()
	log := slog.With("run_id", job.RunID, "crawl_id", job.CrawlID)

	// A cancel that lands after the runner's last suspension point does
	// not undo work it already finished; only its returned error fails the run.
	out, err := t.safeRun(ctx, job)

	final := started.Clone()
	now := time.Now().UTC()
	final.CompletedAt = &now

	if err != nil {
		final.Status = models.RunFailed
		final.Error = err.Error()
		if ctx.Err() != nil {
			final.Error = cancelledMessage
		}
		log.Error("run failed", "error", err)
	} else {
		final.Status = models.RunCompleted
		final.SourceStats = out.SourceStats
		final.SourcesProcessed = out.SourcesProcessed
		final.PagesFetched = out.PagesFetched
		final.TotalCollected = out.TotalCollected
		if out.Insert != nil {
			final.Inserted = &out.Insert.Inserted
			final.Duplicates = &out.Insert.Duplicates
			final.InsertErrors = &out.Insert.Errors
		}
		log.Info("run completed",
			"sources", final.SourcesProcessed,
			"pages", final.PagesFetched,
			"collected", final.TotalCollected,
		)
	}

	t.mu.Lock()
	t.states.Put(final)
	if cancel, ok := t.cancels[job.RunID]; ok {
		cancel()
		delete(t.cancels, job.RunID)
	}
	t.mu.Unlock()

	t.metrics.RunFinished(string(final.Status), now.Sub(started.StartedAt))
	if t.notifier != nil {
		t.notifier.Notify(final.Clone(), job.Request.WebhookURL, job.Request.WebhookSecret)
	}
}

// safeRun converts a panic in the runner into an error.
func (t *Tracker) safeRun(ctx context.Context, job Job) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("run panicked", "run_id", job.RunID, "panic", r, "stack", string(debug.Stack()))
			out, err = Outcome{}, fmt.Errorf("internal error: %v", r)
		}
	}()
	return t.runner.Run(ctx, job)
}
