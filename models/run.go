package models

import "time"

// RunStatus is the lifecycle state of a collection run.
type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further transition can happen.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// SourceStats reports what one search term produced.
type SourceStats struct {
	Source  string `json:"source"`
	Pages   int    `json:"pages"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

// RunState is the observable state of a run.
//
// A state is stored once at submission and replaced once by its terminal
// value. Insert counters stay nil when persistence was not requested.
type RunState struct {
	RunID            string        `json:"run_id"`
	CrawlID          string        `json:"crawl_id"`
	Status           RunStatus     `json:"status"`
	Sources          []string      `json:"sources"`
	SourceStats      []SourceStats `json:"source_stats,omitempty"`
	SourcesProcessed int           `json:"sources_processed"`
	PagesFetched     int           `json:"pages_fetched"`
	TotalCollected   int           `json:"total_collected"`
	Inserted         *int          `json:"inserted,omitempty"`
	Duplicates       *int          `json:"duplicates,omitempty"`
	InsertErrors     *int          `json:"insert_errors,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
	Error            string        `json:"error_message,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (s RunState) Clone() RunState {
	out := s
	out.Sources = append([]string(nil), s.Sources...)
	if s.SourceStats != nil {
		out.SourceStats = append([]SourceStats(nil), s.SourceStats...)
	}
	out.Inserted = cloneInt(s.Inserted)
	out.Duplicates = cloneInt(s.Duplicates)
	out.InsertErrors = cloneInt(s.InsertErrors)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
