package models

import "time"

// CollectResponse is the response for POST /api/v1/collect.
type CollectResponse struct {
	RunID   string    `json:"run_id"`
	CrawlID string    `json:"crawl_id"`
	Status  RunStatus `json:"status"`
	Message string    `json:"message"`
	Sources []string  `json:"sources"`

	// EstimatedTimeSeconds is a rough upper bound, not a promise.
	EstimatedTimeSeconds float64 `json:"estimated_time_seconds"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string            `json:"status"` // "healthy" or "degraded"
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Services  map[string]string `json:"services"`
}

// RecentProductsResponse is the response for GET /api/v1/products/recent.
type RecentProductsResponse struct {
	Hours    int            `json:"hours"`
	Limit    int            `json:"limit"`
	Count    int            `json:"count"`
	Products []StoredRecord `json:"products"`
}

// ErrorResponse wraps an ErrorDetail for JSON error bodies.
type ErrorResponse struct {
	Error *ErrorDetail `json:"error"`
}
