package engine

import (
	"context"
	"fmt"
)

// Engine is the interface that all fetch engines must implement.
type Engine interface {
	// Name returns the engine identifier (e.g. "http", "retry(http)").
	Name() string

	// Fetch retrieves the page content for the given request.
	Fetch(ctx context.Context, req *FetchRequest) (*FetchResult, error)
}

// FetchRequest contains everything an engine needs to fetch a page.
type FetchRequest struct {
	URL string
}

// FetchResult is the output of a successful engine fetch.
type FetchResult struct {
	HTML       []byte
	Title      string // first <title> of the document, trimmed
	StatusCode int
	FinalURL   string // after redirects
}

// StatusError reports a response the engine refused to treat as a page.
type StatusError struct {
	URL         string
	StatusCode  int
	ContentType string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http_engine: %s: status %d (content-type: %s)", e.URL, e.StatusCode, e.ContentType)
}
