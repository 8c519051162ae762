package store

import "errors"

// Store errors.
var (
	// ErrNotConfigured is returned when warehouse settings are missing or unreadable.
	ErrNotConfigured = errors.New("warehouse not configured")

	// ErrUnknownBackend is returned for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown warehouse backend")
)
