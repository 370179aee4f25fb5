package utils

import (
	"context"
	"time"
)

const (
	// ShortTimeout bounds cache and rate limiter round trips.
	ShortTimeout = 2 * time.Second

	// IngestTimeout bounds a synchronous convert and ingest inside a request.
	IngestTimeout = 3 * time.Minute

	// MaintenanceTimeout bounds background sweeps such as role re-vectorization.
	MaintenanceTimeout = 5 * time.Minute
)

// WithShortTimeout creates a context for quick lookups that must never stall a request.
func WithShortTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, ShortTimeout)
}

// WithIngestTimeout creates a context for inline document processing.
func WithIngestTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, IngestTimeout)
}

// WithMaintenanceTimeout creates a context for scheduled jobs.
func WithMaintenanceTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, MaintenanceTimeout)
}
