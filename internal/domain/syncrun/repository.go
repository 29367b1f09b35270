package syncrun

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when no run exists for a query.
var ErrNotFound = errors.New("sync run not found")

// Repository persists sync run audit records.
type Repository interface {
	Create(ctx context.Context, run SyncRun) error
	// Resolve transitions a running run to completed or failed. Resolving an
	// already resolved run is a no-op so crash-retry paths stay safe.
	Resolve(ctx context.Context, runID, status string, counts Counts, errMsg string, finishedAt time.Time) error
	GetByRunID(ctx context.Context, runID string) (SyncRun, error)
	LatestBySyncType(ctx context.Context, syncType string) (SyncRun, error)
	ListRecent(ctx context.Context, limit int) ([]SyncRun, error)
}
