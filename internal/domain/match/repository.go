package match

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by repositories when no match exists for a key.
var ErrNotFound = errors.New("match not found")

// ListFilter narrows List results. Zero values mean "no constraint".
type ListFilter struct {
	Source Source
	Game   string
	From   *time.Time
	To     *time.Time
	Limit  int
}

// Repository persists canonical match records.
//
// Upsert applies last-writer-wins keyed on UpdatedAt: a write older than the
// stored row leaves the data columns untouched. It reports whether the row
// was newly created.
type Repository interface {
	Upsert(ctx context.Context, m Match) (created bool, err error)
	GetByKey(ctx context.Context, key Key) (Match, error)
	List(ctx context.Context, filter ListFilter) ([]Match, error)
	// ListNeedingLiveSync returns matches whose scheduled time falls inside
	// [from, to] plus matches that have started but not finished.
	ListNeedingLiveSync(ctx context.Context, from, to time.Time) ([]Match, error)
	// ListEpochSentinel returns matches with at least one timestamp that
	// collapsed to the 1970 epoch.
	ListEpochSentinel(ctx context.Context, limit int) ([]Match, error)
	UpdateTimestamps(ctx context.Context, key Key, patch TimestampPatch) error
}
