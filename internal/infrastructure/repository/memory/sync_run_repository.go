package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arenalytics/matchsync/internal/domain/syncrun"
)

type SyncRunRepository struct {
	mu   sync.RWMutex
	runs map[string]syncrun.SyncRun
}

func NewSyncRunRepository() *SyncRunRepository {
	return &SyncRunRepository{runs: make(map[string]syncrun.SyncRun)}
}

func (r *SyncRunRepository) Create(_ context.Context, run syncrun.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.RunID] = run
	return nil
}

func (r *SyncRunRepository) Resolve(_ context.Context, runID, status string, counts syncrun.Counts, errMsg string, finishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[runID]
	if !ok {
		return syncrun.ErrNotFound
	}
	// Already terminal: resolution is a no-op, matching the postgres guard.
	if run.Status != syncrun.StatusRunning {
		return nil
	}

	run.Status = status
	run.Counts = counts
	run.Error = errMsg
	run.FinishedAt = &finishedAt
	r.runs[runID] = run
	return nil
}

func (r *SyncRunRepository) GetByRunID(_ context.Context, runID string) (syncrun.SyncRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[runID]
	if !ok {
		return syncrun.SyncRun{}, syncrun.ErrNotFound
	}
	return run, nil
}

func (r *SyncRunRepository) LatestBySyncType(_ context.Context, syncType string) (syncrun.SyncRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest syncrun.SyncRun
	found := false
	for _, run := range r.runs {
		if run.SyncType != syncType {
			continue
		}
		if !found || run.StartedAt.After(latest.StartedAt) {
			latest = run
			found = true
		}
	}
	if !found {
		return syncrun.SyncRun{}, syncrun.ErrNotFound
	}
	return latest, nil
}

func (r *SyncRunRepository) ListRecent(_ context.Context, limit int) ([]syncrun.SyncRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]syncrun.SyncRun, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
