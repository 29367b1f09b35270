package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/arenalytics/matchsync/internal/domain/syncrun"
	"github.com/arenalytics/matchsync/internal/platform/id"
	"github.com/arenalytics/matchsync/internal/platform/logging"
)

const maxRunErrorLength = 512

// SyncRunRecorder brackets every sync pass with an audit row. The row is
// created in status running before the body executes and resolved in a
// deferred block, so a body error, a panic, or a context cancellation all
// leave a terminal record behind. Resolution happens exactly once.
type SyncRunRecorder struct {
	runs   syncrun.Repository
	ids    id.Generator
	logger *logging.Logger
	now    func() time.Time
}

func NewSyncRunRecorder(runs syncrun.Repository, ids id.Generator, logger *logging.Logger) *SyncRunRecorder {
	if logger == nil {
		logger = logging.Default()
	}
	if ids == nil {
		ids = id.NewRandomGenerator()
	}
	return &SyncRunRecorder{
		runs:   runs,
		ids:    ids,
		logger: logger,
		now:    time.Now,
	}
}

// Track runs fn inside a recorded sync run. The returned SyncRun reflects
// the resolved state. Errors from fn pass through unchanged; persistence
// failures while resolving are logged and never mask the body's outcome.
func (r *SyncRunRecorder) Track(ctx context.Context, syncType string, fn func(ctx context.Context) (syncrun.Counts, error)) (run syncrun.SyncRun, err error) {
	syncType = strings.TrimSpace(syncType)
	if syncType == "" {
		return syncrun.SyncRun{}, fmt.Errorf("%w: sync type is required", ErrInvalidInput)
	}
	if fn == nil {
		return syncrun.SyncRun{}, fmt.Errorf("%w: sync body is required", ErrInvalidInput)
	}

	runID, idErr := r.ids.NewID()
	if idErr != nil {
		return syncrun.SyncRun{}, fmt.Errorf("generate run id: %w", idErr)
	}

	run = syncrun.SyncRun{
		RunID:     runID,
		SyncType:  syncType,
		Status:    syncrun.StatusRunning,
		StartedAt: r.now().UTC(),
	}
	if createErr := r.runs.Create(ctx, run); createErr != nil {
		return syncrun.SyncRun{}, fmt.Errorf("create sync run: %w", createErr)
	}

	var counts syncrun.Counts
	defer func() {
		finishedAt := r.now().UTC()
		status := syncrun.StatusCompleted
		errMsg := ""

		if rec := recover(); rec != nil {
			status = syncrun.StatusFailed
			errMsg = truncateRunError(fmt.Sprintf("panic: %v", rec))
			r.resolve(ctx, &run, status, counts, errMsg, finishedAt)
			panic(rec)
		}

		if err != nil {
			status = syncrun.StatusFailed
			errMsg = truncateRunError(err.Error())
		}
		r.resolve(ctx, &run, status, counts, errMsg, finishedAt)
	}()

	counts, err = fn(ctx)
	return run, err
}

func (r *SyncRunRecorder) resolve(ctx context.Context, run *syncrun.SyncRun, status string, counts syncrun.Counts, errMsg string, finishedAt time.Time) {
	// Resolution must survive a cancelled request context.
	resolveCtx := context.WithoutCancel(ctx)
	if resolveErr := r.runs.Resolve(resolveCtx, run.RunID, status, counts, errMsg, finishedAt); resolveErr != nil {
		r.logger.ErrorContext(ctx, "sync run resolution failed",
			"run_id", run.RunID,
			"sync_type", run.SyncType,
			"status", status,
			"error", resolveErr,
		)
	}

	run.Status = status
	run.Counts = counts
	run.Error = errMsg
	run.FinishedAt = &finishedAt
}

func truncateRunError(msg string) string {
	if len(msg) <= maxRunErrorLength {
		return msg
	}
	return msg[:maxRunErrorLength] + "..."
}
