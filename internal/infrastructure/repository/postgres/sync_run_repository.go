package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/arenalytics/matchsync/internal/domain/syncrun"
	qb "github.com/arenalytics/matchsync/internal/platform/querybuilder"
)

type syncRunTableModel struct {
	ID         int64      `db:"id"`
	RunID      string     `db:"run_id"`
	SyncType   string     `db:"sync_type"`
	Status     string     `db:"status"`
	Processed  int        `db:"processed"`
	Added      int        `db:"added"`
	Updated    int        `db:"updated"`
	Skipped    int        `db:"skipped"`
	Failed     int        `db:"failed"`
	Error      string     `db:"error"`
	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
}

type syncRunInsertModel struct {
	RunID     string    `db:"run_id"`
	SyncType  string    `db:"sync_type"`
	Status    string    `db:"status"`
	StartedAt time.Time `db:"started_at"`
}

type SyncRunRepository struct {
	db *sqlx.DB
}

func NewSyncRunRepository(db *sqlx.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

func (r *SyncRunRepository) Create(ctx context.Context, run syncrun.SyncRun) error {
	model := syncRunInsertModel{
		RunID:     run.RunID,
		SyncType:  run.SyncType,
		Status:    run.Status,
		StartedAt: run.StartedAt.UTC(),
	}

	query, args, err := qb.InsertModel("sync_runs", model, "")
	if err != nil {
		return fmt.Errorf("build insert sync run query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert sync run %s: %w", run.RunID, err)
	}
	return nil
}

// Resolve only touches rows still in status running, so a second resolution
// attempt after a crash retry leaves the original outcome in place.
func (r *SyncRunRepository) Resolve(ctx context.Context, runID, status string, counts syncrun.Counts, errMsg string, finishedAt time.Time) error {
	query, args, err := qb.Update("sync_runs").
		Set("status", status).
		Set("processed", counts.Processed).
		Set("added", counts.Added).
		Set("updated", counts.Updated).
		Set("skipped", counts.Skipped).
		Set("failed", counts.Failed).
		Set("error", errMsg).
		Set("finished_at", finishedAt.UTC()).
		Where(
			qb.Eq("run_id", runID),
			qb.EqLiteral("status", syncrun.StatusRunning),
		).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build resolve sync run query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("resolve sync run %s: %w", runID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve sync run rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// No row changed: either the run never existed or it is already
	// terminal. The latter is the idempotent no-op path.
	if _, err := r.GetByRunID(ctx, runID); err != nil {
		return err
	}
	return nil
}

func (r *SyncRunRepository) GetByRunID(ctx context.Context, runID string) (syncrun.SyncRun, error) {
	query, args, err := qb.Select("*").From("sync_runs").
		Where(qb.Eq("run_id", runID)).
		ToSQL()
	if err != nil {
		return syncrun.SyncRun{}, fmt.Errorf("build select sync run query: %w", err)
	}

	var row syncRunTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return syncrun.SyncRun{}, syncrun.ErrNotFound
		}
		return syncrun.SyncRun{}, fmt.Errorf("select sync run %s: %w", runID, err)
	}
	return syncRunFromTableModel(row), nil
}

func (r *SyncRunRepository) LatestBySyncType(ctx context.Context, syncType string) (syncrun.SyncRun, error) {
	query, args, err := qb.Select("*").From("sync_runs").
		Where(qb.Eq("sync_type", syncType)).
		OrderBy("started_at DESC", "id DESC").
		Limit(1).
		ToSQL()
	if err != nil {
		return syncrun.SyncRun{}, fmt.Errorf("build select latest sync run query: %w", err)
	}

	var row syncRunTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return syncrun.SyncRun{}, syncrun.ErrNotFound
		}
		return syncrun.SyncRun{}, fmt.Errorf("select latest sync run for %s: %w", syncType, err)
	}
	return syncRunFromTableModel(row), nil
}

func (r *SyncRunRepository) ListRecent(ctx context.Context, limit int) ([]syncrun.SyncRun, error) {
	builder := qb.Select("*").From("sync_runs").
		OrderBy("started_at DESC", "id DESC")
	if limit > 0 {
		builder = builder.Limit(limit)
	}

	query, args, err := builder.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list recent sync runs query: %w", err)
	}

	var rows []syncRunTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list recent sync runs: %w", err)
	}

	out := make([]syncrun.SyncRun, 0, len(rows))
	for _, row := range rows {
		out = append(out, syncRunFromTableModel(row))
	}
	return out, nil
}

func syncRunFromTableModel(row syncRunTableModel) syncrun.SyncRun {
	return syncrun.SyncRun{
		RunID:    row.RunID,
		SyncType: row.SyncType,
		Status:   row.Status,
		Counts: syncrun.Counts{
			Processed: row.Processed,
			Added:     row.Added,
			Updated:   row.Updated,
			Skipped:   row.Skipped,
			Failed:    row.Failed,
		},
		Error:      row.Error,
		StartedAt:  row.StartedAt,
		FinishedAt: row.FinishedAt,
	}
}
