package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/arenalytics/matchsync/internal/domain/match"
	"github.com/arenalytics/matchsync/internal/domain/schedjob"
	qb "github.com/arenalytics/matchsync/internal/platform/querybuilder"
)

type scheduledJobTableModel struct {
	ID              int64     `db:"id"`
	JobKey          string    `db:"job_key"`
	Source          string    `db:"source"`
	ExternalMatchID string    `db:"external_match_id"`
	ScheduleID      string    `db:"schedule_id"`
	CreatedAt       time.Time `db:"created_at"`
}

type scheduledJobInsertModel struct {
	JobKey          string    `db:"job_key"`
	Source          string    `db:"source"`
	ExternalMatchID string    `db:"external_match_id"`
	ScheduleID      string    `db:"schedule_id"`
	CreatedAt       time.Time `db:"created_at"`
}

type ScheduledJobRepository struct {
	db *sqlx.DB
}

func NewScheduledJobRepository(db *sqlx.DB) *ScheduledJobRepository {
	return &ScheduledJobRepository{db: db}
}

func (r *ScheduledJobRepository) CreateIfAbsent(ctx context.Context, job schedjob.ScheduledJob) (bool, error) {
	model := scheduledJobInsertModel{
		JobKey:          job.JobKey,
		Source:          string(job.Source),
		ExternalMatchID: job.ExternalMatchID,
		ScheduleID:      job.ScheduleID,
		CreatedAt:       job.CreatedAt.UTC(),
	}

	query, args, err := qb.InsertModel("scheduled_jobs", model, "ON CONFLICT (job_key) DO NOTHING")
	if err != nil {
		return false, fmt.Errorf("build insert scheduled job query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert scheduled job %s: %w", job.JobKey, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert scheduled job rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *ScheduledJobRepository) Delete(ctx context.Context, jobKey string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM scheduled_jobs WHERE job_key = $1", jobKey); err != nil {
		return fmt.Errorf("delete scheduled job %s: %w", jobKey, err)
	}
	return nil
}

func (r *ScheduledJobRepository) GetByKey(ctx context.Context, jobKey string) (schedjob.ScheduledJob, error) {
	query, args, err := qb.Select("*").From("scheduled_jobs").
		Where(qb.Eq("job_key", jobKey)).
		ToSQL()
	if err != nil {
		return schedjob.ScheduledJob{}, fmt.Errorf("build select scheduled job query: %w", err)
	}

	var row scheduledJobTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return schedjob.ScheduledJob{}, schedjob.ErrNotFound
		}
		return schedjob.ScheduledJob{}, fmt.Errorf("select scheduled job %s: %w", jobKey, err)
	}
	return scheduledJobFromTableModel(row), nil
}

func (r *ScheduledJobRepository) List(ctx context.Context) ([]schedjob.ScheduledJob, error) {
	query, args, err := qb.Select("*").From("scheduled_jobs").
		OrderBy("job_key ASC").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list scheduled jobs query: %w", err)
	}

	var rows []scheduledJobTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list scheduled jobs: %w", err)
	}

	out := make([]schedjob.ScheduledJob, 0, len(rows))
	for _, row := range rows {
		out = append(out, scheduledJobFromTableModel(row))
	}
	return out, nil
}

func scheduledJobFromTableModel(row scheduledJobTableModel) schedjob.ScheduledJob {
	return schedjob.ScheduledJob{
		JobKey:          row.JobKey,
		Source:          match.Source(row.Source),
		ExternalMatchID: row.ExternalMatchID,
		ScheduleID:      row.ScheduleID,
		CreatedAt:       row.CreatedAt,
	}
}
