package schedjob

import (
	"context"
	"errors"
)

// ErrNotFound is returned by repositories when no job exists for a key.
var ErrNotFound = errors.New("scheduled job not found")

// Repository tracks which live-sync jobs are currently provisioned.
type Repository interface {
	// CreateIfAbsent inserts the job unless its key already exists. It
	// reports whether a new row was written.
	CreateIfAbsent(ctx context.Context, job ScheduledJob) (created bool, err error)
	// Delete removes the job. Deleting a missing key is a success.
	Delete(ctx context.Context, jobKey string) error
	GetByKey(ctx context.Context, jobKey string) (ScheduledJob, error)
	List(ctx context.Context) ([]ScheduledJob, error)
}
