package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/arenalytics/matchsync/internal/domain/schedjob"
)

type ScheduledJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]schedjob.ScheduledJob
}

func NewScheduledJobRepository() *ScheduledJobRepository {
	return &ScheduledJobRepository{jobs: make(map[string]schedjob.ScheduledJob)}
}

func (r *ScheduledJobRepository) CreateIfAbsent(_ context.Context, job schedjob.ScheduledJob) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.JobKey]; ok {
		return false, nil
	}
	r.jobs[job.JobKey] = job
	return true, nil
}

func (r *ScheduledJobRepository) Delete(_ context.Context, jobKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobKey)
	return nil
}

func (r *ScheduledJobRepository) GetByKey(_ context.Context, jobKey string) (schedjob.ScheduledJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobKey]
	if !ok {
		return schedjob.ScheduledJob{}, schedjob.ErrNotFound
	}
	return job, nil
}

func (r *ScheduledJobRepository) List(_ context.Context) ([]schedjob.ScheduledJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]schedjob.ScheduledJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobKey < out[j].JobKey })
	return out, nil
}
