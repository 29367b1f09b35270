package syncrun

import "time"

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Counts summarizes what a sync pass actually did.
type Counts struct {
	Processed int
	Added     int
	Updated   int
	Skipped   int
	Failed    int
}

func (c *Counts) Merge(other Counts) {
	c.Processed += other.Processed
	c.Added += other.Added
	c.Updated += other.Updated
	c.Skipped += other.Skipped
	c.Failed += other.Failed
}

// SyncRun is the audit record for one sync pass. Every run created in
// status running must be resolved to completed or failed exactly once.
type SyncRun struct {
	RunID      string
	SyncType   string
	Status     string
	Counts     Counts
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

func (r SyncRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
