package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arenalytics/matchsync/internal/domain/match"
	"github.com/arenalytics/matchsync/internal/domain/schedjob"
	"github.com/arenalytics/matchsync/internal/domain/syncrun"
	"github.com/arenalytics/matchsync/internal/platform/logging"
)

const (
	defaultLookahead        = 30 * time.Minute
	defaultLiveSyncCadence  = time.Minute
	defaultStaleLiveTimeout = 6 * time.Hour
)

// JobTrigger provisions and tears down recurring live-sync schedules on an
// external backend. Both operations must be idempotent: provisioning an
// existing schedule and deprovisioning a missing one are successes.
type JobTrigger interface {
	Provision(ctx context.Context, job schedjob.ScheduledJob, cadence time.Duration) (scheduleID string, err error)
	Deprovision(ctx context.Context, job schedjob.ScheduledJob) error
}

// NoopTrigger satisfies JobTrigger without an external backend. Job rows
// are still tracked so the reconciliation logic stays observable.
type NoopTrigger struct{}

func (NoopTrigger) Provision(context.Context, schedjob.ScheduledJob, time.Duration) (string, error) {
	return "", nil
}

func (NoopTrigger) Deprovision(context.Context, schedjob.ScheduledJob) error { return nil }

// SchedulerConfig tunes the reconciliation loop.
type SchedulerConfig struct {
	// Lookahead is how far ahead of now a scheduled match gets its job.
	Lookahead time.Duration
	// LiveSyncCadence is how often a provisioned job fires.
	LiveSyncCadence time.Duration
	// StaleLiveTimeout stops polling matches that are live only by the
	// past-schedule heuristic, with no provider signal, for this long.
	StaleLiveTimeout time.Duration
}

func (c SchedulerConfig) lookahead() time.Duration {
	if c.Lookahead > 0 {
		return c.Lookahead
	}
	return defaultLookahead
}

func (c SchedulerConfig) cadence() time.Duration {
	if c.LiveSyncCadence > 0 {
		return c.LiveSyncCadence
	}
	return defaultLiveSyncCadence
}

func (c SchedulerConfig) staleLiveTimeout() time.Duration {
	if c.StaleLiveTimeout > 0 {
		return c.StaleLiveTimeout
	}
	return defaultStaleLiveTimeout
}

// ReconcileResult summarizes one convergence pass.
type ReconcileResult struct {
	Desired       int
	Provisioned   int
	Deprovisioned int
	Unchanged     int
	Failed        int
}

// SchedulerService converges the set of provisioned live-sync jobs toward
// the set of matches that currently need one. Each pass is idempotent; a
// pass over unchanged state is a fixed point that performs no writes.
type SchedulerService struct {
	matches  match.Repository
	jobs     schedjob.Repository
	trigger  JobTrigger
	recorder *SyncRunRecorder
	cfg      SchedulerConfig
	logger   *logging.Logger
	now      func() time.Time
}

func NewSchedulerService(
	matches match.Repository,
	jobs schedjob.Repository,
	trigger JobTrigger,
	recorder *SyncRunRecorder,
	cfg SchedulerConfig,
	logger *logging.Logger,
) *SchedulerService {
	if trigger == nil {
		trigger = NoopTrigger{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SchedulerService{
		matches:  matches,
		jobs:     jobs,
		trigger:  trigger,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Reconcile runs one pass: compute the desired job set from match state,
// provision what is missing, tear down what is orphaned. Candidate failures
// are isolated; a failed candidate is retried naturally on the next pass.
//
// The run counts fold the pass into the SyncRun schema: processed covers
// every candidate the pass acted on (desired jobs plus torn-down orphans),
// added is provisioned, updated is deprovisioned, skipped is unchanged.
func (s *SchedulerService) Reconcile(ctx context.Context) (ReconcileResult, syncrun.SyncRun, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.SchedulerService.Reconcile")
	defer span.End()

	var result ReconcileResult
	run, err := s.recorder.Track(ctx, "scheduler:reconcile", func(ctx context.Context) (syncrun.Counts, error) {
		var counts syncrun.Counts
		r, err := s.reconcile(ctx)
		result = r

		counts.Processed = r.Desired + r.Deprovisioned
		counts.Added = r.Provisioned
		counts.Updated = r.Deprovisioned
		counts.Skipped = r.Unchanged
		counts.Failed = r.Failed
		return counts, err
	})
	return result, run, err
}

func (s *SchedulerService) reconcile(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult
	now := s.now().UTC()

	desired, err := s.desiredJobs(ctx, now)
	if err != nil {
		return result, err
	}
	result.Desired = len(desired)

	existing, err := s.jobs.List(ctx)
	if err != nil {
		return result, fmt.Errorf("list scheduled jobs: %w", err)
	}
	existingByKey := make(map[string]schedjob.ScheduledJob, len(existing))
	for _, job := range existing {
		existingByKey[job.JobKey] = job
	}

	for key, candidate := range desired {
		if _, ok := existingByKey[key]; ok {
			result.Unchanged++
			continue
		}
		if err := s.provision(ctx, candidate, now); err != nil {
			result.Failed++
			s.logger.WarnContext(ctx, "job provisioning failed",
				"job_key", key,
				"source", candidate.Source,
				"external_match_id", candidate.ExternalMatchID,
				"error", err,
			)
			continue
		}
		result.Provisioned++
	}

	for _, job := range existing {
		if _, wanted := desired[job.JobKey]; wanted {
			continue
		}
		if err := s.deprovision(ctx, job); err != nil {
			result.Failed++
			s.logger.WarnContext(ctx, "job teardown failed",
				"job_key", job.JobKey,
				"error", err,
			)
			continue
		}
		result.Deprovisioned++
	}

	return result, nil
}

// desiredJobs derives the target state: live matches plus upcoming matches
// inside the lookahead window, minus stale heuristic-live records.
func (s *SchedulerService) desiredJobs(ctx context.Context, now time.Time) (map[string]match.Match, error) {
	// The lower bound reaches back the full stale timeout so heuristic-live
	// matches keep their jobs until they age out.
	from := now.Add(-s.cfg.staleLiveTimeout())
	to := now.Add(s.cfg.lookahead())

	candidates, err := s.matches.ListNeedingLiveSync(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list live sync candidates: %w", err)
	}

	desired := make(map[string]match.Match, len(candidates))
	for _, m := range candidates {
		switch m.State(now) {
		case match.StateFinished:
			continue
		case match.StateLive:
			if s.staleHeuristicLive(m, now) {
				continue
			}
		case match.StateUpcoming:
			if m.ScheduledAt == nil || m.ScheduledAt.After(to) {
				continue
			}
		}
		desired[schedjob.JobKey(m.Source, m.ExternalMatchID)] = m
	}
	return desired, nil
}

// staleHeuristicLive drops matches held live only by the past-schedule
// heuristic once they exceed the stale timeout. Their state stays live for
// readers; the scheduler just stops burning provider quota on them.
func (s *SchedulerService) staleHeuristicLive(m match.Match, now time.Time) bool {
	if !m.HeuristicLive(now) {
		return false
	}
	if m.ScheduledAt == nil {
		return false
	}
	return now.Sub(*m.ScheduledAt) > s.cfg.staleLiveTimeout()
}

func (s *SchedulerService) provision(ctx context.Context, m match.Match, now time.Time) error {
	job := schedjob.New(m.Source, m.ExternalMatchID, now)

	scheduleID, err := s.trigger.Provision(ctx, job, s.cfg.cadence())
	if err != nil {
		return fmt.Errorf("trigger provision: %w", err)
	}
	job.ScheduleID = scheduleID

	if _, err := s.jobs.CreateIfAbsent(ctx, job); err != nil {
		return fmt.Errorf("record scheduled job: %w", err)
	}
	return nil
}

func (s *SchedulerService) deprovision(ctx context.Context, job schedjob.ScheduledJob) error {
	if err := s.trigger.Deprovision(ctx, job); err != nil {
		return fmt.Errorf("trigger deprovision: %w", err)
	}
	if err := s.jobs.Delete(ctx, job.JobKey); err != nil && !errors.Is(err, schedjob.ErrNotFound) {
		return fmt.Errorf("delete scheduled job: %w", err)
	}
	return nil
}
