package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arenalytics/matchsync/internal/domain/match"
	"github.com/arenalytics/matchsync/internal/domain/schedjob"
	"github.com/arenalytics/matchsync/internal/infrastructure/repository/memory"
	"github.com/arenalytics/matchsync/internal/platform/logging"
)

type recordingTrigger struct {
	mu            sync.Mutex
	provisioned   map[string]int
	deprovisioned map[string]int
	failKeys      map[string]error
}

func newRecordingTrigger() *recordingTrigger {
	return &recordingTrigger{
		provisioned:   make(map[string]int),
		deprovisioned: make(map[string]int),
		failKeys:      make(map[string]error),
	}
}

func (t *recordingTrigger) Provision(_ context.Context, job schedjob.ScheduledJob, _ time.Duration) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err, ok := t.failKeys[job.JobKey]; ok {
		return "", err
	}
	t.provisioned[job.JobKey]++
	return "sched-" + job.JobKey, nil
}

func (t *recordingTrigger) Deprovision(_ context.Context, job schedjob.ScheduledJob) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err, ok := t.failKeys[job.JobKey]; ok {
		return err
	}
	t.deprovisioned[job.JobKey]++
	return nil
}

func (t *recordingTrigger) provisionCount(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.provisioned[key]
}

func (t *recordingTrigger) deprovisionCount(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deprovisioned[key]
}

func seedMatch(t *testing.T, repo *memory.MatchRepository, id, status string, scheduledAt, startedAt, finishedAt *time.Time) {
	t.Helper()
	_, err := repo.Upsert(context.Background(), match.Match{
		Source:          match.SourceProCircuit,
		ExternalMatchID: id,
		Game:            "dota2",
		Teams:           []match.Team{{Name: "A"}, {Name: "B"}},
		StatusRaw:       status,
		ScheduledAt:     scheduledAt,
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
		UpdatedAt:       time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("seed match %s: %v", id, err)
	}
}

func newSchedulerFixture(t *testing.T) (*SchedulerService, *memory.MatchRepository, *memory.ScheduledJobRepository, *recordingTrigger) {
	t.Helper()

	matches := memory.NewMatchRepository()
	jobs := memory.NewScheduledJobRepository()
	trigger := newRecordingTrigger()
	recorder := NewSyncRunRecorder(memory.NewSyncRunRepository(), nil, logging.NewNop())

	svc := NewSchedulerService(matches, jobs, trigger, recorder, SchedulerConfig{
		Lookahead:        30 * time.Minute,
		LiveSyncCadence:  time.Minute,
		StaleLiveTimeout: 6 * time.Hour,
	}, logging.NewNop())
	svc.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return svc, matches, jobs, trigger
}

func TestReconcileProvisionsWindowAndConverges(t *testing.T) {
	t.Parallel()

	svc, matches, jobs, trigger := newSchedulerFixture(t)
	now := svc.now()

	seedMatch(t, matches, "soon", "scheduled", timePtrAt(now.Add(10*time.Minute)), nil, nil)
	seedMatch(t, matches, "live", "running", timePtrAt(now.Add(-20*time.Minute)), timePtrAt(now.Add(-15*time.Minute)), nil)
	seedMatch(t, matches, "far", "scheduled", timePtrAt(now.Add(3*time.Hour)), nil, nil)
	seedMatch(t, matches, "done", "finished", timePtrAt(now.Add(-2*time.Hour)), timePtrAt(now.Add(-2*time.Hour)), timePtrAt(now.Add(-time.Hour)))

	result, run, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Provisioned != 2 {
		t.Fatalf("provisioned = %d, want 2 (soon + live)", result.Provisioned)
	}
	if run.SyncType != "scheduler:reconcile" {
		t.Fatalf("sync type = %q", run.SyncType)
	}

	existing, _ := jobs.List(context.Background())
	if len(existing) != 2 {
		t.Fatalf("job rows = %d, want 2", len(existing))
	}

	// Second pass over unchanged state is a fixed point.
	again, _, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if again.Provisioned != 0 || again.Deprovisioned != 0 {
		t.Fatalf("second pass not a fixed point: %+v", again)
	}
	if again.Unchanged != 2 {
		t.Fatalf("unchanged = %d, want 2", again.Unchanged)
	}

	soonKey := schedjob.JobKey(match.SourceProCircuit, "soon")
	if trigger.provisionCount(soonKey) != 1 {
		t.Fatalf("trigger provisioned %d times, want exactly 1", trigger.provisionCount(soonKey))
	}
}

func TestReconcileTearsDownTerminalMatches(t *testing.T) {
	t.Parallel()

	svc, matches, jobs, trigger := newSchedulerFixture(t)
	now := svc.now()

	seedMatch(t, matches, "m1", "running", timePtrAt(now.Add(-time.Hour)), timePtrAt(now.Add(-time.Hour)), nil)
	if _, _, err := svc.Reconcile(context.Background()); err != nil {
		t.Fatalf("provision pass: %v", err)
	}

	key := schedjob.JobKey(match.SourceProCircuit, "m1")
	if _, err := jobs.GetByKey(context.Background(), key); err != nil {
		t.Fatalf("job not provisioned: %v", err)
	}

	// The match finishes; the next pass must tear the job down.
	finished := now.Add(-5 * time.Minute)
	if err := matches.UpdateTimestamps(context.Background(), match.Key{Source: match.SourceProCircuit, ExternalMatchID: "m1"}, match.TimestampPatch{
		FinishedAt:    &finished,
		SetFinishedAt: true,
	}); err != nil {
		t.Fatalf("finish match: %v", err)
	}

	result, _, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("teardown pass: %v", err)
	}
	if result.Deprovisioned != 1 {
		t.Fatalf("deprovisioned = %d, want 1", result.Deprovisioned)
	}
	if _, err := jobs.GetByKey(context.Background(), key); !errors.Is(err, schedjob.ErrNotFound) {
		t.Fatalf("job row should be gone, got err=%v", err)
	}

	// Third pass: nothing left to tear down.
	result, _, err = svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("third pass: %v", err)
	}
	if result.Deprovisioned != 0 {
		t.Fatalf("teardown not idempotent: %+v", result)
	}
	if trigger.deprovisionCount(key) != 1 {
		t.Fatalf("trigger deprovisioned %d times, want exactly 1", trigger.deprovisionCount(key))
	}
}

func TestReconcileRunCountsReflectPassOutcome(t *testing.T) {
	t.Parallel()

	svc, matches, _, _ := newSchedulerFixture(t)
	now := svc.now()

	seedMatch(t, matches, "keep", "running", timePtrAt(now.Add(-time.Hour)), timePtrAt(now.Add(-time.Hour)), nil)
	seedMatch(t, matches, "gone", "running", timePtrAt(now.Add(-time.Hour)), timePtrAt(now.Add(-time.Hour)), nil)
	if _, _, err := svc.Reconcile(context.Background()); err != nil {
		t.Fatalf("provision pass: %v", err)
	}

	finished := now.Add(-5 * time.Minute)
	if err := matches.UpdateTimestamps(context.Background(), match.Key{Source: match.SourceProCircuit, ExternalMatchID: "gone"}, match.TimestampPatch{
		FinishedAt:    &finished,
		SetFinishedAt: true,
	}); err != nil {
		t.Fatalf("finish match: %v", err)
	}
	seedMatch(t, matches, "new", "scheduled", timePtrAt(now.Add(10*time.Minute)), nil, nil)

	result, run, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Desired != 2 || result.Provisioned != 1 || result.Deprovisioned != 1 || result.Unchanged != 1 {
		t.Fatalf("result = %+v, want desired=2 provisioned=1 deprovisioned=1 unchanged=1", result)
	}

	// Every candidate the pass acted on shows up in the run record once.
	if run.Counts.Processed != result.Desired+result.Deprovisioned {
		t.Fatalf("processed = %d, want %d", run.Counts.Processed, result.Desired+result.Deprovisioned)
	}
	if run.Counts.Added != result.Provisioned || run.Counts.Updated != result.Deprovisioned {
		t.Fatalf("counts = %+v, want added=%d updated=%d", run.Counts, result.Provisioned, result.Deprovisioned)
	}
	if run.Counts.Skipped != result.Unchanged || run.Counts.Failed != 0 {
		t.Fatalf("counts = %+v, want skipped=%d failed=0", run.Counts, result.Unchanged)
	}
}

func TestReconcileIsolatesCandidateFailures(t *testing.T) {
	t.Parallel()

	svc, matches, jobs, trigger := newSchedulerFixture(t)
	now := svc.now()

	seedMatch(t, matches, "good", "scheduled", timePtrAt(now.Add(5*time.Minute)), nil, nil)
	seedMatch(t, matches, "bad", "scheduled", timePtrAt(now.Add(5*time.Minute)), nil, nil)
	badKey := schedjob.JobKey(match.SourceProCircuit, "bad")
	trigger.failKeys[badKey] = errors.New("trigger backend 500")

	result, _, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Provisioned != 1 || result.Failed != 1 {
		t.Fatalf("result = %+v, want provisioned=1 failed=1", result)
	}
	if _, err := jobs.GetByKey(context.Background(), schedjob.JobKey(match.SourceProCircuit, "good")); err != nil {
		t.Fatalf("healthy candidate blocked by failing one: %v", err)
	}

	// Backend recovers: the failed candidate is picked up next pass.
	delete(trigger.failKeys, badKey)
	result, _, err = svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("retry pass: %v", err)
	}
	if result.Provisioned != 1 {
		t.Fatalf("retry pass provisioned = %d, want 1", result.Provisioned)
	}
	if _, err := jobs.GetByKey(context.Background(), badKey); err != nil {
		t.Fatalf("recovered candidate missing: %v", err)
	}
}

func TestReconcileSkipsStaleHeuristicLive(t *testing.T) {
	t.Parallel()

	svc, matches, jobs, _ := newSchedulerFixture(t)
	now := svc.now()

	// Scheduled ten hours ago, no provider signal since: live for readers,
	// but the scheduler stops polling it.
	seedMatch(t, matches, "stuck", "", timePtrAt(now.Add(-10*time.Hour)), nil, nil)
	// Recent heuristic-live stays in scope.
	seedMatch(t, matches, "fresh", "", timePtrAt(now.Add(-10*time.Minute)), nil, nil)

	result, _, err := svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Provisioned != 1 {
		t.Fatalf("provisioned = %d, want only the fresh match", result.Provisioned)
	}
	if _, err := jobs.GetByKey(context.Background(), schedjob.JobKey(match.SourceProCircuit, "stuck")); !errors.Is(err, schedjob.ErrNotFound) {
		t.Fatalf("stale heuristic-live match should not get a job, err=%v", err)
	}

	stuck, err := matches.GetByKey(context.Background(), match.Key{Source: match.SourceProCircuit, ExternalMatchID: "stuck"})
	if err != nil {
		t.Fatalf("get stuck: %v", err)
	}
	if got := stuck.State(now); got != match.StateLive {
		t.Fatalf("scheduler must not rewrite match state, got %q", got)
	}
}

func timePtrAt(t time.Time) *time.Time { return &t }
