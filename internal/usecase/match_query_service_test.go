package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/arenalytics/matchsync/internal/domain/match"
	"github.com/arenalytics/matchsync/internal/domain/syncrun"
	"github.com/arenalytics/matchsync/internal/infrastructure/repository/memory"
	"github.com/arenalytics/matchsync/internal/platform/cache"
)

func newQueryFixture(t *testing.T, store *cache.Store) (*MatchQueryService, *memory.MatchRepository, *memory.SyncRunRepository) {
	t.Helper()

	matches := memory.NewMatchRepository()
	runs := memory.NewSyncRunRepository()
	svc := NewMatchQueryService(matches, runs, store)
	return svc, matches, runs
}

func seedQueryMatch(t *testing.T, repo *memory.MatchRepository, id string, scheduledAt, startedAt, finishedAt *time.Time) {
	t.Helper()

	_, err := repo.Upsert(context.Background(), match.Match{
		Source:          match.SourceProCircuit,
		ExternalMatchID: id,
		Game:            "dota2",
		ScheduledAt:     scheduledAt,
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
		UpdatedAt:       time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed match %s: %v", id, err)
	}
}

func TestListMatchesDerivesStateAtReadTime(t *testing.T) {
	t.Parallel()

	svc, matches, _ := newQueryFixture(t, nil)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	past := now.Add(-2 * time.Hour)
	soon := now.Add(15 * time.Minute)
	started := now.Add(-30 * time.Minute)
	seedQueryMatch(t, matches, "upcoming", &soon, nil, nil)
	seedQueryMatch(t, matches, "live", &past, &started, nil)
	seedQueryMatch(t, matches, "finished", &past, &started, &now)

	views, err := svc.ListMatches(context.Background(), MatchQuery{})
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	if len(views) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(views))
	}

	states := make(map[string]match.LifecycleState, len(views))
	for _, view := range views {
		states[view.Match.ExternalMatchID] = view.State
	}
	if states["upcoming"] != match.StateUpcoming {
		t.Fatalf("upcoming state = %s", states["upcoming"])
	}
	if states["live"] != match.StateLive {
		t.Fatalf("live state = %s", states["live"])
	}
	if states["finished"] != match.StateFinished {
		t.Fatalf("finished state = %s", states["finished"])
	}

	live, err := svc.ListMatches(context.Background(), MatchQuery{State: match.StateLive})
	if err != nil {
		t.Fatalf("list live matches: %v", err)
	}
	if len(live) != 1 || live[0].Match.ExternalMatchID != "live" {
		t.Fatalf("state filter returned %+v", live)
	}
}

func TestListMatchesRejectsUnknownSource(t *testing.T) {
	t.Parallel()

	svc, _, _ := newQueryFixture(t, nil)
	_, err := svc.ListMatches(context.Background(), MatchQuery{Source: "espn"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListMatchesServesCachedRows(t *testing.T) {
	t.Parallel()

	store := cache.NewStore(time.Minute)
	svc, matches, _ := newQueryFixture(t, store)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	soon := now.Add(10 * time.Minute)
	seedQueryMatch(t, matches, "cached", &soon, nil, nil)

	first, err := svc.ListMatches(context.Background(), MatchQuery{})
	if err != nil {
		t.Fatalf("first list: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 match, got %d", len(first))
	}

	// A row added after the first read stays invisible until the TTL expires.
	later := now.Add(20 * time.Minute)
	seedQueryMatch(t, matches, "fresh", &later, nil, nil)

	second, err := svc.ListMatches(context.Background(), MatchQuery{})
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("expected cached result with 1 match, got %d", len(second))
	}
}

func TestGetMatchNotFound(t *testing.T) {
	t.Parallel()

	svc, _, _ := newQueryFixture(t, nil)
	_, err := svc.GetMatch(context.Background(), match.SourceProCircuit, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_, err = svc.GetMatch(context.Background(), "bogus", "1")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown source, got %v", err)
	}
}

func TestListRecentSyncRunsClampsLimit(t *testing.T) {
	t.Parallel()

	svc, _, runs := newQueryFixture(t, nil)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 60; i++ {
		run := syncrun.SyncRun{
			RunID:     fmt.Sprintf("run-%03d", i),
			SyncType:  "source:pro_circuit",
			Status:    syncrun.StatusCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := runs.Create(ctx, run); err != nil {
			t.Fatalf("create run %d: %v", i, err)
		}
	}

	// An oversize limit clamps to the hard cap, not the default page.
	got, err := svc.ListRecentSyncRuns(ctx, 1000)
	if err != nil {
		t.Fatalf("list with oversize limit: %v", err)
	}
	if len(got) != 60 {
		t.Fatalf("oversize limit returned %d runs, want all 60", len(got))
	}

	got, err = svc.ListRecentSyncRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list with zero limit: %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("zero limit returned %d runs, want the default 50", len(got))
	}
}

func TestLatestSyncRun(t *testing.T) {
	t.Parallel()

	svc, _, runs := newQueryFixture(t, nil)
	ctx := context.Background()

	_, err := svc.LatestSyncRun(ctx, "source:pro_circuit")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound with no runs, got %v", err)
	}

	older := syncrun.SyncRun{RunID: "run-1", SyncType: "source:pro_circuit", Status: syncrun.StatusCompleted, StartedAt: time.Now().Add(-time.Hour)}
	newer := syncrun.SyncRun{RunID: "run-2", SyncType: "source:pro_circuit", Status: syncrun.StatusCompleted, StartedAt: time.Now()}
	if err := runs.Create(ctx, older); err != nil {
		t.Fatalf("create run: %v", err)
	}
	if err := runs.Create(ctx, newer); err != nil {
		t.Fatalf("create run: %v", err)
	}

	got, err := svc.LatestSyncRun(ctx, "source:pro_circuit")
	if err != nil {
		t.Fatalf("latest sync run: %v", err)
	}
	if got.RunID != "run-2" {
		t.Fatalf("expected run-2, got %s", got.RunID)
	}

	if _, err := svc.LatestSyncRun(ctx, "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank sync type, got %v", err)
	}
}
