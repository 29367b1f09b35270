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
	"github.com/arenalytics/matchsync/internal/platform/logging"
)

type stubProvider struct {
	source  match.Source
	pages   map[string][][]ProviderMatch
	listErr error
	byID    map[string]ProviderMatch
	getErr  error
	calls   int
}

func (p *stubProvider) Source() match.Source { return p.source }

func (p *stubProvider) ListMatches(_ context.Context, game string, page int) ([]ProviderMatch, bool, error) {
	p.calls++
	if p.listErr != nil {
		return nil, false, p.listErr
	}
	pages := p.pages[game]
	if page > len(pages) {
		return nil, false, nil
	}
	return pages[page-1], page < len(pages), nil
}

func (p *stubProvider) GetMatch(_ context.Context, externalID string) (ProviderMatch, error) {
	if p.getErr != nil {
		return ProviderMatch{}, p.getErr
	}
	item, ok := p.byID[externalID]
	if !ok {
		return ProviderMatch{}, fmt.Errorf("%w: match %s", ErrNotFound, externalID)
	}
	return item, nil
}

func validItem(id string) ProviderMatch {
	return ProviderMatch{
		ExternalID:     id,
		Game:           "dota2",
		TournamentName: "The International",
		StatusRaw:      "scheduled",
		ScheduledAtRaw: "2026-03-10T18:30:00Z",
		Teams: []ProviderTeam{
			{Name: "Radiant Club"},
			{Name: "Dire Gaming"},
		},
		RawJSON: `{"id":"` + id + `","scheduled_at":"2026-03-10T18:30:00Z"}`,
	}
}

func newIngestFixture(t *testing.T, provider *stubProvider) (*IngestService, *memory.MatchRepository, *memory.SyncRunRepository) {
	t.Helper()

	matches := memory.NewMatchRepository()
	runs := memory.NewSyncRunRepository()
	recorder := NewSyncRunRecorder(runs, nil, logging.NewNop())
	svc := NewIngestService(
		map[match.Source]MatchProvider{provider.source: provider},
		matches,
		recorder,
		IngestConfig{GamesBySource: map[match.Source][]string{provider.source: {"dota2"}}},
		logging.NewNop(),
	)
	return svc, matches, runs
}

func TestSyncSourceMixedBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	existing := validItem("m2")
	broken := validItem("m3")
	broken.Teams = []ProviderTeam{{Name: "Lonely Team"}}

	provider := &stubProvider{
		source: match.SourceProCircuit,
		pages: map[string][][]ProviderMatch{
			"dota2": {{validItem("m1"), existing, broken}},
		},
	}
	svc, matches, _ := newIngestFixture(t, provider)

	// Seed m2 so the batch holds one new, one update, one invalid item.
	if _, err := svc.ingestItem(ctx, match.SourceProCircuit, existing); err != nil {
		t.Fatalf("seed m2: %v", err)
	}

	run, err := svc.SyncSource(ctx, SyncSourceInput{Source: match.SourceProCircuit})
	if err != nil {
		t.Fatalf("SyncSource: %v", err)
	}

	if run.Status != syncrun.StatusCompleted {
		t.Fatalf("run status = %q, want completed", run.Status)
	}
	if run.Counts.Processed != 3 || run.Counts.Added != 1 || run.Counts.Updated != 1 || run.Counts.Failed != 1 {
		t.Fatalf("counts = %+v, want processed=3 added=1 updated=1 failed=1", run.Counts)
	}

	if _, err := matches.GetByKey(ctx, match.Key{Source: match.SourceProCircuit, ExternalMatchID: "m1"}); err != nil {
		t.Fatalf("valid new item missing: %v", err)
	}
	if _, err := matches.GetByKey(ctx, match.Key{Source: match.SourceProCircuit, ExternalMatchID: "m3"}); !errors.Is(err, match.ErrNotFound) {
		t.Fatalf("invalid item should not be stored, got err=%v", err)
	}
}

func TestSyncSourceAccumulatesCountsAcrossPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	provider := &stubProvider{
		source: match.SourceProCircuit,
		pages: map[string][][]ProviderMatch{
			"dota2": {
				{validItem("pg1"), validItem("pg2")},
				{validItem("pg3")},
			},
		},
	}
	svc, _, _ := newIngestFixture(t, provider)

	run, err := svc.SyncSource(ctx, SyncSourceInput{Source: match.SourceProCircuit})
	if err != nil {
		t.Fatalf("SyncSource: %v", err)
	}
	if run.Counts.Processed != 3 || run.Counts.Added != 3 {
		t.Fatalf("counts = %+v, want processed=3 added=3 across both pages", run.Counts)
	}
}

func TestSyncSourceReIngestionIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	provider := &stubProvider{
		source: match.SourceAmateurLeague,
		pages: map[string][][]ProviderMatch{
			"dota2": {{validItem("a1"), validItem("a2")}},
		},
	}
	svc, matches, _ := newIngestFixture(t, provider)

	first, err := svc.SyncSource(ctx, SyncSourceInput{Source: match.SourceAmateurLeague})
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first.Counts.Added != 2 {
		t.Fatalf("first sync added = %d, want 2", first.Counts.Added)
	}

	second, err := svc.SyncSource(ctx, SyncSourceInput{Source: match.SourceAmateurLeague})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.Counts.Added != 0 || second.Counts.Updated != 2 {
		t.Fatalf("second sync counts = %+v, want added=0 updated=2", second.Counts)
	}

	rows, err := matches.List(ctx, match.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("re-ingestion duplicated rows: got %d, want 2", len(rows))
	}
}

func TestSyncSourceFinalityWindowSkipsOldFinishedMatches(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	item := validItem("f1")
	item.StatusRaw = "finished"
	item.StartedAtRaw = "2026-03-01T18:00:00Z"
	item.FinishedAtRaw = "2026-03-01T19:00:00Z"

	provider := &stubProvider{
		source: match.SourceProCircuit,
		pages:  map[string][][]ProviderMatch{"dota2": {{item}}},
	}
	svc, matches, _ := newIngestFixture(t, provider)
	svc.cfg.FinalityWindow = 24 * time.Hour

	// First ingest lands right after the match finished.
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 19, 30, 0, 0, time.UTC) }
	if _, err := svc.SyncSource(ctx, SyncSourceInput{Source: match.SourceProCircuit}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	stored, err := matches.GetByKey(ctx, match.Key{Source: match.SourceProCircuit, ExternalMatchID: "f1"})
	if err != nil {
		t.Fatalf("get stored: %v", err)
	}
	versionAfterFirst := stored.Version

	// A week later the source re-sends the match with mutated data.
	svc.now = func() time.Time { return time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC) }
	run, err := svc.SyncSource(ctx, SyncSourceInput{Source: match.SourceProCircuit})
	if err != nil {
		t.Fatalf("late sync: %v", err)
	}
	if run.Counts.Skipped != 1 || run.Counts.Updated != 0 {
		t.Fatalf("late sync counts = %+v, want skipped=1 updated=0", run.Counts)
	}

	after, err := matches.GetByKey(ctx, match.Key{Source: match.SourceProCircuit, ExternalMatchID: "f1"})
	if err != nil {
		t.Fatalf("get after: %v", err)
	}
	if after.Version != versionAfterFirst {
		t.Fatalf("finished match was mutated past the finality window: version %d -> %d", versionAfterFirst, after.Version)
	}
}

func TestSyncSourceFailsRunWhenProviderIsDown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	provider := &stubProvider{
		source:  match.SourceSecondaryStats,
		listErr: fmt.Errorf("%w: upstream 503", ErrDependencyUnavailable),
	}
	svc, _, runs := newIngestFixture(t, provider)

	run, err := svc.SyncSource(ctx, SyncSourceInput{Source: match.SourceSecondaryStats})
	if !errors.Is(err, ErrDependencyUnavailable) {
		t.Fatalf("err = %v, want ErrDependencyUnavailable", err)
	}
	if run.Status != syncrun.StatusFailed {
		t.Fatalf("run status = %q, want failed", run.Status)
	}

	stored, getErr := runs.GetByRunID(ctx, run.RunID)
	if getErr != nil {
		t.Fatalf("run row missing: %v", getErr)
	}
	if stored.Status != syncrun.StatusFailed {
		t.Fatalf("stored run status = %q, want failed", stored.Status)
	}
}

func TestSyncSourceRejectsUnknownSource(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{source: match.SourceProCircuit}
	svc, _, _ := newIngestFixture(t, provider)

	if _, err := svc.SyncSource(context.Background(), SyncSourceInput{Source: "espn"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.SyncSource(context.Background(), SyncSourceInput{Source: match.SourceAmateurLeague}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("disabled source err = %v, want ErrInvalidInput", err)
	}
}

func TestSyncMatchRefreshesSingleRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	item := validItem("p9")
	item.StatusRaw = "running"
	item.StartedAtRaw = "2026-03-10T18:35:00Z"

	provider := &stubProvider{
		source: match.SourceProCircuit,
		byID:   map[string]ProviderMatch{"p9": item},
	}
	svc, matches, _ := newIngestFixture(t, provider)

	run, err := svc.SyncMatch(ctx, match.SourceProCircuit, "p9")
	if err != nil {
		t.Fatalf("SyncMatch: %v", err)
	}
	if run.SyncType != "match:pro_circuit" {
		t.Fatalf("sync type = %q", run.SyncType)
	}
	if run.Counts.Processed != 1 || run.Counts.Added != 1 {
		t.Fatalf("counts = %+v, want processed=1 added=1", run.Counts)
	}

	stored, err := matches.GetByKey(ctx, match.Key{Source: match.SourceProCircuit, ExternalMatchID: "p9"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.StartedAt == nil {
		t.Fatal("started_at not normalized")
	}
	if got := stored.State(time.Date(2026, 3, 10, 18, 40, 0, 0, time.UTC)); got != match.StateLive {
		t.Fatalf("state = %q, want live", got)
	}
}

func TestSyncAllIsolatesSourceFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	healthy := &stubProvider{
		source: match.SourceAmateurLeague,
		pages:  map[string][][]ProviderMatch{"dota2": {{validItem("ok1")}}},
	}
	broken := &stubProvider{
		source:  match.SourceSecondaryStats,
		listErr: fmt.Errorf("%w: connection refused", ErrDependencyUnavailable),
	}

	matches := memory.NewMatchRepository()
	runs := memory.NewSyncRunRepository()
	recorder := NewSyncRunRecorder(runs, nil, logging.NewNop())
	svc := NewIngestService(
		map[match.Source]MatchProvider{
			healthy.source: healthy,
			broken.source:  broken,
		},
		matches,
		recorder,
		IngestConfig{GamesBySource: map[match.Source][]string{
			healthy.source: {"dota2"},
			broken.source:  {"dota2"},
		}},
		logging.NewNop(),
	)

	results, err := svc.SyncAll(ctx)
	if !errors.Is(err, ErrDependencyUnavailable) {
		t.Fatalf("err = %v, want ErrDependencyUnavailable", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d runs, want 2", len(results))
	}

	if _, getErr := matches.GetByKey(ctx, match.Key{Source: match.SourceAmateurLeague, ExternalMatchID: "ok1"}); getErr != nil {
		t.Fatalf("healthy source should have ingested despite the broken one: %v", getErr)
	}
}

func TestIngestOrderingViolationIsKeptNotDropped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	item := validItem("w1")
	item.StartedAtRaw = "2026-03-10T19:00:00Z"
	item.FinishedAtRaw = "2026-03-10T18:00:00Z"

	provider := &stubProvider{
		source: match.SourceSecondaryStats,
		pages:  map[string][][]ProviderMatch{"dota2": {{item}}},
	}
	svc, matches, _ := newIngestFixture(t, provider)

	run, err := svc.SyncSource(ctx, SyncSourceInput{Source: match.SourceSecondaryStats})
	if err != nil {
		t.Fatalf("SyncSource: %v", err)
	}
	if run.Counts.Failed != 0 {
		t.Fatalf("ordering violation must not count as failure: %+v", run.Counts)
	}

	stored, err := matches.GetByKey(ctx, match.Key{Source: match.SourceSecondaryStats, ExternalMatchID: "w1"})
	if err != nil {
		t.Fatalf("record dropped on ordering violation: %v", err)
	}
	if stored.StartedAt == nil || stored.FinishedAt == nil {
		t.Fatal("both timestamps should be kept")
	}
}
