package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arenalytics/matchsync/internal/domain/match"
	"github.com/arenalytics/matchsync/internal/domain/syncrun"
	"github.com/arenalytics/matchsync/internal/platform/cache"
)

const (
	defaultListLimit        = 200
	defaultSyncRunListLimit = 50
)

// MatchView is a match with its lifecycle state derived at read time.
type MatchView struct {
	Match match.Match
	State match.LifecycleState
}

// MatchQuery filters ListMatches. State filtering happens after derivation
// since lifecycle is never stored.
type MatchQuery struct {
	Source match.Source
	Game   string
	State  match.LifecycleState
	From   *time.Time
	To     *time.Time
	Limit  int
}

// MatchQueryService serves the read API. Hot listings go through a short
// TTL cache; point reads and sync run lookups hit the repository directly.
type MatchQueryService struct {
	matches match.Repository
	runs    syncrun.Repository
	cache   *cache.Store
	now     func() time.Time
}

func NewMatchQueryService(matches match.Repository, runs syncrun.Repository, store *cache.Store) *MatchQueryService {
	return &MatchQueryService{
		matches: matches,
		runs:    runs,
		cache:   store,
		now:     time.Now,
	}
}

func (s *MatchQueryService) ListMatches(ctx context.Context, query MatchQuery) ([]MatchView, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.MatchQueryService.ListMatches")
	defer span.End()

	if query.Source != "" {
		if _, ok := match.ParseSource(string(query.Source)); !ok {
			return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidInput, query.Source)
		}
	}
	if query.Limit <= 0 || query.Limit > defaultListLimit {
		query.Limit = defaultListLimit
	}

	load := func(ctx context.Context) (any, error) {
		rows, err := s.matches.List(ctx, match.ListFilter{
			Source: query.Source,
			Game:   query.Game,
			From:   query.From,
			To:     query.To,
			Limit:  query.Limit,
		})
		if err != nil {
			return nil, fmt.Errorf("list matches: %w", err)
		}
		return rows, nil
	}

	var rows []match.Match
	if s.cache != nil {
		cached, err := s.cache.GetOrLoad(ctx, listCacheKey(query), load)
		if err != nil {
			return nil, err
		}
		rows, _ = cached.([]match.Match)
	} else {
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		rows, _ = loaded.([]match.Match)
	}

	now := s.now().UTC()
	views := make([]MatchView, 0, len(rows))
	for _, m := range rows {
		state := m.State(now)
		if query.State != "" && state != query.State {
			continue
		}
		views = append(views, MatchView{Match: m, State: state})
	}
	return views, nil
}

func (s *MatchQueryService) GetMatch(ctx context.Context, source match.Source, externalID string) (MatchView, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.MatchQueryService.GetMatch")
	defer span.End()

	if _, ok := match.ParseSource(string(source)); !ok {
		return MatchView{}, fmt.Errorf("%w: unknown source %q", ErrInvalidInput, source)
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return MatchView{}, fmt.Errorf("%w: external match id is required", ErrInvalidInput)
	}

	m, err := s.matches.GetByKey(ctx, match.Key{Source: source, ExternalMatchID: externalID})
	if err != nil {
		if errors.Is(err, match.ErrNotFound) {
			return MatchView{}, fmt.Errorf("%w: match %s/%s", ErrNotFound, source, externalID)
		}
		return MatchView{}, fmt.Errorf("get match: %w", err)
	}
	return MatchView{Match: m, State: m.State(s.now().UTC())}, nil
}

func (s *MatchQueryService) LatestSyncRun(ctx context.Context, syncType string) (syncrun.SyncRun, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.MatchQueryService.LatestSyncRun")
	defer span.End()

	syncType = strings.TrimSpace(syncType)
	if syncType == "" {
		return syncrun.SyncRun{}, fmt.Errorf("%w: sync type is required", ErrInvalidInput)
	}

	run, err := s.runs.LatestBySyncType(ctx, syncType)
	if err != nil {
		if errors.Is(err, syncrun.ErrNotFound) {
			return syncrun.SyncRun{}, fmt.Errorf("%w: no runs for sync type %q", ErrNotFound, syncType)
		}
		return syncrun.SyncRun{}, fmt.Errorf("latest sync run: %w", err)
	}
	return run, nil
}

func (s *MatchQueryService) ListRecentSyncRuns(ctx context.Context, limit int) ([]syncrun.SyncRun, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.MatchQueryService.ListRecentSyncRuns")
	defer span.End()

	if limit <= 0 {
		limit = defaultSyncRunListLimit
	}
	if limit > defaultListLimit {
		limit = defaultListLimit
	}
	runs, err := s.runs.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	return runs, nil
}

func listCacheKey(query MatchQuery) string {
	var b strings.Builder
	b.WriteString("matches:list:")
	b.WriteString(string(query.Source))
	b.WriteString(":")
	b.WriteString(query.Game)
	b.WriteString(":")
	if query.From != nil {
		b.WriteString(query.From.UTC().Format(time.RFC3339))
	}
	b.WriteString(":")
	if query.To != nil {
		b.WriteString(query.To.UTC().Format(time.RFC3339))
	}
	b.WriteString(fmt.Sprintf(":%d", query.Limit))
	return b.String()
}
