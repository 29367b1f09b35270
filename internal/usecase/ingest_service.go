package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/arenalytics/matchsync/internal/domain/match"
	"github.com/arenalytics/matchsync/internal/domain/syncrun"
	"github.com/arenalytics/matchsync/internal/platform/logging"
	"github.com/arenalytics/matchsync/internal/platform/timeparse"
)

const (
	defaultMaxPages       = 20
	defaultFinalityWindow = 24 * time.Hour
)

// IngestConfig tunes one ingest service instance.
type IngestConfig struct {
	// GamesBySource lists the game tags to page through per source.
	GamesBySource map[match.Source][]string
	// MaxPages caps pagination per game as a runaway guard.
	MaxPages int
	// FinalityWindow is how long after finishing a match keeps accepting
	// source updates. Older finished matches are immutable history.
	FinalityWindow time.Duration
}

func (c IngestConfig) maxPages() int {
	if c.MaxPages > 0 {
		return c.MaxPages
	}
	return defaultMaxPages
}

func (c IngestConfig) finalityWindow() time.Duration {
	if c.FinalityWindow > 0 {
		return c.FinalityWindow
	}
	return defaultFinalityWindow
}

// IngestService pulls provider data and upserts canonical match records.
// Failures are isolated per item: one malformed match never aborts the
// batch it arrived in.
type IngestService struct {
	providers map[match.Source]MatchProvider
	matches   match.Repository
	recorder  *SyncRunRecorder
	cfg       IngestConfig
	logger    *logging.Logger
	now       func() time.Time
}

func NewIngestService(
	providers map[match.Source]MatchProvider,
	matches match.Repository,
	recorder *SyncRunRecorder,
	cfg IngestConfig,
	logger *logging.Logger,
) *IngestService {
	if logger == nil {
		logger = logging.Default()
	}
	return &IngestService{
		providers: providers,
		matches:   matches,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SyncSourceInput selects what one source sync pass covers. Games and
// MaxPages fall back to the service configuration when zero.
type SyncSourceInput struct {
	Source   match.Source
	Games    []string
	MaxPages int
}

// SyncSource pages through every requested game for one source and ingests
// each item, recorded as a single sync run. A page-level provider failure
// stops that game's pagination; the run still resolves with the counts of
// what actually happened, failing outright only when nothing was processed.
func (s *IngestService) SyncSource(ctx context.Context, input SyncSourceInput) (syncrun.SyncRun, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.IngestService.SyncSource")
	defer span.End()

	provider, err := s.provider(input.Source)
	if err != nil {
		return syncrun.SyncRun{}, err
	}

	games := input.Games
	if len(games) == 0 {
		games = s.cfg.GamesBySource[input.Source]
	}
	if len(games) == 0 {
		return syncrun.SyncRun{}, fmt.Errorf("%w: no games configured for source %q", ErrInvalidInput, input.Source)
	}
	maxPages := input.MaxPages
	if maxPages <= 0 {
		maxPages = s.cfg.maxPages()
	}

	return s.recorder.Track(ctx, "source:"+string(input.Source), func(ctx context.Context) (syncrun.Counts, error) {
		var counts syncrun.Counts
		var pageErr error

		for _, game := range games {
			if err := s.syncGame(ctx, provider, game, maxPages, &counts); err != nil {
				pageErr = err
				s.logger.WarnContext(ctx, "source pagination aborted",
					"source", input.Source,
					"game", game,
					"error", err,
				)
			}
			if ctx.Err() != nil {
				return counts, ctx.Err()
			}
		}

		if counts.Processed == 0 && pageErr != nil {
			return counts, pageErr
		}
		return counts, nil
	})
}

func (s *IngestService) syncGame(ctx context.Context, provider MatchProvider, game string, maxPages int, counts *syncrun.Counts) error {
	source := provider.Source()
	for page := 1; page <= maxPages; page++ {
		items, hasMore, err := provider.ListMatches(ctx, game, page)
		if err != nil {
			return fmt.Errorf("list %s matches page %d: %w", game, page, err)
		}

		for _, item := range items {
			counts.Processed++
			outcome, itemErr := s.ingestItem(ctx, source, item)
			if itemErr != nil {
				counts.Failed++
				s.logger.WarnContext(ctx, "match ingestion failed",
					"source", source,
					"external_match_id", item.ExternalID,
					"game", game,
					"error", itemErr,
				)
				continue
			}
			applyOutcome(counts, outcome)
		}

		if !hasMore {
			return nil
		}
	}
	return nil
}

// SyncMatch refreshes a single match, recorded as its own run. Provisioned
// live-sync jobs call this through the internal job endpoint.
func (s *IngestService) SyncMatch(ctx context.Context, source match.Source, externalID string) (syncrun.SyncRun, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.IngestService.SyncMatch")
	defer span.End()

	provider, err := s.provider(source)
	if err != nil {
		return syncrun.SyncRun{}, err
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return syncrun.SyncRun{}, fmt.Errorf("%w: external match id is required", ErrInvalidInput)
	}

	return s.recorder.Track(ctx, "match:"+string(source), func(ctx context.Context) (syncrun.Counts, error) {
		var counts syncrun.Counts

		item, err := provider.GetMatch(ctx, externalID)
		if err != nil {
			return counts, fmt.Errorf("fetch match %s: %w", externalID, err)
		}

		counts.Processed++
		outcome, err := s.ingestItem(ctx, source, item)
		if err != nil {
			counts.Failed++
			return counts, err
		}
		applyOutcome(&counts, outcome)
		return counts, nil
	})
}

// SyncAll fans out one SyncSource per configured provider. Each source gets
// its own run; one source failing never blocks the others.
func (s *IngestService) SyncAll(ctx context.Context) ([]syncrun.SyncRun, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.IngestService.SyncAll")
	defer span.End()

	sources := make([]match.Source, 0, len(s.providers))
	for source := range s.providers {
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	var mu sync.Mutex
	runs := make([]syncrun.SyncRun, 0, len(sources))

	p := pool.New().WithErrors().WithContext(ctx)
	for _, source := range sources {
		p.Go(func(ctx context.Context) error {
			run, err := s.SyncSource(ctx, SyncSourceInput{Source: source})
			mu.Lock()
			if run.RunID != "" {
				runs = append(runs, run)
			}
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("source %s: %w", source, err)
			}
			return nil
		})
	}
	err := p.Wait()

	sort.Slice(runs, func(i, j int) bool { return runs[i].SyncType < runs[j].SyncType })
	return runs, err
}

type ingestOutcome int

const (
	outcomeAdded ingestOutcome = iota
	outcomeUpdated
	outcomeSkipped
)

func applyOutcome(counts *syncrun.Counts, outcome ingestOutcome) {
	switch outcome {
	case outcomeAdded:
		counts.Added++
	case outcomeUpdated:
		counts.Updated++
	case outcomeSkipped:
		counts.Skipped++
	}
}

func (s *IngestService) ingestItem(ctx context.Context, source match.Source, item ProviderMatch) (ingestOutcome, error) {
	if err := validateProviderMatch(item); err != nil {
		return 0, err
	}

	now := s.now().UTC()
	scheduledAt := timeparse.Normalize(item.ScheduledAtRaw)
	startedAt := timeparse.Normalize(item.StartedAtRaw)
	finishedAt := timeparse.Normalize(item.FinishedAtRaw)
	configuredAt := timeparse.Normalize(item.ConfiguredAtRaw)

	if timeparse.OrderingViolation(startedAt, finishedAt) {
		// Flag and keep: ordering noise is a provider quirk, not bad data.
		s.logger.WarnContext(ctx, "match timestamp ordering violation",
			"source", source,
			"external_match_id", item.ExternalID,
			"started_at", startedAt,
			"finished_at", finishedAt,
		)
	}

	key := match.Key{Source: source, ExternalMatchID: item.ExternalID}
	existing, err := s.matches.GetByKey(ctx, key)
	switch {
	case err == nil:
		if s.isImmutable(existing, now) {
			return outcomeSkipped, nil
		}
	case errors.Is(err, match.ErrNotFound):
		// First sighting.
	default:
		return 0, fmt.Errorf("load existing match: %w", err)
	}

	record := match.Match{
		Source:          source,
		ExternalMatchID: item.ExternalID,
		Game:            strings.TrimSpace(item.Game),
		Title:           matchTitle(item),
		TournamentName:  strings.TrimSpace(item.TournamentName),
		TournamentType:  strings.TrimSpace(item.TournamentType),
		Organizer:       strings.TrimSpace(item.Organizer),
		Teams:           mapTeams(item.Teams),
		StatusRaw:       strings.TrimSpace(item.StatusRaw),
		ScheduledAt:     scheduledAt,
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
		ConfiguredAt:    configuredAt,
		RawPayload:      item.RawJSON,
		UpdatedAt:       now,
	}

	created, err := s.matches.Upsert(ctx, record)
	if err != nil {
		return 0, fmt.Errorf("upsert match: %w", err)
	}
	if created {
		return outcomeAdded, nil
	}
	return outcomeUpdated, nil
}

// isImmutable applies the finality window: a match that has been finished
// for longer than the window stops accepting source updates.
func (s *IngestService) isImmutable(existing match.Match, now time.Time) bool {
	if existing.State(now) != match.StateFinished {
		return false
	}
	finishedMark := existing.UpdatedAt
	if existing.FinishedAt != nil {
		finishedMark = *existing.FinishedAt
	}
	return now.Sub(finishedMark) > s.cfg.finalityWindow()
}

func (s *IngestService) provider(source match.Source) (MatchProvider, error) {
	if _, ok := match.ParseSource(string(source)); !ok {
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidInput, source)
	}
	provider, ok := s.providers[source]
	if !ok {
		return nil, fmt.Errorf("%w: source %q is not enabled", ErrInvalidInput, source)
	}
	return provider, nil
}

func validateProviderMatch(item ProviderMatch) error {
	if strings.TrimSpace(item.ExternalID) == "" {
		return fmt.Errorf("%w: external match id is required", ErrInvalidInput)
	}
	if len(item.Teams) != 2 {
		return fmt.Errorf("%w: expected 2 teams, got %d", ErrInvalidInput, len(item.Teams))
	}
	for i, team := range item.Teams {
		if strings.TrimSpace(team.Name) == "" {
			return fmt.Errorf("%w: team %d has no name", ErrInvalidInput, i)
		}
	}
	return nil
}

func matchTitle(item ProviderMatch) string {
	if title := strings.TrimSpace(item.Title); title != "" {
		return title
	}
	if len(item.Teams) == 2 {
		return strings.TrimSpace(item.Teams[0].Name) + " vs " + strings.TrimSpace(item.Teams[1].Name)
	}
	return ""
}

func mapTeams(teams []ProviderTeam) []match.Team {
	out := make([]match.Team, 0, len(teams))
	for _, team := range teams {
		mapped := match.Team{
			Name:    strings.TrimSpace(team.Name),
			LogoURL: strings.TrimSpace(team.LogoURL),
		}
		for _, player := range team.Roster {
			mapped.Roster = append(mapped.Roster, match.Player{
				Name:     strings.TrimSpace(player.Name),
				Nickname: strings.TrimSpace(player.Nickname),
				Role:     strings.TrimSpace(player.Role),
			})
		}
		out = append(out, mapped)
	}
	return out
}
