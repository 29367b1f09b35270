package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arenalytics/matchsync/internal/domain/match"
	"github.com/arenalytics/matchsync/internal/domain/syncrun"
	"github.com/arenalytics/matchsync/internal/usecase"
)

func (h *Handler) ListMatches(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListMatches")
	defer span.End()

	query, err := parseMatchQuery(r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	views, err := h.queryService.ListMatches(ctx, query)
	if err != nil {
		h.logger.WarnContext(ctx, "list matches failed", "source", query.Source, "game", query.Game, "error", err)
		writeError(ctx, w, err)
		return
	}

	items := make([]matchDTO, 0, len(views))
	for _, view := range views {
		items = append(items, matchToDTO(view))
	}
	writeSuccess(ctx, w, http.StatusOK, items)
}

func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetMatch")
	defer span.End()

	source := match.Source(strings.TrimSpace(r.PathValue("source")))
	externalID := r.PathValue("externalMatchID")

	view, err := h.queryService.GetMatch(ctx, source, externalID)
	if err != nil {
		h.logger.WarnContext(ctx, "get match failed", "source", source, "external_match_id", externalID, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, matchToDTO(view))
}

func (h *Handler) GetLatestSyncRun(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.GetLatestSyncRun")
	defer span.End()

	syncType := strings.TrimSpace(r.URL.Query().Get("sync_type"))
	run, err := h.queryService.LatestSyncRun(ctx, syncType)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, syncRunToDTO(run))
}

func (h *Handler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.ListSyncRuns")
	defer span.End()

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(ctx, w, fmt.Errorf("%w: invalid limit %q", usecase.ErrInvalidInput, raw))
			return
		}
		limit = parsed
	}

	runs, err := h.queryService.ListRecentSyncRuns(ctx, limit)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	items := make([]syncRunDTO, 0, len(runs))
	for _, run := range runs {
		items = append(items, syncRunToDTO(run))
	}
	writeSuccess(ctx, w, http.StatusOK, items)
}

func parseMatchQuery(r *http.Request) (usecase.MatchQuery, error) {
	values := r.URL.Query()
	query := usecase.MatchQuery{
		Source: match.Source(strings.TrimSpace(values.Get("source"))),
		Game:   strings.TrimSpace(values.Get("game")),
	}

	if raw := strings.TrimSpace(values.Get("state")); raw != "" {
		state, ok := match.ParseState(raw)
		if !ok {
			return usecase.MatchQuery{}, fmt.Errorf("%w: unknown state %q", usecase.ErrInvalidInput, raw)
		}
		query.State = state
	}
	if raw := strings.TrimSpace(values.Get("from")); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return usecase.MatchQuery{}, fmt.Errorf("%w: invalid from timestamp %q", usecase.ErrInvalidInput, raw)
		}
		query.From = &from
	}
	if raw := strings.TrimSpace(values.Get("to")); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return usecase.MatchQuery{}, fmt.Errorf("%w: invalid to timestamp %q", usecase.ErrInvalidInput, raw)
		}
		query.To = &to
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return usecase.MatchQuery{}, fmt.Errorf("%w: invalid limit %q", usecase.ErrInvalidInput, raw)
		}
		query.Limit = limit
	}

	return query, nil
}

type matchDTO struct {
	Source          string    `json:"source"`
	ExternalMatchID string    `json:"externalMatchId"`
	Game            string    `json:"game"`
	Title           string    `json:"title"`
	TournamentName  string    `json:"tournamentName,omitempty"`
	TournamentType  string    `json:"tournamentType,omitempty"`
	Organizer       string    `json:"organizer,omitempty"`
	Teams           []teamDTO `json:"teams"`
	State           string    `json:"state"`
	StatusRaw       string    `json:"statusRaw"`
	ScheduledAt     *string   `json:"scheduledAt"`
	StartedAt       *string   `json:"startedAt"`
	FinishedAt      *string   `json:"finishedAt"`
	ConfiguredAt    *string   `json:"configuredAt,omitempty"`
	Version         int64     `json:"version"`
	UpdatedAt       string    `json:"updatedAt"`
}

type teamDTO struct {
	Name    string      `json:"name"`
	LogoURL string      `json:"logoUrl,omitempty"`
	Roster  []playerDTO `json:"roster,omitempty"`
}

type playerDTO struct {
	Name     string `json:"name"`
	Nickname string `json:"nickname,omitempty"`
	Role     string `json:"role,omitempty"`
}

type syncRunDTO struct {
	RunID      string  `json:"runId"`
	SyncType   string  `json:"syncType"`
	Status     string  `json:"status"`
	Processed  int     `json:"processed"`
	Added      int     `json:"added"`
	Updated    int     `json:"updated"`
	Skipped    int     `json:"skipped"`
	Failed     int     `json:"failed"`
	Error      string  `json:"error,omitempty"`
	StartedAt  string  `json:"startedAt"`
	FinishedAt *string `json:"finishedAt"`
	DurationMS int64   `json:"durationMs"`
}

func matchToDTO(view usecase.MatchView) matchDTO {
	m := view.Match

	teams := make([]teamDTO, 0, len(m.Teams))
	for _, team := range m.Teams {
		dto := teamDTO{Name: team.Name, LogoURL: team.LogoURL}
		for _, player := range team.Roster {
			dto.Roster = append(dto.Roster, playerDTO{
				Name:     player.Name,
				Nickname: player.Nickname,
				Role:     player.Role,
			})
		}
		teams = append(teams, dto)
	}

	return matchDTO{
		Source:          string(m.Source),
		ExternalMatchID: m.ExternalMatchID,
		Game:            m.Game,
		Title:           m.Title,
		TournamentName:  m.TournamentName,
		TournamentType:  m.TournamentType,
		Organizer:       m.Organizer,
		Teams:           teams,
		State:           string(view.State),
		StatusRaw:       m.StatusRaw,
		ScheduledAt:     formatOptionalTime(m.ScheduledAt),
		StartedAt:       formatOptionalTime(m.StartedAt),
		FinishedAt:      formatOptionalTime(m.FinishedAt),
		ConfiguredAt:    formatOptionalTime(m.ConfiguredAt),
		Version:         m.Version,
		UpdatedAt:       m.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func syncRunToDTO(run syncrun.SyncRun) syncRunDTO {
	return syncRunDTO{
		RunID:      run.RunID,
		SyncType:   run.SyncType,
		Status:     string(run.Status),
		Processed:  run.Counts.Processed,
		Added:      run.Counts.Added,
		Updated:    run.Counts.Updated,
		Skipped:    run.Counts.Skipped,
		Failed:     run.Counts.Failed,
		Error:      run.Error,
		StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt: formatOptionalTime(run.FinishedAt),
		DurationMS: run.Duration().Milliseconds(),
	}
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}
