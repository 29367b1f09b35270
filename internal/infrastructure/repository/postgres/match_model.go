package postgres

import (
	"fmt"
	"time"

	sonic "github.com/bytedance/sonic"

	"github.com/arenalytics/matchsync/internal/domain/match"
)

type matchTableModel struct {
	ID              int64      `db:"id"`
	Source          string     `db:"source"`
	ExternalMatchID string     `db:"external_match_id"`
	Game            string     `db:"game"`
	Title           string     `db:"title"`
	TournamentName  string     `db:"tournament_name"`
	TournamentType  string     `db:"tournament_type"`
	Organizer       string     `db:"organizer"`
	Teams           []byte     `db:"teams"`
	StatusRaw       string     `db:"status_raw"`
	ScheduledAt     *time.Time `db:"scheduled_at"`
	StartedAt       *time.Time `db:"started_at"`
	FinishedAt      *time.Time `db:"finished_at"`
	ConfiguredAt    *time.Time `db:"configured_at"`
	RawPayload      string     `db:"raw_payload"`
	Version         int64      `db:"version"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

type matchInsertModel struct {
	Source          string     `db:"source"`
	ExternalMatchID string     `db:"external_match_id"`
	Game            string     `db:"game"`
	Title           string     `db:"title"`
	TournamentName  string     `db:"tournament_name"`
	TournamentType  string     `db:"tournament_type"`
	Organizer       string     `db:"organizer"`
	Teams           []byte     `db:"teams"`
	StatusRaw       string     `db:"status_raw"`
	ScheduledAt     *time.Time `db:"scheduled_at"`
	StartedAt       *time.Time `db:"started_at"`
	FinishedAt      *time.Time `db:"finished_at"`
	ConfiguredAt    *time.Time `db:"configured_at"`
	RawPayload      string     `db:"raw_payload"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

func matchToInsertModel(m match.Match) (matchInsertModel, error) {
	teams, err := sonic.Marshal(m.Teams)
	if err != nil {
		return matchInsertModel{}, fmt.Errorf("encode teams: %w", err)
	}

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = m.UpdatedAt
	}

	return matchInsertModel{
		Source:          string(m.Source),
		ExternalMatchID: m.ExternalMatchID,
		Game:            m.Game,
		Title:           m.Title,
		TournamentName:  m.TournamentName,
		TournamentType:  m.TournamentType,
		Organizer:       m.Organizer,
		Teams:           teams,
		StatusRaw:       m.StatusRaw,
		ScheduledAt:     m.ScheduledAt,
		StartedAt:       m.StartedAt,
		FinishedAt:      m.FinishedAt,
		ConfiguredAt:    m.ConfiguredAt,
		RawPayload:      m.RawPayload,
		CreatedAt:       createdAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}, nil
}

func matchFromTableModel(row matchTableModel) (match.Match, error) {
	var teams []match.Team
	if len(row.Teams) > 0 {
		if err := sonic.Unmarshal(row.Teams, &teams); err != nil {
			return match.Match{}, fmt.Errorf("decode teams for %s/%s: %w", row.Source, row.ExternalMatchID, err)
		}
	}

	return match.Match{
		Source:          match.Source(row.Source),
		ExternalMatchID: row.ExternalMatchID,
		Game:            row.Game,
		Title:           row.Title,
		TournamentName:  row.TournamentName,
		TournamentType:  row.TournamentType,
		Organizer:       row.Organizer,
		Teams:           teams,
		StatusRaw:       row.StatusRaw,
		ScheduledAt:     row.ScheduledAt,
		StartedAt:       row.StartedAt,
		FinishedAt:      row.FinishedAt,
		ConfiguredAt:    row.ConfiguredAt,
		RawPayload:      row.RawPayload,
		Version:         row.Version,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}, nil
}
