package usecase

import (
	"context"

	"github.com/arenalytics/matchsync/internal/domain/match"
)

// ProviderPlayer and ProviderTeam mirror the shape every adapter maps its
// wire format into before the ingest pipeline takes over.
type ProviderPlayer struct {
	Name     string
	Nickname string
	Role     string
}

type ProviderTeam struct {
	Name    string
	LogoURL string
	Roster  []ProviderPlayer
}

// ProviderMatch is one upstream match item in provider-neutral form.
// Timestamp fields stay raw (string, number, or nil, exactly as decoded)
// so normalization happens in one place with one rule set.
type ProviderMatch struct {
	ExternalID      string
	Game            string
	Title           string
	TournamentName  string
	TournamentType  string
	Organizer       string
	Teams           []ProviderTeam
	StatusRaw       string
	ScheduledAtRaw  any
	StartedAtRaw    any
	FinishedAtRaw   any
	ConfiguredAtRaw any
	RawJSON         string
}

// MatchProvider is the port every source adapter implements. ListMatches
// pages through one game's matches; hasMore signals another page exists.
// Adapters surface transient upstream failures as errors wrapping
// ErrDependencyUnavailable.
type MatchProvider interface {
	Source() match.Source
	ListMatches(ctx context.Context, game string, page int) (items []ProviderMatch, hasMore bool, err error)
	GetMatch(ctx context.Context, externalID string) (ProviderMatch, error)
}
