package match

import "time"

// Source identifies the upstream provider a match record came from.
type Source string

const (
	SourceAmateurLeague  Source = "amateur_league"
	SourceProCircuit     Source = "pro_circuit"
	SourceSecondaryStats Source = "secondary_stats"
)

// KnownSources lists every source the pipeline can ingest from.
var KnownSources = []Source{SourceAmateurLeague, SourceProCircuit, SourceSecondaryStats}

func ParseSource(raw string) (Source, bool) {
	switch Source(raw) {
	case SourceAmateurLeague, SourceProCircuit, SourceSecondaryStats:
		return Source(raw), true
	default:
		return "", false
	}
}

// Player is a roster entry as reported by the provider.
type Player struct {
	Name     string `json:"name"`
	Nickname string `json:"nickname,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Team is one side of a match. A valid match has exactly two named teams.
type Team struct {
	Name    string   `json:"name"`
	LogoURL string   `json:"logoUrl,omitempty"`
	Roster  []Player `json:"roster,omitempty"`
}

// Match is the canonical record, identified by (Source, ExternalMatchID).
// Lifecycle state is never stored here; callers derive it with Categorize.
type Match struct {
	Source          Source
	ExternalMatchID string
	Game            string
	Title           string
	TournamentName  string
	TournamentType  string
	Organizer       string
	Teams           []Team
	StatusRaw       string
	ScheduledAt     *time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	ConfiguredAt    *time.Time
	RawPayload      string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Key is the canonical identity of a match across sync passes.
type Key struct {
	Source          Source
	ExternalMatchID string
}

func (m Match) Key() Key {
	return Key{Source: m.Source, ExternalMatchID: m.ExternalMatchID}
}

// TimestampPatch carries a partial repair write. Nil pointers on set fields
// are meaningful: they clear a value that could not be re-derived.
type TimestampPatch struct {
	ScheduledAt     *time.Time
	SetScheduledAt  bool
	StartedAt       *time.Time
	SetStartedAt    bool
	FinishedAt      *time.Time
	SetFinishedAt   bool
	ConfiguredAt    *time.Time
	SetConfiguredAt bool
}

func (p TimestampPatch) Empty() bool {
	return !p.SetScheduledAt && !p.SetStartedAt && !p.SetFinishedAt && !p.SetConfiguredAt
}
