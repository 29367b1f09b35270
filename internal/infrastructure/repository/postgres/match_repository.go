package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/arenalytics/matchsync/internal/domain/match"
	qb "github.com/arenalytics/matchsync/internal/platform/querybuilder"
)

// Conflict target matches the unique index on (source, external_match_id).
// The DO UPDATE guard drops writes older than the stored row, so replays
// and out-of-order pages never roll a match backwards.
const matchUpsertSuffix = `ON CONFLICT (source, external_match_id) DO UPDATE SET
	game = EXCLUDED.game,
	title = EXCLUDED.title,
	tournament_name = EXCLUDED.tournament_name,
	tournament_type = EXCLUDED.tournament_type,
	organizer = EXCLUDED.organizer,
	teams = EXCLUDED.teams,
	status_raw = EXCLUDED.status_raw,
	scheduled_at = EXCLUDED.scheduled_at,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at,
	configured_at = EXCLUDED.configured_at,
	raw_payload = EXCLUDED.raw_payload,
	updated_at = EXCLUDED.updated_at,
	version = matches.version + 1
WHERE EXCLUDED.updated_at >= matches.updated_at
RETURNING (xmax = 0) AS created`

type MatchRepository struct {
	db *sqlx.DB
}

func NewMatchRepository(db *sqlx.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

func (r *MatchRepository) Upsert(ctx context.Context, m match.Match) (bool, error) {
	model, err := matchToInsertModel(m)
	if err != nil {
		return false, fmt.Errorf("map match for upsert: %w", err)
	}

	query, args, err := qb.InsertModel("matches", model, matchUpsertSuffix)
	if err != nil {
		return false, fmt.Errorf("build upsert match query: %w", err)
	}

	var created bool
	if err := r.db.GetContext(ctx, &created, query, args...); err != nil {
		// The guarded DO UPDATE returns no row for a stale write. The
		// stored match is newer, so there is nothing to report.
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("upsert match %s/%s: %w", m.Source, m.ExternalMatchID, err)
	}
	return created, nil
}

func (r *MatchRepository) GetByKey(ctx context.Context, key match.Key) (match.Match, error) {
	query, args, err := qb.Select("*").From("matches").
		Where(
			qb.Eq("source", string(key.Source)),
			qb.Eq("external_match_id", key.ExternalMatchID),
		).
		ToSQL()
	if err != nil {
		return match.Match{}, fmt.Errorf("build select match query: %w", err)
	}

	var row matchTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return match.Match{}, match.ErrNotFound
		}
		return match.Match{}, fmt.Errorf("select match %s/%s: %w", key.Source, key.ExternalMatchID, err)
	}
	return matchFromTableModel(row)
}

func (r *MatchRepository) List(ctx context.Context, filter match.ListFilter) ([]match.Match, error) {
	builder := qb.Select("*").From("matches")
	if filter.Source != "" {
		builder = builder.Where(qb.Eq("source", string(filter.Source)))
	}
	if filter.Game != "" {
		builder = builder.Where(qb.Eq("game", filter.Game))
	}
	if filter.From != nil {
		builder = builder.Where(qb.Expr("scheduled_at >= ?", filter.From.UTC()))
	}
	if filter.To != nil {
		builder = builder.Where(qb.Expr("scheduled_at <= ?", filter.To.UTC()))
	}
	builder = builder.OrderBy("scheduled_at ASC NULLS LAST", "external_match_id ASC")
	if filter.Limit > 0 {
		builder = builder.Limit(filter.Limit)
	}

	query, args, err := builder.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list matches query: %w", err)
	}
	return r.selectMatches(ctx, query, args, "list matches")
}

func (r *MatchRepository) ListNeedingLiveSync(ctx context.Context, from, to time.Time) ([]match.Match, error) {
	query, args, err := qb.Select("*").From("matches").
		Where(qb.Expr(
			"((scheduled_at >= ? AND scheduled_at <= ?) OR (started_at IS NOT NULL AND finished_at IS NULL))",
			from.UTC(), to.UTC(),
		)).
		OrderBy("external_match_id ASC").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list matches needing live sync query: %w", err)
	}
	return r.selectMatches(ctx, query, args, "list matches needing live sync")
}

func (r *MatchRepository) ListEpochSentinel(ctx context.Context, limit int) ([]match.Match, error) {
	builder := qb.Select("*").From("matches").
		Where(qb.Expr(
			"(scheduled_at < TIMESTAMPTZ '1971-01-01' OR started_at < TIMESTAMPTZ '1971-01-01' OR finished_at < TIMESTAMPTZ '1971-01-01' OR configured_at < TIMESTAMPTZ '1971-01-01')",
		)).
		OrderBy("external_match_id ASC")
	if limit > 0 {
		builder = builder.Limit(limit)
	}

	query, args, err := builder.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list epoch sentinel matches query: %w", err)
	}
	return r.selectMatches(ctx, query, args, "list epoch sentinel matches")
}

func (r *MatchRepository) UpdateTimestamps(ctx context.Context, key match.Key, patch match.TimestampPatch) error {
	if patch.Empty() {
		return nil
	}

	builder := qb.Update("matches")
	if patch.SetScheduledAt {
		builder = builder.Set("scheduled_at", patch.ScheduledAt)
	}
	if patch.SetStartedAt {
		builder = builder.Set("started_at", patch.StartedAt)
	}
	if patch.SetFinishedAt {
		builder = builder.Set("finished_at", patch.FinishedAt)
	}
	if patch.SetConfiguredAt {
		builder = builder.Set("configured_at", patch.ConfiguredAt)
	}
	builder = builder.
		SetExpr("version", "version + 1").
		Where(
			qb.Eq("source", string(key.Source)),
			qb.Eq("external_match_id", key.ExternalMatchID),
		)

	query, args, err := builder.ToSQL()
	if err != nil {
		return fmt.Errorf("build update match timestamps query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update match timestamps %s/%s: %w", key.Source, key.ExternalMatchID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update match timestamps rows affected: %w", err)
	}
	if affected == 0 {
		return match.ErrNotFound
	}
	return nil
}

func (r *MatchRepository) selectMatches(ctx context.Context, query string, args []any, op string) ([]match.Match, error) {
	var rows []matchTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]match.Match, 0, len(rows))
	for _, row := range rows {
		m, err := matchFromTableModel(row)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, m)
	}
	return out, nil
}
