package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arenalytics/matchsync/internal/domain/match"
	"github.com/arenalytics/matchsync/internal/platform/timeparse"
)

// MatchRepository is an in-memory match.Repository for tests and DB-less
// local runs. Semantics mirror the postgres implementation, including the
// monotonic last-writer-wins upsert.
type MatchRepository struct {
	mu      sync.RWMutex
	records map[match.Key]match.Match
}

func NewMatchRepository() *MatchRepository {
	return &MatchRepository{records: make(map[match.Key]match.Match)}
}

func (r *MatchRepository) Upsert(_ context.Context, m match.Match) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := m.Key()
	existing, ok := r.records[key]
	if !ok {
		m.Version = 1
		if m.CreatedAt.IsZero() {
			m.CreatedAt = m.UpdatedAt
		}
		r.records[key] = m
		return true, nil
	}

	// Stale write: keep the newer row untouched.
	if m.UpdatedAt.Before(existing.UpdatedAt) {
		return false, nil
	}

	m.Version = existing.Version + 1
	m.CreatedAt = existing.CreatedAt
	r.records[key] = m
	return false, nil
}

func (r *MatchRepository) GetByKey(_ context.Context, key match.Key) (match.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.records[key]
	if !ok {
		return match.Match{}, match.ErrNotFound
	}
	return m, nil
}

func (r *MatchRepository) List(_ context.Context, filter match.ListFilter) ([]match.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]match.Match, 0, len(r.records))
	for _, m := range r.records {
		if filter.Source != "" && m.Source != filter.Source {
			continue
		}
		if filter.Game != "" && m.Game != filter.Game {
			continue
		}
		if filter.From != nil && (m.ScheduledAt == nil || m.ScheduledAt.Before(*filter.From)) {
			continue
		}
		if filter.To != nil && (m.ScheduledAt == nil || m.ScheduledAt.After(*filter.To)) {
			continue
		}
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool {
		left, right := out[i], out[j]
		if left.ScheduledAt == nil || right.ScheduledAt == nil {
			if (left.ScheduledAt == nil) != (right.ScheduledAt == nil) {
				return right.ScheduledAt == nil
			}
			return left.ExternalMatchID < right.ExternalMatchID
		}
		if !left.ScheduledAt.Equal(*right.ScheduledAt) {
			return left.ScheduledAt.Before(*right.ScheduledAt)
		}
		return left.ExternalMatchID < right.ExternalMatchID
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MatchRepository) ListNeedingLiveSync(_ context.Context, from, to time.Time) ([]match.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]match.Match, 0)
	for _, m := range r.records {
		inWindow := m.ScheduledAt != nil &&
			!m.ScheduledAt.Before(from) && !m.ScheduledAt.After(to)
		inFlight := m.StartedAt != nil && m.FinishedAt == nil
		if inWindow || inFlight {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalMatchID < out[j].ExternalMatchID })
	return out, nil
}

func (r *MatchRepository) ListEpochSentinel(_ context.Context, limit int) ([]match.Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]match.Match, 0)
	for _, m := range r.records {
		if timeparse.IsEpochSentinel(m.ScheduledAt) ||
			timeparse.IsEpochSentinel(m.StartedAt) ||
			timeparse.IsEpochSentinel(m.FinishedAt) ||
			timeparse.IsEpochSentinel(m.ConfiguredAt) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalMatchID < out[j].ExternalMatchID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MatchRepository) UpdateTimestamps(_ context.Context, key match.Key, patch match.TimestampPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.records[key]
	if !ok {
		return match.ErrNotFound
	}

	if patch.SetScheduledAt {
		m.ScheduledAt = patch.ScheduledAt
	}
	if patch.SetStartedAt {
		m.StartedAt = patch.StartedAt
	}
	if patch.SetFinishedAt {
		m.FinishedAt = patch.FinishedAt
	}
	if patch.SetConfiguredAt {
		m.ConfiguredAt = patch.ConfiguredAt
	}
	m.Version++
	r.records[key] = m
	return nil
}
