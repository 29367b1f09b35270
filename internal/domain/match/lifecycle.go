package match

import (
	"strings"
	"time"
)

// LifecycleState is derived from provider status and timestamps, never stored
// as a source of truth.
type LifecycleState string

const (
	StateUpcoming LifecycleState = "upcoming"
	StateLive     LifecycleState = "live"
	StateFinished LifecycleState = "finished"
)

// NormalizeStatus lowercases and collapses separator noise so the three
// provider vocabularies compare equal where they mean the same thing.
func NormalizeStatus(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

func IsFinishedStatus(raw string) bool {
	switch NormalizeStatus(raw) {
	case "finished", "completed", "complete", "ended", "closed",
		"cancelled", "canceled", "aborted", "forfeited", "postponed_final":
		return true
	default:
		return false
	}
}

func IsLiveStatus(raw string) bool {
	switch NormalizeStatus(raw) {
	case "live", "ongoing", "running", "started", "in_progress", "inprogress", "playing":
		return true
	default:
		return false
	}
}

func IsUpcomingStatus(raw string) bool {
	switch NormalizeStatus(raw) {
	case "upcoming", "scheduled", "not_started", "notstarted", "pending", "created":
		return true
	default:
		return false
	}
}

// Categorize derives the lifecycle state for one record. It is a pure
// function of its inputs; callers pass the clock explicitly.
//
// Precedence: a finished timestamp or terminal status wins, then a started
// timestamp or live status, then the recognized upcoming vocabulary. An
// unrecognized status falls back to the schedule heuristic: a match whose
// scheduled time has passed is assumed live rather than upcoming, because
// providers routinely lag their status field behind the real world.
func Categorize(statusRaw string, scheduledAt, startedAt, finishedAt *time.Time, now time.Time) LifecycleState {
	if finishedAt != nil || IsFinishedStatus(statusRaw) {
		return StateFinished
	}
	if startedAt != nil || IsLiveStatus(statusRaw) {
		return StateLive
	}
	if IsUpcomingStatus(statusRaw) {
		if scheduledAt != nil && !scheduledAt.After(now) {
			return StateLive
		}
		return StateUpcoming
	}
	if scheduledAt != nil && !scheduledAt.After(now) {
		return StateLive
	}
	return StateUpcoming
}

// State derives the lifecycle state of m at the given instant.
func (m Match) State(now time.Time) LifecycleState {
	return Categorize(m.StatusRaw, m.ScheduledAt, m.StartedAt, m.FinishedAt, now)
}

// HeuristicLive reports whether the record counts as live only because of
// the past-schedule fallback, with no provider signal backing it. The
// scheduler uses this to stop polling records stuck in that state.
func (m Match) HeuristicLive(now time.Time) bool {
	if m.State(now) != StateLive {
		return false
	}
	return m.StartedAt == nil && !IsLiveStatus(m.StatusRaw)
}

func ParseState(raw string) (LifecycleState, bool) {
	switch LifecycleState(strings.ToLower(strings.TrimSpace(raw))) {
	case StateUpcoming, StateLive, StateFinished:
		return LifecycleState(strings.ToLower(strings.TrimSpace(raw))), true
	default:
		return "", false
	}
}
