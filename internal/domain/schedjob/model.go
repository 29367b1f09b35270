package schedjob

import (
	"regexp"
	"strings"
	"time"

	"github.com/arenalytics/matchsync/internal/domain/match"
)

var jobKeySanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// JobKey derives the deterministic identity of a live-sync job for one
// match. The same match always yields the same key, which is what makes
// provisioning idempotent across reconcile passes.
func JobKey(source match.Source, externalMatchID string) string {
	return "live-sync-" + sanitizeKeySegment(string(source)) + "-" + sanitizeKeySegment(externalMatchID)
}

func sanitizeKeySegment(segment string) string {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return "unknown"
	}
	return jobKeySanitizeRegex.ReplaceAllString(segment, "-")
}

// ScheduledJob tracks one provisioned live-sync schedule.
type ScheduledJob struct {
	JobKey          string
	Source          match.Source
	ExternalMatchID string
	// ScheduleID is the trigger backend's handle for the schedule. Empty when
	// the backend does not hand one out.
	ScheduleID string
	CreatedAt  time.Time
}

func New(source match.Source, externalMatchID string, now time.Time) ScheduledJob {
	return ScheduledJob{
		JobKey:          JobKey(source, externalMatchID),
		Source:          source,
		ExternalMatchID: externalMatchID,
		CreatedAt:       now,
	}
}
