// Package timeparse normalizes the timestamp formats the upstream providers
// emit into UTC instants. Anything that cannot be read as a real point in
// time comes back nil rather than collapsing to the 1970 epoch.
package timeparse

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// maxUnixSeconds caps numeric inputs at year 3000. Values past it are
// provider garbage (often milliseconds leaking into a seconds field).
const maxUnixSeconds = 32503680000

var epochSentinelCutoff = time.Date(1971, time.January, 1, 0, 0, 0, 0, time.UTC)

// Normalize converts a raw provider timestamp into a UTC instant. Supported
// inputs: ISO-family strings, Unix seconds as numbers, and Unix seconds as
// digit strings. Zero, negative, out-of-range, and unparsable values
// normalize to nil. It never panics and never errors.
func Normalize(raw any) *time.Time {
	switch v := raw.(type) {
	case nil:
		return nil
	case time.Time:
		return fromTime(v)
	case *time.Time:
		if v == nil {
			return nil
		}
		return fromTime(*v)
	case string:
		return fromString(v)
	case json.Number:
		return fromString(v.String())
	case float64:
		return fromUnixSeconds(int64(v))
	case float32:
		return fromUnixSeconds(int64(v))
	case int64:
		return fromUnixSeconds(v)
	case int:
		return fromUnixSeconds(int64(v))
	case int32:
		return fromUnixSeconds(int64(v))
	case uint64:
		if v > maxUnixSeconds {
			return nil
		}
		return fromUnixSeconds(int64(v))
	default:
		return nil
	}
}

func fromTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	if utc.Before(epochSentinelCutoff) {
		return nil
	}
	return &utc
}

func fromString(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	for _, layout := range isoLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return fromTime(parsed)
		}
	}

	// Secondary-Stats ships Unix seconds as quoted digit strings.
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return fromUnixSeconds(seconds)
	}

	return nil
}

func fromUnixSeconds(seconds int64) *time.Time {
	if seconds <= 0 || seconds > maxUnixSeconds {
		return nil
	}
	t := time.Unix(seconds, 0).UTC()
	if t.Before(epochSentinelCutoff) {
		return nil
	}
	return &t
}

// IsEpochSentinel reports whether a stored timestamp is a 1970-epoch
// artifact from a historical normalization bug.
func IsEpochSentinel(t *time.Time) bool {
	if t == nil {
		return false
	}
	return t.Before(epochSentinelCutoff)
}

// OrderingViolation reports a finish time earlier than the start time.
// Callers flag and keep the record; ordering noise is a provider quirk,
// not a reason to drop data.
func OrderingViolation(startedAt, finishedAt *time.Time) bool {
	if startedAt == nil || finishedAt == nil {
		return false
	}
	return finishedAt.Before(*startedAt)
}
