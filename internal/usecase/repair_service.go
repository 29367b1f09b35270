package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/panjf2000/ants/v2"

	"github.com/arenalytics/matchsync/internal/domain/match"
	"github.com/arenalytics/matchsync/internal/domain/syncrun"
	"github.com/arenalytics/matchsync/internal/platform/logging"
	"github.com/arenalytics/matchsync/internal/platform/timeparse"
)

const (
	defaultRepairWorkers   = 8
	defaultRepairBatchSize = 500
)

var repairJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// rawTimeFieldCandidates maps each canonical timestamp to the raw payload
// keys the three providers have shipped it under. Order matters: the first
// key that normalizes to a real instant wins.
var rawTimeFieldCandidates = map[string][]string{
	"scheduled_at":  {"scheduled_at", "begin_at", "start_time", "scheduledAt", "startTime"},
	"started_at":    {"started_at", "actual_start", "begin_at_actual", "startedAt"},
	"finished_at":   {"finished_at", "end_at", "end_time", "finishedAt", "endTime"},
	"configured_at": {"configured_at", "configuredAt"},
}

// RepairConfig tunes the timestamp repair pass.
type RepairConfig struct {
	Workers   int
	BatchSize int
}

func (c RepairConfig) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return defaultRepairWorkers
}

func (c RepairConfig) batchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	return defaultRepairBatchSize
}

// RepairService re-derives epoch-sentinel timestamps from the stored raw
// provider payload. Fields that cannot be re-derived become nil, which is
// what the original normalization should have produced. The pass is
// idempotent: a repaired or nilled field never matches the sentinel scan
// again.
type RepairService struct {
	matches  match.Repository
	recorder *SyncRunRecorder
	cfg      RepairConfig
	logger   *logging.Logger
}

func NewRepairService(matches match.Repository, recorder *SyncRunRecorder, cfg RepairConfig, logger *logging.Logger) *RepairService {
	if logger == nil {
		logger = logging.Default()
	}
	return &RepairService{
		matches:  matches,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
	}
}

// RepairTimestamps scans for sentinel rows and repairs them concurrently.
func (s *RepairService) RepairTimestamps(ctx context.Context) (syncrun.SyncRun, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.RepairService.RepairTimestamps")
	defer span.End()

	return s.recorder.Track(ctx, "repair:timestamps", func(ctx context.Context) (syncrun.Counts, error) {
		rows, err := s.matches.ListEpochSentinel(ctx, s.cfg.batchSize())
		if err != nil {
			return syncrun.Counts{}, fmt.Errorf("list sentinel matches: %w", err)
		}
		if len(rows) == 0 {
			return syncrun.Counts{}, nil
		}

		workers := s.cfg.workers()
		if workers > len(rows) {
			workers = len(rows)
		}
		pool, err := ants.NewPool(workers)
		if err != nil {
			return syncrun.Counts{}, fmt.Errorf("create repair pool: %w", err)
		}
		defer pool.Release()

		var (
			wg       sync.WaitGroup
			repaired atomic.Int64
			skipped  atomic.Int64
			failed   atomic.Int64
		)

		for _, row := range rows {
			wg.Add(1)
			task := row
			submitErr := pool.Submit(func() {
				defer wg.Done()
				switch s.repairOne(ctx, task) {
				case repairDone:
					repaired.Add(1)
				case repairSkipped:
					skipped.Add(1)
				default:
					failed.Add(1)
				}
			})
			if submitErr != nil {
				wg.Done()
				failed.Add(1)
				s.logger.WarnContext(ctx, "repair task submission failed",
					"external_match_id", task.ExternalMatchID,
					"error", submitErr,
				)
			}
		}
		wg.Wait()

		return syncrun.Counts{
			Processed: len(rows),
			Updated:   int(repaired.Load()),
			Skipped:   int(skipped.Load()),
			Failed:    int(failed.Load()),
		}, nil
	})
}

type repairOutcome int

const (
	repairDone repairOutcome = iota
	repairSkipped
	repairFailed
)

func (s *RepairService) repairOne(ctx context.Context, m match.Match) repairOutcome {
	patch := buildRepairPatch(m)
	if patch.Empty() {
		return repairSkipped
	}

	if err := s.matches.UpdateTimestamps(ctx, m.Key(), patch); err != nil {
		s.logger.WarnContext(ctx, "timestamp repair failed",
			"source", m.Source,
			"external_match_id", m.ExternalMatchID,
			"error", err,
		)
		return repairFailed
	}

	s.logger.InfoContext(ctx, "match timestamps repaired",
		"source", m.Source,
		"external_match_id", m.ExternalMatchID,
	)
	return repairDone
}

// buildRepairPatch re-derives only the defective fields. Healthy fields are
// left alone so repair never races a concurrent ingest on them.
func buildRepairPatch(m match.Match) match.TimestampPatch {
	var raw map[string]any
	if payload := strings.TrimSpace(m.RawPayload); payload != "" {
		if err := repairJSON.UnmarshalFromString(payload, &raw); err != nil {
			raw = nil
		}
	}

	var patch match.TimestampPatch
	if timeparse.IsEpochSentinel(m.ScheduledAt) {
		patch.ScheduledAt = rederive(raw, "scheduled_at")
		patch.SetScheduledAt = true
	}
	if timeparse.IsEpochSentinel(m.StartedAt) {
		patch.StartedAt = rederive(raw, "started_at")
		patch.SetStartedAt = true
	}
	if timeparse.IsEpochSentinel(m.FinishedAt) {
		patch.FinishedAt = rederive(raw, "finished_at")
		patch.SetFinishedAt = true
	}
	if timeparse.IsEpochSentinel(m.ConfiguredAt) {
		patch.ConfiguredAt = rederive(raw, "configured_at")
		patch.SetConfiguredAt = true
	}
	return patch
}

func rederive(raw map[string]any, field string) *time.Time {
	if raw == nil {
		return nil
	}
	for _, key := range rawTimeFieldCandidates[field] {
		value, ok := raw[key]
		if !ok {
			continue
		}
		if parsed := timeparse.Normalize(value); parsed != nil {
			return parsed
		}
	}
	return nil
}
