package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/arenalytics/matchsync/internal/domain/match"
	"github.com/arenalytics/matchsync/internal/usecase"
)

type syncSourceJobRequest struct {
	Source   string   `json:"source" validate:"required"`
	Games    []string `json:"games" validate:"omitempty,dive,required"`
	MaxPages int      `json:"max_pages" validate:"omitempty,min=1,max=100"`
}

type syncMatchJobRequest struct {
	Source          string `json:"source" validate:"required"`
	ExternalMatchID string `json:"external_match_id" validate:"required"`
}

func (h *Handler) RunSyncSourceJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.RunSyncSourceJob")
	defer span.End()

	var req syncSourceJobRequest
	if err := decodeJobRequest(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}

	run, err := h.ingestService.SyncSource(ctx, usecase.SyncSourceInput{
		Source:   match.Source(strings.TrimSpace(req.Source)),
		Games:    req.Games,
		MaxPages: req.MaxPages,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "sync source job failed", "source", req.Source, "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, syncRunToDTO(run))
}

func (h *Handler) RunSyncMatchJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.RunSyncMatchJob")
	defer span.End()

	var req syncMatchJobRequest
	if err := decodeJobRequest(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.validateRequest(ctx, req); err != nil {
		writeError(ctx, w, err)
		return
	}

	run, err := h.ingestService.SyncMatch(ctx, match.Source(strings.TrimSpace(req.Source)), req.ExternalMatchID)
	if err != nil {
		h.logger.WarnContext(ctx, "sync match job failed",
			"source", req.Source,
			"external_match_id", req.ExternalMatchID,
			"error", err,
		)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, syncRunToDTO(run))
}

func (h *Handler) RunSyncAllJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.RunSyncAllJob")
	defer span.End()

	runs, err := h.ingestService.SyncAll(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "sync all job finished with failures", "error", err)
	}

	items := make([]syncRunDTO, 0, len(runs))
	for _, run := range runs {
		items = append(items, syncRunToDTO(run))
	}

	// Partial failure still returns the runs that did execute; callers
	// inspect per-run status.
	if err != nil && len(items) == 0 {
		writeError(ctx, w, err)
		return
	}
	writeSuccess(ctx, w, http.StatusOK, items)
}

func (h *Handler) RunReconcileJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.RunReconcileJob")
	defer span.End()

	result, run, err := h.schedulerService.Reconcile(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "reconcile job failed", "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, reconcileDTO{
		Run:           syncRunToDTO(run),
		Desired:       result.Desired,
		Provisioned:   result.Provisioned,
		Deprovisioned: result.Deprovisioned,
		Unchanged:     result.Unchanged,
		Failed:        result.Failed,
	})
}

func (h *Handler) RunRepairTimestampsJob(w http.ResponseWriter, r *http.Request) {
	ctx, span := startSpan(r.Context(), "httpapi.Handler.RunRepairTimestampsJob")
	defer span.End()

	run, err := h.repairService.RepairTimestamps(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "repair timestamps job failed", "error", err)
		writeError(ctx, w, err)
		return
	}

	writeSuccess(ctx, w, http.StatusOK, syncRunToDTO(run))
}

type reconcileDTO struct {
	Run           syncRunDTO `json:"run"`
	Desired       int        `json:"desired"`
	Provisioned   int        `json:"provisioned"`
	Deprovisioned int        `json:"deprovisioned"`
	Unchanged     int        `json:"unchanged"`
	Failed        int        `json:"failed"`
}

func decodeJobRequest(r *http.Request, target any) error {
	decoder := jsoniter.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", usecase.ErrInvalidInput)
		}
		return fmt.Errorf("%w: invalid JSON payload: %v", usecase.ErrInvalidInput, err)
	}
	return nil
}
