package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sonic "github.com/bytedance/sonic"

	"github.com/arenalytics/matchsync/internal/domain/match"
	"github.com/arenalytics/matchsync/internal/infrastructure/repository/memory"
	"github.com/arenalytics/matchsync/internal/platform/logging"
	"github.com/arenalytics/matchsync/internal/usecase"
)

const testJobToken = "internal-secret"

func newTestRouter(t *testing.T) (http.Handler, *memory.MatchRepository) {
	t.Helper()

	matches := memory.NewMatchRepository()
	runs := memory.NewSyncRunRepository()
	jobs := memory.NewScheduledJobRepository()
	logger := logging.NewNop()

	recorder := usecase.NewSyncRunRecorder(runs, nil, logger)
	ingestSvc := usecase.NewIngestService(nil, matches, recorder, usecase.IngestConfig{}, logger)
	schedulerSvc := usecase.NewSchedulerService(matches, jobs, usecase.NoopTrigger{}, recorder, usecase.SchedulerConfig{}, logger)
	repairSvc := usecase.NewRepairService(matches, recorder, usecase.RepairConfig{}, logger)
	querySvc := usecase.NewMatchQueryService(matches, runs, nil)

	handler := NewHandler(ingestSvc, schedulerSvc, repairSvc, querySvc, nil, logger)
	return NewRouter(handler, logger, false, nil, testJobToken), matches
}

func seedServerMatch(t *testing.T, repo *memory.MatchRepository, id string, scheduledAt time.Time) {
	t.Helper()

	_, err := repo.Upsert(context.Background(), match.Match{
		Source:          match.SourceProCircuit,
		ExternalMatchID: id,
		Game:            "dota2",
		Title:           "Grand Final",
		ScheduledAt:     &scheduledAt,
		UpdatedAt:       time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed match: %v", err)
	}
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) googleResponseEnvelope {
	t.Helper()

	var envelope googleResponseEnvelope
	if err := sonic.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response envelope: %v", err)
	}
	return envelope
}

func TestListMatchesEndpoint(t *testing.T) {
	t.Parallel()

	router, matches := newTestRouter(t)
	seedServerMatch(t, matches, "55120", time.Now().Add(time.Hour).UTC())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/matches", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	envelope := decodeEnvelope(t, rec)
	if envelope.APIVersion != googleAPIVersion {
		t.Fatalf("apiVersion = %q", envelope.APIVersion)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"externalMatchId":"55120"`) {
		t.Fatalf("match missing from response: %s", body)
	}
	if !strings.Contains(body, `"state":"upcoming"`) {
		t.Fatalf("derived state missing from response: %s", body)
	}
}

func TestGetMatchEndpointNotFound(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/matches/pro_circuit/ghost", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	envelope := decodeEnvelope(t, rec)
	if envelope.Error == nil || envelope.Error.Status != "NOT_FOUND" {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}
}

func TestInternalJobEndpointRequiresToken(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/internal/jobs/repair-timestamps", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("without token: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/internal/jobs/repair-timestamps", nil)
	req.Header.Set("X-Internal-Job-Token", "wrong")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/internal/jobs/repair-timestamps", nil)
	req.Header.Set("X-Internal-Job-Token", testJobToken)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestReconcileJobProvisionsUpcomingMatch(t *testing.T) {
	t.Parallel()

	router, matches := newTestRouter(t)
	seedServerMatch(t, matches, "soon", time.Now().Add(10*time.Minute).UTC())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/internal/jobs/reconcile", nil)
	req.Header.Set("X-Internal-Job-Token", testJobToken)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"provisioned":1`) {
		t.Fatalf("expected one provisioned job: %s", rec.Body.String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	// No readiness probe configured means the service is trivially ready.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d", rec.Code)
	}
}
