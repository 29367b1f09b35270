// Package trigger provisions recurring live-sync schedules on Upstash QStash.
// Each scheduled job fires a POST back at this service's internal sync-match
// endpoint on the configured cadence.
package trigger

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/bytebufferpool"

	"github.com/arenalytics/matchsync/internal/domain/schedjob"
	"github.com/arenalytics/matchsync/internal/platform/logging"
	"github.com/arenalytics/matchsync/internal/platform/resilience"
)

const syncMatchJobPath = "/v1/internal/jobs/sync-match"

type QStashTriggerConfig struct {
	BaseURL          string
	Token            string
	TargetBaseURL    string
	InternalJobToken string
	Timeout          time.Duration
	// Retries is forwarded to QStash as the per-delivery retry budget.
	Retries        int
	CircuitBreaker resilience.CircuitBreakerConfig
}

// QStashTrigger drives the QStash schedules API. Provisioning keys the
// schedule on the job key via the deduplication header, so re-provisioning
// an existing job is absorbed upstream instead of creating a duplicate.
type QStashTrigger struct {
	client           *http.Client
	baseURL          string
	token            string
	targetBaseURL    string
	internalJobToken string
	retries          int
	breaker          *resilience.CircuitBreaker
	circuitEnabled   bool
	logger           *logging.Logger
}

func NewQStashTrigger(cfg QStashTriggerConfig, logger *logging.Logger) (*QStashTrigger, error) {
	baseURL, err := validateHTTPBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid QSTASH_BASE_URL: %w", err)
	}
	targetBaseURL, err := validateHTTPBaseURL(cfg.TargetBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid QSTASH_TARGET_BASE_URL: %w", err)
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("QSTASH_TOKEN is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	breakerCfg := resilience.NormalizeCircuitBreakerConfig(cfg.CircuitBreaker)

	return &QStashTrigger{
		client:           &http.Client{Timeout: timeout},
		baseURL:          baseURL,
		token:            strings.TrimSpace(cfg.Token),
		targetBaseURL:    targetBaseURL,
		internalJobToken: strings.TrimSpace(cfg.InternalJobToken),
		retries:          cfg.Retries,
		breaker:          resilience.NewCircuitBreaker(breakerCfg.FailureThreshold, breakerCfg.OpenTimeout, breakerCfg.HalfOpenMaxReq),
		circuitEnabled:   breakerCfg.Enabled,
		logger:           logger,
	}, nil
}

type syncMatchJobPayload struct {
	Source          string `json:"source"`
	ExternalMatchID string `json:"external_match_id"`
}

type createScheduleResponse struct {
	ScheduleID string `json:"scheduleId"`
}

func (t *QStashTrigger) Provision(ctx context.Context, job schedjob.ScheduledJob, cadence time.Duration) (string, error) {
	if err := t.allow(ctx); err != nil {
		return "", err
	}

	destination := t.targetBaseURL + syncMatchJobPath
	scheduleURL := t.baseURL + "/v2/schedules/" + destination

	payload, err := jsoniter.Marshal(syncMatchJobPayload{
		Source:          string(job.Source),
		ExternalMatchID: job.ExternalMatchID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal schedule payload: %w", err)
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	_, _ = buf.Write(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, scheduleURL, strings.NewReader(buf.String()))
	if err != nil {
		return "", fmt.Errorf("create schedule request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Upstash-Cron", cronFromCadence(cadence))
	req.Header.Set("Upstash-Method", http.MethodPost)
	req.Header.Set("Upstash-Deduplication-Id", job.JobKey)
	if t.retries > 0 {
		req.Header.Set("Upstash-Retries", fmt.Sprintf("%d", t.retries))
	}
	if t.internalJobToken != "" {
		req.Header.Set("Upstash-Forward-X-Internal-Job-Token", t.internalJobToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.recordOutcome(false)
		return "", fmt.Errorf("create schedule for %s: %w", job.JobKey, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		t.recordOutcome(resp.StatusCode < 500)
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("create schedule for %s: status=%d body=%s",
			job.JobKey, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	t.recordOutcome(true)

	var created createScheduleResponse
	if err := jsoniter.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode schedule response for %s: %w", job.JobKey, err)
	}

	t.logger.InfoContext(ctx, "live sync schedule provisioned",
		"job_key", job.JobKey,
		"schedule_id", created.ScheduleID,
		"cadence", cadence.String(),
	)
	return created.ScheduleID, nil
}

func (t *QStashTrigger) Deprovision(ctx context.Context, job schedjob.ScheduledJob) error {
	// Without a backend handle there is nothing to tear down remotely.
	if strings.TrimSpace(job.ScheduleID) == "" {
		return nil
	}
	if err := t.allow(ctx); err != nil {
		return err
	}

	deleteURL := t.baseURL + "/v2/schedules/" + url.PathEscape(job.ScheduleID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, deleteURL, nil)
	if err != nil {
		return fmt.Errorf("create schedule delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		t.recordOutcome(false)
		return fmt.Errorf("delete schedule %s: %w", job.ScheduleID, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// A missing schedule means a previous pass already removed it.
	if resp.StatusCode == http.StatusNotFound {
		t.recordOutcome(true)
		return nil
	}
	if resp.StatusCode/100 != 2 {
		t.recordOutcome(resp.StatusCode < 500)
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("delete schedule %s: status=%d body=%s",
			job.ScheduleID, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	t.recordOutcome(true)

	t.logger.InfoContext(ctx, "live sync schedule deprovisioned",
		"job_key", job.JobKey,
		"schedule_id", job.ScheduleID,
	)
	return nil
}

func (t *QStashTrigger) allow(ctx context.Context) error {
	if !t.circuitEnabled {
		return nil
	}
	if err := t.breaker.Allow(); err != nil {
		t.logger.WarnContext(ctx, "qstash circuit breaker rejected request", "state", t.breaker.State())
		return fmt.Errorf("qstash is temporarily unavailable: %w", err)
	}
	return nil
}

func (t *QStashTrigger) recordOutcome(success bool) {
	if !t.circuitEnabled {
		return
	}
	if success {
		t.breaker.RecordSuccess()
	} else {
		t.breaker.RecordFailure()
	}
}

// cronFromCadence rounds the cadence down to QStash's minute granularity.
func cronFromCadence(cadence time.Duration) string {
	minutes := int(cadence.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	if minutes > 59 {
		minutes = 59
	}
	if minutes == 1 {
		return "* * * * *"
	}
	return fmt.Sprintf("*/%d * * * *", minutes)
}

func validateHTTPBaseURL(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", fmt.Errorf("value is empty")
	}

	parsed, err := url.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", candidate, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%q uses unsupported scheme=%q; expected http or https", candidate, parsed.Scheme)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", fmt.Errorf("%q has empty host", candidate)
	}

	return strings.TrimRight(candidate, "/"), nil
}
