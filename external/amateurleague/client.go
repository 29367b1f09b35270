// Package amateurleague adapts the Amateur-League open API. IDs are
// integers and every timestamp is Unix seconds.
package amateurleague

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"

	"github.com/arenalytics/matchsync/internal/domain/match"
	"github.com/arenalytics/matchsync/internal/platform/logging"
	"github.com/arenalytics/matchsync/internal/platform/resilience"
	"github.com/arenalytics/matchsync/internal/usecase"
)

const (
	defaultBaseURL      = "https://api.amateur-league.gg"
	defaultPageSize     = 50
	defaultRequestDelay = 300 * time.Millisecond
	maxResponseBytes    = 6 << 20
)

var errTransient = crerr.New("amateur-league transient failure")

type ClientConfig struct {
	HTTPClient     *http.Client
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	MaxRetries     int
	PageSize       int
	RequestDelay   time.Duration
	Logger         *logging.Logger
	CircuitBreaker resilience.CircuitBreakerConfig
}

type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	maxRetries     int
	pageSize       int
	requestDelay   time.Duration
	logger         *logging.Logger
	breaker        *resilience.CircuitBreaker
	circuitEnabled bool
	flight         resilience.SingleFlight

	mu            sync.Mutex
	lastRequestAt time.Time
}

func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	requestDelay := cfg.RequestDelay
	if requestDelay <= 0 {
		requestDelay = defaultRequestDelay
	}
	breakerCfg := resilience.NormalizeCircuitBreakerConfig(cfg.CircuitBreaker)

	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         strings.TrimSpace(cfg.APIKey),
		maxRetries:     cfg.MaxRetries,
		pageSize:       pageSize,
		requestDelay:   requestDelay,
		logger:         logger,
		breaker:        resilience.NewCircuitBreaker(breakerCfg.FailureThreshold, breakerCfg.OpenTimeout, breakerCfg.HalfOpenMaxReq),
		circuitEnabled: breakerCfg.Enabled,
	}
}

func (c *Client) Source() match.Source { return match.SourceAmateurLeague }

type listEnvelope struct {
	Data []json.RawMessage `json:"data"`
	Meta struct {
		CurrentPage int `json:"current_page"`
		LastPage    int `json:"last_page"`
	} `json:"meta"`
}

type matchItem struct {
	ID          int64  `json:"id"`
	Game        string `json:"game"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	ScheduledAt any    `json:"scheduled_at"`
	StartTime   any    `json:"start_time"`
	EndTime     any    `json:"end_time"`
	Tournament  struct {
		Name      string `json:"name"`
		Type      string `json:"type"`
		Organizer string `json:"organizer"`
	} `json:"tournament"`
	Teams []struct {
		Name    string `json:"name"`
		Logo    string `json:"logo"`
		Players []struct {
			Name     string `json:"name"`
			Nickname string `json:"nickname"`
			Role     string `json:"role"`
		} `json:"players"`
	} `json:"teams"`
}

func (c *Client) ListMatches(ctx context.Context, game string, page int) ([]usecase.ProviderMatch, bool, error) {
	game = strings.TrimSpace(game)
	if game == "" {
		return nil, false, fmt.Errorf("game is required")
	}
	if page < 1 {
		page = 1
	}

	query := map[string]string{
		"game":      game,
		"page":      strconv.Itoa(page),
		"page_size": strconv.Itoa(c.pageSize),
	}

	var envelope listEnvelope
	if err := c.doJSON(ctx, "/api/v1/matches", query, &envelope); err != nil {
		return nil, false, err
	}

	items := make([]usecase.ProviderMatch, 0, len(envelope.Data))
	for _, raw := range envelope.Data {
		var item matchItem
		if err := sonic.Unmarshal(raw, &item); err != nil {
			c.logger.WarnContext(ctx, "amateur-league item decode failed", "game", game, "page", page, "error", err)
			continue
		}
		items = append(items, mapItem(item, raw))
	}

	hasMore := envelope.Meta.LastPage > 0 && envelope.Meta.CurrentPage < envelope.Meta.LastPage
	return items, hasMore, nil
}

func (c *Client) GetMatch(ctx context.Context, externalID string) (usecase.ProviderMatch, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return usecase.ProviderMatch{}, fmt.Errorf("external match id is required")
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := c.doJSON(ctx, "/api/v1/matches/"+url.PathEscape(externalID), nil, &envelope); err != nil {
		return usecase.ProviderMatch{}, err
	}
	if len(envelope.Data) == 0 {
		return usecase.ProviderMatch{}, fmt.Errorf("%w: match %s", usecase.ErrNotFound, externalID)
	}

	var item matchItem
	if err := sonic.Unmarshal(envelope.Data, &item); err != nil {
		return usecase.ProviderMatch{}, fmt.Errorf("decode match payload: %w", err)
	}
	return mapItem(item, envelope.Data), nil
}

func mapItem(item matchItem, raw json.RawMessage) usecase.ProviderMatch {
	out := usecase.ProviderMatch{
		ExternalID:     strconv.FormatInt(item.ID, 10),
		Game:           item.Game,
		Title:          item.Title,
		TournamentName: item.Tournament.Name,
		TournamentType: item.Tournament.Type,
		Organizer:      item.Tournament.Organizer,
		StatusRaw:      item.Status,
		ScheduledAtRaw: item.ScheduledAt,
		StartedAtRaw:   item.StartTime,
		FinishedAtRaw:  item.EndTime,
		RawJSON:        string(raw),
	}
	for _, team := range item.Teams {
		mapped := usecase.ProviderTeam{Name: team.Name, LogoURL: team.Logo}
		for _, player := range team.Players {
			mapped.Roster = append(mapped.Roster, usecase.ProviderPlayer{
				Name:     player.Name,
				Nickname: player.Nickname,
				Role:     player.Role,
			})
		}
		out.Teams = append(out.Teams, mapped)
	}
	return out
}

func (c *Client) doJSON(ctx context.Context, path string, query map[string]string, target any) error {
	if c.circuitEnabled {
		if err := c.breaker.Allow(); err != nil {
			c.logger.WarnContext(ctx, "amateur-league circuit breaker rejected request", "state", c.breaker.State())
			return fmt.Errorf("%w: amateur-league is temporarily unavailable", usecase.ErrDependencyUnavailable)
		}
	}

	values := url.Values{}
	for key, value := range query {
		values.Set(key, value)
	}

	fullURL := c.baseURL + path
	if encoded := values.Encode(); encoded != "" {
		fullURL += "?" + encoded
	}

	out, err, _ := c.flight.Do(fullURL, func() (any, error) {
		raw, reqErr := c.executeRequest(ctx, fullURL)
		if c.circuitEnabled {
			if reqErr != nil && stderrors.Is(reqErr, errTransient) {
				c.breaker.RecordFailure()
			} else {
				c.breaker.RecordSuccess()
			}
		}
		return raw, reqErr
	})
	if err != nil {
		if stderrors.Is(err, errTransient) {
			return fmt.Errorf("%w: %v", usecase.ErrDependencyUnavailable, err)
		}
		return err
	}

	raw, ok := out.([]byte)
	if !ok {
		return fmt.Errorf("unexpected response payload type %T", out)
	}
	if err := sonic.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode provider payload: %w", err)
	}
	return nil
}

func (c *Client) executeRequest(ctx context.Context, fullURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.waitTurn(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: send request: %s", errTransient, sanitizeText(err.Error(), c.apiKey))
		} else {
			raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
			_ = resp.Body.Close()
			if readErr != nil {
				lastErr = fmt.Errorf("%w: read response body: %v", errTransient, readErr)
			} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return raw, nil
			} else if isRetryableStatus(resp.StatusCode) {
				lastErr = fmt.Errorf("%w: provider status=%d body=%s", errTransient, resp.StatusCode, abbreviateBody(raw))
			} else {
				return nil, fmt.Errorf("provider status=%d body=%s", resp.StatusCode, abbreviateBody(raw))
			}
		}

		if attempt == c.maxRetries {
			break
		}
		backoff := time.Duration(attempt+1) * time.Second
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("provider request failed")
	}
	c.logger.WarnContext(ctx, "amateur-league request failed", "url", fullURL, "error", lastErr)
	return nil, lastErr
}

// waitTurn enforces the inter-request delay against the provider's rate
// policy, honoring cancellation while waiting.
func (c *Client) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	wait := c.requestDelay - now.Sub(c.lastRequestAt)
	if wait < 0 {
		wait = 0
	}
	c.lastRequestAt = now.Add(wait)
	c.mu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func sanitizeText(value, secret string) string {
	value = strings.TrimSpace(value)
	if secret != "" {
		value = strings.ReplaceAll(value, secret, "REDACTED")
	}
	return value
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func abbreviateBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) <= 240 {
		return text
	}
	return text[:240] + "..."
}
