// Package procircuit adapts the Pro-Circuit API. Responses are bare JSON
// arrays, timestamps are ISO-8601 strings, and auth is a bearer token.
package procircuit

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

	crerr "github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"

	"github.com/arenalytics/matchsync/internal/domain/match"
	"github.com/arenalytics/matchsync/internal/platform/logging"
	"github.com/arenalytics/matchsync/internal/platform/resilience"
	"github.com/arenalytics/matchsync/internal/usecase"
)

const (
	defaultBaseURL      = "https://api.pro-circuit.io"
	defaultPerPage      = 50
	defaultRequestDelay = 300 * time.Millisecond
	maxResponseBytes    = 6 << 20
)

var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary
var errTransient = crerr.New("pro-circuit transient failure")

type ClientConfig struct {
	HTTPClient     *http.Client
	BaseURL        string
	Token          string
	Timeout        time.Duration
	MaxRetries     int
	PerPage        int
	RequestDelay   time.Duration
	Logger         *logging.Logger
	CircuitBreaker resilience.CircuitBreakerConfig
}

type Client struct {
	httpClient     *http.Client
	baseURL        string
	token          string
	maxRetries     int
	perPage        int
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
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	requestDelay := cfg.RequestDelay
	if requestDelay <= 0 {
		requestDelay = defaultRequestDelay
	}
	breakerCfg := resilience.NormalizeCircuitBreakerConfig(cfg.CircuitBreaker)

	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		token:          strings.TrimSpace(cfg.Token),
		maxRetries:     cfg.MaxRetries,
		perPage:        perPage,
		requestDelay:   requestDelay,
		logger:         logger,
		breaker:        resilience.NewCircuitBreaker(breakerCfg.FailureThreshold, breakerCfg.OpenTimeout, breakerCfg.HalfOpenMaxReq),
		circuitEnabled: breakerCfg.Enabled,
	}
}

func (c *Client) Source() match.Source { return match.SourceProCircuit }

type matchItem struct {
	ID     json.Number `json:"id"`
	Name   string      `json:"name"`
	Status string      `json:"status"`
	// begin_at carries the schedule before the match starts and the actual
	// start once the provider flips status to running.
	BeginAt     any `json:"begin_at"`
	EndAt       any `json:"end_at"`
	ActualStart any `json:"actual_start"`
	Videogame   struct {
		Slug string `json:"slug"`
	} `json:"videogame"`
	League struct {
		Name string `json:"name"`
	} `json:"league"`
	Serie struct {
		FullName string `json:"full_name"`
		Type     string `json:"type"`
	} `json:"serie"`
	Opponents []struct {
		Opponent struct {
			Name     string `json:"name"`
			ImageURL string `json:"image_url"`
			Players  []struct {
				Name string `json:"name"`
				Slug string `json:"slug"`
				Role string `json:"role"`
			} `json:"players"`
		} `json:"opponent"`
	} `json:"opponents"`
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
		"filter[videogame]": game,
		"page":              strconv.Itoa(page),
		"per_page":          strconv.Itoa(c.perPage),
		"sort":              "begin_at",
	}

	var rawItems []json.RawMessage
	if err := c.doJSON(ctx, "/v1/matches", query, &rawItems); err != nil {
		return nil, false, err
	}

	items := make([]usecase.ProviderMatch, 0, len(rawItems))
	for _, raw := range rawItems {
		var item matchItem
		if err := wireJSON.Unmarshal(raw, &item); err != nil {
			c.logger.WarnContext(ctx, "pro-circuit item decode failed", "game", game, "page", page, "error", err)
			continue
		}
		items = append(items, mapItem(item, raw))
	}

	// A full page means there may be another one.
	return items, len(rawItems) == c.perPage, nil
}

func (c *Client) GetMatch(ctx context.Context, externalID string) (usecase.ProviderMatch, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return usecase.ProviderMatch{}, fmt.Errorf("external match id is required")
	}

	var raw json.RawMessage
	if err := c.doJSON(ctx, "/v1/matches/"+url.PathEscape(externalID), nil, &raw); err != nil {
		return usecase.ProviderMatch{}, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return usecase.ProviderMatch{}, fmt.Errorf("%w: match %s", usecase.ErrNotFound, externalID)
	}

	var item matchItem
	if err := wireJSON.Unmarshal(raw, &item); err != nil {
		return usecase.ProviderMatch{}, fmt.Errorf("decode match payload: %w", err)
	}
	return mapItem(item, raw), nil
}

func mapItem(item matchItem, raw json.RawMessage) usecase.ProviderMatch {
	out := usecase.ProviderMatch{
		ExternalID:     item.ID.String(),
		Game:           item.Videogame.Slug,
		Title:          item.Name,
		TournamentName: item.League.Name,
		TournamentType: item.Serie.Type,
		Organizer:      item.Serie.FullName,
		StatusRaw:      item.Status,
		ScheduledAtRaw: item.BeginAt,
		FinishedAtRaw:  item.EndAt,
		RawJSON:        string(raw),
	}

	// Pro-Circuit reuses begin_at as the actual start once running; an
	// explicit actual_start takes precedence when present.
	switch strings.ToLower(item.Status) {
	case "running", "finished":
		out.StartedAtRaw = item.BeginAt
	}
	if item.ActualStart != nil {
		out.StartedAtRaw = item.ActualStart
	}

	for _, opponent := range item.Opponents {
		team := usecase.ProviderTeam{
			Name:    opponent.Opponent.Name,
			LogoURL: opponent.Opponent.ImageURL,
		}
		for _, player := range opponent.Opponent.Players {
			team.Roster = append(team.Roster, usecase.ProviderPlayer{
				Name:     player.Name,
				Nickname: player.Slug,
				Role:     player.Role,
			})
		}
		out.Teams = append(out.Teams, team)
	}
	return out
}

func (c *Client) doJSON(ctx context.Context, path string, query map[string]string, target any) error {
	if c.circuitEnabled {
		if err := c.breaker.Allow(); err != nil {
			c.logger.WarnContext(ctx, "pro-circuit circuit breaker rejected request", "state", c.breaker.State())
			return fmt.Errorf("%w: pro-circuit is temporarily unavailable", usecase.ErrDependencyUnavailable)
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
	if err := wireJSON.Unmarshal(raw, target); err != nil {
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
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: send request: %s", errTransient, sanitizeText(err.Error(), c.token))
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
	c.logger.WarnContext(ctx, "pro-circuit request failed", "url", fullURL, "error", lastErr)
	return nil, lastErr
}

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
