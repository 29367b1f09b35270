// Package secondarystats adapts the Secondary-Stats fixtures feed. The
// feed is the messiest of the three: timestamps arrive as ISO strings or
// quoted Unix seconds depending on fixture age, and teams come as separate
// home/away objects.
package secondarystats

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
	defaultBaseURL      = "https://feeds.secondary-stats.net"
	defaultRequestDelay = 300 * time.Millisecond
	maxResponseBytes    = 6 << 20
)

var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary
var errTransient = crerr.New("secondary-stats transient failure")

type ClientConfig struct {
	HTTPClient     *http.Client
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	MaxRetries     int
	RequestDelay   time.Duration
	Logger         *logging.Logger
	CircuitBreaker resilience.CircuitBreakerConfig
}

type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	maxRetries     int
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
		requestDelay:   requestDelay,
		logger:         logger,
		breaker:        resilience.NewCircuitBreaker(breakerCfg.FailureThreshold, breakerCfg.OpenTimeout, breakerCfg.HalfOpenMaxReq),
		circuitEnabled: breakerCfg.Enabled,
	}
}

func (c *Client) Source() match.Source { return match.SourceSecondaryStats }

type fixturesEnvelope struct {
	Fixtures []json.RawMessage `json:"fixtures"`
	Paging   struct {
		Next bool `json:"next"`
	} `json:"paging"`
}

type teamObject struct {
	Name string `json:"name"`
	Logo string `json:"logo"`
}

type fixtureItem struct {
	FixtureID    json.Number `json:"fixture_id"`
	Discipline   string      `json:"discipline"`
	Label        string      `json:"label"`
	State        string      `json:"state"`
	ScheduledAt  any         `json:"scheduled_at"`
	StartedAt    any         `json:"started_at"`
	FinishedAt   any         `json:"finished_at"`
	ConfiguredAt any         `json:"configured_at"`
	Competition  struct {
		Name      string `json:"name"`
		Format    string `json:"format"`
		Organizer string `json:"organizer"`
	} `json:"competition"`
	Home teamObject `json:"home"`
	Away teamObject `json:"away"`
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
		"discipline": game,
		"page":       strconv.Itoa(page),
	}

	var envelope fixturesEnvelope
	if err := c.doJSON(ctx, "/v2/fixtures", query, &envelope); err != nil {
		return nil, false, err
	}

	items := make([]usecase.ProviderMatch, 0, len(envelope.Fixtures))
	for _, raw := range envelope.Fixtures {
		var item fixtureItem
		if err := wireJSON.Unmarshal(raw, &item); err != nil {
			c.logger.WarnContext(ctx, "secondary-stats item decode failed", "discipline", game, "page", page, "error", err)
			continue
		}
		items = append(items, mapItem(item, raw))
	}
	return items, envelope.Paging.Next, nil
}

func (c *Client) GetMatch(ctx context.Context, externalID string) (usecase.ProviderMatch, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return usecase.ProviderMatch{}, fmt.Errorf("external match id is required")
	}

	var envelope struct {
		Fixture json.RawMessage `json:"fixture"`
	}
	if err := c.doJSON(ctx, "/v2/fixtures/"+url.PathEscape(externalID), nil, &envelope); err != nil {
		return usecase.ProviderMatch{}, err
	}
	if len(envelope.Fixture) == 0 || string(envelope.Fixture) == "null" {
		return usecase.ProviderMatch{}, fmt.Errorf("%w: fixture %s", usecase.ErrNotFound, externalID)
	}

	var item fixtureItem
	if err := wireJSON.Unmarshal(envelope.Fixture, &item); err != nil {
		return usecase.ProviderMatch{}, fmt.Errorf("decode fixture payload: %w", err)
	}
	return mapItem(item, envelope.Fixture), nil
}

func mapItem(item fixtureItem, raw json.RawMessage) usecase.ProviderMatch {
	return usecase.ProviderMatch{
		ExternalID:      item.FixtureID.String(),
		Game:            item.Discipline,
		Title:           item.Label,
		TournamentName:  item.Competition.Name,
		TournamentType:  item.Competition.Format,
		Organizer:       item.Competition.Organizer,
		StatusRaw:       item.State,
		ScheduledAtRaw:  item.ScheduledAt,
		StartedAtRaw:    item.StartedAt,
		FinishedAtRaw:   item.FinishedAt,
		ConfiguredAtRaw: item.ConfiguredAt,
		Teams: []usecase.ProviderTeam{
			{Name: item.Home.Name, LogoURL: item.Home.Logo},
			{Name: item.Away.Name, LogoURL: item.Away.Logo},
		},
		RawJSON: string(raw),
	}
}

func (c *Client) doJSON(ctx context.Context, path string, query map[string]string, target any) error {
	if c.circuitEnabled {
		if err := c.breaker.Allow(); err != nil {
			c.logger.WarnContext(ctx, "secondary-stats circuit breaker rejected request", "state", c.breaker.State())
			return fmt.Errorf("%w: secondary-stats is temporarily unavailable", usecase.ErrDependencyUnavailable)
		}
	}

	values := url.Values{}
	for key, value := range query {
		values.Set(key, value)
	}
	values.Set("apikey", c.apiKey)

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
	c.logger.WarnContext(ctx, "secondary-stats request failed", "url", redactURL(fullURL), "error", lastErr)
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

func redactURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := parsed.Query()
	if query.Has("apikey") {
		query.Set("apikey", "REDACTED")
		parsed.RawQuery = query.Encode()
	}
	return parsed.String()
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
