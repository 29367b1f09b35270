package secondarystats

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/arenalytics/matchsync/internal/platform/logging"
	"github.com/arenalytics/matchsync/internal/platform/resilience"
	"github.com/arenalytics/matchsync/internal/usecase"
)

const fixturesBody = `{
  "fixtures": [
    {
      "fixture_id": 77001,
      "discipline": "csgo",
      "label": "Group B decider",
      "state": "Scheduled",
      "scheduled_at": "2026-03-12T20:00:00Z",
      "started_at": null,
      "finished_at": null,
      "configured_at": "1773100000",
      "competition": {"name": "Winter Open", "format": "groups", "organizer": "SS Events"},
      "home": {"name": "North Five", "logo": "https://cdn/n.png"},
      "away": {"name": "South Five", "logo": "https://cdn/s.png"}
    }
  ],
  "paging": {"next": true}
}`

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(ClientConfig{
		BaseURL:        server.URL,
		APIKey:         "qs-secret",
		RequestDelay:   time.Millisecond,
		Logger:         logging.NewNop(),
		CircuitBreaker: resilience.CircuitBreakerConfig{Enabled: false},
	})
}

func TestListMatchesFixturesEnvelope(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("apikey"); got != "qs-secret" {
			t.Errorf("apikey = %q", got)
		}
		if got := r.URL.Query().Get("discipline"); got != "csgo" {
			t.Errorf("discipline = %q", got)
		}
		_, _ = w.Write([]byte(fixturesBody))
	}))

	items, hasMore, err := client.ListMatches(context.Background(), "csgo", 1)
	if err != nil {
		t.Fatalf("ListMatches: %v", err)
	}
	if !hasMore {
		t.Fatal("hasMore = false, want paging.next")
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}

	item := items[0]
	if item.ExternalID != "77001" || item.Game != "csgo" {
		t.Fatalf("identity mapping wrong: %+v", item)
	}
	if len(item.Teams) != 2 || item.Teams[0].Name != "North Five" || item.Teams[1].Name != "South Five" {
		t.Fatalf("home/away mapping wrong: %+v", item.Teams)
	}
	if item.ScheduledAtRaw != "2026-03-12T20:00:00Z" {
		t.Fatalf("scheduled raw = %v", item.ScheduledAtRaw)
	}
	if item.ConfiguredAtRaw != "1773100000" {
		t.Fatalf("configured raw = %v", item.ConfiguredAtRaw)
	}
	if !strings.Contains(item.RawJSON, "Group B decider") {
		t.Fatal("raw payload not preserved")
	}
}

func TestGetMatchMissingFixtureIsNotFound(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"fixture": null}`))
	}))

	_, err := client.GetMatch(context.Background(), "88888")
	if !stderrors.Is(err, usecase.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRedactURLHidesAPIKey(t *testing.T) {
	t.Parallel()

	redacted := redactURL("https://feeds.secondary-stats.net/v2/fixtures?apikey=qs-secret&page=1")
	if strings.Contains(redacted, "qs-secret") {
		t.Fatalf("api key leaked: %s", redacted)
	}
	if !strings.Contains(redacted, "apikey=REDACTED") {
		t.Fatalf("redaction marker missing: %s", redacted)
	}
}

func TestPermanentErrorIsNotDependencyUnavailable(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))

	_, _, err := client.ListMatches(context.Background(), "csgo", 1)
	if err == nil {
		t.Fatal("expected error on 403")
	}
	if stderrors.Is(err, usecase.ErrDependencyUnavailable) {
		t.Fatalf("4xx must not map to ErrDependencyUnavailable: %v", err)
	}
}
