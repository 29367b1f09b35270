package match

import (
	"testing"
	"time"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestCategorizeVocabulary(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	future := timePtr(now.Add(2 * time.Hour))

	cases := []struct {
		name   string
		status string
		want   LifecycleState
	}{
		{name: "finished lowercase", status: "finished", want: StateFinished},
		{name: "finished uppercase", status: "ENDED", want: StateFinished},
		{name: "cancelled british", status: "Cancelled", want: StateFinished},
		{name: "cancelled american", status: "canceled", want: StateFinished},
		{name: "forfeited", status: "Forfeited", want: StateFinished},
		{name: "live", status: "LIVE", want: StateLive},
		{name: "running", status: "running", want: StateLive},
		{name: "in progress with spaces", status: "In Progress", want: StateLive},
		{name: "in progress with dash", status: "in-progress", want: StateLive},
		{name: "ongoing", status: "Ongoing", want: StateLive},
		{name: "scheduled", status: "SCHEDULED", want: StateUpcoming},
		{name: "not started", status: "not_started", want: StateUpcoming},
		{name: "unknown status future schedule", status: "warming_up", want: StateUpcoming},
		{name: "empty status future schedule", status: "", want: StateUpcoming},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := Categorize(tc.status, future, nil, nil, now)
			if got != tc.want {
				t.Fatalf("Categorize(%q) = %q, want %q", tc.status, got, tc.want)
			}
		})
	}
}

func TestCategorizeTimestampPrecedence(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	earlier := timePtr(now.Add(-time.Hour))

	if got := Categorize("running", earlier, earlier, earlier, now); got != StateFinished {
		t.Fatalf("finished timestamp should win over live status, got %q", got)
	}
	if got := Categorize("scheduled", earlier, earlier, nil, now); got != StateLive {
		t.Fatalf("started timestamp should win over scheduled status, got %q", got)
	}
	if got := Categorize("finished", nil, nil, nil, now); got != StateFinished {
		t.Fatalf("terminal status without timestamps should be finished, got %q", got)
	}
}

func TestCategorizePastScheduleHeuristic(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	past := timePtr(now.Add(-30 * time.Minute))
	if got := Categorize("", past, nil, nil, now); got != StateLive {
		t.Fatalf("past schedule without status should be live, got %q", got)
	}
	if got := Categorize("scheduled", past, nil, nil, now); got != StateLive {
		t.Fatalf("past schedule with stale upcoming status should be live, got %q", got)
	}

	exact := timePtr(now)
	if got := Categorize("", exact, nil, nil, now); got != StateLive {
		t.Fatalf("schedule equal to now should be live, got %q", got)
	}

	if got := Categorize("", nil, nil, nil, now); got != StateUpcoming {
		t.Fatalf("no signal at all should default to upcoming, got %q", got)
	}
}

func TestCategorizeDeterministic(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	sched := timePtr(now.Add(-time.Minute))

	first := Categorize("mystery", sched, nil, nil, now)
	for i := 0; i < 50; i++ {
		if got := Categorize("mystery", sched, nil, nil, now); got != first {
			t.Fatalf("categorizer is not deterministic: %q then %q", first, got)
		}
	}
}

func TestHeuristicLive(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := timePtr(now.Add(-time.Hour))

	m := Match{StatusRaw: "", ScheduledAt: past}
	if !m.HeuristicLive(now) {
		t.Fatal("past schedule without provider signal should count as heuristic live")
	}

	m.StatusRaw = "running"
	if m.HeuristicLive(now) {
		t.Fatal("live status is a provider signal, not a heuristic")
	}

	m.StatusRaw = ""
	m.StartedAt = past
	if m.HeuristicLive(now) {
		t.Fatal("started timestamp is a provider signal, not a heuristic")
	}
}

func TestParseSourceAndState(t *testing.T) {
	t.Parallel()

	if _, ok := ParseSource("amateur_league"); !ok {
		t.Fatal("amateur_league should parse")
	}
	if _, ok := ParseSource("espn"); ok {
		t.Fatal("unknown source should not parse")
	}
	if st, ok := ParseState("LIVE"); !ok || st != StateLive {
		t.Fatalf("ParseState(LIVE) = %q, %t", st, ok)
	}
	if _, ok := ParseState("paused"); ok {
		t.Fatal("unknown state should not parse")
	}
}
