package journey

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/osvaldoandrade/personaq/pkg/domain"
)

func eventsFor(urls ...string) []domain.Event {
	out := make([]domain.Event, 0, len(urls))
	for i, u := range urls {
		u := u
		out = append(out, domain.Event{StepIndex: i + 1, URL: &u, Kind: domain.EventClick})
	}
	return out
}

func TestSegmentOnRevisit(t *testing.T) {
	got := Segment([]string{"A", "A", "B", "A", "C"})
	require.Equal(t, [][]string{{"A", "A", "B"}, {"A", "C"}}, got)
}

func TestSegmentEdges(t *testing.T) {
	require.Empty(t, Segment(nil))
	require.Equal(t, [][]string{{"A"}}, Segment([]string{"A"}))
	require.Equal(t, [][]string{{"A", "B", "C"}}, Segment([]string{"A", "B", "C"}))
	require.Equal(t, [][]string{{"A", "B"}, {"A", "B"}, {"A"}}, Segment([]string{"A", "B", "A", "B", "A"}))
}

func TestSingleURLGraph(t *testing.T) {
	g := BuildGraphFromURLs([][]string{{"A"}})
	require.Len(t, g.Nodes, 1)
	require.Empty(t, g.Links)
	require.Equal(t, domain.SankeyNode{URL: "A", Visits: 1, EventCount: 1}, g.Nodes[0])
}

func TestExtractURLs(t *testing.T) {
	a, b := "https://a.example/", "https://a.example/cart"
	events := []domain.Event{
		{StepIndex: 1, URL: &a},
		{StepIndex: 2},
		{StepIndex: 3, URL: &b},
	}
	require.Equal(t, []string{"https://a.example", "https://a.example/cart"}, ExtractURLs(events))
}

func TestBuildGraphCountsTransitions(t *testing.T) {
	results := []domain.TaskResult{
		{EventSequence: eventsFor("X", "Y")},
		{EventSequence: eventsFor("X", "Y")},
		{EventSequence: eventsFor("X", "Z")},
	}
	g := BuildGraph(results)

	require.Equal(t, []domain.SankeyNode{
		{URL: "X", Visits: 3, EventCount: 3},
		{URL: "Y", Visits: 2, EventCount: 2},
		{URL: "Z", Visits: 1, EventCount: 1},
	}, g.Nodes)
	require.Equal(t, []domain.SankeyLink{
		{Source: 0, Target: 1, Count: 2},
		{Source: 0, Target: 2, Count: 1},
	}, g.Links)
}

func TestSelfTransitionsCountAsEventsNotVisits(t *testing.T) {
	g := BuildGraphFromURLs([][]string{{"A", "A", "B"}})
	require.Equal(t, domain.SankeyNode{URL: "A", Visits: 1, EventCount: 2}, g.Nodes[0])
	require.Equal(t, []domain.SankeyLink{{Source: 0, Target: 1, Count: 1}}, g.Links)
}

func TestBuildGraphIsDeterministic(t *testing.T) {
	results := []domain.TaskResult{
		{EventSequence: eventsFor("https://s/c", "https://s/a", "https://s/b", "https://s/a")},
		{EventSequence: eventsFor("https://s/b", "https://s/c/")},
	}
	first, err := json.Marshal(BuildGraph(results))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := json.Marshal(BuildGraph(results))
		require.NoError(t, err)
		require.Equal(t, string(first), string(again))
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	require.Zero(t, s.TotalRuns)
	require.Zero(t, s.SuccessRate)
	require.Zero(t, s.AvgDurationSeconds)
	require.Zero(t, s.AvgSteps)
	require.Empty(t, s.ByPersona)
}

func TestSummarize(t *testing.T) {
	results := []domain.TaskResult{
		{Persona: domain.PersonaShopper, IsSuccessful: true, DurationSeconds: 10, StepsCompleted: 4},
		{Persona: domain.PersonaShopper, IsSuccessful: false, DurationSeconds: 20, StepsCompleted: 0},
		{Persona: domain.PersonaResearcher, IsSuccessful: true, DurationSeconds: 30, StepsCompleted: 8},
		{Persona: domain.PersonaResearcher, IsSuccessful: true, DurationSeconds: 40, StepsCompleted: 8},
	}
	s := Summarize(results)
	require.Equal(t, 4, s.TotalRuns)
	require.Equal(t, 3, s.CompletedRuns)
	require.Equal(t, 1, s.FailedRuns)
	require.InDelta(t, 0.75, s.SuccessRate, 1e-9)
	require.InDelta(t, 25.0, s.AvgDurationSeconds, 1e-9)
	require.InDelta(t, 5.0, s.AvgSteps, 1e-9)
	require.Equal(t, domain.PersonaMetric{Runs: 2, Completed: 1, Failed: 1}, s.ByPersona[domain.PersonaShopper])
	require.Equal(t, domain.PersonaMetric{Runs: 2, Completed: 2}, s.ByPersona[domain.PersonaResearcher])
}

func TestFilterByPersona(t *testing.T) {
	results := []domain.TaskResult{
		{ID: "1", Persona: domain.PersonaShopper},
		{ID: "2", Persona: domain.PersonaBrowser},
	}
	require.Len(t, FilterByPersona(results, ""), 2)
	got := FilterByPersona(results, domain.PersonaBrowser)
	require.Len(t, got, 1)
	require.Equal(t, "2", got[0].ID)
}
