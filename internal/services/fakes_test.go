package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/osvaldoandrade/personaq/internal/providers"
	"github.com/osvaldoandrade/personaq/internal/repository"
	"github.com/osvaldoandrade/personaq/pkg/domain"
	"github.com/osvaldoandrade/personaq/pkg/persistence"
	"github.com/osvaldoandrade/personaq/pkg/persistence/memory"
)

type agentFunc func(ctx context.Context, req providers.AgentRequest) (*domain.AgentHistory, error)

func (f agentFunc) Run(ctx context.Context, req providers.AgentRequest) (*domain.AgentHistory, error) {
	return f(ctx, req)
}

type staticInstructions struct{ err error }

func (s staticInstructions) Build(task domain.Task) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "act as " + string(task.Persona) + ": " + task.Goal, nil
}

type report struct {
	runID    string
	outcome  domain.Outcome
	resultID string
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []report
}

func (r *recordingReporter) Report(_ context.Context, runID string, outcome domain.Outcome, resultID string) (domain.RunState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{runID, outcome, resultID})
	return domain.RunState{}, nil
}

func (r *recordingReporter) all() []report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report(nil), r.reports...)
}

type recordingCallback struct {
	mu   sync.Mutex
	sent []domain.RunState
}

func (c *recordingCallback) Send(_ context.Context, st domain.RunState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, st)
}

func (c *recordingCallback) all() []domain.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.RunState(nil), c.sent...)
}

type failingResults struct{ persistence.ResultStorage }

func (failingResults) Save(context.Context, *domain.TaskResult) (string, error) {
	return "", errors.New("disk full")
}

func newMemoryPersistence(t *testing.T) persistence.PluginPersistence {
	t.Helper()
	p, err := memory.NewPlugin(persistence.PluginConfig{})
	if err != nil {
		t.Fatalf("memory plugin: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func newTracker(t *testing.T, results persistence.ResultStorage, cb RunCallbackService) (RunTracker, repository.RunStateRepository) {
	t.Helper()
	store := repository.NewRunStateRepository(nil)
	return NewRunTracker(store, results, cb, nil, nil), store
}

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

func successHistory(urls ...string) *domain.AgentHistory {
	h := &domain.AgentHistory{IsDone: true, IsSuccessful: boolPtr(true), DurationSeconds: 2.5, URLs: urls, FinalResult: strPtr("found it")}
	for i, u := range urls {
		h.Steps = append(h.Steps, domain.HistoryStep{
			URL:     u,
			Actions: []domain.RawAction{{Name: "click_element", Params: map[string]any{"index": float64(i)}}},
			Results: []domain.ActionResult{{}},
		})
	}
	h.NumberOfSteps = len(h.Steps)
	return h
}

func sampleScenario(n int) *domain.Scenario {
	sc := &domain.Scenario{ID: "sc-1", TargetURL: "https://shop.example"}
	personas := []domain.Persona{domain.PersonaShopper, domain.PersonaResearcher}
	for i := 0; i < n; i++ {
		sc.Tasks = append(sc.Tasks, domain.Task{Persona: personas[i%len(personas)], Goal: "buy socks"})
		sc.SelectedTaskIndices = append(sc.SelectedTaskIndices, i)
	}
	return sc
}
