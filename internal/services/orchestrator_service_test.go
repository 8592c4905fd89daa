package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/osvaldoandrade/personaq/internal/providers"
	"github.com/osvaldoandrade/personaq/pkg/domain"
	"github.com/osvaldoandrade/personaq/pkg/persistence"
)

type harness struct {
	p       persistence.PluginPersistence
	tracker RunTracker
	orch    OrchestratorService
	cb      *recordingCallback
}

func newHarness(t *testing.T, agent providers.Agent, maxConcurrent int) *harness {
	t.Helper()
	p := newMemoryPersistence(t)
	cb := &recordingCallback{}
	tracker, _ := newTracker(t, p.ResultStorage(), cb)
	exec := NewExecutorService(agent, staticInstructions{}, p.ResultStorage(), tracker, nil, ExecutorOptions{Timeout: time.Second})
	return &harness{
		p:       p,
		tracker: tracker,
		orch:    NewOrchestratorService(p.ScenarioStorage(), tracker, exec, nil, maxConcurrent),
		cb:      cb,
	}
}

func (h *harness) seed(t *testing.T, sc *domain.Scenario, withConfig bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.p.ScenarioStorage().SaveScenario(ctx, sc))
	if withConfig {
		require.NoError(t, h.p.ScenarioStorage().SaveSystemConfig(ctx, &domain.SystemConfig{ModelName: "m"}))
	}
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Wait(ctx))
}

func okAgent() providers.Agent {
	return agentFunc(func(_ context.Context, req providers.AgentRequest) (*domain.AgentHistory, error) {
		return successHistory(req.StartingURL, req.StartingURL+"/cart"), nil
	})
}

func TestStartRunCompletes(t *testing.T) {
	h := newHarness(t, okAgent(), 2)
	h.seed(t, sampleScenario(3), true)

	st, err := h.orch.StartRun(context.Background(), StartRunRequest{ScenarioID: "sc-1", ReportID: "rep-1", RunID: "run-1", Webhook: "https://hook.example"})
	require.NoError(t, err)
	require.Equal(t, "run-1", st.RunID)
	require.Equal(t, 3, st.TotalTasks)
	require.Equal(t, domain.RunInProgress, st.Status)

	h.wait(t)
	final, ok := h.tracker.Status("run-1")
	require.True(t, ok)
	require.Equal(t, domain.RunCompleted, final.Status)
	require.Equal(t, 3, final.CompletedCount)
	require.Len(t, final.ResultIDs, 3)
	require.Len(t, h.cb.all(), 1)

	results, err := h.p.ResultStorage().ListByReport(context.Background(), "rep-1")
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		require.Equal(t, "https://shop.example", r.EventSequence[0].URLValue())
	}
}

func TestStartRunGeneratesIDs(t *testing.T) {
	h := newHarness(t, okAgent(), 1)
	h.seed(t, sampleScenario(1), true)

	st, err := h.orch.StartRun(context.Background(), StartRunRequest{ScenarioID: "sc-1"})
	require.NoError(t, err)
	require.NotEmpty(t, st.RunID)
	require.NotEmpty(t, st.ReportID)
	require.NotEqual(t, st.RunID, st.ReportID)
	h.wait(t)
}

func TestStartRunMixedOutcomes(t *testing.T) {
	agent := agentFunc(func(_ context.Context, req providers.AgentRequest) (*domain.AgentHistory, error) {
		if req.Persona == domain.PersonaResearcher {
			return nil, errors.New("blocked")
		}
		return successHistory(req.StartingURL), nil
	})
	h := newHarness(t, agent, 4)
	h.seed(t, sampleScenario(4), true)

	_, err := h.orch.StartRun(context.Background(), StartRunRequest{ScenarioID: "sc-1", RunID: "mixed"})
	require.NoError(t, err)
	h.wait(t)

	st, _ := h.tracker.Status("mixed")
	require.Equal(t, domain.RunPartialFailure, st.Status)
	require.Equal(t, 2, st.CompletedCount)
	require.Equal(t, 2, st.FailedCount)
}

func TestStartRunAllFailed(t *testing.T) {
	agent := agentFunc(func(context.Context, providers.AgentRequest) (*domain.AgentHistory, error) {
		return nil, errors.New("down")
	})
	h := newHarness(t, agent, 2)
	h.seed(t, sampleScenario(2), true)

	_, err := h.orch.StartRun(context.Background(), StartRunRequest{ScenarioID: "sc-1", RunID: "bad"})
	require.NoError(t, err)
	h.wait(t)

	st, _ := h.tracker.Status("bad")
	require.Equal(t, domain.RunFailed, st.Status)
	require.Equal(t, 2, st.FailedCount)
}

func TestStartRunBoundsConcurrency(t *testing.T) {
	var inflight, peak int32
	agent := agentFunc(func(_ context.Context, req providers.AgentRequest) (*domain.AgentHistory, error) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		return successHistory(req.StartingURL), nil
	})
	h := newHarness(t, agent, 2)
	h.seed(t, sampleScenario(8), true)

	_, err := h.orch.StartRun(context.Background(), StartRunRequest{ScenarioID: "sc-1", RunID: "wide"})
	require.NoError(t, err)
	h.wait(t)

	require.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	st, _ := h.tracker.Status("wide")
	require.Equal(t, 8, st.CompletedCount)
}

func TestStartRunSelection(t *testing.T) {
	var calls int32
	agent := agentFunc(func(_ context.Context, req providers.AgentRequest) (*domain.AgentHistory, error) {
		atomic.AddInt32(&calls, 1)
		return successHistory(req.StartingURL), nil
	})
	h := newHarness(t, agent, 2)
	sc := sampleScenario(4)
	sc.SelectedTaskIndices = []int{1, 3}
	h.seed(t, sc, true)

	st, err := h.orch.StartRun(context.Background(), StartRunRequest{ScenarioID: "sc-1"})
	require.NoError(t, err)
	require.Equal(t, 2, st.TotalTasks)

	st, err = h.orch.StartRun(context.Background(), StartRunRequest{ScenarioID: "sc-1", TaskIndices: []int{0}})
	require.NoError(t, err)
	require.Equal(t, 1, st.TotalTasks)
	h.wait(t)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestStartRunValidation(t *testing.T) {
	h := newHarness(t, okAgent(), 1)
	h.seed(t, sampleScenario(2), true)
	ctx := context.Background()

	var verr *domain.ValidationError

	_, err := h.orch.StartRun(ctx, StartRunRequest{})
	require.True(t, errors.As(err, &verr))

	_, err = h.orch.StartRun(ctx, StartRunRequest{ScenarioID: "nope"})
	require.True(t, errors.As(err, &verr))
	require.True(t, verr.NotFound)

	_, err = h.orch.StartRun(ctx, StartRunRequest{ScenarioID: "sc-1", RunID: "r-bad", TaskIndices: []int{0, 2}})
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "taskIndices", verr.Field)
	_, ok := h.tracker.Status("r-bad")
	require.False(t, ok)

	unselected := sampleScenario(3)
	unselected.ID, unselected.SelectedTaskIndices = "unselected", nil
	require.NoError(t, h.p.ScenarioStorage().SaveScenario(ctx, unselected))
	_, err = h.orch.StartRun(ctx, StartRunRequest{ScenarioID: "unselected", RunID: "r-none"})
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "taskIndices", verr.Field)
	_, ok = h.tracker.Status("r-none")
	require.False(t, ok)
	_, err = h.orch.StartRun(ctx, StartRunRequest{ScenarioID: "unselected", RunID: "r-none", TaskIndices: []int{}})
	require.True(t, errors.As(err, &verr))
	require.Empty(t, h.tracker.List(""))

	require.NoError(t, h.p.ScenarioStorage().SaveScenario(ctx, &domain.Scenario{ID: "empty", TargetURL: "https://x"}))
	_, err = h.orch.StartRun(ctx, StartRunRequest{ScenarioID: "empty", RunID: "r-empty"})
	require.True(t, errors.As(err, &verr))
	_, ok = h.tracker.Status("r-empty")
	require.False(t, ok)
}

func TestStartRunDuplicateRunID(t *testing.T) {
	h := newHarness(t, okAgent(), 1)
	h.seed(t, sampleScenario(1), true)

	_, err := h.orch.StartRun(context.Background(), StartRunRequest{ScenarioID: "sc-1", RunID: "dup"})
	require.NoError(t, err)
	_, err = h.orch.StartRun(context.Background(), StartRunRequest{ScenarioID: "sc-1", RunID: "dup"})
	require.Error(t, err)
	h.wait(t)
}

func TestStartRunMissingConfigFailsRun(t *testing.T) {
	var calls int32
	agent := agentFunc(func(context.Context, providers.AgentRequest) (*domain.AgentHistory, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})
	h := newHarness(t, agent, 1)
	h.seed(t, sampleScenario(2), false)

	st, err := h.orch.StartRun(context.Background(), StartRunRequest{ScenarioID: "sc-1", RunID: "nocfg"})
	require.NoError(t, err)
	require.Equal(t, domain.RunFailed, st.Status)
	require.Equal(t, "system configuration not found", st.Error)
	h.wait(t)
	require.Zero(t, atomic.LoadInt32(&calls))
	require.Len(t, h.cb.all(), 1)
}

func TestDispatch(t *testing.T) {
	h := newHarness(t, okAgent(), 2)
	sc := sampleScenario(3)

	_, err := h.orch.Dispatch(context.Background(), DispatchRequest{Scenario: sc, TaskIndices: []int{5}})
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))

	bare := sampleScenario(3)
	bare.SelectedTaskIndices = nil
	_, err = h.orch.Dispatch(context.Background(), DispatchRequest{Scenario: bare, RunID: "d-empty", TaskIndices: []int{}})
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "taskIndices", verr.Field)
	_, ok := h.tracker.Status("d-empty")
	require.False(t, ok)

	st, err := h.orch.Dispatch(context.Background(), DispatchRequest{Scenario: sc, Config: domain.SystemConfig{ModelName: "m"}, RunID: "d1"})
	require.NoError(t, err)
	require.Equal(t, 3, st.TotalTasks)
	h.wait(t)

	final, _ := h.tracker.Status("d1")
	require.Equal(t, domain.RunCompleted, final.Status)
}

func TestStartRunReachesTerminalWhenExecutorPanics(t *testing.T) {
	p := newMemoryPersistence(t)
	tracker, _ := newTracker(t, p.ResultStorage(), nil)
	exec := NewExecutorService(okAgent(), panickingInstructions{}, p.ResultStorage(), tracker, nil, ExecutorOptions{Timeout: time.Second})
	orch := NewOrchestratorService(p.ScenarioStorage(), tracker, exec, nil, 2)
	ctx := context.Background()
	require.NoError(t, p.ScenarioStorage().SaveScenario(ctx, sampleScenario(2)))
	require.NoError(t, p.ScenarioStorage().SaveSystemConfig(ctx, &domain.SystemConfig{ModelName: "m"}))

	_, err := orch.StartRun(ctx, StartRunRequest{ScenarioID: "sc-1", RunID: "boom"})
	require.NoError(t, err)
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, orch.Wait(wctx))

	st, ok := tracker.Status("boom")
	require.True(t, ok)
	require.Equal(t, domain.RunFailed, st.Status)
	require.Equal(t, 2, st.FailedCount)
	stored, err := p.ResultStorage().ListByRun(ctx, "boom")
	require.NoError(t, err)
	require.Len(t, stored, 2)
}

func TestWaitHonorsContext(t *testing.T) {
	block := make(chan struct{})
	agent := agentFunc(func(context.Context, providers.AgentRequest) (*domain.AgentHistory, error) {
		<-block
		return successHistory("https://a"), nil
	})
	h := newHarness(t, agent, 1)
	h.seed(t, sampleScenario(1), true)

	_, err := h.orch.StartRun(context.Background(), StartRunRequest{ScenarioID: "sc-1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.orch.Wait(ctx), context.DeadlineExceeded)
	close(block)
	h.wait(t)
}
