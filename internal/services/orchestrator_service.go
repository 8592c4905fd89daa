package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/osvaldoandrade/personaq/internal/tracing"
	"github.com/osvaldoandrade/personaq/pkg/domain"
	"github.com/osvaldoandrade/personaq/pkg/persistence"
)

type StartRunRequest struct {
	ScenarioID  string `json:"scenarioId"`
	TaskIndices []int  `json:"taskIndices,omitempty"`
	RunID       string `json:"runId,omitempty"`
	ReportID    string `json:"reportId,omitempty"`
	Webhook     string `json:"webhook,omitempty"`
}

type DispatchRequest struct {
	Scenario    *domain.Scenario
	Config      domain.SystemConfig
	TaskIndices []int
	RunID       string
	ReportID    string
	Webhook     string
}

// OrchestratorService fans a scenario's selected tasks out to the executor.
// Both entry points return as soon as the tasks are scheduled.
type OrchestratorService interface {
	StartRun(ctx context.Context, req StartRunRequest) (domain.RunState, error)
	Dispatch(ctx context.Context, req DispatchRequest) (domain.RunState, error)
	// Wait blocks until every scheduled task has reported or ctx is done.
	Wait(ctx context.Context) error
}

type orchestratorService struct {
	scenarios persistence.ScenarioStorage
	tracker   RunTracker
	executor  ExecutorService
	logger    *slog.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func NewOrchestratorService(scenarios persistence.ScenarioStorage, tracker RunTracker, executor ExecutorService, logger *slog.Logger, maxConcurrent int) OrchestratorService {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &orchestratorService{
		scenarios: scenarios,
		tracker:   tracker,
		executor:  executor,
		logger:    logger,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func (s *orchestratorService) StartRun(ctx context.Context, req StartRunRequest) (domain.RunState, error) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator", "personaq.run.start",
		tracing.RunAttributes(req.RunID, req.ReportID, req.ScenarioID)...)
	st, err := s.startRun(ctx, req)
	tracing.EndSpan(span, err)
	return st, err
}

func (s *orchestratorService) startRun(ctx context.Context, req StartRunRequest) (domain.RunState, error) {
	id := strings.TrimSpace(req.ScenarioID)
	if id == "" {
		return domain.RunState{}, domain.NewValidationError("scenarioId", "required")
	}
	sc, err := s.scenarios.GetScenario(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return domain.RunState{}, domain.NewNotFoundError("scenarioId", id)
		}
		return domain.RunState{}, fmt.Errorf("load scenario: %w", err)
	}
	indices, err := selectIndices(sc, req.TaskIndices)
	if err != nil {
		return domain.RunState{}, err
	}
	runID, reportID := ids(req.RunID, req.ReportID)

	st, err := s.tracker.Init(runID, sc.ID, reportID, len(indices), req.Webhook)
	if err != nil {
		return domain.RunState{}, err
	}
	cfg, err := s.scenarios.GetSystemConfig(ctx)
	if err != nil {
		reason := "system configuration not found"
		if !errors.Is(err, persistence.ErrNotFound) {
			reason = fmt.Sprintf("load system configuration: %v", err)
		}
		return s.tracker.Fail(ctx, runID, reason)
	}
	s.schedule(ctx, sc, cfg, indices, runID, reportID)
	return st, nil
}

func (s *orchestratorService) Dispatch(ctx context.Context, req DispatchRequest) (domain.RunState, error) {
	if req.Scenario == nil {
		return domain.RunState{}, domain.NewValidationError("scenario", "required")
	}
	indices, err := selectIndices(req.Scenario, req.TaskIndices)
	if err != nil {
		return domain.RunState{}, err
	}
	runID, reportID := ids(req.RunID, req.ReportID)
	st, err := s.tracker.Init(runID, req.Scenario.ID, reportID, len(indices), req.Webhook)
	if err != nil {
		return domain.RunState{}, err
	}
	cfg := req.Config
	s.schedule(ctx, req.Scenario, &cfg, indices, runID, reportID)
	return st, nil
}

func (s *orchestratorService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// schedule starts one worker per task; the semaphore bounds how many run at
// once. Workers outlive the caller's ctx.
func (s *orchestratorService) schedule(ctx context.Context, sc *domain.Scenario, cfg *domain.SystemConfig, indices []int, runID, reportID string) {
	bg := context.WithoutCancel(ctx)
	s.logger.Info("run dispatched", "run_id", runID, "scenario_id", sc.ID, "tasks", len(indices))
	s.wg.Add(len(indices))
	for _, idx := range indices {
		task := sc.ResolveTask(idx)
		go func() {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("task worker panic", "run_id", runID, "task_number", task.Number, "panic", r)
				}
			}()
			if err := s.sem.Acquire(bg, 1); err != nil {
				return
			}
			defer s.sem.Release(1)
			s.executor.Execute(bg, ExecuteRequest{
				ScenarioID: sc.ID,
				RunID:      runID,
				ReportID:   reportID,
				Task:       task,
				Config:     *cfg,
			})
		}()
	}
}

// selectIndices applies the fallback chain: explicit indices, the scenario's
// saved selection, then every task.
func selectIndices(sc *domain.Scenario, requested []int) ([]int, error) {
	if len(sc.Tasks) == 0 {
		return nil, domain.NewValidationError("tasks", "scenario has no tasks")
	}
	indices := requested
	if len(indices) == 0 {
		indices = sc.SelectedTaskIndices
	}
	if len(indices) == 0 {
		return nil, domain.NewValidationError("taskIndices", "no tasks selected")
	}
	out := make([]int, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(sc.Tasks) {
			return nil, domain.NewValidationError("taskIndices", fmt.Sprintf("index %d out of range [0,%d)", idx, len(sc.Tasks)))
		}
		out[i] = idx
	}
	return out, nil
}

func ids(runID, reportID string) (string, string) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		runID = uuid.NewString()
	}
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		reportID = uuid.NewString()
	}
	return runID, reportID
}
