package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/osvaldoandrade/personaq/internal/metrics"
	"github.com/osvaldoandrade/personaq/internal/repository"
	"github.com/osvaldoandrade/personaq/pkg/domain"
	"github.com/osvaldoandrade/personaq/pkg/persistence"
)

// RunReporter receives exactly one outcome per executed task.
type RunReporter interface {
	Report(ctx context.Context, runID string, outcome domain.Outcome, resultID string) (domain.RunState, error)
}

// RunTracker owns the lifecycle of every RunState in the process.
type RunTracker interface {
	RunReporter
	Init(runID, scenarioID, reportID string, total int, webhook string) (domain.RunState, error)
	Status(runID string) (domain.RunState, bool)
	// List returns held runs oldest first; an empty status matches all.
	List(status domain.RunStatus) []domain.RunState
	Acknowledge(runID string) bool
	Fail(ctx context.Context, runID, reason string) (domain.RunState, error)
	// Reconcile rebuilds counters from persisted results. total is only used
	// when the run is no longer held in memory.
	Reconcile(ctx context.Context, runID string, total int) (domain.RunState, error)
}

type runTracker struct {
	store    repository.RunStateRepository
	results  persistence.ResultStorage
	callback RunCallbackService
	logger   *slog.Logger
	now      func() time.Time
}

func NewRunTracker(store repository.RunStateRepository, results persistence.ResultStorage, callback RunCallbackService, logger *slog.Logger, now func() time.Time) RunTracker {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &runTracker{store: store, results: results, callback: callback, logger: logger, now: now}
}

func (t *runTracker) Init(runID, scenarioID, reportID string, total int, webhook string) (domain.RunState, error) {
	st, err := t.store.Init(runID, scenarioID, reportID, total, webhook)
	if err != nil {
		return st, err
	}
	metrics.RunsStartedTotal.Inc()
	t.logger.Info("run started", "run_id", runID, "scenario_id", scenarioID, "report_id", reportID, "total_tasks", total)
	return st, nil
}

func (t *runTracker) Report(ctx context.Context, runID string, outcome domain.Outcome, resultID string) (domain.RunState, error) {
	st, transitioned, err := t.store.Report(runID, outcome, resultID)
	if err != nil {
		if errors.Is(err, repository.ErrRunNotFound) || errors.Is(err, repository.ErrRunTerminal) {
			metrics.RunOverReportsTotal.Inc()
			t.logger.Warn("run report ignored", "run_id", runID, "outcome", outcome, "result_id", resultID, "err", err)
		}
		return st, err
	}
	if transitioned {
		t.finished(ctx, st)
	}
	return st, nil
}

func (t *runTracker) Status(runID string) (domain.RunState, bool) {
	return t.store.Get(runID)
}

func (t *runTracker) List(status domain.RunStatus) []domain.RunState {
	all := t.store.List()
	if status == "" {
		return all
	}
	out := make([]domain.RunState, 0, len(all))
	for _, st := range all {
		if st.Status == status {
			out = append(out, st)
		}
	}
	return out
}

func (t *runTracker) Acknowledge(runID string) bool {
	ok := t.store.Acknowledge(runID)
	if ok {
		t.logger.Info("run acknowledged", "run_id", runID)
	}
	return ok
}

func (t *runTracker) Fail(ctx context.Context, runID, reason string) (domain.RunState, error) {
	st, err := t.store.Fail(runID, reason)
	if err != nil {
		return st, err
	}
	t.logger.Error("run setup failed", "run_id", runID, "err", reason)
	t.finished(ctx, st)
	return st, nil
}

func (t *runTracker) Reconcile(ctx context.Context, runID string, total int) (domain.RunState, error) {
	records, err := t.results.ListByRun(ctx, runID)
	if err != nil {
		return domain.RunState{}, fmt.Errorf("list results: %w", err)
	}
	prev, exists := t.store.Get(runID)
	if !exists && len(records) == 0 {
		return domain.RunState{}, repository.ErrRunNotFound
	}

	st := prev
	if !exists {
		if total < len(records) {
			total = len(records)
		}
		st = domain.RunState{
			RunID:      runID,
			ScenarioID: records[0].ScenarioID,
			ReportID:   records[0].ReportID,
			TotalTasks: total,
			StartedAt:  records[0].StartedAt,
		}
		for _, r := range records[1:] {
			if r.StartedAt.Before(st.StartedAt) {
				st.StartedAt = r.StartedAt
			}
		}
	}
	if len(records) > st.TotalTasks {
		t.logger.Warn("run has more results than tasks", "run_id", runID, "results", len(records), "total_tasks", st.TotalTasks)
		records = records[:st.TotalTasks]
	}

	st.CompletedCount, st.FailedCount = 0, 0
	st.ResultIDs = make([]string, 0, len(records))
	for _, r := range records {
		if r.IsSuccessful {
			st.CompletedCount++
		} else {
			st.FailedCount++
		}
		st.ResultIDs = append(st.ResultIDs, r.ID)
	}

	wasTerminal := exists && prev.Status.Terminal()
	switch {
	case st.Error != "":
		// setup failures stay failed
	case st.Done() >= st.TotalTasks:
		st.Status = st.TerminalStatus()
		if st.CompletedAt == nil {
			now := t.now()
			st.CompletedAt = &now
		}
	default:
		st.Status = domain.RunInProgress
		st.CompletedAt = nil
	}

	st = t.store.Replace(st)
	t.logger.Info("run reconciled", "run_id", runID, "status", st.Status, "completed", st.CompletedCount, "failed", st.FailedCount)
	if st.Status.Terminal() && !wasTerminal {
		t.finished(ctx, st)
	}
	return st, nil
}

func (t *runTracker) finished(ctx context.Context, st domain.RunState) {
	metrics.RunsFinishedTotal.WithLabelValues(string(st.Status)).Inc()
	t.logger.Info("run finished", "run_id", st.RunID, "status", st.Status, "completed", st.CompletedCount, "failed", st.FailedCount)
	if t.callback != nil {
		t.callback.Send(ctx, st)
	}
}
