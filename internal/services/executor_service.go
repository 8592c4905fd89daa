package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/osvaldoandrade/personaq/internal/metrics"
	"github.com/osvaldoandrade/personaq/internal/normalizer"
	"github.com/osvaldoandrade/personaq/internal/providers"
	"github.com/osvaldoandrade/personaq/internal/tracing"
	"github.com/osvaldoandrade/personaq/pkg/domain"
	"github.com/osvaldoandrade/personaq/pkg/persistence"
)

// InstructionRenderer turns a task into the natural-language agent instruction.
type InstructionRenderer interface {
	Build(task domain.Task) (string, error)
}

type ExecuteRequest struct {
	ScenarioID string
	RunID      string
	ReportID   string
	Task       domain.Task
	Config     domain.SystemConfig
}

// ExecutorService runs one task end to end. Execute never returns an error:
// every failure becomes a failed TaskResult, and the outcome is reported to
// the run exactly once.
type ExecutorService interface {
	Execute(ctx context.Context, req ExecuteRequest) domain.TaskResult
}

type executorService struct {
	agent        providers.Agent
	instructions InstructionRenderer
	results      persistence.ResultStorage
	reporter     RunReporter
	uploader     providers.Uploader
	logger       *slog.Logger
	maxSteps     int
	timeout      time.Duration
	now          func() time.Time
}

type ExecutorOptions struct {
	MaxSteps int
	Timeout  time.Duration
	// Uploader receives the raw agent history; nil disables archiving.
	Uploader providers.Uploader
	Now      func() time.Time
}

func NewExecutorService(agent providers.Agent, instructions InstructionRenderer, results persistence.ResultStorage, reporter RunReporter, logger *slog.Logger, opts ExecutorOptions) ExecutorService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 30
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 600 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &executorService{
		agent:        agent,
		instructions: instructions,
		results:      results,
		reporter:     reporter,
		uploader:     opts.Uploader,
		logger:       logger,
		maxSteps:     opts.MaxSteps,
		timeout:      opts.Timeout,
		now:          opts.Now,
	}
}

func (s *executorService) Execute(ctx context.Context, req ExecuteRequest) domain.TaskResult {
	ctx, span := tracing.StartSpan(ctx, "executor", "personaq.task.execute",
		tracing.TaskAttributes(req.RunID, req.ReportID, req.ScenarioID, req.Task.Number, string(req.Task.Persona))...)
	logger := s.logger.With(tracing.LogFields(ctx)...)
	metrics.TasksInflight.Inc()
	defer metrics.TasksInflight.Dec()

	started := s.now()
	res, runErr := s.runSafe(ctx, req, started)

	id, err := s.save(ctx, &res)
	if err != nil {
		logger.Error("task result save failed", "run_id", req.RunID, "task_number", req.Task.Number, "result_id", res.ID, "err", err)
		id = ""
	}
	res.ID = id

	outcome := res.Outcome()
	metrics.TasksExecutedTotal.WithLabelValues(string(res.Persona), string(outcome)).Inc()
	metrics.TaskDurationSeconds.WithLabelValues(string(res.Persona), string(outcome)).Observe(res.DurationSeconds)
	if runErr != nil {
		logger.Warn("task failed", "run_id", req.RunID, "task_number", req.Task.Number, "persona", req.Task.Persona, "err", runErr)
	} else {
		logger.Info("task executed", "run_id", req.RunID, "task_number", req.Task.Number, "persona", req.Task.Persona, "outcome", outcome, "steps", res.StepsCompleted)
	}

	if s.reporter != nil {
		_, _ = s.reporter.Report(ctx, req.RunID, outcome, id)
	}
	tracing.EndSpan(span, runErr)
	return res
}

// runSafe converts a panic anywhere in run into a failed result.
func (s *executorService) runSafe(ctx context.Context, req ExecuteRequest, started time.Time) (res domain.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
			res = s.failed(s.baseResult(req, started), err)
		}
	}()
	return s.run(ctx, req, started)
}

func (s *executorService) save(ctx context.Context, res *domain.TaskResult) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			id, err = "", fmt.Errorf("save panic: %v", r)
		}
	}()
	return s.results.Save(ctx, res)
}

func (s *executorService) baseResult(req ExecuteRequest, started time.Time) domain.TaskResult {
	return domain.TaskResult{
		RunID:             req.RunID,
		ReportID:          req.ReportID,
		ScenarioID:        req.ScenarioID,
		TaskNumber:        req.Task.Number,
		Persona:           req.Task.Persona,
		StartedAt:         started,
		TotalStepsAllowed: s.maxSteps,
		Instruction:       req.Task.Goal,
		EventSequence:     []domain.Event{},
	}
}

func (s *executorService) run(ctx context.Context, req ExecuteRequest, started time.Time) (domain.TaskResult, error) {
	res := s.baseResult(req, started)

	instruction, err := s.instructions.Build(req.Task)
	if err != nil {
		return s.failed(res, fmt.Errorf("build instruction: %w", err)), err
	}
	res.Instruction = instruction

	history, err := s.invoke(ctx, providers.AgentRequest{
		Instruction: instruction,
		StartingURL: req.Task.StartingURL,
		Persona:     req.Task.Persona,
		MaxSteps:    s.maxSteps,
		Config:      req.Config,
	})
	if err != nil {
		return s.failed(res, err), err
	}

	res.IsSuccessful = history.Verdict()
	res.DurationSeconds = history.DurationSeconds
	if res.DurationSeconds <= 0 {
		res.DurationSeconds = s.now().Sub(started).Seconds()
	}
	res.StepsCompleted = history.NumberOfSteps
	if res.StepsCompleted <= 0 {
		res.StepsCompleted = len(history.Steps)
	}
	res.FinalResult = history.FinalResult
	res.EventSequence = normalizer.NormalizeHistory(history)
	res.URLsVisited = history.URLs
	res.RawJudgement = history.Judgement
	if !res.IsSuccessful {
		kind := unsuccessfulKind(history)
		res.ErrorKind = &kind
	}
	res.HistoryURL = s.archive(ctx, req, history)
	return res, nil
}

func (s *executorService) failed(res domain.TaskResult, err error) domain.TaskResult {
	msg := err.Error()
	final := "ERROR: " + msg
	res.IsSuccessful = false
	res.ErrorKind = &msg
	res.FinalResult = &final
	res.StepsCompleted = 0
	res.EventSequence = []domain.Event{}
	res.DurationSeconds = s.now().Sub(res.StartedAt).Seconds()
	return res
}

// invoke runs the agent under the hard per-task timeout. A hung agent is
// abandoned once the deadline passes.
func (s *executorService) invoke(ctx context.Context, req providers.AgentRequest) (*domain.AgentHistory, error) {
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type reply struct {
		history *domain.AgentHistory
		err     error
	}
	ch := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- reply{err: fmt.Errorf("agent panic: %v", r)}
			}
		}()
		h, err := s.agent.Run(tctx, req)
		ch <- reply{history: h, err: err}
	}()

	timeoutErr := fmt.Errorf("task timeout after %g seconds", s.timeout.Seconds())
	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(tctx.Err(), context.DeadlineExceeded) {
				return nil, timeoutErr
			}
			return nil, r.err
		}
		if r.history == nil {
			return nil, errors.New("agent returned no history")
		}
		return r.history, nil
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, timeoutErr
		}
		return nil, tctx.Err()
	}
}

func (s *executorService) archive(ctx context.Context, req ExecuteRequest, h *domain.AgentHistory) string {
	if s.uploader == nil {
		return ""
	}
	b, err := json.Marshal(h)
	if err != nil {
		s.logger.Warn("history marshal failed", "run_id", req.RunID, "task_number", req.Task.Number, "err", err)
		return ""
	}
	url, err := s.uploader.UploadBytes(ctx, providers.HistoryObjectPath(req.RunID, req.Task.Number), "application/json", b)
	if err != nil {
		s.logger.Warn("history upload failed", "run_id", req.RunID, "task_number", req.Task.Number, "err", err)
		return ""
	}
	return url
}

func unsuccessfulKind(h *domain.AgentHistory) string {
	var errs []string
	for _, e := range h.Errors {
		if e = strings.TrimSpace(e); e != "" {
			errs = append(errs, e)
		}
	}
	if len(errs) == 0 {
		return "agent reported unsuccessful completion"
	}
	return strings.Join(errs, "; ")
}
