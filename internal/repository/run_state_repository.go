package repository

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/osvaldoandrade/personaq/pkg/domain"
)

var (
	ErrRunExists   = errors.New("run already exists")
	ErrRunNotFound = errors.New("run not found")
	ErrRunTerminal = errors.New("run already terminal")
)

// RunStateRepository is the process-wide run status store. Every mutation is
// serialized; reads return deep copies.
type RunStateRepository interface {
	Init(runID, scenarioID, reportID string, total int, webhook string) (domain.RunState, error)
	// Report records one task outcome. transitioned is true only for the call
	// that moved the run into its terminal status.
	Report(runID string, outcome domain.Outcome, resultID string) (state domain.RunState, transitioned bool, err error)
	Get(runID string) (domain.RunState, bool)
	Acknowledge(runID string) bool
	// Fail force-terminates a run that could not be scheduled.
	Fail(runID, reason string) (domain.RunState, error)
	Replace(state domain.RunState) domain.RunState
	List() []domain.RunState
	CountByStatus() map[domain.RunStatus]int
	// Sweep drops terminal runs that completed before the cutoff.
	Sweep(before time.Time) int
}

type runStateMemRepo struct {
	mu   sync.Mutex
	runs map[string]*domain.RunState
	tz   *time.Location
}

func NewRunStateRepository(tz *time.Location) RunStateRepository {
	if tz == nil {
		tz = time.UTC
	}
	return &runStateMemRepo{runs: make(map[string]*domain.RunState), tz: tz}
}

func (r *runStateMemRepo) now() time.Time { return time.Now().In(r.tz) }

func (r *runStateMemRepo) Init(runID, scenarioID, reportID string, total int, webhook string) (domain.RunState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[runID]; ok {
		return domain.RunState{}, ErrRunExists
	}
	st := &domain.RunState{
		RunID:      runID,
		ScenarioID: scenarioID,
		ReportID:   reportID,
		Status:     domain.RunInProgress,
		TotalTasks: total,
		ResultIDs:  []string{},
		Webhook:    webhook,
		StartedAt:  r.now(),
	}
	r.runs[runID] = st
	return st.Clone(), nil
}

func (r *runStateMemRepo) Report(runID string, outcome domain.Outcome, resultID string) (domain.RunState, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[runID]
	if !ok {
		return domain.RunState{}, false, ErrRunNotFound
	}
	if st.Status.Terminal() || st.Done() >= st.TotalTasks {
		return st.Clone(), false, ErrRunTerminal
	}
	switch outcome {
	case domain.OutcomeCompleted:
		st.CompletedCount++
	default:
		st.FailedCount++
	}
	if resultID != "" {
		st.ResultIDs = append(st.ResultIDs, resultID)
	}
	if st.Done() < st.TotalTasks {
		return st.Clone(), false, nil
	}
	st.Status = st.TerminalStatus()
	now := r.now()
	st.CompletedAt = &now
	return st.Clone(), true, nil
}

func (r *runStateMemRepo) Get(runID string) (domain.RunState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[runID]
	if !ok {
		return domain.RunState{}, false
	}
	return st.Clone(), true
}

func (r *runStateMemRepo) Acknowledge(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[runID]; !ok {
		return false
	}
	delete(r.runs, runID)
	return true
}

func (r *runStateMemRepo) Fail(runID, reason string) (domain.RunState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[runID]
	if !ok {
		return domain.RunState{}, ErrRunNotFound
	}
	if st.Status.Terminal() {
		return st.Clone(), ErrRunTerminal
	}
	st.Status = domain.RunFailed
	st.Error = reason
	now := r.now()
	st.CompletedAt = &now
	return st.Clone(), nil
}

func (r *runStateMemRepo) Replace(state domain.RunState) domain.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := state.Clone()
	r.runs[state.RunID] = &cp
	return cp.Clone()
}

func (r *runStateMemRepo) List() []domain.RunState {
	r.mu.Lock()
	out := make([]domain.RunState, 0, len(r.runs))
	for _, st := range r.runs {
		out = append(out, st.Clone())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return out
}

func (r *runStateMemRepo) CountByStatus() map[domain.RunStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[domain.RunStatus]int{
		domain.RunInProgress:     0,
		domain.RunCompleted:      0,
		domain.RunFailed:         0,
		domain.RunPartialFailure: 0,
	}
	for _, st := range r.runs {
		counts[st.Status]++
	}
	return counts
}

func (r *runStateMemRepo) Sweep(before time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, st := range r.runs {
		if !st.Status.Terminal() || st.CompletedAt == nil {
			continue
		}
		if st.CompletedAt.Before(before) {
			delete(r.runs, id)
			removed++
		}
	}
	return removed
}
