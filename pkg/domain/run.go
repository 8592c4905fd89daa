package domain

import (
	"encoding"
	"time"
)

type RunStatus string

const (
	RunInProgress     RunStatus = "in_progress"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunPartialFailure RunStatus = "partial_failure"
)

var (
	_ encoding.BinaryMarshaler = RunStatus("")
	_ encoding.TextMarshaler   = RunStatus("")
)

func (s RunStatus) MarshalBinary() ([]byte, error) { return []byte(string(s)), nil }
func (s RunStatus) MarshalText() ([]byte, error)   { return []byte(string(s)), nil }

func (s RunStatus) Terminal() bool { return s != RunInProgress && s != "" }

// Outcome is what a single task reports back to its run.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

type RunState struct {
	RunID          string     `json:"runId"`
	ScenarioID     string     `json:"scenarioId"`
	ReportID       string     `json:"reportId"`
	Status         RunStatus  `json:"status"`
	TotalTasks     int        `json:"totalTasks"`
	CompletedCount int        `json:"completedCount"`
	FailedCount    int        `json:"failedCount"`
	ResultIDs      []string   `json:"resultIds"`
	Webhook        string     `json:"webhook,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	Error          string     `json:"error,omitempty"`
}

func (r *RunState) Done() int { return r.CompletedCount + r.FailedCount }

// TerminalStatus derives the final status from the counters. It returns
// RunInProgress while outcomes are still outstanding.
func (r *RunState) TerminalStatus() RunStatus {
	if r.Done() < r.TotalTasks {
		return RunInProgress
	}
	switch {
	case r.FailedCount == 0:
		return RunCompleted
	case r.CompletedCount == 0:
		return RunFailed
	default:
		return RunPartialFailure
	}
}

// Clone returns a deep copy suitable for handing out as a snapshot.
func (r *RunState) Clone() RunState {
	out := *r
	out.ResultIDs = append([]string(nil), r.ResultIDs...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
