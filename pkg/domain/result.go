package domain

import (
	"encoding/json"
	"time"
)

// TaskResult is the append-only record of one executed task.
type TaskResult struct {
	ID                string          `json:"id"`
	RunID             string          `json:"runId"`
	ReportID          string          `json:"reportId"`
	ScenarioID        string          `json:"scenarioId"`
	TaskNumber        int             `json:"taskNumber"`
	Persona           Persona         `json:"persona"`
	IsSuccessful      bool            `json:"isSuccessful"`
	StartedAt         time.Time       `json:"startedAt"`
	DurationSeconds   float64         `json:"durationSeconds"`
	StepsCompleted    int             `json:"stepsCompleted"`
	TotalStepsAllowed int             `json:"totalStepsAllowed"`
	FinalResult       *string         `json:"finalResult"`
	ErrorKind         *string         `json:"errorKind"`
	EventSequence     []Event         `json:"eventSequence"`
	URLsVisited       []string        `json:"urlsVisited,omitempty"`
	RawJudgement      json.RawMessage `json:"rawJudgement,omitempty"`
	Instruction       string          `json:"instruction,omitempty"`
	HistoryURL        string          `json:"historyUrl,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// Outcome reports how this result counts toward its run.
func (r *TaskResult) Outcome() Outcome {
	if r.IsSuccessful {
		return OutcomeCompleted
	}
	return OutcomeFailed
}

// SankeyGraph is a derived view; it is rebuilt from TaskResults on demand.
type SankeyGraph struct {
	Nodes []SankeyNode `json:"nodes"`
	Links []SankeyLink `json:"links"`
}

type SankeyNode struct {
	URL        string `json:"url"`
	Visits     int    `json:"visits"`
	EventCount int    `json:"eventCount"`
}

type SankeyLink struct {
	Source int `json:"source"`
	Target int `json:"target"`
	Count  int `json:"count"`
}

type MetricsSummary struct {
	TotalRuns          int                       `json:"totalRuns"`
	CompletedRuns      int                       `json:"completedRuns"`
	FailedRuns         int                       `json:"failedRuns"`
	SuccessRate        float64                   `json:"successRate"`
	AvgDurationSeconds float64                   `json:"avgDurationSeconds"`
	AvgSteps           float64                   `json:"avgSteps"`
	ByPersona          map[Persona]PersonaMetric `json:"byPersona"`
}

type PersonaMetric struct {
	Runs      int `json:"runs"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
