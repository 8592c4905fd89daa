package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/osvaldoandrade/personaq/internal/journey"
	"github.com/osvaldoandrade/personaq/pkg/domain"
	"github.com/osvaldoandrade/personaq/pkg/persistence"
)

// Scope selects the results a journey query covers: one run or one report.
type Scope struct {
	RunID    string
	ReportID string
	// Persona narrows the results when set.
	Persona domain.Persona
}

// normalized trims the ids and checks that exactly one of them is set.
func (s Scope) normalized() (Scope, error) {
	s.RunID, s.ReportID = strings.TrimSpace(s.RunID), strings.TrimSpace(s.ReportID)
	switch {
	case s.RunID == "" && s.ReportID == "":
		return s, domain.NewValidationError("scope", "runId or reportId is required")
	case s.RunID != "" && s.ReportID != "":
		return s, domain.NewValidationError("scope", "runId and reportId are mutually exclusive")
	}
	return s, nil
}

// JourneyService answers read-only questions over persisted TaskResults.
// Graphs and summaries are recomputed on every call.
type JourneyService interface {
	GetResult(ctx context.Context, id string) (*domain.TaskResult, error)
	ListResults(ctx context.Context, scope Scope) ([]domain.TaskResult, error)
	GetGraph(ctx context.Context, scope Scope) (domain.SankeyGraph, error)
	GetMetricsSummary(ctx context.Context, scope Scope) (domain.MetricsSummary, error)
}

type journeyService struct {
	results persistence.ResultStorage
}

func NewJourneyService(results persistence.ResultStorage) JourneyService {
	return &journeyService{results: results}
}

func (s *journeyService) GetResult(ctx context.Context, id string) (*domain.TaskResult, error) {
	res, err := s.results.Get(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, domain.NewNotFoundError("resultId", id)
	}
	return res, err
}

func (s *journeyService) ListResults(ctx context.Context, scope Scope) ([]domain.TaskResult, error) {
	scope, err := scope.normalized()
	if err != nil {
		return nil, err
	}
	var out []domain.TaskResult
	if scope.RunID != "" {
		out, err = s.results.ListByRun(ctx, scope.RunID)
	} else {
		out, err = s.results.ListByReport(ctx, scope.ReportID)
	}
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	if scope.Persona != "" {
		out = journey.FilterByPersona(out, scope.Persona)
	}
	if out == nil {
		out = []domain.TaskResult{}
	}
	return out, nil
}

func (s *journeyService) GetGraph(ctx context.Context, scope Scope) (domain.SankeyGraph, error) {
	results, err := s.ListResults(ctx, scope)
	if err != nil {
		return domain.SankeyGraph{}, err
	}
	return journey.BuildGraph(results), nil
}

func (s *journeyService) GetMetricsSummary(ctx context.Context, scope Scope) (domain.MetricsSummary, error) {
	results, err := s.ListResults(ctx, scope)
	if err != nil {
		return domain.MetricsSummary{}, err
	}
	return journey.Summarize(results), nil
}
