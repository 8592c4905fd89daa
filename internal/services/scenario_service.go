package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/osvaldoandrade/personaq/pkg/domain"
	"github.com/osvaldoandrade/personaq/pkg/persistence"
)

// ScenarioService validates and stores scenarios and the system configuration.
type ScenarioService interface {
	SaveScenario(ctx context.Context, sc *domain.Scenario) (*domain.Scenario, error)
	GetScenario(ctx context.Context, id string) (*domain.Scenario, error)
	SaveSystemConfig(ctx context.Context, cfg *domain.SystemConfig) (domain.SystemConfig, error)
	GetSystemConfig(ctx context.Context) (domain.SystemConfig, error)
}

type scenarioService struct {
	store persistence.ScenarioStorage
}

func NewScenarioService(store persistence.ScenarioStorage) ScenarioService {
	return &scenarioService{store: store}
}

func (s *scenarioService) SaveScenario(ctx context.Context, sc *domain.Scenario) (*domain.Scenario, error) {
	if sc == nil {
		return nil, domain.NewValidationError("scenario", "required")
	}
	sc.ID = strings.TrimSpace(sc.ID)
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if err := validateHTTPURL("targetUrl", sc.TargetURL); err != nil {
		return nil, err
	}
	if len(sc.Tasks) == 0 {
		return nil, domain.NewValidationError("tasks", "at least one task is required")
	}
	for i := range sc.Tasks {
		t := &sc.Tasks[i]
		if strings.TrimSpace(t.Goal) == "" {
			return nil, domain.NewValidationError(fmt.Sprintf("tasks[%d].goal", i), "required")
		}
		if t.StartingURL != "" {
			if err := validateHTTPURL(fmt.Sprintf("tasks[%d].startingUrl", i), t.StartingURL); err != nil {
				return nil, err
			}
		}
		if t.Persona != "" {
			t.Persona = domain.ParsePersona(string(t.Persona))
		}
	}
	for _, idx := range sc.SelectedTaskIndices {
		if idx < 0 || idx >= len(sc.Tasks) {
			return nil, domain.NewValidationError("selectedTaskIndices", fmt.Sprintf("index %d out of range [0,%d)", idx, len(sc.Tasks)))
		}
	}
	if err := s.store.SaveScenario(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *scenarioService) GetScenario(ctx context.Context, id string) (*domain.Scenario, error) {
	sc, err := s.store.GetScenario(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, domain.NewNotFoundError("scenarioId", id)
	}
	return sc, err
}

func (s *scenarioService) SaveSystemConfig(ctx context.Context, cfg *domain.SystemConfig) (domain.SystemConfig, error) {
	if cfg == nil || strings.TrimSpace(cfg.ModelName) == "" {
		return domain.SystemConfig{}, domain.NewValidationError("modelName", "required")
	}
	if err := s.store.SaveSystemConfig(ctx, cfg); err != nil {
		return domain.SystemConfig{}, err
	}
	return cfg.Redacted(), nil
}

func (s *scenarioService) GetSystemConfig(ctx context.Context) (domain.SystemConfig, error) {
	cfg, err := s.store.GetSystemConfig(ctx)
	if errors.Is(err, persistence.ErrNotFound) {
		return domain.SystemConfig{}, domain.NewNotFoundError("systemConfig", "default")
	}
	if err != nil {
		return domain.SystemConfig{}, err
	}
	return cfg.Redacted(), nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.NewValidationError(field, "must be an absolute http(s) url")
	}
	return nil
}
