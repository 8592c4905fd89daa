package persistence

import (
	"context"
	"errors"

	"github.com/osvaldoandrade/personaq/pkg/domain"
)

var (
	// ErrNotFound is returned when a key does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a key already exists
	ErrAlreadyExists = errors.New("already exists")
)

// PluginPersistence provides storage operations for persistence plugins.
// This is the main interface that all persistence backends must implement.
type PluginPersistence interface {
	// ResultStorage returns the task result storage implementation
	ResultStorage() ResultStorage

	// ScenarioStorage returns the scenario and system config storage
	ScenarioStorage() ScenarioStorage

	// Health checks if the persistence backend is healthy
	Health(ctx context.Context) error

	// Close releases resources held by the persistence backend
	Close() error
}

// ResultStorage is the append-only sink for executed task results.
type ResultStorage interface {
	// Save stores a new result and returns its id. An existing id is rejected
	// with ErrAlreadyExists.
	Save(ctx context.Context, res *domain.TaskResult) (string, error)

	// Get retrieves a result by id
	Get(ctx context.Context, id string) (*domain.TaskResult, error)

	// ListByRun returns a run's results in save order
	ListByRun(ctx context.Context, runID string) ([]domain.TaskResult, error)

	// ListByReport returns a report's results in save order
	ListByReport(ctx context.Context, reportID string) ([]domain.TaskResult, error)
}

// ScenarioStorage resolves scenarios and the system configuration.
type ScenarioStorage interface {
	SaveScenario(ctx context.Context, s *domain.Scenario) error
	GetScenario(ctx context.Context, id string) (*domain.Scenario, error)
	SaveSystemConfig(ctx context.Context, c *domain.SystemConfig) error
	GetSystemConfig(ctx context.Context) (*domain.SystemConfig, error)
}
