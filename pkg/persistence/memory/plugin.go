package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/osvaldoandrade/personaq/pkg/domain"
	"github.com/osvaldoandrade/personaq/pkg/persistence"

	"github.com/google/uuid"
)

// Plugin implements PluginPersistence for in-memory storage
// This is primarily for testing and should not be used in production
type Plugin struct {
	mu        sync.RWMutex
	results   map[string][]byte
	byRun     map[string][]string
	byReport  map[string][]string
	scenarios map[string][]byte
	sysConfig []byte
	tz        *time.Location
}

// NewPlugin creates a new in-memory persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	tz := config.Timezone
	if tz == nil {
		tz = time.UTC
	}
	return &Plugin{
		results:   make(map[string][]byte),
		byRun:     make(map[string][]string),
		byReport:  make(map[string][]string),
		scenarios: make(map[string][]byte),
		tz:        tz,
	}, nil
}

// ResultStorage returns the result storage implementation
func (p *Plugin) ResultStorage() persistence.ResultStorage {
	return &resultStorage{plugin: p}
}

// ScenarioStorage returns the scenario storage implementation
func (p *Plugin) ScenarioStorage() persistence.ScenarioStorage {
	return &scenarioStorage{plugin: p}
}

// Health always returns nil for in-memory storage
func (p *Plugin) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op for in-memory storage
func (p *Plugin) Close() error {
	return nil
}

func (p *Plugin) now() time.Time { return time.Now().In(p.tz) }

func init() {
	persistence.RegisterProvider("memory", NewPlugin)
}

// Records are held as JSON so callers never share memory with the store.
type resultStorage struct {
	plugin *Plugin
}

func (s *resultStorage) Save(ctx context.Context, res *domain.TaskResult) (string, error) {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = s.plugin.now()
	}
	if res.EventSequence == nil {
		res.EventSequence = []domain.Event{}
	}
	b, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}

	s.plugin.mu.Lock()
	defer s.plugin.mu.Unlock()
	if _, exists := s.plugin.results[res.ID]; exists {
		return "", persistence.ErrAlreadyExists
	}
	s.plugin.results[res.ID] = b
	if res.RunID != "" {
		s.plugin.byRun[res.RunID] = append(s.plugin.byRun[res.RunID], res.ID)
	}
	if res.ReportID != "" {
		s.plugin.byReport[res.ReportID] = append(s.plugin.byReport[res.ReportID], res.ID)
	}
	return res.ID, nil
}

func (s *resultStorage) Get(ctx context.Context, id string) (*domain.TaskResult, error) {
	s.plugin.mu.RLock()
	b, ok := s.plugin.results[id]
	s.plugin.mu.RUnlock()
	if !ok {
		return nil, persistence.ErrNotFound
	}
	var res domain.TaskResult
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &res, nil
}

func (s *resultStorage) ListByRun(ctx context.Context, runID string) ([]domain.TaskResult, error) {
	s.plugin.mu.RLock()
	defer s.plugin.mu.RUnlock()
	return s.list(s.plugin.byRun[runID])
}

func (s *resultStorage) ListByReport(ctx context.Context, reportID string) ([]domain.TaskResult, error) {
	s.plugin.mu.RLock()
	defer s.plugin.mu.RUnlock()
	return s.list(s.plugin.byReport[reportID])
}

// list expects the read lock to be held.
func (s *resultStorage) list(ids []string) ([]domain.TaskResult, error) {
	out := make([]domain.TaskResult, 0, len(ids))
	for _, id := range ids {
		var res domain.TaskResult
		if err := json.Unmarshal(s.plugin.results[id], &res); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		out = append(out, res)
	}
	return out, nil
}

type scenarioStorage struct {
	plugin *Plugin
}

func (s *scenarioStorage) SaveScenario(ctx context.Context, sc *domain.Scenario) error {
	s.plugin.mu.Lock()
	defer s.plugin.mu.Unlock()

	now := s.plugin.now()
	if prev, ok := s.plugin.scenarios[sc.ID]; ok {
		var old domain.Scenario
		if err := json.Unmarshal(prev, &old); err == nil {
			sc.CreatedAt = old.CreatedAt
		}
	} else if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now
	b, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshal scenario: %w", err)
	}
	s.plugin.scenarios[sc.ID] = b
	return nil
}

func (s *scenarioStorage) GetScenario(ctx context.Context, id string) (*domain.Scenario, error) {
	s.plugin.mu.RLock()
	b, ok := s.plugin.scenarios[id]
	s.plugin.mu.RUnlock()
	if !ok {
		return nil, persistence.ErrNotFound
	}
	var sc domain.Scenario
	if err := json.Unmarshal(b, &sc); err != nil {
		return nil, fmt.Errorf("unmarshal scenario: %w", err)
	}
	return &sc, nil
}

func (s *scenarioStorage) SaveSystemConfig(ctx context.Context, c *domain.SystemConfig) error {
	c.UpdatedAt = s.plugin.now()
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal system config: %w", err)
	}
	s.plugin.mu.Lock()
	s.plugin.sysConfig = b
	s.plugin.mu.Unlock()
	return nil
}

func (s *scenarioStorage) GetSystemConfig(ctx context.Context) (*domain.SystemConfig, error) {
	s.plugin.mu.RLock()
	b := s.plugin.sysConfig
	s.plugin.mu.RUnlock()
	if b == nil {
		return nil, persistence.ErrNotFound
	}
	var c domain.SystemConfig
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("unmarshal system config: %w", err)
	}
	return &c, nil
}
