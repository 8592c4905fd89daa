package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/osvaldoandrade/personaq/pkg/domain"
	"github.com/osvaldoandrade/personaq/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

// ScenarioRepository stores scenarios and the single system configuration.
type ScenarioRepository interface {
	SaveScenario(ctx context.Context, s *domain.Scenario) error
	GetScenario(ctx context.Context, id string) (*domain.Scenario, error)
	SaveSystemConfig(ctx context.Context, c *domain.SystemConfig) error
	GetSystemConfig(ctx context.Context) (*domain.SystemConfig, error)
}

type scenarioRedisRepo struct {
	rdb *redis.Client
	tz  *time.Location
}

func NewScenarioRepository(rdb *redis.Client, tz *time.Location) ScenarioRepository {
	if tz == nil {
		tz = time.UTC
	}
	return &scenarioRedisRepo{rdb: rdb, tz: tz}
}

func (r *scenarioRedisRepo) keyScenariosHash() string { return "personaq:scenarios" }
func (r *scenarioRedisRepo) keySystemConfig() string  { return "personaq:system_config" }

func (r *scenarioRedisRepo) now() time.Time { return time.Now().In(r.tz) }

func (r *scenarioRedisRepo) SaveScenario(ctx context.Context, s *domain.Scenario) error {
	now := r.now()
	if prev, err := r.GetScenario(ctx, s.ID); err == nil {
		s.CreatedAt = prev.CreatedAt
	} else if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal scenario: %w", err)
	}
	if err := r.rdb.HSet(ctx, r.keyScenariosHash(), s.ID, string(b)).Err(); err != nil {
		return fmt.Errorf("redis HSET scenario: %w", err)
	}
	return nil
}

func (r *scenarioRedisRepo) GetScenario(ctx context.Context, id string) (*domain.Scenario, error) {
	js, err := r.rdb.HGet(ctx, r.keyScenariosHash(), id).Result()
	if err == redis.Nil || (err == nil && js == "") {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis HGET scenario: %w", err)
	}
	var s domain.Scenario
	if err := json.Unmarshal([]byte(js), &s); err != nil {
		return nil, fmt.Errorf("unmarshal scenario: %w", err)
	}
	return &s, nil
}

func (r *scenarioRedisRepo) SaveSystemConfig(ctx context.Context, c *domain.SystemConfig) error {
	c.UpdatedAt = r.now()
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal system config: %w", err)
	}
	if err := r.rdb.Set(ctx, r.keySystemConfig(), string(b), 0).Err(); err != nil {
		return fmt.Errorf("redis SET system config: %w", err)
	}
	return nil
}

func (r *scenarioRedisRepo) GetSystemConfig(ctx context.Context) (*domain.SystemConfig, error) {
	js, err := r.rdb.Get(ctx, r.keySystemConfig()).Result()
	if err == redis.Nil || (err == nil && js == "") {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET system config: %w", err)
	}
	var c domain.SystemConfig
	if err := json.Unmarshal([]byte(js), &c); err != nil {
		return nil, fmt.Errorf("unmarshal system config: %w", err)
	}
	return &c, nil
}
