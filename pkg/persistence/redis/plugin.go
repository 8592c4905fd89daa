// Package redis stores task results, scenarios and the system configuration
// in Redis (or a Redis-compatible store such as KVRocks).
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/osvaldoandrade/personaq/internal/repository"
	"github.com/osvaldoandrade/personaq/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

// Options is the JSON options block of the "redis" provider.
type Options struct {
	Addr               string `json:"addr"`
	Password           string `json:"password,omitempty"`
	DB                 int    `json:"db,omitempty"`
	PoolSize           int    `json:"poolSize,omitempty"`
	DialTimeoutSeconds int    `json:"dialTimeoutSeconds,omitempty"`
}

func (o Options) validate() error {
	if strings.TrimSpace(o.Addr) == "" {
		return errors.New("addr is required")
	}
	if o.DB < 0 || o.PoolSize < 0 || o.DialTimeoutSeconds < 0 {
		return errors.New("db, poolSize and dialTimeoutSeconds must not be negative")
	}
	return nil
}

func (o Options) client() *redis.Client {
	opts := &redis.Options{Addr: o.Addr, Password: o.Password, DB: o.DB, PoolSize: o.PoolSize}
	if o.DialTimeoutSeconds > 0 {
		opts.DialTimeout = time.Duration(o.DialTimeoutSeconds) * time.Second
	}
	return redis.NewClient(opts)
}

type Plugin struct {
	client    *redis.Client
	results   repository.TaskResultRepository
	scenarios repository.ScenarioRepository
}

// NewPlugin opens a dedicated client from the provider options. The server
// normally shares its own client through NewPluginWithClient instead.
func NewPlugin(cfg persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var opts Options
	if err := json.Unmarshal(cfg.Options, &opts); err != nil {
		return nil, fmt.Errorf("redis options: %w", err)
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("redis options: %w", err)
	}
	return NewPluginWithClient(opts.client(), cfg), nil
}

// NewPluginWithClient builds the plugin on an existing client. Close closes it.
func NewPluginWithClient(client *redis.Client, cfg persistence.PluginConfig) *Plugin {
	return &Plugin{
		client:    client,
		results:   repository.NewTaskResultRepository(client, cfg.Timezone),
		scenarios: repository.NewScenarioRepository(client, cfg.Timezone),
	}
}

func (p *Plugin) ResultStorage() persistence.ResultStorage     { return p.results }
func (p *Plugin) ScenarioStorage() persistence.ScenarioStorage { return p.scenarios }

func (p *Plugin) Health(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (p *Plugin) Close() error { return p.client.Close() }

func init() {
	persistence.RegisterProvider("redis", NewPlugin)
}
