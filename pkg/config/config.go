package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/osvaldoandrade/personaq/internal/backoff"
	"gopkg.in/yaml.v3"
)

// ProviderConfig selects a pluggable backend and carries its options. The
// options are re-encoded as JSON for the plugin factories.
type ProviderConfig struct {
	Provider string         `yaml:"provider"`
	Options  map[string]any `yaml:"options"`
}

func (p ProviderConfig) OptionsJSON() (json.RawMessage, error) {
	if len(p.Options) == 0 {
		return json.RawMessage("{}"), nil
	}
	b, err := json.Marshal(p.Options)
	if err != nil {
		return nil, fmt.Errorf("encode %s options: %w", p.Provider, err)
	}
	return b, nil
}

type Bucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

type RateLimitConfig struct {
	StartRun Bucket `yaml:"startRun"`
	Webhook  Bucket `yaml:"webhook"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

type Config struct {
	Port          int    `yaml:"port"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	Timezone      string `yaml:"timezone"`
	LogLevel      string `yaml:"logLevel"`
	LogFormat     string `yaml:"logFormat"`
	Env           string `yaml:"env"`

	Persistence ProviderConfig `yaml:"persistence"`
	Auth        ProviderConfig `yaml:"auth"`

	AgentURL                string `yaml:"agentUrl"`
	AgentAPIKey             string `yaml:"agentApiKey"`
	MaxSteps                int    `yaml:"maxSteps"`
	TaskTimeoutSeconds      int    `yaml:"taskTimeoutSeconds"`
	MaxConcurrentTasks      int    `yaml:"maxConcurrentTasks"`
	InstructionTemplatePath string `yaml:"instructionTemplatePath"`
	LocalArtifactsDir       string `yaml:"localArtifactsDir"`

	RunRetentionSeconds       int `yaml:"runRetentionSeconds"`
	RunCleanupIntervalSeconds int `yaml:"runCleanupIntervalSeconds"`

	WebhookHmacSecret            string `yaml:"webhookHmacSecret"`
	RunWebhookMaxAttempts        int    `yaml:"runWebhookMaxAttempts"`
	RunWebhookBaseBackoffSeconds int    `yaml:"runWebhookBaseBackoffSeconds"`
	RunWebhookMaxBackoffSeconds  int    `yaml:"runWebhookMaxBackoffSeconds"`
	BackoffPolicy                string `yaml:"backoffPolicy"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

// LoadConfigOptional loads filePath when it exists and otherwise starts from
// an empty config. Env overrides and defaults apply in both cases.
func LoadConfigOptional(filePath string) (*Config, error) {
	if strings.TrimSpace(filePath) == "" {
		return fromEnv(), nil
	}
	cfg, err := LoadConfig(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return fromEnv(), nil
	}
	return cfg, err
}

func fromEnv() *Config {
	var c Config
	c.applyEnv()
	c.applyDefaults()
	return &c
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func (c *Config) applyEnv() {
	envInt("PORT", &c.Port)
	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)
	envString("ENV", &c.Env)
	envString("PERSISTENCE_PROVIDER", &c.Persistence.Provider)
	envString("AUTH_PROVIDER", &c.Auth.Provider)
	envString("AGENT_URL", &c.AgentURL)
	envString("AGENT_API_KEY", &c.AgentAPIKey)
	envInt("MAX_STEPS", &c.MaxSteps)
	envInt("TASK_TIMEOUT_SECONDS", &c.TaskTimeoutSeconds)
	envInt("MAX_CONCURRENT_TASKS", &c.MaxConcurrentTasks)
	envString("INSTRUCTION_TEMPLATE_PATH", &c.InstructionTemplatePath)
	envString("LOCAL_ARTIFACTS_DIR", &c.LocalArtifactsDir)
	envInt("RUN_RETENTION_SECONDS", &c.RunRetentionSeconds)
	envInt("RUN_CLEANUP_INTERVAL_SECONDS", &c.RunCleanupIntervalSeconds)
	envString("WEBHOOK_HMAC_SECRET", &c.WebhookHmacSecret)
	envInt("RUN_WEBHOOK_MAX_ATTEMPTS", &c.RunWebhookMaxAttempts)
	envString("BACKOFF_POLICY", &c.BackoffPolicy)
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		c.Tracing.Enabled = v == "true" || v == "1"
	}
	envString("OTEL_SERVICE_NAME", &c.Tracing.ServiceName)
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.Persistence.Provider == "" {
		c.Persistence.Provider = "redis"
	}
	if c.Persistence.Provider == "redis" {
		if c.Persistence.Options == nil {
			c.Persistence.Options = map[string]any{}
		}
		if _, ok := c.Persistence.Options["addr"]; !ok {
			c.Persistence.Options["addr"] = c.RedisAddr
		}
		if _, ok := c.Persistence.Options["password"]; !ok && c.RedisPassword != "" {
			c.Persistence.Options["password"] = c.RedisPassword
		}
	}
	if c.AgentURL == "" {
		log.Println("Warning: agentUrl not set, using default")
		c.AgentURL = "http://localhost:8090"
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 30
	}
	if c.TaskTimeoutSeconds <= 0 {
		c.TaskTimeoutSeconds = 600
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 4
	}
	if c.LocalArtifactsDir == "" {
		c.LocalArtifactsDir = "/tmp/personaq-artifacts"
	}
	if c.RunRetentionSeconds <= 0 {
		c.RunRetentionSeconds = 86400
	}
	if c.RunCleanupIntervalSeconds <= 0 {
		c.RunCleanupIntervalSeconds = 60
	}
	if c.RunWebhookMaxAttempts <= 0 {
		c.RunWebhookMaxAttempts = 5
	}
	if c.RunWebhookBaseBackoffSeconds <= 0 {
		c.RunWebhookBaseBackoffSeconds = 2
	}
	if c.RunWebhookMaxBackoffSeconds <= 0 {
		c.RunWebhookMaxBackoffSeconds = 60
	}
	if c.BackoffPolicy == "" {
		c.BackoffPolicy = "exp_full_jitter"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "personaq"
	}
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

func (c *Config) Validate() error {
	var errs []string
	env := strings.ToLower(strings.TrimSpace(c.Env))
	dev := env == "dev"

	switch c.Persistence.Provider {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Sprintf("persistence.provider %q is not supported", c.Persistence.Provider))
	}
	if c.Persistence.Provider == "memory" && !dev {
		errs = append(errs, "persistence.provider memory is only allowed in dev")
	}
	switch c.Auth.Provider {
	case "":
		if !dev {
			errs = append(errs, "auth.provider is required in non-dev")
		}
	case "static", "jwks":
	default:
		errs = append(errs, fmt.Sprintf("auth.provider %q is not supported", c.Auth.Provider))
	}

	u, err := url.Parse(c.AgentURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "agentUrl must be a valid http(s) URL")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q is invalid", c.Timezone))
	}
	if !backoff.Valid(c.BackoffPolicy) {
		errs = append(errs, fmt.Sprintf("backoffPolicy %q must be one of %s", c.BackoffPolicy, strings.Join(backoff.Policies, ", ")))
	}
	if c.RunWebhookMaxAttempts > 0 && strings.TrimSpace(c.WebhookHmacSecret) == "" && !dev {
		errs = append(errs, "webhookHmacSecret is required when run webhooks are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
