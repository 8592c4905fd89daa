package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/osvaldoandrade/personaq/internal/backoff"
	"github.com/osvaldoandrade/personaq/internal/metrics"
	"github.com/osvaldoandrade/personaq/internal/middleware"
	"github.com/osvaldoandrade/personaq/internal/providers"
	"github.com/osvaldoandrade/personaq/internal/ratelimit"
	"github.com/osvaldoandrade/personaq/internal/repository"
	"github.com/osvaldoandrade/personaq/internal/services"
	"github.com/osvaldoandrade/personaq/internal/tracing"
	"github.com/osvaldoandrade/personaq/pkg/auth"
	"github.com/osvaldoandrade/personaq/pkg/config"
	"github.com/osvaldoandrade/personaq/pkg/persistence"
	_ "github.com/osvaldoandrade/personaq/pkg/persistence/memory"
	redisplugin "github.com/osvaldoandrade/personaq/pkg/persistence/redis"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

type Application struct {
	Config *config.Config
	Engine *gin.Engine
	Logger *slog.Logger
	TZ     *time.Location

	Redis       *redis.Client
	Persistence persistence.PluginPersistence
	Validator   auth.Validator
	RateLimiter ratelimit.Limiter
	Agent       providers.Agent

	Runs         repository.RunStateRepository
	Tracker      services.RunTracker
	Executor     services.ExecutorService
	Orchestrator services.OrchestratorService
	Journey      services.JourneyService
	Scenarios    services.ScenarioService
	Cleanup      services.RunCleanupService

	TracingShutdown func(context.Context) error

	stopBackground context.CancelFunc
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithValidator sets a custom bearer token validator
func WithValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.Validator = validator
		return nil
	}
}

// WithAgent replaces the HTTP automation agent
func WithAgent(agent providers.Agent) ApplicationOption {
	return func(app *Application) error {
		app.Agent = agent
		return nil
	}
}

// WithRedisClient shares an existing client with the limiter and, when the
// redis provider is selected, the persistence plugin.
func WithRedisClient(rdb *redis.Client) ApplicationOption {
	return func(app *Application) error {
		app.Redis = rdb
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	loc := cfg.Location()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	app := &Application{
		Config: cfg,
		Logger: logger,
		TZ:     loc,
	}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}
	app.TracingShutdown = shutdown

	if app.Redis == nil && strings.TrimSpace(cfg.RedisAddr) != "" {
		app.Redis = providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
		if err := providers.PingRedis(context.Background(), app.Redis, 3*time.Second); err != nil {
			logger.Warn("redis unreachable; rate limiting fails open until it recovers", "addr", cfg.RedisAddr, "err", err)
		}
	}
	if app.Redis != nil {
		app.RateLimiter = ratelimit.NewTokenBucketLimiter(app.Redis)
	}

	if err := app.initPersistence(); err != nil {
		return nil, err
	}

	if app.Validator == nil {
		validator, err := middleware.NewValidator(cfg)
		if err != nil {
			return nil, err
		}
		app.Validator = validator
	}

	if app.Agent == nil {
		app.Agent = providers.NewHTTPAgent(cfg.AgentURL, cfg.AgentAPIKey)
	}
	instructions, err := providers.NewInstructionBuilder(cfg.InstructionTemplatePath)
	if err != nil {
		return nil, err
	}

	app.Runs = repository.NewRunStateRepository(loc)
	metrics.RegisterRunCollector(app.Runs)

	callback := services.NewRunCallbackService(
		logger,
		cfg.WebhookHmacSecret,
		cfg.RunWebhookMaxAttempts,
		backoff.Policy{
			Name: cfg.BackoffPolicy,
			Base: time.Duration(cfg.RunWebhookBaseBackoffSeconds) * time.Second,
			Max:  time.Duration(cfg.RunWebhookMaxBackoffSeconds) * time.Second,
		},
		app.RateLimiter,
		ratelimit.Bucket(cfg.RateLimit.Webhook),
	)
	results := app.Persistence.ResultStorage()
	app.Tracker = services.NewRunTracker(app.Runs, results, callback, logger, nil)

	var uploader providers.Uploader
	if strings.TrimSpace(cfg.LocalArtifactsDir) != "" {
		uploader = providers.NewLocalUploader(cfg.LocalArtifactsDir)
	}
	app.Executor = services.NewExecutorService(app.Agent, instructions, results, app.Tracker, logger, services.ExecutorOptions{
		MaxSteps: cfg.MaxSteps,
		Timeout:  cfg.TaskTimeout(),
		Uploader: uploader,
	})
	app.Orchestrator = services.NewOrchestratorService(app.Persistence.ScenarioStorage(), app.Tracker, app.Executor, logger, cfg.MaxConcurrentTasks)
	app.Journey = services.NewJourneyService(results)
	app.Scenarios = services.NewScenarioService(app.Persistence.ScenarioStorage())
	app.Cleanup = services.NewRunCleanupService(app.Runs, logger, cfg.RunCleanupIntervalSeconds, cfg.RunRetentionSeconds)

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.LoggerMiddleware(logger),
		middleware.TracingMiddleware(cfg.Tracing.ServiceName),
	)
	app.Engine = engine

	bg, cancel := context.WithCancel(context.Background())
	app.stopBackground = cancel
	go app.Cleanup.Start(bg)

	return app, nil
}

func (app *Application) initPersistence() error {
	cfg := app.Config
	pcfg := persistence.PluginConfig{Timezone: app.TZ}
	if cfg.Persistence.Provider == "redis" && app.Redis != nil {
		app.Persistence = redisplugin.NewPluginWithClient(app.Redis, pcfg)
		return nil
	}
	raw, err := cfg.Persistence.OptionsJSON()
	if err != nil {
		return err
	}
	pcfg.Options = raw
	p, err := persistence.Open(cfg.Persistence.Provider, pcfg)
	if err != nil {
		return err
	}
	app.Persistence = p
	return nil
}

// Close waits for in-flight tasks up to ctx's deadline, then releases
// background workers, the trace exporter and persistence.
func (app *Application) Close(ctx context.Context) error {
	var errs []error
	if app.Orchestrator != nil {
		if err := app.Orchestrator.Wait(ctx); err != nil {
			app.Logger.Warn("in-flight tasks abandoned at shutdown", "err", err)
			errs = append(errs, err)
		}
	}
	if app.stopBackground != nil {
		app.stopBackground()
	}
	if app.TracingShutdown != nil {
		errs = append(errs, app.TracingShutdown(ctx))
	}
	if app.Persistence != nil {
		errs = append(errs, app.Persistence.Close())
	}
	return errors.Join(errs...)
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "personaq", "env", cfg.Env)
}
