package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/llm-router/config"
	"github.com/upb/llm-router/handlers"
	"github.com/upb/llm-router/internal/observability"
	"github.com/upb/llm-router/middleware"
	"github.com/upb/llm-router/repositories"
	"github.com/upb/llm-router/repositories/postgres"
	"github.com/upb/llm-router/repositories/sqlite"
	"github.com/upb/llm-router/services/providers"
	"github.com/upb/llm-router/services/providers/anthropic"
	"github.com/upb/llm-router/services/providers/gemini"
	"github.com/upb/llm-router/services/providers/mistral"
	"github.com/upb/llm-router/services/providers/openai"
	"github.com/upb/llm-router/services/ratelimit"
	"github.com/upb/llm-router/services/routing"
	"github.com/upb/llm-router/services/usage"
	"go.uber.org/zap"
)

// logStoreCapacity bounds the in-memory usage log
const logStoreCapacity = 10000

// AdapterFactory builds the adapter for one provider
type AdapterFactory func(providers.ProviderConfig) providers.Adapter

// DefaultAdapters maps catalog names to the adapters shipped with the router
func DefaultAdapters() map[string]AdapterFactory {
	return map[string]AdapterFactory{
		openai.ProviderName:    func(c providers.ProviderConfig) providers.Adapter { return openai.NewOpenAIAdapter(c) },
		anthropic.ProviderName: func(c providers.ProviderConfig) providers.Adapter { return anthropic.NewAdapter(c) },
		gemini.ProviderName:    func(c providers.ProviderConfig) providers.Adapter { return gemini.NewAdapter(c) },
		mistral.ProviderName:   func(c providers.ProviderConfig) providers.Adapter { return mistral.NewAdapter(c) },
	}
}

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.PrometheusMetrics
	Catalog config.Catalog

	// Storage
	DB        *postgres.DB
	SQLite    *sqlite.Store
	Redis     *redis.Client
	UsageRepo repositories.UsageRepository

	// Routing
	Registry *providers.Registry
	Limiter  ratelimit.Limiter
	Recorder *usage.Recorder
	Router   *routing.RoutingService

	// HTTP
	APIKeys *middleware.APIKeyAuth

	memoryLimiter *ratelimit.MemoryLimiter
	adapters      map[string]AdapterFactory
}

// Option customizes NewDependencies
type Option func(*Dependencies)

// WithAdapters replaces the adapter factories, keyed by provider name
func WithAdapters(adapters map[string]AdapterFactory) Option {
	return func(d *Dependencies) {
		d.adapters = adapters
	}
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	deps := &Dependencies{
		Config:   cfg,
		Logger:   logger,
		Metrics:  observability.NewPrometheusMetrics(),
		adapters: DefaultAdapters(),
	}
	for _, opt := range opts {
		opt(deps)
	}

	catalog, err := config.LoadCatalog(cfg.Router.ProvidersFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider catalog: %w", err)
	}
	deps.Catalog = catalog

	if err := deps.initProviders(); err != nil {
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}

	if err := deps.initLimiter(ctx); err != nil {
		deps.closeStores()
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	if err := deps.initUsage(ctx); err != nil {
		deps.closeStores()
		return nil, fmt.Errorf("failed to initialize usage store: %w", err)
	}

	deps.Router = routing.NewRoutingService(
		routing.RoutingConfig{
			AttemptTimeout:    cfg.Router.AttemptTimeout,
			AuthFailurePolicy: routing.AuthFailurePolicy(cfg.Router.AuthFailurePolicy),
		},
		deps.Registry,
		routing.NewSelector(nil),
		deps.Limiter,
		deps.Recorder,
		deps.Metrics,
		logger,
	)

	deps.APIKeys = middleware.NewAPIKeyAuth(cfg.Server.APIKeys, logger)

	logger.Info("all dependencies initialized successfully",
		zap.Strings("providers", deps.Registry.Names()),
		zap.String("limiter", cfg.Router.LimiterBackend),
		zap.String("usage_store", cfg.Usage.Store))
	return deps, nil
}

// initProviders registers every catalog entry that has a credential and an adapter
func (d *Dependencies) initProviders() error {
	registry := providers.NewRegistry()
	settings := d.Config.Providers.ByName()

	for _, entry := range d.Catalog.Providers {
		s, ok := settings[entry.Name]
		if !ok || !s.Configured() {
			d.Logger.Debug("provider not configured, skipping", zap.String("provider", entry.Name))
			continue
		}
		factory, ok := d.adapters[entry.Name]
		if !ok {
			d.Logger.Warn("no adapter for catalog provider", zap.String("provider", entry.Name))
			continue
		}

		endpoint := entry.Endpoint
		if s.BaseURL != "" {
			endpoint = s.BaseURL
		}

		adapter := factory(providers.ProviderConfig{
			APIKey:  s.APIKey,
			BaseURL: endpoint,
			Timeout: s.Timeout,
			Headers: s.Headers,
		})

		desc := providers.ProviderDescriptor{
			Name:            entry.Name,
			CredentialRef:   s.CredentialEnv,
			Endpoint:        endpoint,
			SupportedModels: entry.Models,
			DefaultModel:    entry.DefaultModel,
			Capabilities:    entry.Capabilities,
			RateLimit: providers.RateLimitBudget{
				RequestsPerWindow: entry.RequestsPerWindow,
				TokensPerWindow:   entry.TokensPerWindow,
			},
			Timeout: entry.Timeout,
		}
		if err := registry.Register(desc, adapter); err != nil {
			return err
		}
		d.Logger.Info("provider registered",
			zap.String("provider", entry.Name),
			zap.Int("requests_per_window", entry.RequestsPerWindow))
	}

	if registry.Len() == 0 {
		d.Logger.Warn("no LLM providers configured")
	}

	d.Registry = registry
	return nil
}

func (d *Dependencies) initLimiter(ctx context.Context) error {
	limiterCfg := ratelimit.Config{Window: d.Config.Router.RateLimitWindow, Now: time.Now}

	switch d.Config.Router.LimiterBackend {
	case config.LimiterRedis:
		opts, err := redis.ParseURL(d.Config.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		d.Redis = redis.NewClient(opts)

		limiter := ratelimit.NewRedisLimiter(d.Redis, d.Registry.RequestsPerWindow, limiterCfg, d.Logger)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := limiter.Ping(pingCtx); err != nil {
			return err
		}
		d.Limiter = limiter
	default:
		d.memoryLimiter = ratelimit.NewMemoryLimiter(d.Registry.RequestsPerWindow, limiterCfg, d.Logger)
		d.Limiter = d.memoryLimiter
	}
	return nil
}

func (d *Dependencies) initUsage(ctx context.Context) error {
	switch d.Config.Usage.Store {
	case config.UsageStorePostgres:
		db, err := postgres.NewDB(d.Config.Database, d.Logger)
		if err != nil {
			return err
		}
		d.DB = db
		if d.Config.Usage.InitSchema {
			if err := db.InitSchema(ctx); err != nil {
				return err
			}
		}
		d.UsageRepo = postgres.NewUsageRepository(db, d.Logger)
	case config.UsageStoreSQLite:
		store, err := sqlite.Open(d.Config.Usage.SQLitePath, d.Logger)
		if err != nil {
			return err
		}
		d.SQLite = store
		d.UsageRepo = store
	default:
		d.UsageRepo = usage.NewLogRepository(d.Logger, logStoreCapacity)
	}

	d.Recorder = usage.NewRecorder(d.UsageRepo, d.Logger, d.Metrics, usage.Config{
		BufferSize:   d.Config.Usage.BufferSize,
		WorkerCount:  d.Config.Usage.WorkerCount,
		WriteTimeout: d.Config.Usage.WriteTimeout,
	})
	return d.Recorder.Start()
}

// HealthChecks returns the readiness checks for the configured backends
func (d *Dependencies) HealthChecks() map[string]handlers.CheckFunc {
	checks := map[string]handlers.CheckFunc{
		"providers": func(context.Context) error {
			if d.Registry.Len() == 0 {
				return errors.New("no providers registered")
			}
			return nil
		},
	}
	if d.DB != nil {
		checks["database"] = d.DB.HealthCheck
	}
	if d.SQLite != nil {
		checks["database"] = d.SQLite.HealthCheck
	}
	if d.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return d.Redis.Ping(ctx).Err()
		}
	}
	return checks
}

// RunLimiterCleanup prunes the in-memory limiter until ctx is done.
// Redis expires its own keys, so this returns immediately for that backend.
func (d *Dependencies) RunLimiterCleanup(ctx context.Context) {
	if d.memoryLimiter == nil {
		return
	}
	d.memoryLimiter.StartCleanupWorker(ctx, d.Config.Router.CleanupInterval)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Recorder != nil {
		timeout := d.Config.Server.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Recorder.Stop(timeout); err != nil && !errors.Is(err, usage.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("failed to stop usage recorder: %w", err))
		}
	}

	errs = append(errs, d.closeStores()...)

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}

func (d *Dependencies) closeStores() []error {
	var errs []error
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
		d.DB = nil
	}
	if d.SQLite != nil {
		if err := d.SQLite.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sqlite store: %w", err))
		}
		d.SQLite = nil
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
		d.Redis = nil
	}
	return errs
}
