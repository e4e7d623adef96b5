// Package main is the entry point of the study-hub XP engine service.
//
// The server records study activities over HTTP, converts them into XP,
// levels and achievement unlocks, and serves the dashboard read models.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/medquest/study-hub/config"
	"github.com/medquest/study-hub/internal/application/command"
	"github.com/medquest/study-hub/internal/application/eventhandler"
	"github.com/medquest/study-hub/internal/application/query"
	"github.com/medquest/study-hub/internal/domain/achievement"
	"github.com/medquest/study-hub/internal/domain/activity"
	"github.com/medquest/study-hub/internal/domain/ledger"
	"github.com/medquest/study-hub/internal/domain/progression"
	"github.com/medquest/study-hub/internal/domain/shared"
	"github.com/medquest/study-hub/internal/infrastructure/messaging"
	"github.com/medquest/study-hub/internal/infrastructure/persistence"
	"github.com/medquest/study-hub/internal/infrastructure/persistence/memory"
	"github.com/medquest/study-hub/internal/infrastructure/persistence/postgres"
	"github.com/medquest/study-hub/internal/infrastructure/persistence/redis"
	httpapi "github.com/medquest/study-hub/internal/interface/http"
	"github.com/medquest/study-hub/internal/interface/http/handlers"
	"github.com/medquest/study-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	var migrate string
	flag.StringVar(&migrate, "migrate", "", "run a schema command against DB_URL and exit (status, down)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	if migrate != "" {
		err = runMigrate(ctx, migrate)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. Configuration and logging
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Format:    cfg.Observability.LogFormat,
		AddCaller: true,
	}).With(logger.String("service", cfg.App.Name))
	defer func() { _ = log.Sync() }()

	log.Info("starting study-hub",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Location.String()),
		logger.String("store", cfg.Store.Driver),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. Tracing
	// ─────────────────────────────────────────────────────────────────────────
	shutdownTracing, err := setupTracing(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. Static catalogues. A bad catalogue stops startup here.
	// ─────────────────────────────────────────────────────────────────────────
	curve, err := progression.NewCurve(cfg.Gamification.Curve())
	if err != nil {
		return fmt.Errorf("invalid level curve: %w", err)
	}
	catalog, err := achievement.DefaultCatalog(curve)
	if err != nil {
		return fmt.Errorf("invalid achievement catalog: %w", err)
	}
	evaluator := achievement.NewEvaluator(cfg.App.Location)
	log.Info("catalogues loaded",
		logger.Int("levels", curve.MaxLevel()),
		logger.Int("achievements", catalog.Len()),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. Ledger store
	// ─────────────────────────────────────────────────────────────────────────
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing ledger store")
		_ = store.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 5. Redis (optional): read model cache and event fan-out
	// ─────────────────────────────────────────────────────────────────────────
	var redisCache *redis.Cache
	if !cfg.Redis.Disabled {
		redisCache, err = redis.NewCache(redis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   redis.DefaultConfig().MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			PoolTimeout:  redis.DefaultConfig().PoolTimeout,
		})
		if err != nil {
			log.Warn("failed to connect to Redis, read model cache disabled", logger.Err(err))
			redisCache = nil
		} else {
			defer redisCache.Close()
			log.Info("Redis connection established", logger.String("addr", cfg.Redis.Addr))
		}
	}

	bus, closeBus, err := openEventBus(cfg, redisCache, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing event bus")
		_ = closeBus()
	}()

	milestones := eventhandler.NewOnProgressMilestoneHandler(log, eventhandler.DefaultMilestoneConfig())
	if err := milestones.Register(bus); err != nil {
		return fmt.Errorf("failed to subscribe milestone journal: %w", err)
	}

	var readModels query.ReadModelCache
	if redisCache != nil {
		rm := redis.NewReadModelCache(redisCache, cfg.Redis.CacheTTL, log)
		if err := redis.SubscribeInvalidation(bus, rm, time.Second, log); err != nil {
			return fmt.Errorf("failed to subscribe cache invalidation: %w", err)
		}
		readModels = rm
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. Application layer
	// ─────────────────────────────────────────────────────────────────────────
	engine, err := command.NewRecordActivityHandler(command.RecordActivityDeps{
		Store:     store,
		Rules:     activity.DefaultRules(),
		Curve:     curve,
		Catalog:   catalog,
		Evaluator: evaluator,
		Publisher: bus,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("failed to build XP engine: %w", err)
	}

	queries, err := query.NewService(query.ServiceDeps{
		Reader:    store,
		Curve:     curve,
		Catalog:   catalog,
		Evaluator: evaluator,
		Cache:     readModels,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("failed to build query service: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("ledger", handlers.NewPingCheck(store))
	if redisCache != nil {
		health.AddOptionalCheck("redis", handlers.NewPingCheck(redisCache))
	}

	httpCfg := httpapi.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	httpCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	httpCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	httpCfg.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	httpCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins

	srv, err := httpapi.NewServer(httpCfg, httpapi.Dependencies{
		RecordActivity: engine,
		Queries:        queries,
		HealthChecker:  health,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("failed to build HTTP server: %w", err)
	}

	errCh := srv.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. Wait for a signal or a server failure
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err, ok := <-errCh:
		if ok && err != nil {
			return err
		}
	}

	log.Info("starting graceful shutdown", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", logger.Err(err))
	}

	log.Info("shutdown completed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (ledger.Store, error) {
	retryCfg := persistence.RetryConfig{
		MaxAttempts:    cfg.Store.MaxAttempts,
		InitialBackoff: cfg.Store.InitialBackoff,
	}

	if cfg.Store.Driver == config.StoreMemory {
		log.Warn("using the in-memory ledger store, data is lost on restart")
		return memory.New(retryCfg, log), nil
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Database.URL
	pgCfg.MaxConns = cfg.Database.MaxConns
	pgCfg.MinConns = cfg.Database.MinConns
	pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	pgCfg.ConnectTimeout = cfg.Database.ConnectTimeout

	log.Info("connecting to database")
	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		migrator := postgres.NewMigrator(conn)
		if err := migrator.Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		status, err := migrator.Status(ctx)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to read migration status: %w", err)
		}
		log.Info("database schema is up to date", logger.Int("migrations", len(status)))
	}

	return postgres.NewLedgerStore(conn, retryCfg, log), nil
}

// runMigrate executes a one-off schema command. Migrations are applied by
// the server itself; this covers inspection and reverting the last step.
func runMigrate(ctx context.Context, action string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Store.Driver != config.StorePostgres {
		return fmt.Errorf("-migrate needs STORE_DRIVER=postgres, got %q", cfg.Store.Driver)
	}

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Database.URL
	pgCfg.ConnectTimeout = cfg.Database.ConnectTimeout
	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	migrator := postgres.NewMigrator(conn)
	switch action {
	case "status":
	case "down":
		if err := migrator.Rollback(ctx); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown -migrate action %q (want status or down)", action)
	}

	status, err := migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	for _, m := range status {
		applied := "pending"
		if m.IsApplied {
			applied = "applied " + m.AppliedAt.Format(time.RFC3339)
		}
		fmt.Printf("%03d %-28s %s\n", m.Version, m.Name, applied)
	}
	return nil
}

// openEventBus returns the bus engine events go through. With Redis fan-out
// enabled, events reach the cache invalidators of every instance.
func openEventBus(cfg *config.Config, cache *redis.Cache, log *logger.Logger) (shared.EventBus, func() error, error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = log

	if cache == nil || !cfg.Redis.EventFanOut {
		bus := messaging.NewInMemoryEventBus(local)
		return bus, bus.Close, nil
	}

	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         messaging.NewGoRedisClient(cache.Client()),
		ChannelName:    cfg.Redis.EventChannel,
		LocalBusConfig: local,
		Logger:         log,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start redis event bus: %w", err)
	}
	log.Info("event fan-out enabled", logger.String("channel", cfg.Redis.EventChannel))
	return bus, bus.Close, nil
}

// setupTracing installs an OTLP/HTTP tracer provider when tracing is enabled.
// Otherwise the global no-op provider stays in place.
func setupTracing(ctx context.Context, cfg *config.Config, log *logger.Logger) (func(context.Context) error, error) {
	if !cfg.Observability.TracingEnabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Observability.TracingEndpoint)}
	if cfg.Observability.TracingInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Observability.TracingSampleRatio))),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.App.Name),
			attribute.String("service.version", cfg.App.Version),
			attribute.String("deployment.environment", string(cfg.App.Environment)),
		)),
	)
	otel.SetTracerProvider(tp)

	log.Info("tracing enabled", logger.String("endpoint", cfg.Observability.TracingEndpoint))
	return tp.Shutdown, nil
}
