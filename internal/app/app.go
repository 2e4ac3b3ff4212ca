package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/poglesbyg/tracseq2.0-sub001/internal/config"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/event"
	handler "github.com/poglesbyg/tracseq2.0-sub001/internal/handler/http"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/repository"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/repository/memory"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/repository/postgres"
	redisrepo "github.com/poglesbyg/tracseq2.0-sub001/internal/repository/redis"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/service"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/workflow"
	"github.com/poglesbyg/tracseq2.0-sub001/migrations"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/database"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/health"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/httpclient"
	pkgkafka "github.com/poglesbyg/tracseq2.0-sub001/pkg/kafka"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/tracing"
)

// writeTimeoutMargin is added on top of the saga timeout so a workflow
// request can always finish writing its result.
const writeTimeoutMargin = 30 * time.Second

// App wires together all dependencies and runs the saga coordinator.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	events         *event.Producer
	coordinator    *service.TransactionCoordinator
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing())
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	repo, err := a.initRepository(ctx, healthHandler)
	if err != nil {
		a.closeResources(context.Background())
		return nil, err
	}

	bus, err := a.initBus(ctx, healthHandler)
	if err != nil {
		a.closeResources(context.Background())
		return nil, err
	}
	a.events = event.NewProducer(bus, logger)

	a.coordinator = service.NewTransactionCoordinator(
		service.CoordinatorConfig{
			MaxConcurrentSagas: cfg.MaxConcurrentSagas,
			DefaultTimeout:     cfg.DefaultTimeout(),
		},
		repo,
		a.events,
		logger,
	)

	// One breaker guards all collaborator calls; per-attempt timeouts come
	// from the step, so the client timeout only caps a single exchange.
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.StepTimeout()
	baseClient := httpclient.New(httpCfg)

	cbCfg := cfg.CircuitBreaker("lab-services")
	cbClient := httpclient.NewCircuitBreakerClient(baseClient, cbCfg, logger).
		WithFallback(workflow.CircuitOpenFallback)
	logger.Info("circuit breaker initialized",
		slog.String("name", cbCfg.Name),
		slog.Uint64("max_requests", uint64(cbCfg.MaxRequests)),
		slog.Int("timeout_seconds", cfg.CBTimeout),
		slog.Uint64("min_requests", uint64(cbCfg.MinRequests)),
	)

	builder := workflow.NewBuilder(cbClient, workflow.Endpoints{
		SampleServiceURL:       cfg.SampleServiceURL,
		StorageServiceURL:      cfg.StorageServiceURL,
		NotificationServiceURL: cfg.NotificationServiceURL,
		SequencingServiceURL:   cfg.SequencingServiceURL,
	}, workflow.Options{
		Retry:       cfg.RetryPolicy(),
		StepTimeout: cfg.StepTimeout(),
	}, logger)

	h := handler.NewHandler(a.coordinator, builder, logger)
	router := handler.NewRouter(h, healthHandler, promhttp.Handler(), cfg.ServiceName, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.DefaultTimeout() + writeTimeoutMargin,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// initRepository builds the configured persistence backend, optionally
// fronted by the Redis status cache. A nil repository means persistence is
// disabled.
func (a *App) initRepository(ctx context.Context, hh *health.Handler) (repository.SagaRepository, error) {
	cfg := a.cfg

	var repo repository.SagaRepository
	switch cfg.PersistenceBackend {
	case config.BackendPostgres:
		pgCfg := cfg.Postgres()
		pool, err := database.NewPostgresPool(ctx, &pgCfg, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.pool = pool
		a.logger.Info("connected to PostgreSQL",
			slog.String("host", pgCfg.Host),
			slog.Int("port", pgCfg.Port),
			slog.String("database", pgCfg.DBName),
		)

		if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		a.logger.Info("database migrations completed")

		if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, cfg.ServiceName); err != nil {
			a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
		}
		if cfg.SlowQueryThresholdMs > 0 {
			database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, a.logger)
		}

		hh.RegisterCritical("postgres", func(ctx context.Context) error {
			return pool.Ping(ctx)
		})
		repo = postgres.NewSagaRepository(pool)
	case config.BackendMemory:
		a.logger.Warn("using in-memory saga persistence; records are lost on restart")
		repo = memory.NewSagaRepository()
	default:
		a.logger.Warn("saga persistence disabled")
		return nil, nil
	}

	if !cfg.RedisEnabled {
		return repo, nil
	}

	redisCfg := cfg.Redis()
	client, err := database.NewRedisClient(ctx, redisCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = client
	a.logger.Info("connected to Redis", slog.String("addr", redisCfg.Addr()))

	hh.RegisterNonCritical("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return redisrepo.NewStatusCache(repo, client, cfg.StatusCacheTTL(), a.logger), nil
}

func (a *App) initBus(ctx context.Context, hh *health.Handler) (event.Bus, error) {
	cfg := a.cfg

	switch cfg.EventBus {
	case config.BusKafka:
		producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), a.logger)
		hh.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
		a.logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		return producer, nil
	case config.BusSNS:
		bus, err := event.NewSNSBusFromConfig(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			return nil, fmt.Errorf("init sns bus: %w", err)
		}
		a.logger.Info("sns event bus initialized",
			slog.String("region", cfg.AWSRegion),
			slog.String("topic_arn", cfg.SNSTopicARN),
		)
		return bus, nil
	default:
		a.logger.Warn("event publishing disabled")
		return event.NoopBus{}, nil
	}
}

// Handler exposes the HTTP handler for in-process tests.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and the cleanup loop and blocks until ctx is
// canceled or one of them fails. Everything is shut down before it returns.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.coordinator.RunCleanup(gctx, a.cfg.CleanupInterval(), a.cfg.CleanupAgeHours)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown signal received")
		return a.Shutdown()
	})

	return g.Wait()
}

// Shutdown gracefully stops all components in order:
// 1. HTTP server (stop accepting, drain in-flight requests)
// 2. Coordinator (wait for running sagas)
// 3. Tracer (flush spans)
// 4. Event bus
// 5. Redis and PostgreSQL
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	var errs []error

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.coordinator.Shutdown(ctx); err != nil {
		a.logger.Error("coordinator shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.closeResources(ctx); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeResources(ctx context.Context) error {
	var errs []error

	if a.tracerShutdown != nil {
		tracerCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Error("event bus close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.pool != nil {
		a.pool.Close()
	}

	return errors.Join(errs...)
}
