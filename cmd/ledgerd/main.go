// Package main is the entry point of the credential ledger node (ledgerd).
//
// The node owns the intake lifecycle:
// - queues signed extrinsics submitted over HTTP
// - produces a block every LEDGER_BLOCK_INTERVAL, closing expired intakes
//   before dispatching the block's extrinsics
// - forwards sealed events to the event bus and answers state queries
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/edu-chain/credential-ledger/config"
	"github.com/edu-chain/credential-ledger/internal/application/lifecycle"
	"github.com/edu-chain/credential-ledger/internal/domain/intake"
	"github.com/edu-chain/credential-ledger/internal/domain/shared"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/codec"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/directory"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/messaging"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/persistence/memory"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/persistence/postgres"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/persistence/redis"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/scheduler"
	"github.com/edu-chain/credential-ledger/internal/infrastructure/scheduler/jobs"
	"github.com/edu-chain/credential-ledger/internal/interface/http"
	"github.com/edu-chain/credential-ledger/internal/interface/http/handlers"
	"github.com/edu-chain/credential-ledger/internal/ledger"
	"github.com/edu-chain/credential-ledger/pkg/circuitbreaker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// ══════════════════════════════════════════════════════════════════════════════
// FLAGS
// ══════════════════════════════════════════════════════════════════════════════

// flags override the environment when set explicitly.
type flags struct {
	genesis     string
	storage     string
	httpPort    int
	logLevel    string
	showVersion bool
	rollback    bool
}

func parseFlags(args []string) (*flags, *pflag.FlagSet, error) {
	f := &flags{}
	fs := pflag.NewFlagSet("ledgerd", pflag.ContinueOnError)
	fs.StringVar(&f.genesis, "genesis", "", "genesis file (.yaml, .yml or .toml), overrides LEDGER_GENESIS_PATH")
	fs.StringVar(&f.storage, "storage", "", "state backend: memory or postgres, overrides LEDGER_STORAGE")
	fs.IntVar(&f.httpPort, "http-port", 0, "query API port, overrides HTTP_PORT")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error, overrides LOG_LEVEL")
	fs.BoolVar(&f.showVersion, "version", false, "print the version and exit")
	fs.BoolVar(&f.rollback, "rollback-migration", false, "revert the last applied postgres migration and exit")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return f, fs, nil
}

func (f *flags) apply(fs *pflag.FlagSet, cfg *config.Config) error {
	if fs.Changed("genesis") {
		cfg.Ledger.GenesisPath = f.genesis
	}
	if fs.Changed("storage") {
		cfg.Ledger.Storage = config.StorageBackend(f.storage)
	}
	if fs.Changed("http-port") {
		cfg.HTTP.Port = f.httpPort
	}
	if fs.Changed("log-level") {
		cfg.Observability.LogLevel = f.logLevel
	}
	return cfg.Validate()
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	f, fs, err := parseFlags(args)
	if err != nil {
		return err
	}

	if f.showVersion {
		fmt.Println("ledgerd", version)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := f.apply(fs, cfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if f.rollback && cfg.Ledger.Storage != config.StoragePostgres {
		return errors.New("--rollback-migration needs LEDGER_STORAGE=postgres")
	}

	log := setupLogger(cfg)
	log.Info("starting credential ledger node",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"storage", cfg.Ledger.Storage,
		"block_interval", cfg.Ledger.BlockInterval,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. GENESIS
	// ─────────────────────────────────────────────────────────────────────────
	genesis := directory.DefaultGenesis()
	if cfg.Ledger.GenesisPath != "" {
		genesis, err = directory.LoadGenesis(cfg.Ledger.GenesisPath)
		if err != nil {
			return fmt.Errorf("failed to load genesis: %w", err)
		}
	}
	institutions := directory.FromGenesis(genesis)
	log.Info("genesis loaded",
		"chain", genesis.ChainName,
		"initial_block", genesis.InitialBlock,
		"institutions", len(genesis.Institutions),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. STATE STORE
	// ─────────────────────────────────────────────────────────────────────────
	var (
		store  intake.Store
		heads  ledger.HeadRecorder
		dbConn *postgres.Connection
	)
	initialBlock := genesis.InitialBlock
	var parentHash codec.Hash

	switch cfg.Ledger.Storage {
	case config.StoragePostgres:
		log.Info("connecting to database...")
		dbConn, err = connectPostgres(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database connection...")
			dbConn.Close()
		}()

		if f.rollback {
			if err := postgres.NewMigrator(dbConn).Rollback(ctx); err != nil {
				return fmt.Errorf("failed to roll back migration: %w", err)
			}
			log.Info("last migration rolled back")
			return nil
		}

		if cfg.Database.AutoMigrate {
			if err := postgres.NewMigrator(dbConn).Migrate(ctx); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database schema is up to date")
		}

		headRepo := postgres.NewHeadRepository(dbConn)
		number, hash, ok, err := headRepo.LoadHead(ctx)
		if err != nil {
			return fmt.Errorf("failed to load ledger head: %w", err)
		}
		if ok {
			initialBlock, parentHash = number, hash
			log.Info("resuming chain", "head", number, "hash", hash.String())
		}
		store = postgres.NewIntakeRepository(dbConn)
		heads = headRepo
	default:
		store = memory.NewStore()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional cache and event fan-out)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache   *redis.Cache
		cacheBreaker *circuitbreaker.CircuitBreaker
		queryState   intake.Reader = store
	)
	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisCache, err = redis.NewCache(ctx, redisConfig(cfg))
		if err != nil {
			log.Warn("failed to connect to Redis, caching disabled", "error", err)
		} else {
			defer redisCache.Close()

			// Entries left by a previous run may predate commits made without
			// the cache, e.g. while Redis was down.
			if err := redisCache.FlushIntakes(ctx); err != nil {
				log.Warn("failed to flush intake cache", "error", err)
			}

			kv := redis.NewBreakerKV(redisCache, circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
				log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			}))
			cacheBreaker = kv.Breaker()
			// Only HTTP queries read through the cache; the engine reads the store
			// and invalidates the cache on every commit.
			cache := redis.NewIntakeCache(store, kv, cfg.Redis.CacheTTL, log)
			queryState = cache
			store = cache.Invalidating(store)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	bus, err := newEventBus(cfg, redisCache, log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	dispatcherCfg := messaging.DefaultDispatcherConfig(bus)
	dispatcherCfg.Logger = log
	dispatcher := messaging.NewDispatcher(dispatcherCfg)
	dispatcher.Use(messaging.RecoveryMiddleware(log))
	dispatcher.Use(messaging.LoggingMiddleware(log))
	if err := dispatcher.RegisterAll("audit_log", auditLog(log)); err != nil {
		return fmt.Errorf("failed to register audit handler: %w", err)
	}
	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer func() { _ = dispatcher.Stop() }()

	// ─────────────────────────────────────────────────────────────────────────
	// 6. LEDGER RUNTIME
	// ─────────────────────────────────────────────────────────────────────────
	runtime := ledger.NewRuntime(store, institutions, ledger.Config{
		InitialBlock:          initialBlock,
		ParentHash:            parentHash,
		Heads:                 heads,
		MaxQueue:              cfg.Ledger.MaxQueue,
		MaxExtrinsicsPerBlock: cfg.Ledger.MaxExtrinsicsPerBlock,
		History:               cfg.Ledger.History,
		Engine: lifecycle.Options{
			EnforceAcceptanceCap: cfg.Ledger.EnforceAcceptanceCap,
		},
		Publisher: bus,
		Logger:    log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 7. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	var (
		sched   *scheduler.Scheduler
		monitor *jobs.ProductionMonitor
	)
	if cfg.Scheduler.Enabled {
		sched, monitor, err = newScheduler(cfg, runtime, dispatcher.DeadLetterQueue(), log)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		log.Warn("scheduler disabled, no blocks will be produced")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. HTTP API
	// ─────────────────────────────────────────────────────────────────────────
	var (
		server    *http.Server
		serverErr <-chan error
	)
	if cfg.HTTP.Enabled {
		health := handlers.NewCompositeHealthChecker(cfg.App.Version)
		health.SetTimeout(cfg.HTTP.HealthCheckTimeout)
		if dbConn != nil {
			health.AddCheck("postgres", dbConn.CheckHealth)
		}
		if redisCache != nil {
			health.AddCheck("redis", handlers.NewPingCheck(redisCache))
		}
		health.AddCheck("extrinsic_queue", handlers.NewQueueCheck(runtime.Pending, cfg.Ledger.MaxQueue))
		if monitor != nil {
			health.AddCheck("block_production", monitor.Check)
		}

		deps := http.Dependencies{
			Ledger:        runtime,
			Intakes:       lifecycle.NewQueries(queryState, runtime),
			HealthChecker: health,
			EventMetrics:  bus.Metrics(),
			DeadLetters:   dispatcher.DeadLetterQueue(),
			Version:       cfg.App.Version,
			Logger:        log,
		}
		// Nil pointers must stay out of the interfaces or the admin routes
		// would be registered.
		if sched != nil {
			deps.Jobs = sched
		}
		if cacheBreaker != nil {
			deps.CacheBreaker = cacheBreaker
		}
		server = http.NewServer(httpConfig(cfg), deps)
		serverErr = server.StartAsync()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("credential ledger node is running", "head", runtime.Head())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err, ok := <-serverErr:
		if ok && err != nil {
			log.Error("HTTP server failed", "error", err)
			runErr = err
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	runtime.Close()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown failed", "error", err)
		}
	}
	if sched != nil {
		if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			log.Error("scheduler shutdown failed", "error", err)
		}
	}
	if pending := runtime.Pending(); pending > 0 {
		log.Warn("extrinsics left undispatched", "pending", pending)
	}

	log.Info("shutdown completed", "head", runtime.Head())
	return runErr
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

func connectPostgres(ctx context.Context, cfg *config.Config, log *slog.Logger) (*postgres.Connection, error) {
	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Database.URL
	pgCfg.MaxConns = cfg.Database.MaxConns
	pgCfg.MinConns = cfg.Database.MinConns
	pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	pgCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	pgCfg.ConnectAttempts = cfg.Database.ConnectRetries
	pgCfg.Logger = log

	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")
	return conn, nil
}

func redisConfig(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.URL = cfg.Redis.URL
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	return rc
}

// eventBus is what the node needs from either bus implementation.
type eventBus interface {
	shared.EventBus
	Metrics() *messaging.EventBusMetrics
	Close() error
}

// newEventBus fans events out over Redis when a cache connection exists,
// and keeps them in-process otherwise.
func newEventBus(cfg *config.Config, cache *redis.Cache, log *slog.Logger) (eventBus, error) {
	local := messaging.DefaultInMemoryEventBusConfig()
	local.Logger = log

	if cache == nil {
		return messaging.NewInMemoryEventBus(local), nil
	}
	bus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
		Client:         messaging.NewRedisPubSub(cache),
		ChannelName:    cfg.Redis.EventChannel,
		LocalBusConfig: local,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	return bus, nil
}

// newScheduler registers block production and the optional status report.
// The returned monitor turns repeated production failures into a failing
// health check.
func newScheduler(cfg *config.Config, runtime *ledger.Runtime, dlq *messaging.DeadLetterQueue, log *slog.Logger) (*scheduler.Scheduler, *jobs.ProductionMonitor, error) {
	sc := scheduler.DefaultSchedulerConfig()
	sc.Logger = log
	sc.TickInterval = cfg.Scheduler.TickInterval
	sc.MaxConcurrentJobs = cfg.Scheduler.MaxConcurrentJobs
	sc.JobTimeout = cfg.Scheduler.JobTimeout
	sched := scheduler.NewScheduler(sc)

	produce := jobs.NewProduceBlockJob(runtime, log)
	if err := sched.Register(produce, scheduler.NewIntervalSchedule(cfg.Ledger.BlockInterval)); err != nil {
		return nil, nil, fmt.Errorf("failed to register %s: %w", produce.Name(), err)
	}
	monitor := jobs.NewProductionMonitor(produce, cfg.Scheduler.MaxProduceFailures)
	sched.OnJobComplete(monitor.Observe)

	if cfg.Scheduler.ReportCron != "" {
		schedule, err := scheduler.ParseCronExpression(cfg.Scheduler.ReportCron)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid SCHEDULER_REPORT_CRON: %w", err)
		}
		var deadLetters jobs.Sizer
		if dlq != nil {
			deadLetters = dlq
		}
		report := jobs.NewReportStatusJob(runtime, deadLetters, log)
		if err := sched.Register(report, schedule); err != nil {
			return nil, nil, fmt.Errorf("failed to register %s: %w", report.Name(), err)
		}
	}

	return sched, monitor, nil
}

func httpConfig(cfg *config.Config) http.Config {
	hc := http.DefaultConfig()
	hc.Host = cfg.HTTP.Host
	hc.Port = cfg.HTTP.Port
	hc.ReadTimeout = cfg.HTTP.ReadTimeout
	hc.WriteTimeout = cfg.HTTP.WriteTimeout
	hc.RequestTimeout = cfg.HTTP.RequestTimeout
	hc.APIKeys = cfg.HTTP.APIKeys
	hc.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	hc.AllowedOrigins = cfg.HTTP.AllowedOrigins
	return hc
}

// auditLog records every sealed event.
func auditLog(log *slog.Logger) shared.EventHandler {
	audit := log.With("component", "audit")
	return func(event shared.Event) error {
		audit.Info("ledger event",
			"event_type", event.EventType(),
			"block", event.Block(),
			"aggregate_id", event.AggregateID(),
		)
		return nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger configures structured logging: JSON in production or when
// LOG_FORMAT=json, text otherwise.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Observability.LogLevel),
		AddSource: cfg.IsDevelopment(),
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.IsProduction() || strings.EqualFold(cfg.Observability.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler).With("app", cfg.App.Name)
	slog.SetDefault(log)
	return log
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
