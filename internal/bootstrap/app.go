// Package bootstrap is the composition root (SPEC_FULL §2 "ambient
// singletons" redesign): every component is constructed here via explicit
// constructor injection and handed to cmd/executiond/main.go as a plain
// struct, instead of resolving its collaborators from package-level state.
package bootstrap

import (
	"context"
	"fmt"

	"executioncore/internal/admission"
	"executioncore/internal/core"
	"executioncore/internal/durable"
	"executioncore/internal/exchange"
	"executioncore/internal/fillingestor"
	"executioncore/internal/killswitch"
	"executioncore/internal/orderstatemachine"
	"executioncore/internal/portfolio"
	"executioncore/internal/reconciliation"
	"executioncore/internal/risk"
	"executioncore/internal/store"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/redis/go-redis/v9"
)

// App holds every wired component cmd/executiond/main.go needs to run and
// tear down the process.
type App struct {
	Cfg    *Config
	Logger core.ILogger

	Store    *store.Store
	Redis    *redis.Client
	Exchange *exchange.Adapter

	KillSwitch    *killswitch.KillSwitch
	Risk          *risk.Validator
	Orders        *orderstatemachine.Machine
	FillIngestor  *fillingestor.Ingestor
	Reconciler    *reconciliation.Reconciler
	Projector     *portfolio.Projector
	DurableEngine *durable.Engine
	Admission     *admission.Facade
}

// NewApp builds the full dependency graph from configPath. Every
// constructor call below is explicit: nothing here resolves a collaborator
// from an ambient singleton.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: string(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	adapter := exchange.New(cfg.Exchange, cfg.RateLimiter, cfg.CircuitBreaker, cfg.Stream, logger)

	ks := killswitch.New(redisClient, logger)
	riskValidator := risk.New(db, redisClient, cfg.Risk.ApprovalTTL(), logger)
	orders := orderstatemachine.New(db, logger)
	ingestor := fillingestor.New(orders, db, logger)
	reconciler := reconciliation.New(db, adapter, orders, cfg.Reconciliation.Interval(), cfg.Reconciliation.Lookback(), cfg.Reconciliation.SubmissionTimeout(), cfg.Reconciliation.WorkerPoolSize, logger)
	projector := portfolio.New(db, cfg.Portfolio.BatchSize, cfg.Portfolio.WorkerPoolSize, cfg.Portfolio.TickInterval(), logger)

	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		AppName:     "executioncore",
		DatabaseURL: cfg.Store.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("dbos: %w", err)
	}
	engine := durable.NewEngine(dbosCtx, orders, db, adapter, logger)

	idempotency := admission.NewRedisIdempotencyStore(redisClient)
	facade := admission.New(ks, riskValidator, db, orders, db, adapter, idempotency, int64(cfg.Admission.IdempotencyTTLSec), engine, logger)

	return &App{
		Cfg:           cfg,
		Logger:        logger,
		Store:         db,
		Redis:         redisClient,
		Exchange:      adapter,
		KillSwitch:    ks,
		Risk:          riskValidator,
		Orders:        orders,
		FillIngestor:  ingestor,
		Reconciler:    reconciler,
		Projector:     projector,
		DurableEngine: engine,
		Admission:     facade,
	}, nil
}

// Close releases connections that don't have their own lifecycle (the
// runners below own Start/Stop; Store and Redis are plain handles).
func (a *App) Close() error {
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn("failed to close redis client", "error", err)
	}
	return a.Store.Close()
}
