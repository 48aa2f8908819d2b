package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/payment-ledger/internal/api"
	"github.com/ayo6706/payment-ledger/internal/broker"
	"github.com/ayo6706/payment-ledger/internal/config"
	"github.com/ayo6706/payment-ledger/internal/db"
	"github.com/ayo6706/payment-ledger/internal/idempotency"
	"github.com/ayo6706/payment-ledger/internal/lock"
	"github.com/ayo6706/payment-ledger/internal/observability"
	"github.com/ayo6706/payment-ledger/internal/repository"
	"github.com/ayo6706/payment-ledger/internal/repository/memstore"
	"github.com/ayo6706/payment-ledger/internal/service"
	"github.com/ayo6706/payment-ledger/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const outboxLockName = "ledger:outbox-dispatcher"

// ledgerStore is what the services and the readiness check need from storage.
type ledgerStore interface {
	service.QueryStore
	Ping(ctx context.Context) error
}

// Run bootstraps the HTTP server, outbox dispatcher and reconciliation worker, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		redisClient *redis.Client
		redisCheck  redis.Cmdable
		keyCache    service.KeyCache
		locker      lock.Locker = lock.NoopLocker{}
	)
	if cfg.RedisURL != "" {
		redisClient, err = newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		redisCheck = redisClient
		keyCache = idempotency.NewCache(redisClient, cfg.IdempotencyTTL)
		locker = lock.NewRedisLocker(redisClient, outboxLockName, cfg.OutboxLockTTL)
	} else {
		logger.Warn("REDIS_URL not set: idempotency cache disabled, outbox dispatcher runs without a lease")
	}

	publisher, closePublisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	outboxSvc := service.NewOutboxService(store, publisher).WithPublishTimeout(cfg.OutboxPublishTimeout)
	engine := service.NewTransactionEngine(
		store,
		service.NewIdempotencyGuard(keyCache),
		service.NewStrategyDispatcher(service.DefaultStrategies()...),
		outboxSvc,
	)
	accountSvc := service.NewAccountService(store)
	reconciliationSvc := service.NewReconciliationService(store).WithStaleAfter(cfg.OutboxStaleAfter)

	outboxWorker := worker.NewOutboxWorker(outboxSvc).
		WithPollInterval(cfg.OutboxPollInterval).
		WithBatchSize(cfg.OutboxBatchSize).
		WithLocker(locker)
	stopOutbox := outboxWorker.Run(ctx)
	logger.Info("outbox worker started", zap.Duration("interval", cfg.OutboxPollInterval), zap.Int32("batch", cfg.OutboxBatchSize))

	reconciliationWorker := worker.NewReconciliationWorker(reconciliationSvc).WithInterval(cfg.ReconciliationInterval)
	stopReconciliation := reconciliationWorker.Run(ctx)

	router := api.NewRouter(cfg, logger, store, redisCheck, api.Services{
		Engine:   engine,
		Accounts: accountSvc,
		Outbox:   outboxSvc,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort), zap.String("storage", cfg.StorageDriver))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping workers")
	stopWorkers(cancel, stopOutbox, stopReconciliation)

	logger.Info("shutdown complete")
	return runErr
}

// stopWorkers cancels the workers' context before waiting on them, so a cycle in flight abandons
// its remaining publishes (those events stay NEW) instead of running each to its timeout.
func stopWorkers(cancel context.CancelFunc, stops ...func()) {
	cancel()
	for _, stop := range stops {
		stop()
	}
}

func openStore(ctx context.Context, cfg *config.Config) (ledgerStore, func(), error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		zap.L().Warn("using in-memory storage: balances and events are lost on restart")
		return memstore.New(), func() {}, nil
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.RunMigrations {
		if err := db.Migrate(pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	return repository.NewStore(pool), pool.Close, nil
}

func newPublisher(cfg *config.Config) (broker.Publisher, func(), error) {
	if cfg.AMQPURL == "" {
		zap.L().Warn("AMQP_URL not set: outbox events are logged instead of published")
		return broker.NewMockPublisher(), func() {}, nil
	}

	publisher, err := broker.DialRabbit(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingPrefix)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	return publisher, func() {
		if err := publisher.Close(); err != nil {
			zap.L().Warn("close rabbitmq publisher", zap.Error(err))
		}
	}, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
