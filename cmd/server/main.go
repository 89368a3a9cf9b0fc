package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/stock-guard/internal/adapter/handler"
	"github.com/rl1809/stock-guard/internal/adapter/lock"
	"github.com/rl1809/stock-guard/internal/adapter/metrics"
	"github.com/rl1809/stock-guard/internal/adapter/storage"
	"github.com/rl1809/stock-guard/internal/config"
	"github.com/rl1809/stock-guard/internal/core/domain"
	"github.com/rl1809/stock-guard/internal/core/service"
	"github.com/rl1809/stock-guard/internal/pkg/logging"
	"github.com/rl1809/stock-guard/internal/port"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.MustNew(logging.Options{
		Service:  "stock-guard",
		Env:      cfg.Env,
		Level:    cfg.LogLevel,
		Store:    cfg.Store,
		Strategy: cfg.Strategy,
		File:     cfg.LogFile,
	})
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if _, err := store.Create(ctx, cfg.Stock.ID, cfg.Stock.Initial); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		return fmt.Errorf("seed stock: %w", err)
	}
	logger.Info("stock ready", zap.String("stock_id", cfg.Stock.ID), zap.Int64("initial", cfg.Stock.Initial))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	decrementer, closeStrategy, err := buildStrategy(ctx, cfg, store, m, logger)
	if err != nil {
		return err
	}
	defer closeStrategy()
	decrementer = m.Instrument(cfg.Strategy, decrementer)
	logger.Info("strategy selected")

	// gRPC health
	grpcServer, healthServer := handler.NewGRPCServer()
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP
	httpHandler := handler.NewHTTPHandler(decrementer, store, logger)
	mux := httpHandler.Routes()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.CounterStore, func(), error) {
	switch cfg.Store {
	case config.StoreMySQL:
		db, err := storage.OpenMySQL(cfg.MySQL.DSN, cfg.Lock.Wait)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.MySQL.ConnLifetime)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping mysql: %w", err)
		}
		logger.Info("connected to mysql")

		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return adapter, func() { db.Close() }, nil

	case config.StorePostgres:
		db, err := storage.OpenPostgres(cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		store := storage.NewPostgresStore(db, cfg.Lock.Wait)
		if err := store.EnsureSchema(ctx); err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		return store, func() { sqlDB.Close() }, nil

	default:
		logger.Warn("using in-memory store, state is lost on exit")
		return storage.NewMemoryStore(storage.WithLockWait(cfg.Lock.Wait)), func() {}, nil
	}
}

func buildStrategy(ctx context.Context, cfg *config.Config, store port.CounterStore, m *metrics.Metrics, logger *zap.Logger) (service.Decrementer, func(), error) {
	noop := func() {}

	switch cfg.Strategy {
	case config.StrategyPessimistic:
		return service.NewPessimisticController(store), noop, nil

	case config.StrategyMutex:
		logger.Warn("mutex strategy only serializes this process")
		return service.NewMutexController(lock.NewProcessLock(cfg.Lock.Wait), store), noop, nil

	case config.StrategyNamedLock:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("connected to redis")
		locks := lock.NewRedisLock(rdb, cfg.Lock.TTL, cfg.Lock.Wait)
		return service.NewNamedLockController(locks, store), func() { rdb.Close() }, nil

	case config.StrategyNaive:
		logger.Warn("naive strategy loses updates under concurrency")
		return service.NewNaiveController(store), noop, nil

	default:
		policy := service.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Backoff:     cfg.Retry.Backoff,
			MaxBackoff:  cfg.Retry.MaxBackoff,
			Multiplier:  cfg.Retry.Multiplier,
			Jitter:      cfg.Retry.Jitter,
		}
		return service.NewRetryFacade(service.NewOptimisticController(store), policy,
			service.WithLogger(logger),
			service.WithRetryHook(m.RetryHook(cfg.Strategy)),
		), noop, nil
	}
}
