// Pipelines Scheduler — допускает operation runs pipeline runs.
//
// Scheduler:
//   - Потребляет триггеры pipelines.* и отчёты operations.status из RabbitMQ
//   - Допускает готовые operation runs в пределах бюджета
//   - Передаёт допущенные runs исполнителям через operations.ready
//   - Периодически перезапускает цикл допуска незавершённых runs (sweeper)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Pipelines/internal/config"
	"github.com/shaiso/Pipelines/internal/launcher"
	"github.com/shaiso/Pipelines/internal/lock"
	"github.com/shaiso/Pipelines/internal/mq"
	"github.com/shaiso/Pipelines/internal/pipelines"
	"github.com/shaiso/Pipelines/internal/repo"
	"github.com/shaiso/Pipelines/internal/scheduler"
	"github.com/shaiso/Pipelines/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger(nil)
	logger.Info("starting pipelines-scheduler")

	if err := run(logger); err != nil {
		logger.Error("pipelines-scheduler failed", "error", err)
		os.Exit(1)
	}
	logger.Info("pipelines-scheduler stopped")
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load(nil)
	if err != nil {
		return err
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	if err := repo.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database connected")

	store := repo.NewStore(pool)

	// RabbitMQ
	mqConn, err := mq.NewConnection(mq.ConnectionConfig{URL: cfg.RabbitMQURL, Logger: logger})
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer mqConn.Close()

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		return fmt.Errorf("setup topology: %w", err)
	}
	logger.Debug("rabbitmq topology", "topology", mq.TopologyInfo())

	publisher := mq.NewPublisher(mqConn, logger)

	locker, closeLocker, err := newLocker(cfg, pool)
	if err != nil {
		return err
	}
	defer closeLocker()

	// Исполнитель: все kinds уходят в operations.ready, классы ограничены CLASS_LIMITS
	registry := launcher.NewRegistry()
	registry.SetFallback(launcher.NewQueueLauncher(publisher, logger))
	launch := launcher.NewClassLimiter(store, cfg.ClassLimits, registry)

	sched, err := pipelines.New(pipelines.Config{
		Store:              store,
		Launcher:           launch,
		Dispatcher:         publisher,
		Locker:             locker,
		DefaultConcurrency: cfg.DefaultConcurrency,
		RetryInterval:      cfg.RetryInterval,
		SatisfiedStatuses:  cfg.SatisfiedStatuses(),
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	svc := pipelines.NewService(pipelines.ServiceConfig{
		Scheduler: sched,
		Conn:      mqConn,
		Logger:    logger,
	})
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	sweeper, err := scheduler.New(scheduler.Config{
		Runs:       store,
		Dispatcher: publisher,
		Leader:     locker,
		Schedule:   cfg.SweepSchedule,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !mqConn.IsConnected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("rabbitmq disconnected"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newLocker выбирает реализацию блокировки pipeline run по LOCK_BACKEND.
func newLocker(cfg *config.Config, pool *pgxpool.Pool) (lock.Locker, func(), error) {
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		return lock.NewRedis(client, lock.RedisConfig{}), func() { _ = client.Close() }, nil
	case config.LockBackendLocal:
		return lock.NewLocal(), func() {}, nil
	default:
		return lock.NewPostgres(pool), func() {}, nil
	}
}
