package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/todo-1m/analytics/internal/analytics"
	"github.com/todo-1m/analytics/internal/app/analyticsink"
	"github.com/todo-1m/analytics/internal/app/bootstrap"
	"github.com/todo-1m/analytics/internal/platform/config"
	"github.com/todo-1m/analytics/internal/platform/logger"
	"github.com/todo-1m/analytics/internal/platform/metrics"
	"github.com/todo-1m/analytics/internal/platform/natsutil"
	"github.com/todo-1m/analytics/internal/platform/telemetry"
	"github.com/todo-1m/analytics/internal/sharding"
)

func main() {
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Default().Fatal("load config", zap.Error(err))
	}
	log, err := bootstrap.Logger(cfg.Logging)
	if err != nil {
		logger.Default().Fatal("init logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	if err := run(runCtx, cfg, log); err != nil {
		log.Fatal("analytics sink stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	storage, err := bootstrap.OpenStore(ctx, cfg, true, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	engine, err := bootstrap.Engine(cfg.Analytics, storage.Store, log)
	if err != nil {
		return err
	}
	pool := sharding.NewPool(cfg.Analytics.Workers, cfg.Analytics.QueueSize)
	service := analyticsink.NewService(analytics.NewDispatcher(engine), pool, log)
	service.RegisterMetrics(metrics.Default)

	client, err := natsutil.ConnectJetStreamWithRetry(cfg.NATS.URL, cfg.NATS.ConnectTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	// Workers outlive ctx so queued events finish against a live store.
	workers := make(chan error, 1)
	go func() { workers <- pool.Run(context.Background()) }()

	sub, err := service.Subscribe(ctx, client.JS, cfg.NATS.Subject, cfg.NATS.Queue)
	if err != nil {
		pool.Close()
		<-workers
		return err
	}
	log.Info("analytics sink listening",
		zap.String("subject", sub.Subject),
		zap.String("queue", cfg.NATS.Queue),
		zap.Int("workers", pool.Workers()),
		zap.String("store", cfg.Analytics.Store),
	)

	ready := func(ctx context.Context) error {
		if err := client.Connected(); err != nil {
			return err
		}
		return storage.Ready(ctx)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bootstrap.Serve(gctx, bootstrap.MetricsServer(cfg.MetricsAddr, ready), cfg.ShutdownTimeout, log)
	})
	serveErr := g.Wait()

	if err := sub.Unsubscribe(); err != nil {
		log.Warn("unsubscribe failed", zap.Error(err))
	}
	pool.Close()
	select {
	case <-workers:
		log.Info("partition workers drained")
	case <-time.After(cfg.ShutdownTimeout):
		log.Warn("partition workers still busy at shutdown", zap.Int("pending", pool.Pending()))
	}

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}
