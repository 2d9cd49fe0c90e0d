package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/todo-1m/analytics/internal/app/bootstrap"
	"github.com/todo-1m/analytics/internal/app/query"
	"github.com/todo-1m/analytics/internal/platform/config"
	"github.com/todo-1m/analytics/internal/platform/logger"
	"github.com/todo-1m/analytics/internal/platform/metrics"
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

	storage, err := bootstrap.OpenStore(runCtx, cfg, false, log)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer storage.Close()

	handler := query.NewHandler(query.NewReports(storage.Store), cfg.UIOrigin, log)
	handler.Location = cfg.Analytics.Location()

	mux := http.NewServeMux()
	bootstrap.Probes(mux, storage.Ready)
	mux.Handle("/metrics", metrics.DefaultHandler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if err := bootstrap.Serve(runCtx, server, cfg.ShutdownTimeout, log); err != nil {
		log.Fatal("analytics api stopped", zap.Error(err))
	}
}
