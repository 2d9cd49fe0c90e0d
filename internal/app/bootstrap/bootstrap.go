// Package bootstrap builds the pieces shared by the analytics binaries from
// Config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/todo-1m/analytics/internal/analytics"
	"github.com/todo-1m/analytics/internal/analytics/memstore"
	"github.com/todo-1m/analytics/internal/analytics/pgstore"
	"github.com/todo-1m/analytics/internal/database"
	"github.com/todo-1m/analytics/internal/platform/config"
	"github.com/todo-1m/analytics/internal/platform/dbpool"
	"github.com/todo-1m/analytics/internal/platform/logger"
	"github.com/todo-1m/analytics/internal/platform/metrics"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

const postgresReadyTimeout = 30 * time.Second

// Logger builds the process logger from cfg and installs it as default.
func Logger(cfg logger.Config) (*logger.Logger, error) {
	log, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	logger.SetDefault(log)
	return log, nil
}

// Storage is an opened aggregate store. Pool is nil for the memory backend.
type Storage struct {
	Store analytics.Store
	Pool  *pgxpool.Pool
}

func (s *Storage) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Ready reports whether the backing database answers.
func (s *Storage) Ready(ctx context.Context) error {
	if s.Pool == nil {
		return nil
	}
	checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	if err := s.Pool.Ping(checkCtx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

// OpenStore connects the backend named by cfg.Analytics.Store. With migrate
// set, pending schema migrations run once the database is reachable.
func OpenStore(ctx context.Context, cfg config.Config, migrate bool, log *logger.Logger) (*Storage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Analytics.Store)) {
	case StoreMemory:
		log.Warn("using in-memory aggregate store; data is lost on restart")
		return &Storage{Store: memstore.New()}, nil
	case "", StorePostgres:
	default:
		return nil, fmt.Errorf("unknown analytics store %q", cfg.Analytics.Store)
	}

	pool, err := dbpool.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	var prepare func(context.Context) error
	if migrate {
		prepare = func(ctx context.Context) error { return database.RunMigrations(ctx, pool, log) }
	}
	if err := dbpool.WaitReady(ctx, pool, postgresReadyTimeout, prepare, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres not ready: %w", err)
	}
	return &Storage{Store: pgstore.New(pool), Pool: pool}, nil
}

// Engine builds the aggregation engine with the policy from cfg.
func Engine(cfg config.Analytics, store analytics.Store, log *logger.Logger) (*analytics.Engine, error) {
	deletePolicy, err := analytics.ParseDeletePolicy(cfg.DeletePolicy)
	if err != nil {
		return nil, err
	}
	e := analytics.NewEngine(store, log)
	e.Location = cfg.Location()
	e.Policy = analytics.Policy{Delete: deletePolicy, DedupEvents: cfg.DedupEvents}
	return e, nil
}

// Probes mounts /healthz and /readyz on mux. ready may be nil.
func Probes(mux *http.ServeMux, ready func(context.Context) error) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

// Serve runs srv until ctx is done, then shuts it down within timeout.
func Serve(ctx context.Context, srv *http.Server, timeout time.Duration, log *logger.Logger) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	log.Info("http server listening", zap.String("addr", srv.Addr))

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
		return err
	}
	return nil
}

// MetricsServer exposes the default registry together with the probes.
func MetricsServer(addr string, ready func(context.Context) error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	Probes(mux, ready)
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
