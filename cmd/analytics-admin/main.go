package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/todo-1m/analytics/internal/analytics"
	"github.com/todo-1m/analytics/internal/app/bootstrap"
	"github.com/todo-1m/analytics/internal/app/seed"
	"github.com/todo-1m/analytics/internal/database"
	"github.com/todo-1m/analytics/internal/platform/config"
	"github.com/todo-1m/analytics/internal/platform/logger"
)

func main() {
	app := &cli.App{
		Name:  "analytics-admin",
		Usage: "Maintenance tasks for the analytics store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "database-url",
				Aliases: []string{"d"},
				Usage:   "PostgreSQL database URL",
				EnvVars: []string{"DATABASE_URL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Apply pending schema migrations",
				Action: runMigrate,
			},
			{
				Name:   "status",
				Usage:  "Print the current schema version",
				Action: runStatus,
			},
			{
				Name:  "seed",
				Usage: "Load the demo data set for today (safe to re-run)",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "synthetic",
						Value: 0,
						Usage: "Extra generated tasks on top of the fixed set",
					},
				},
				Action: runSeed,
			},
			{
				Name:  "recompute",
				Usage: "Rebuild breakdowns and user totals for a day",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "date",
						Usage: "Day to rebuild as YYYY-MM-DD (default: today)",
					},
				},
				Action: runRecompute,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Default().Error("analytics-admin failed", zap.Error(err))
		os.Exit(1)
	}
}

type session struct {
	cfg     config.Config
	log     *logger.Logger
	storage *bootstrap.Storage
}

// open loads Config, applies flag overrides and connects to the store.
func open(c *cli.Context, migrate bool) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Logging.Level = c.String("log-level")
	if url := c.String("database-url"); url != "" {
		cfg.Database.URL = url
	}
	log, err := bootstrap.Logger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	storage, err := bootstrap.OpenStore(c.Context, cfg, migrate, log)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, log: log, storage: storage}, nil
}

func (e *session) close() {
	e.storage.Close()
	_ = e.log.Sync()
}

func runMigrate(c *cli.Context) error {
	e, err := open(c, true)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	defer e.close()
	return nil
}

func runStatus(c *cli.Context) error {
	e, err := open(c, false)
	if err != nil {
		return err
	}
	defer e.close()
	if e.storage.Pool == nil {
		return errors.New("schema status needs the postgres store")
	}
	version, err := database.MigrationStatus(c.Context, e.storage.Pool)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "schema version: %d\n", version)
	return nil
}

func runSeed(c *cli.Context) error {
	e, err := open(c, true)
	if err != nil {
		return err
	}
	defer e.close()

	s := seed.New(e.storage.Store, e.log)
	s.Location = e.cfg.Analytics.Location()
	s.Synthetic = c.Int("synthetic")
	res, err := s.Run(c.Context)
	if err != nil {
		return fmt.Errorf("failed to seed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "seeded %d tasks, %d users, %d user rows\n", res.Tasks, res.Users, res.UserRows)
	return nil
}

func runRecompute(c *cli.Context) error {
	e, err := open(c, false)
	if err != nil {
		return err
	}
	defer e.close()

	now := time.Now().UTC()
	day := analytics.Day(now, e.cfg.Analytics.Location())
	if raw := c.String("date"); raw != "" {
		if day, err = analytics.ParseDay(raw); err != nil {
			return fmt.Errorf("invalid --date %q: %w", raw, err)
		}
	}

	rows, err := recompute(c.Context, e.storage.Store, day, now)
	if err != nil {
		return err
	}
	e.log.Info("recompute completed", zap.String("date", analytics.DayKey(day)), zap.Int("user_rows", rows))
	fmt.Fprintf(c.App.Writer, "recomputed %s: %d user rows\n", analytics.DayKey(day), rows)
	return nil
}

func recompute(ctx context.Context, store analytics.Store, day, now time.Time) (int, error) {
	rows, err := (&analytics.Recomputer{Store: store}).RecomputeAll(ctx, day, now)
	if err != nil {
		return 0, fmt.Errorf("failed to recompute breakdowns: %w", err)
	}
	if _, err := store.RefreshUserTotals(ctx, day, now); err != nil {
		return 0, fmt.Errorf("failed to refresh user totals: %w", err)
	}
	return rows, nil
}
