// Package analytics turns domain events into running task and user
// statistics: global counters, day snapshots, per-user day statistics and the
// daily active-user log.
package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/todo-1m/analytics/internal/platform/logger"
)

// errUnknownTask marks events that reference a task with no mirror. The
// handler no-ops; the dispatcher counts the event as skipped.
var errUnknownTask = errors.New("unknown task")

// Engine holds the incremental update handlers. Handlers for different
// entities may run concurrently; events of one entity must be applied in
// order by a single caller.
type Engine struct {
	Store    Store
	Policy   Policy
	Location *time.Location
	Now      func() time.Time
	Logger   *logger.Logger
}

// NewEngine returns an engine with the default policy, UTC days and the
// wall clock.
func NewEngine(store Store, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Default()
	}
	return &Engine{
		Store:    store,
		Policy:   DefaultPolicy(),
		Location: time.UTC,
		Now:      func() time.Time { return time.Now().UTC() },
		Logger:   log.WithComponent("analytics"),
	}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now()
}

func (e *Engine) today(now time.Time) time.Time {
	return Day(now, e.Location)
}

func (e *Engine) log() *logger.Logger {
	if e.Logger == nil {
		return logger.Default()
	}
	return e.Logger
}

func (e *Engine) mirrors() Mirrors {
	return Mirrors{Store: e.Store, Logger: e.log()}
}

func (e *Engine) recomputer() *Recomputer {
	return &Recomputer{Store: e.Store}
}

// refresh re-derives breakdowns for the global day snapshot and the given
// users' day rows.
func (e *Engine) refresh(ctx context.Context, day, at time.Time, users []string) error {
	r := e.recomputer()
	if err := r.RecomputeTaskDay(ctx, day, at); err != nil {
		return err
	}
	for _, userID := range users {
		if err := r.RecomputeUserDay(ctx, userID, day, at); err != nil {
			return err
		}
	}
	return nil
}
