package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/todo-1m/analytics/internal/contracts"
)

// HandleUserRegistered counts the new user and records them as active today.
func (e *Engine) HandleUserRegistered(ctx context.Context, ev contracts.UserRegistered) error {
	now := e.now()
	day := e.today(now)

	if _, err := e.Store.IncrementCounter(ctx, CounterUsers, 1, now); err != nil {
		return fmt.Errorf("increment users counter: %w", err)
	}
	if err := e.Store.IncrementUserSnapshot(ctx, day, UserCounts{NewUsersToday: 1}, now); err != nil {
		return fmt.Errorf("increment user snapshot: %w", err)
	}
	if _, err := e.Store.TouchActiveUser(ctx, username(ev.Username, ev.EntityID), day, 0); err != nil {
		return fmt.Errorf("touch active user: %w", err)
	}
	return e.refreshUserTotals(ctx, day, now)
}

// HandleUserLoginSucceeded counts the login and bumps the user's login count
// for today. Active users are recounted only when the user is new today.
func (e *Engine) HandleUserLoginSucceeded(ctx context.Context, ev contracts.UserLoginSucceeded) error {
	now := e.now()
	day := e.today(now)

	if err := e.Store.IncrementUserSnapshot(ctx, day, UserCounts{SuccessfulLogins: 1}, now); err != nil {
		return fmt.Errorf("increment user snapshot: %w", err)
	}
	created, err := e.Store.TouchActiveUser(ctx, username(ev.Username, ev.EntityID), day, 1)
	if err != nil {
		return fmt.Errorf("touch active user: %w", err)
	}
	if !created {
		return nil
	}
	return e.refreshUserTotals(ctx, day, now)
}

func (e *Engine) HandleUserLoginFailed(ctx context.Context, ev contracts.UserLoginFailed) error {
	now := e.now()
	if err := e.Store.IncrementUserSnapshot(ctx, e.today(now), UserCounts{FailedLogins: 1}, now); err != nil {
		return fmt.Errorf("increment user snapshot: %w", err)
	}
	e.log().Debug("login failure counted",
		zap.String("username", ev.Username),
		zap.String("reason", ev.FailureReason),
	)
	return nil
}

func (e *Engine) refreshUserTotals(ctx context.Context, day, now time.Time) error {
	snap, err := e.Store.RefreshUserTotals(ctx, day, now)
	if err != nil {
		return fmt.Errorf("refresh user totals: %w", err)
	}
	e.log().Debug("user totals refreshed",
		zap.String("date", DayKey(day)),
		zap.Int64("total_users", snap.TotalUsers),
		zap.Int64("active_users_today", snap.ActiveUsersToday),
	)
	return nil
}

func username(name, fallback string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return fallback
}
