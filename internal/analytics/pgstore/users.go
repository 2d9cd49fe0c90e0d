package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/todo-1m/analytics/internal/analytics"
)

const userSnapshotColumns = `date, total_users, active_users_today, new_users_today, successful_logins, failed_logins, last_updated`

const incrementUserSnapshotSQL = `
INSERT INTO user_snapshots (date, new_users_today, successful_logins, failed_logins, last_updated)
VALUES ($1::date, GREATEST(0, $2::bigint), GREATEST(0, $3::bigint), GREATEST(0, $4::bigint), $5)
ON CONFLICT (date) DO UPDATE SET
  new_users_today = GREATEST(0, user_snapshots.new_users_today + $2::bigint),
  successful_logins = GREATEST(0, user_snapshots.successful_logins + $3::bigint),
  failed_logins = GREATEST(0, user_snapshots.failed_logins + $4::bigint),
  last_updated = $5
`

const refreshUserTotalsSQL = `
INSERT INTO user_snapshots (date, total_users, active_users_today, last_updated)
VALUES (
  $1::date,
  COALESCE((SELECT total FROM global_counters WHERE id = $2), 0),
  (SELECT count(*) FROM daily_active_users WHERE date = $1::date),
  $3
)
ON CONFLICT (date) DO UPDATE SET
  total_users = EXCLUDED.total_users,
  active_users_today = EXCLUDED.active_users_today,
  last_updated = EXCLUDED.last_updated
RETURNING ` + userSnapshotColumns

const touchActiveUserSQL = `
INSERT INTO daily_active_users (username, date, login_count)
VALUES ($1, $2::date, GREATEST(0, $3::bigint))
ON CONFLICT (username, date) DO UPDATE SET
  login_count = GREATEST(0, daily_active_users.login_count + $3::bigint)
RETURNING (xmax = 0)
`

func (s *Store) IncrementUserSnapshot(ctx context.Context, day time.Time, delta analytics.UserCounts, at time.Time) error {
	_, err := s.pool.Exec(ctx, incrementUserSnapshotSQL,
		day, delta.NewUsersToday, delta.SuccessfulLogins, delta.FailedLogins, at)
	if err != nil {
		return fmt.Errorf("increment user snapshot: %w", err)
	}
	return nil
}

func scanUserSnapshot(row pgx.Row) (analytics.UserSnapshot, error) {
	var snap analytics.UserSnapshot
	err := row.Scan(
		&snap.Date, &snap.TotalUsers, &snap.ActiveUsersToday,
		&snap.NewUsersToday, &snap.SuccessfulLogins, &snap.FailedLogins, &snap.LastUpdated,
	)
	snap.Date = snap.Date.UTC()
	snap.LastUpdated = snap.LastUpdated.UTC()
	return snap, err
}

func (s *Store) RefreshUserTotals(ctx context.Context, day time.Time, at time.Time) (analytics.UserSnapshot, error) {
	snap, err := scanUserSnapshot(s.pool.QueryRow(ctx, refreshUserTotalsSQL, day, analytics.CounterUsers, at))
	if err != nil {
		return analytics.UserSnapshot{}, fmt.Errorf("refresh user totals: %w", err)
	}
	return snap, nil
}

func (s *Store) GetUserSnapshot(ctx context.Context, day time.Time) (analytics.UserSnapshot, error) {
	query, args, err := s.psql.Select(userSnapshotColumns).From("user_snapshots").
		Where(sq.Expr("date = ?::date", day)).ToSql()
	if err != nil {
		return analytics.UserSnapshot{}, fmt.Errorf("build query: %w", err)
	}
	snap, err := scanUserSnapshot(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return analytics.UserSnapshot{}, analytics.ErrNotFound
	}
	if err != nil {
		return analytics.UserSnapshot{}, fmt.Errorf("get user snapshot: %w", err)
	}
	return snap, nil
}

func (s *Store) ListUserSnapshots(ctx context.Context, from, to time.Time) ([]analytics.UserSnapshot, error) {
	query, args, err := dateRange(s.psql.Select(userSnapshotColumns).From("user_snapshots"), from, to).
		OrderBy("date").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list user snapshots: %w", err)
	}
	defer rows.Close()

	var out []analytics.UserSnapshot
	for rows.Next() {
		snap, err := scanUserSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *Store) TouchActiveUser(ctx context.Context, username string, day time.Time, loginDelta int64) (bool, error) {
	var created bool
	if err := s.pool.QueryRow(ctx, touchActiveUserSQL, username, day, loginDelta).Scan(&created); err != nil {
		return false, fmt.Errorf("touch active user: %w", err)
	}
	return created, nil
}

func (s *Store) CountActiveUsers(ctx context.Context, day time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM daily_active_users WHERE date = $1::date`, day).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active users: %w", err)
	}
	return n, nil
}

func (s *Store) ListActiveUsers(ctx context.Context, day time.Time) ([]analytics.DailyActiveUser, error) {
	query, args, err := s.psql.Select("username", "date", "login_count").From("daily_active_users").
		Where(sq.Expr("date = ?::date", day)).OrderBy("username").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}
	defer rows.Close()

	var out []analytics.DailyActiveUser
	for rows.Next() {
		var u analytics.DailyActiveUser
		if err := rows.Scan(&u.Username, &u.Date, &u.LoginCount); err != nil {
			return nil, fmt.Errorf("scan active user: %w", err)
		}
		u.Date = u.Date.UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}
