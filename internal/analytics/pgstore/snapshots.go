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

const taskCountColumns = `total_tasks, completed_tasks, in_progress_tasks, pending_tasks, deleted_tasks,
  created_tasks_today, completed_tasks_today, deleted_tasks_today, updated_tasks_today`

const breakdownColumns = `tasks_by_status, tasks_by_priority, tasks_by_category, tasks_by_department`

const taskSnapshotColumns = `date, ` + taskCountColumns + `, completion_percentage, ` + breakdownColumns + `, last_updated`

const userStatsColumns = `user_id, ` + taskSnapshotColumns

const incrementTaskSnapshotSQL = `
INSERT INTO task_snapshots (date, ` + taskCountColumns + `, last_updated)
VALUES ($1::date,
  GREATEST(0, $2::bigint), GREATEST(0, $3::bigint), GREATEST(0, $4::bigint), GREATEST(0, $5::bigint), GREATEST(0, $6::bigint),
  GREATEST(0, $7::bigint), GREATEST(0, $8::bigint), GREATEST(0, $9::bigint), GREATEST(0, $10::bigint), $11)
ON CONFLICT (date) DO UPDATE SET
  total_tasks = GREATEST(0, task_snapshots.total_tasks + $2::bigint),
  completed_tasks = GREATEST(0, task_snapshots.completed_tasks + $3::bigint),
  in_progress_tasks = GREATEST(0, task_snapshots.in_progress_tasks + $4::bigint),
  pending_tasks = GREATEST(0, task_snapshots.pending_tasks + $5::bigint),
  deleted_tasks = GREATEST(0, task_snapshots.deleted_tasks + $6::bigint),
  created_tasks_today = GREATEST(0, task_snapshots.created_tasks_today + $7::bigint),
  completed_tasks_today = GREATEST(0, task_snapshots.completed_tasks_today + $8::bigint),
  deleted_tasks_today = GREATEST(0, task_snapshots.deleted_tasks_today + $9::bigint),
  updated_tasks_today = GREATEST(0, task_snapshots.updated_tasks_today + $10::bigint),
  last_updated = $11
`

const incrementUserStatsSQL = `
INSERT INTO user_task_statistics (user_id, date, ` + taskCountColumns + `, last_updated)
VALUES ($1, $2::date,
  GREATEST(0, $3::bigint), GREATEST(0, $4::bigint), GREATEST(0, $5::bigint), GREATEST(0, $6::bigint), GREATEST(0, $7::bigint),
  GREATEST(0, $8::bigint), GREATEST(0, $9::bigint), GREATEST(0, $10::bigint), GREATEST(0, $11::bigint), $12)
ON CONFLICT (user_id, date) DO UPDATE SET
  total_tasks = GREATEST(0, user_task_statistics.total_tasks + $3::bigint),
  completed_tasks = GREATEST(0, user_task_statistics.completed_tasks + $4::bigint),
  in_progress_tasks = GREATEST(0, user_task_statistics.in_progress_tasks + $5::bigint),
  pending_tasks = GREATEST(0, user_task_statistics.pending_tasks + $6::bigint),
  deleted_tasks = GREATEST(0, user_task_statistics.deleted_tasks + $7::bigint),
  created_tasks_today = GREATEST(0, user_task_statistics.created_tasks_today + $8::bigint),
  completed_tasks_today = GREATEST(0, user_task_statistics.completed_tasks_today + $9::bigint),
  deleted_tasks_today = GREATEST(0, user_task_statistics.deleted_tasks_today + $10::bigint),
  updated_tasks_today = GREATEST(0, user_task_statistics.updated_tasks_today + $11::bigint),
  last_updated = $12
`

const putTaskBreakdownSQL = `
INSERT INTO task_snapshots (date, ` + breakdownColumns + `, last_updated)
VALUES ($1::date, $2, $3, $4, $5, $6)
ON CONFLICT (date) DO UPDATE SET
  tasks_by_status = EXCLUDED.tasks_by_status,
  tasks_by_priority = EXCLUDED.tasks_by_priority,
  tasks_by_category = EXCLUDED.tasks_by_category,
  tasks_by_department = EXCLUDED.tasks_by_department,
  last_updated = EXCLUDED.last_updated
`

const putUserBreakdownSQL = `
INSERT INTO user_task_statistics (user_id, date, ` + breakdownColumns + `, last_updated)
VALUES ($1, $2::date, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, date) DO UPDATE SET
  tasks_by_status = EXCLUDED.tasks_by_status,
  tasks_by_priority = EXCLUDED.tasks_by_priority,
  tasks_by_category = EXCLUDED.tasks_by_category,
  tasks_by_department = EXCLUDED.tasks_by_department,
  last_updated = EXCLUDED.last_updated
`

const putTaskSnapshotSQL = `
INSERT INTO task_snapshots (date, ` + taskCountColumns + `, ` + breakdownColumns + `, last_updated)
VALUES ($1::date, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (date) DO UPDATE SET
  total_tasks = EXCLUDED.total_tasks,
  completed_tasks = EXCLUDED.completed_tasks,
  in_progress_tasks = EXCLUDED.in_progress_tasks,
  pending_tasks = EXCLUDED.pending_tasks,
  deleted_tasks = EXCLUDED.deleted_tasks,
  created_tasks_today = EXCLUDED.created_tasks_today,
  completed_tasks_today = EXCLUDED.completed_tasks_today,
  deleted_tasks_today = EXCLUDED.deleted_tasks_today,
  updated_tasks_today = EXCLUDED.updated_tasks_today,
  tasks_by_status = EXCLUDED.tasks_by_status,
  tasks_by_priority = EXCLUDED.tasks_by_priority,
  tasks_by_category = EXCLUDED.tasks_by_category,
  tasks_by_department = EXCLUDED.tasks_by_department,
  last_updated = EXCLUDED.last_updated
`

const putUserStatsSQL = `
INSERT INTO user_task_statistics (user_id, date, ` + taskCountColumns + `, ` + breakdownColumns + `, last_updated)
VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (user_id, date) DO UPDATE SET
  total_tasks = EXCLUDED.total_tasks,
  completed_tasks = EXCLUDED.completed_tasks,
  in_progress_tasks = EXCLUDED.in_progress_tasks,
  pending_tasks = EXCLUDED.pending_tasks,
  deleted_tasks = EXCLUDED.deleted_tasks,
  created_tasks_today = EXCLUDED.created_tasks_today,
  completed_tasks_today = EXCLUDED.completed_tasks_today,
  deleted_tasks_today = EXCLUDED.deleted_tasks_today,
  updated_tasks_today = EXCLUDED.updated_tasks_today,
  tasks_by_status = EXCLUDED.tasks_by_status,
  tasks_by_priority = EXCLUDED.tasks_by_priority,
  tasks_by_category = EXCLUDED.tasks_by_category,
  tasks_by_department = EXCLUDED.tasks_by_department,
  last_updated = EXCLUDED.last_updated
`

func countArgs(c analytics.TaskCounts) []any {
	return []any{
		c.Total, c.Completed, c.InProgress, c.Pending, c.Deleted,
		c.CreatedToday, c.CompletedToday, c.DeletedToday, c.UpdatedToday,
	}
}

func breakdownArgs(b analytics.Breakdown) []any {
	b = b.Clone()
	return []any{b.ByStatus, b.ByPriority, b.ByCategory, b.ByDepartment}
}

func (s *Store) IncrementTaskSnapshot(ctx context.Context, day time.Time, delta analytics.TaskCounts, at time.Time) error {
	args := append([]any{day}, countArgs(delta)...)
	args = append(args, at)
	if _, err := s.pool.Exec(ctx, incrementTaskSnapshotSQL, args...); err != nil {
		return fmt.Errorf("increment task snapshot: %w", err)
	}
	return nil
}

func (s *Store) PutTaskBreakdown(ctx context.Context, day time.Time, b analytics.Breakdown, at time.Time) error {
	args := append([]any{day}, breakdownArgs(b)...)
	args = append(args, at)
	if _, err := s.pool.Exec(ctx, putTaskBreakdownSQL, args...); err != nil {
		return fmt.Errorf("put task breakdown: %w", err)
	}
	return nil
}

func (s *Store) PutTaskSnapshot(ctx context.Context, snap analytics.TaskSnapshot) error {
	args := append([]any{snap.Date}, countArgs(snap.TaskCounts)...)
	args = append(args, breakdownArgs(snap.Breakdown)...)
	args = append(args, snap.LastUpdated)
	if _, err := s.pool.Exec(ctx, putTaskSnapshotSQL, args...); err != nil {
		return fmt.Errorf("put task snapshot: %w", err)
	}
	return nil
}

func scanTaskSnapshot(row pgx.Row) (analytics.TaskSnapshot, error) {
	var snap analytics.TaskSnapshot
	c := &snap.TaskCounts
	b := &snap.Breakdown
	err := row.Scan(
		&snap.Date,
		&c.Total, &c.Completed, &c.InProgress, &c.Pending, &c.Deleted,
		&c.CreatedToday, &c.CompletedToday, &c.DeletedToday, &c.UpdatedToday,
		&snap.CompletionPercentage,
		&b.ByStatus, &b.ByPriority, &b.ByCategory, &b.ByDepartment,
		&snap.LastUpdated,
	)
	snap.Date = snap.Date.UTC()
	snap.LastUpdated = snap.LastUpdated.UTC()
	return snap, err
}

func (s *Store) GetTaskSnapshot(ctx context.Context, day time.Time) (analytics.TaskSnapshot, error) {
	query, args, err := s.psql.Select(taskSnapshotColumns).From("task_snapshots").
		Where(sq.Expr("date = ?::date", day)).ToSql()
	if err != nil {
		return analytics.TaskSnapshot{}, fmt.Errorf("build query: %w", err)
	}
	snap, err := scanTaskSnapshot(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return analytics.TaskSnapshot{}, analytics.ErrNotFound
	}
	if err != nil {
		return analytics.TaskSnapshot{}, fmt.Errorf("get task snapshot: %w", err)
	}
	return snap, nil
}

func dateRange(q sq.SelectBuilder, from, to time.Time) sq.SelectBuilder {
	if !from.IsZero() {
		q = q.Where(sq.Expr("date >= ?::date", from))
	}
	if !to.IsZero() {
		q = q.Where(sq.Expr("date <= ?::date", to))
	}
	return q
}

func (s *Store) ListTaskSnapshots(ctx context.Context, from, to time.Time) ([]analytics.TaskSnapshot, error) {
	q := dateRange(s.psql.Select(taskSnapshotColumns).From("task_snapshots"), from, to).OrderBy("date")
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list task snapshots: %w", err)
	}
	defer rows.Close()

	var out []analytics.TaskSnapshot
	for rows.Next() {
		snap, err := scanTaskSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *Store) IncrementUserTaskStats(ctx context.Context, userID string, day time.Time, delta analytics.TaskCounts, at time.Time) error {
	args := append([]any{userID, day}, countArgs(delta)...)
	args = append(args, at)
	if _, err := s.pool.Exec(ctx, incrementUserStatsSQL, args...); err != nil {
		return fmt.Errorf("increment user stats: %w", err)
	}
	return nil
}

func (s *Store) PutUserTaskBreakdown(ctx context.Context, userID string, day time.Time, b analytics.Breakdown, at time.Time) error {
	args := append([]any{userID, day}, breakdownArgs(b)...)
	args = append(args, at)
	if _, err := s.pool.Exec(ctx, putUserBreakdownSQL, args...); err != nil {
		return fmt.Errorf("put user breakdown: %w", err)
	}
	return nil
}

func (s *Store) PutUserTaskStats(ctx context.Context, row analytics.UserTaskStatistics) error {
	args := append([]any{row.UserID, row.Date}, countArgs(row.TaskCounts)...)
	args = append(args, breakdownArgs(row.Breakdown)...)
	args = append(args, row.LastUpdated)
	if _, err := s.pool.Exec(ctx, putUserStatsSQL, args...); err != nil {
		return fmt.Errorf("put user stats: %w", err)
	}
	return nil
}

func scanUserStats(row pgx.Row) (analytics.UserTaskStatistics, error) {
	var st analytics.UserTaskStatistics
	c := &st.TaskCounts
	b := &st.Breakdown
	err := row.Scan(
		&st.UserID, &st.Date,
		&c.Total, &c.Completed, &c.InProgress, &c.Pending, &c.Deleted,
		&c.CreatedToday, &c.CompletedToday, &c.DeletedToday, &c.UpdatedToday,
		&st.CompletionPercentage,
		&b.ByStatus, &b.ByPriority, &b.ByCategory, &b.ByDepartment,
		&st.LastUpdated,
	)
	st.Date = st.Date.UTC()
	st.LastUpdated = st.LastUpdated.UTC()
	return st, err
}

func (s *Store) GetUserTaskStats(ctx context.Context, userID string, day time.Time) (analytics.UserTaskStatistics, error) {
	query, args, err := s.psql.Select(userStatsColumns).From("user_task_statistics").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Expr("date = ?::date", day)).ToSql()
	if err != nil {
		return analytics.UserTaskStatistics{}, fmt.Errorf("build query: %w", err)
	}
	st, err := scanUserStats(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return analytics.UserTaskStatistics{}, analytics.ErrNotFound
	}
	if err != nil {
		return analytics.UserTaskStatistics{}, fmt.Errorf("get user stats: %w", err)
	}
	return st, nil
}

func (s *Store) ListUserTaskStats(ctx context.Context, filter analytics.UserStatsFilter) ([]analytics.UserTaskStatistics, error) {
	q := s.psql.Select(userStatsColumns).From("user_task_statistics")
	if filter.UserID != "" {
		q = q.Where(sq.Eq{"user_id": filter.UserID})
	}
	q = dateRange(q, filter.From, filter.To).OrderBy("date", "user_id")
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list user stats: %w", err)
	}
	defer rows.Close()

	var out []analytics.UserTaskStatistics
	for rows.Next() {
		st, err := scanUserStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
