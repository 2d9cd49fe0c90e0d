// Package pgstore is the PostgreSQL analytics.Store. Counter mutations are
// single INSERT ... ON CONFLICT DO UPDATE statements so concurrent handlers
// never lose increments.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/todo-1m/analytics/internal/analytics"
)

type Store struct {
	pool *pgxpool.Pool
	psql sq.StatementBuilderType
}

var _ analytics.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const mirrorColumns = `task_id, title, category, priority, status, department, assignee_ids,
  creator_id, created_at, updated_at, completed_at, due_date, is_completed, is_deleted, last_updated`

const upsertMirrorSQL = `
INSERT INTO task_mirrors (` + mirrorColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (task_id) DO UPDATE SET
  title = EXCLUDED.title,
  category = EXCLUDED.category,
  priority = EXCLUDED.priority,
  status = EXCLUDED.status,
  department = EXCLUDED.department,
  assignee_ids = EXCLUDED.assignee_ids,
  creator_id = EXCLUDED.creator_id,
  created_at = EXCLUDED.created_at,
  updated_at = EXCLUDED.updated_at,
  completed_at = EXCLUDED.completed_at,
  due_date = EXCLUDED.due_date,
  is_completed = EXCLUDED.is_completed,
  is_deleted = EXCLUDED.is_deleted,
  last_updated = EXCLUDED.last_updated
RETURNING (xmax = 0)
`

func (s *Store) UpsertMirror(ctx context.Context, m analytics.TaskMirror) (bool, error) {
	assignees := m.AssigneeIDs
	if assignees == nil {
		assignees = []string{}
	}
	var inserted bool
	err := s.pool.QueryRow(ctx, upsertMirrorSQL,
		m.TaskID, m.Title, m.Category, m.Priority, string(m.Status), m.Department, assignees,
		m.CreatorID, m.CreatedAt, m.UpdatedAt, m.CompletedAt, m.DueDate, m.IsCompleted, m.IsDeleted, m.LastUpdated,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert task mirror: %w", err)
	}
	return inserted, nil
}

func (s *Store) PatchMirror(ctx context.Context, taskID string, patch analytics.MirrorPatch, at time.Time) (bool, error) {
	q := s.psql.Update("task_mirrors").Set("last_updated", at).Where(sq.Eq{"task_id": taskID})
	if patch.Title != nil {
		q = q.Set("title", *patch.Title)
	}
	if patch.Category != nil {
		q = q.Set("category", *patch.Category)
	}
	if patch.Priority != nil {
		q = q.Set("priority", *patch.Priority)
	}
	if patch.Department != nil {
		q = q.Set("department", *patch.Department)
	}
	if patch.AssigneeIDs != nil {
		ids := *patch.AssigneeIDs
		if ids == nil {
			ids = []string{}
		}
		q = q.Set("assignee_ids", ids)
	}
	if patch.Status != nil {
		q = q.Set("status", string(*patch.Status))
	}
	if patch.UpdatedAt != nil {
		q = q.Set("updated_at", *patch.UpdatedAt)
	}
	if patch.CompletedAt != nil {
		q = q.Set("completed_at", *patch.CompletedAt)
	}
	if patch.DueDate != nil {
		q = q.Set("due_date", *patch.DueDate)
	}
	if patch.IsCompleted != nil {
		q = q.Set("is_completed", *patch.IsCompleted)
	}
	if patch.IsDeleted != nil {
		q = q.Set("is_deleted", *patch.IsDeleted)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("patch task mirror: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanMirror(row pgx.Row) (analytics.TaskMirror, error) {
	var m analytics.TaskMirror
	var status string
	err := row.Scan(
		&m.TaskID, &m.Title, &m.Category, &m.Priority, &status, &m.Department, &m.AssigneeIDs,
		&m.CreatorID, &m.CreatedAt, &m.UpdatedAt, &m.CompletedAt, &m.DueDate, &m.IsCompleted, &m.IsDeleted, &m.LastUpdated,
	)
	m.Status = analytics.Status(status)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = utcPtr(m.UpdatedAt)
	m.CompletedAt = utcPtr(m.CompletedAt)
	m.DueDate = utcPtr(m.DueDate)
	m.LastUpdated = m.LastUpdated.UTC()
	return m, err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *Store) GetMirror(ctx context.Context, taskID string) (analytics.TaskMirror, error) {
	query, args, err := s.psql.Select(mirrorColumns).From("task_mirrors").Where(sq.Eq{"task_id": taskID}).ToSql()
	if err != nil {
		return analytics.TaskMirror{}, fmt.Errorf("build query: %w", err)
	}
	m, err := scanMirror(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return analytics.TaskMirror{}, analytics.ErrNotFound
	}
	if err != nil {
		return analytics.TaskMirror{}, fmt.Errorf("get task mirror: %w", err)
	}
	return m, nil
}

func (s *Store) ListMirrors(ctx context.Context, filter analytics.MirrorFilter) ([]analytics.TaskMirror, error) {
	q := s.psql.Select(mirrorColumns).From("task_mirrors").OrderBy("task_id")
	if !filter.IncludeDeleted {
		q = q.Where(sq.Eq{"is_deleted": false})
	}
	if filter.CompletedOnly {
		q = q.Where(sq.Eq{"is_completed": true})
	}
	if filter.AssigneeID != "" {
		q = q.Where(sq.Expr("? = ANY(assignee_ids)", filter.AssigneeID))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list task mirrors: %w", err)
	}
	defer rows.Close()

	var out []analytics.TaskMirror
	for rows.Next() {
		m, err := scanMirror(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task mirror: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
