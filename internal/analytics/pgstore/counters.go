package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/todo-1m/analytics/internal/analytics"
)

const incrementCounterSQL = `
INSERT INTO global_counters (id, total, last_updated)
VALUES ($1, GREATEST(0, $2::bigint), $3)
ON CONFLICT (id) DO UPDATE SET
  total = GREATEST(0, global_counters.total + $2::bigint),
  last_updated = $3
RETURNING total
`

const setCounterSQL = `
INSERT INTO global_counters (id, total, last_updated)
VALUES ($1, GREATEST(0, $2::bigint), $3)
ON CONFLICT (id) DO UPDATE SET total = EXCLUDED.total, last_updated = EXCLUDED.last_updated
`

func (s *Store) IncrementCounter(ctx context.Context, id string, delta int64, at time.Time) (int64, error) {
	var total int64
	if err := s.pool.QueryRow(ctx, incrementCounterSQL, id, delta, at).Scan(&total); err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", id, err)
	}
	return total, nil
}

func (s *Store) SetCounter(ctx context.Context, id string, total int64, at time.Time) error {
	if _, err := s.pool.Exec(ctx, setCounterSQL, id, total, at); err != nil {
		return fmt.Errorf("set counter %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetCounter(ctx context.Context, id string) (analytics.GlobalCounter, error) {
	c := analytics.GlobalCounter{ID: id}
	err := s.pool.QueryRow(ctx, `SELECT total, last_updated FROM global_counters WHERE id = $1`, id).
		Scan(&c.Total, &c.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return analytics.GlobalCounter{}, analytics.ErrNotFound
	}
	if err != nil {
		return analytics.GlobalCounter{}, fmt.Errorf("get counter %s: %w", id, err)
	}
	c.LastUpdated = c.LastUpdated.UTC()
	return c, nil
}

const applyEventSQL = `
INSERT INTO applied_events (event_id, entity_id, applied_at)
VALUES ($1, $2, $3)
ON CONFLICT (event_id) DO NOTHING
`

func (s *Store) MarkEventApplied(ctx context.Context, eventID, entityID string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, applyEventSQL, eventID, entityID, at)
	if err != nil {
		return false, fmt.Errorf("mark event applied: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
