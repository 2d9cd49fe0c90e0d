package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/todo-1m/analytics/internal/platform/logger"
)

// Mirrors maintains the per-task shadow records. Each task id is written by
// the single worker owning its partition key.
type Mirrors struct {
	Store  MirrorStore
	Logger *logger.Logger
}

// UpsertOnCreate writes m, overwriting a previous row with the same id.
func (s Mirrors) UpsertOnCreate(ctx context.Context, m TaskMirror) (bool, error) {
	created, err := s.Store.UpsertMirror(ctx, m)
	if err != nil {
		return false, fmt.Errorf("upsert mirror %s: %w", m.TaskID, err)
	}
	return created, nil
}

// ApplyPatch updates an existing mirror. An unknown id is logged and
// reported as not found without error.
func (s Mirrors) ApplyPatch(ctx context.Context, taskID string, patch MirrorPatch, at time.Time) (bool, error) {
	found, err := s.Store.PatchMirror(ctx, taskID, patch, at)
	if err != nil {
		return false, fmt.Errorf("patch mirror %s: %w", taskID, err)
	}
	if !found {
		s.Logger.Warn("patch for unknown task mirror", zap.String("task_id", taskID))
	}
	return found, nil
}

// MarkCompleted sets the COMPLETED status and the completion timestamp.
func (s Mirrors) MarkCompleted(ctx context.Context, taskID string, completedAt, at time.Time) (bool, error) {
	return s.ApplyPatch(ctx, taskID, MirrorPatch{
		Status:      ptr(StatusCompleted),
		IsCompleted: ptr(true),
		CompletedAt: &completedAt,
		UpdatedAt:   &at,
	}, at)
}

// MarkDeleted sets the soft-delete flag; the row is never removed.
func (s Mirrors) MarkDeleted(ctx context.Context, taskID string, at time.Time) (bool, error) {
	return s.ApplyPatch(ctx, taskID, MirrorPatch{
		IsDeleted: ptr(true),
		UpdatedAt: &at,
	}, at)
}

// FindActive lists every mirror not marked deleted.
func (s Mirrors) FindActive(ctx context.Context) ([]TaskMirror, error) {
	return s.Store.ListMirrors(ctx, MirrorFilter{})
}

// FindByID returns the mirror and whether it exists.
func (s Mirrors) FindByID(ctx context.Context, taskID string) (TaskMirror, bool, error) {
	m, err := s.Store.GetMirror(ctx, taskID)
	if errors.Is(err, ErrNotFound) {
		return TaskMirror{}, false, nil
	}
	if err != nil {
		return TaskMirror{}, false, fmt.Errorf("get mirror %s: %w", taskID, err)
	}
	return m, true, nil
}
