package analytics

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/todo-1m/analytics/internal/contracts"
)

// HandleTaskCreated upserts the mirror and, for a task seen for the first
// time, counts it globally, on today's snapshot and for every participant.
// A replayed create overwrites the descriptive fields only.
func (e *Engine) HandleTaskCreated(ctx context.Context, ev contracts.TaskCreated) error {
	now := e.now()
	day := e.today(now)
	mirrors := e.mirrors()

	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	m := TaskMirror{
		TaskID:      ev.EntityID,
		Title:       ev.Title,
		Category:    categoryOrExtract(ev.Category, ev.Title, ev.Priority),
		Priority:    strings.ToUpper(strings.TrimSpace(ev.Priority)),
		Status:      StatusAvailable,
		Department:  strings.ToUpper(strings.TrimSpace(ev.Department)),
		AssigneeIDs: participants("", ev.AssigneeIDs),
		CreatorID:   ev.CreatorID,
		CreatedAt:   createdAt,
		DueDate:     ev.DueDate,
		LastUpdated: now,
	}

	prev, found, err := mirrors.FindByID(ctx, ev.EntityID)
	if err != nil {
		return err
	}
	users := participants(ev.CreatorID, ev.AssigneeIDs)
	if found {
		m.Status = prev.Status
		m.IsCompleted = prev.IsCompleted
		m.IsDeleted = prev.IsDeleted
		m.CompletedAt = prev.CompletedAt
		m.UpdatedAt = prev.UpdatedAt
		m.CreatedAt = prev.CreatedAt
		m.LastUpdated = prev.LastUpdated
		if m.Equal(prev) {
			e.log().Debug("task create replayed, mirror unchanged", zap.String("task_id", ev.EntityID))
			return e.refresh(ctx, day, now, users)
		}
		m.LastUpdated = now
	}

	created, err := mirrors.UpsertOnCreate(ctx, m)
	if err != nil {
		return err
	}
	if !created {
		e.log().Debug("task already mirrored, counters unchanged", zap.String("task_id", ev.EntityID))
		return e.refresh(ctx, day, now, users)
	}

	if _, err := e.Store.IncrementCounter(ctx, CounterTasks, 1, now); err != nil {
		return fmt.Errorf("increment tasks counter: %w", err)
	}
	delta := TaskCounts{Total: 1, Pending: 1, CreatedToday: 1}
	if err := e.Store.IncrementTaskSnapshot(ctx, day, delta, now); err != nil {
		return fmt.Errorf("increment task snapshot: %w", err)
	}
	for _, userID := range users {
		if err := e.Store.IncrementUserTaskStats(ctx, userID, day, TaskCounts{Total: 1, Pending: 1}, now); err != nil {
			return fmt.Errorf("increment user stats %s: %w", userID, err)
		}
	}
	return e.refresh(ctx, day, now, users)
}

// HandleTaskUpdated patches the classifiable fields and counts the update.
func (e *Engine) HandleTaskUpdated(ctx context.Context, ev contracts.TaskUpdated) error {
	now := e.now()
	day := e.today(now)
	mirrors := e.mirrors()

	prev, found, err := mirrors.FindByID(ctx, ev.EntityID)
	if err != nil {
		return err
	}
	if !found {
		return errUnknownTask
	}

	patch := MirrorPatch{UpdatedAt: &now}
	title := prev.Title
	if ev.Title != "" {
		title = ev.Title
		patch.Title = &title
	}
	priority := prev.Priority
	if p := strings.ToUpper(strings.TrimSpace(ev.Priority)); p != "" {
		priority = p
		patch.Priority = &priority
	}
	if d := strings.ToUpper(strings.TrimSpace(ev.Department)); d != "" {
		patch.Department = &d
	}
	if ev.Category != "" || ev.Title != "" {
		category := categoryOrExtract(ev.Category, title, priority)
		patch.Category = &category
	}
	next := prev.AssigneeIDs
	if ev.AssigneeIDs != nil {
		next = participants("", ev.AssigneeIDs)
		patch.AssigneeIDs = &next
	}
	if ev.DueDate != nil {
		patch.DueDate = ev.DueDate
	}

	if _, err := mirrors.ApplyPatch(ctx, ev.EntityID, patch, now); err != nil {
		return err
	}
	if err := e.Store.IncrementTaskSnapshot(ctx, day, TaskCounts{UpdatedToday: 1}, now); err != nil {
		return fmt.Errorf("increment task snapshot: %w", err)
	}
	return e.refresh(ctx, day, now, union(prev.AssigneeIDs, next))
}

// HandleTaskStatusUpdated moves the task from its previous status bucket to
// the new one on the global snapshot and on each current assignee's row.
func (e *Engine) HandleTaskStatusUpdated(ctx context.Context, ev contracts.TaskStatusUpdated) error {
	now := e.now()
	day := e.today(now)
	mirrors := e.mirrors()

	prev, found, err := mirrors.FindByID(ctx, ev.EntityID)
	if err != nil {
		return err
	}
	if !found {
		return errUnknownTask
	}

	next := ParseStatus(ev.Status)
	changedAt := ev.UpdatedAt
	if changedAt.IsZero() {
		changedAt = now
	}
	patch := MirrorPatch{Status: &next, UpdatedAt: &changedAt}
	switch {
	case next == StatusCompleted:
		patch.IsCompleted = ptr(true)
		patch.CompletedAt = &changedAt
	case prev.IsCompleted:
		// Reopened. CompletedAt keeps the last completion until the next one.
		patch.IsCompleted = ptr(false)
	}
	if _, err := mirrors.ApplyPatch(ctx, ev.EntityID, patch, now); err != nil {
		return err
	}

	if prev.Status == next {
		return e.refresh(ctx, day, now, prev.AssigneeIDs)
	}

	var delta TaskCounts
	delta.shift(prev.Status.bucket(), -1)
	delta.shift(next.bucket(), 1)
	if next == StatusCompleted {
		delta.CompletedToday = 1
	}
	if err := e.applyTaskDelta(ctx, day, delta, prev.AssigneeIDs, now); err != nil {
		return err
	}
	return e.refresh(ctx, day, now, prev.AssigneeIDs)
}

// HandleTaskCompleted marks the mirror completed. A task whose status is
// already COMPLETED is left alone; a reopened task is completed again.
func (e *Engine) HandleTaskCompleted(ctx context.Context, ev contracts.TaskCompleted) error {
	now := e.now()
	day := e.today(now)
	mirrors := e.mirrors()

	prev, found, err := mirrors.FindByID(ctx, ev.EntityID)
	if err != nil {
		return err
	}
	if !found {
		return errUnknownTask
	}
	if prev.Status == StatusCompleted {
		e.log().Debug("task already completed", zap.String("task_id", ev.EntityID))
		return nil
	}

	completedAt := ev.CompletedAt
	if completedAt.IsZero() {
		completedAt = now
	}
	if _, err := mirrors.MarkCompleted(ctx, ev.EntityID, completedAt, now); err != nil {
		return err
	}

	var delta TaskCounts
	delta.shift(prev.Status.bucket(), -1)
	delta.Completed++
	delta.CompletedToday = 1
	if err := e.applyTaskDelta(ctx, day, delta, prev.AssigneeIDs, now); err != nil {
		return err
	}
	return e.refresh(ctx, day, now, prev.AssigneeIDs)
}

// HandleTaskDeleted soft-deletes the mirror. Per-user totals drop by one;
// the global tasks counter follows the delete policy.
func (e *Engine) HandleTaskDeleted(ctx context.Context, ev contracts.TaskDeleted) error {
	now := e.now()
	day := e.today(now)
	mirrors := e.mirrors()

	prev, found, err := mirrors.FindByID(ctx, ev.EntityID)
	if err != nil {
		return err
	}
	if !found {
		return errUnknownTask
	}
	if prev.IsDeleted {
		e.log().Debug("task already deleted", zap.String("task_id", ev.EntityID))
		return nil
	}

	if _, err := mirrors.MarkDeleted(ctx, ev.EntityID, now); err != nil {
		return err
	}
	if err := e.Store.IncrementTaskSnapshot(ctx, day, TaskCounts{Deleted: 1, DeletedToday: 1}, now); err != nil {
		return fmt.Errorf("increment task snapshot: %w", err)
	}
	users := prev.Participants()
	for _, userID := range users {
		if err := e.Store.IncrementUserTaskStats(ctx, userID, day, TaskCounts{Deleted: 1, Total: -1}, now); err != nil {
			return fmt.Errorf("increment user stats %s: %w", userID, err)
		}
	}
	if e.Policy.Delete == DeleteDecrement {
		if _, err := e.Store.IncrementCounter(ctx, CounterTasks, -1, now); err != nil {
			return fmt.Errorf("decrement tasks counter: %w", err)
		}
	}
	return e.refresh(ctx, day, now, users)
}

// HandleTaskAssigneesUpdated replaces the assignee set. Per-user totals of
// added or removed assignees are not reconciled; the change is logged.
func (e *Engine) HandleTaskAssigneesUpdated(ctx context.Context, ev contracts.TaskAssigneesUpdated) error {
	now := e.now()
	day := e.today(now)
	mirrors := e.mirrors()

	prev, found, err := mirrors.FindByID(ctx, ev.EntityID)
	if err != nil {
		return err
	}
	if !found {
		return errUnknownTask
	}

	next := participants("", ev.AssigneeIDs)
	at := ev.UpdatedAt
	if at.IsZero() {
		at = now
	}
	if _, err := mirrors.ApplyPatch(ctx, ev.EntityID, MirrorPatch{AssigneeIDs: &next, UpdatedAt: &at}, now); err != nil {
		return err
	}

	added, removed := diff(prev.AssigneeIDs, next)
	if len(added) > 0 || len(removed) > 0 {
		e.log().Info("assignees changed without per-user total reconciliation",
			zap.String("task_id", ev.EntityID),
			zap.Strings("added", added),
			zap.Strings("removed", removed),
		)
	}

	r := e.recomputer()
	for _, userID := range union(prev.AssigneeIDs, next) {
		if err := r.RecomputeUserDay(ctx, userID, day, now); err != nil {
			return err
		}
	}
	return nil
}

// applyTaskDelta increments today's global snapshot and each user's row.
func (e *Engine) applyTaskDelta(ctx context.Context, day time.Time, delta TaskCounts, users []string, now time.Time) error {
	if delta.IsZero() {
		return nil
	}
	if err := e.Store.IncrementTaskSnapshot(ctx, day, delta, now); err != nil {
		return fmt.Errorf("increment task snapshot: %w", err)
	}
	for _, userID := range users {
		if err := e.Store.IncrementUserTaskStats(ctx, userID, day, delta, now); err != nil {
			return fmt.Errorf("increment user stats %s: %w", userID, err)
		}
	}
	return nil
}

func union(a, b []string) []string {
	out := participants("", a)
	for _, id := range b {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func diff(prev, next []string) (added, removed []string) {
	for _, id := range next {
		if !slices.Contains(prev, id) {
			added = append(added, id)
		}
	}
	for _, id := range prev {
		if !slices.Contains(next, id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}
