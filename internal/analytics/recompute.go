package analytics

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Breakdowns counts mirrors per status, priority, category and department.
// Empty dimension values are not counted. The result depends only on the set
// of mirrors, never on their order.
func Breakdowns(mirrors []TaskMirror) Breakdown {
	b := emptyBreakdown()
	for _, m := range mirrors {
		inc(b.ByStatus, string(m.Status))
		inc(b.ByPriority, m.Priority)
		inc(b.ByCategory, m.Category)
		inc(b.ByDepartment, m.Department)
	}
	return b
}

func inc(dst map[string]int64, key string) {
	if key == "" {
		return
	}
	dst[key]++
}

// Recomputer persists freshly derived breakdowns. Concurrent recomputes of
// the same row resolve last-writer-wins.
type Recomputer struct {
	Store Store
}

// RecomputeTaskDay overwrites the breakdown maps of the global day snapshot.
func (r *Recomputer) RecomputeTaskDay(ctx context.Context, day, at time.Time) error {
	active, err := r.Store.ListMirrors(ctx, MirrorFilter{})
	if err != nil {
		return fmt.Errorf("list active mirrors: %w", err)
	}
	if err := r.Store.PutTaskBreakdown(ctx, day, Breakdowns(active), at); err != nil {
		return fmt.Errorf("put task breakdown %s: %w", DayKey(day), err)
	}
	return nil
}

// RecomputeUserDay overwrites the breakdown maps of one user's day row from
// the active tasks the user is assigned to.
func (r *Recomputer) RecomputeUserDay(ctx context.Context, userID string, day, at time.Time) error {
	assigned, err := r.Store.ListMirrors(ctx, MirrorFilter{AssigneeID: userID})
	if err != nil {
		return fmt.Errorf("list mirrors for %s: %w", userID, err)
	}
	if err := r.Store.PutUserTaskBreakdown(ctx, userID, day, Breakdowns(assigned), at); err != nil {
		return fmt.Errorf("put user breakdown %s/%s: %w", userID, DayKey(day), err)
	}
	return nil
}

// RecomputeAll rebuilds the global breakdown of day and the breakdown of
// every user that is assigned an active task or already has a row for day.
// It returns the number of user rows written.
func (r *Recomputer) RecomputeAll(ctx context.Context, day, at time.Time) (int, error) {
	active, err := r.Store.ListMirrors(ctx, MirrorFilter{})
	if err != nil {
		return 0, fmt.Errorf("list active mirrors: %w", err)
	}
	if err := r.Store.PutTaskBreakdown(ctx, day, Breakdowns(active), at); err != nil {
		return 0, fmt.Errorf("put task breakdown %s: %w", DayKey(day), err)
	}

	byUser := map[string][]TaskMirror{}
	for _, m := range active {
		for _, userID := range participants("", m.AssigneeIDs) {
			byUser[userID] = append(byUser[userID], m)
		}
	}
	existing, err := r.Store.ListUserTaskStats(ctx, UserStatsFilter{From: day, To: day})
	if err != nil {
		return 0, fmt.Errorf("list user stats %s: %w", DayKey(day), err)
	}
	for _, row := range existing {
		if _, ok := byUser[row.UserID]; !ok {
			byUser[row.UserID] = nil
		}
	}

	users := make([]string, 0, len(byUser))
	for userID := range byUser {
		users = append(users, userID)
	}
	slices.Sort(users)
	for _, userID := range users {
		if err := r.Store.PutUserTaskBreakdown(ctx, userID, day, Breakdowns(byUser[userID]), at); err != nil {
			return 0, fmt.Errorf("put user breakdown %s/%s: %w", userID, DayKey(day), err)
		}
	}
	return len(users), nil
}
