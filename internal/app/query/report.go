package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/todo-1m/analytics/internal/analytics"
)

var ErrUserIDRequired = errors.New("user id is required")

// ErrInvalidRange rejects a start date after the end date.
var ErrInvalidRange = errors.New("start date is after end date")

// Reader is the read side of the aggregate store.
type Reader interface {
	GetCounter(ctx context.Context, id string) (analytics.GlobalCounter, error)
	ListTaskSnapshots(ctx context.Context, from, to time.Time) ([]analytics.TaskSnapshot, error)
	ListUserTaskStats(ctx context.Context, filter analytics.UserStatsFilter) ([]analytics.UserTaskStatistics, error)
	ListUserSnapshots(ctx context.Context, from, to time.Time) ([]analytics.UserSnapshot, error)
	ListActiveUsers(ctx context.Context, day time.Time) ([]analytics.DailyActiveUser, error)
	ListMirrors(ctx context.Context, filter analytics.MirrorFilter) ([]analytics.TaskMirror, error)
	GetMirror(ctx context.Context, taskID string) (analytics.TaskMirror, error)
}

type Range struct {
	From time.Time
	To   time.Time
}

func (r Range) validate() error {
	if r.From.After(r.To) {
		return ErrInvalidRange
	}
	return nil
}

type TaskSummary struct {
	StartDate                  string           `json:"start_date"`
	EndDate                    string           `json:"end_date"`
	TotalTasks                 int64            `json:"total_tasks"`
	CompletedTasks             int64            `json:"completed_tasks"`
	InProgressTasks            int64            `json:"in_progress_tasks"`
	PendingTasks               int64            `json:"pending_tasks"`
	DeletedTasks               int64            `json:"deleted_tasks"`
	CompletionPercentage       float64          `json:"completion_percentage"`
	AverageCompletionTimeHours float64          `json:"average_completion_time_hours"`
	TasksByStatus              map[string]int64 `json:"tasks_by_status"`
	TasksByPriority            map[string]int64 `json:"tasks_by_priority"`
	TasksByCategory            map[string]int64 `json:"tasks_by_category"`
	TasksByDepartment          map[string]int64 `json:"tasks_by_department"`
	DailyCreatedTasks          map[string]int64 `json:"daily_created_tasks"`
	DailyCompletedTasks        map[string]int64 `json:"daily_completed_tasks"`
}

type UserTaskSummary struct {
	UserID               string           `json:"user_id"`
	StartDate            string           `json:"start_date"`
	EndDate              string           `json:"end_date"`
	TotalTasks           int64            `json:"total_tasks"`
	CompletedTasks       int64            `json:"completed_tasks"`
	InProgressTasks      int64            `json:"in_progress_tasks"`
	PendingTasks         int64            `json:"pending_tasks"`
	DeletedTasks         int64            `json:"deleted_tasks"`
	CompletionPercentage float64          `json:"completion_percentage"`
	TasksByCategory      map[string]int64 `json:"tasks_by_category"`
	TasksByPriority      map[string]int64 `json:"tasks_by_priority"`
	TasksByStatus        map[string]int64 `json:"tasks_by_status"`
	TasksByDepartment    map[string]int64 `json:"tasks_by_department"`
}

type LoginAnalytics struct {
	TotalLogins           int64            `json:"total_logins"`
	SuccessfulLogins      int64            `json:"successful_logins"`
	FailedLogins          int64            `json:"failed_logins"`
	SuccessRate           float64          `json:"success_rate"`
	DailySuccessfulLogins map[string]int64 `json:"daily_successful_logins"`
	DailyFailedLogins     map[string]int64 `json:"daily_failed_logins"`
}

type Dashboard struct {
	TaskSummary    TaskSummary       `json:"task_summary"`
	LoginAnalytics LoginAnalytics    `json:"login_analytics"`
	TopUsers       []UserTaskSummary `json:"top_users"`
}

const topUsersLimit = 5

// Reports builds dashboard views from stored aggregates.
type Reports struct {
	Store Reader
}

func NewReports(store Reader) *Reports {
	return &Reports{Store: store}
}

// TaskSummary reports the latest task snapshot in r, or the last one before
// r when the range holds none, plus per-day created and completed counts.
func (s *Reports) TaskSummary(ctx context.Context, r Range) (TaskSummary, error) {
	if err := r.validate(); err != nil {
		return TaskSummary{}, err
	}
	snaps, err := s.Store.ListTaskSnapshots(ctx, r.From, r.To)
	if err != nil {
		return TaskSummary{}, fmt.Errorf("list task snapshots: %w", err)
	}

	out := TaskSummary{
		StartDate:           analytics.DayKey(r.From),
		EndDate:             analytics.DayKey(r.To),
		TasksByStatus:       map[string]int64{},
		TasksByPriority:     map[string]int64{},
		TasksByCategory:     map[string]int64{},
		TasksByDepartment:   map[string]int64{},
		DailyCreatedTasks:   map[string]int64{},
		DailyCompletedTasks: map[string]int64{},
	}
	for _, snap := range snaps {
		out.DailyCreatedTasks[analytics.DayKey(snap.Date)] = snap.CreatedToday
		out.DailyCompletedTasks[analytics.DayKey(snap.Date)] = snap.CompletedToday
	}

	latest, ok, err := s.latestTaskSnapshot(ctx, snaps, r.To)
	if err != nil {
		return TaskSummary{}, err
	}
	if ok {
		out.TotalTasks = latest.Total
		out.CompletedTasks = latest.Completed
		out.InProgressTasks = latest.InProgress
		out.PendingTasks = latest.Pending
		out.DeletedTasks = latest.Deleted
		out.CompletionPercentage = latest.CompletionPercentage
		b := latest.Breakdown.Clone()
		out.TasksByStatus = b.ByStatus
		out.TasksByPriority = b.ByPriority
		out.TasksByCategory = b.ByCategory
		out.TasksByDepartment = b.ByDepartment
	}

	avg, err := s.averageCompletionHours(ctx, r)
	if err != nil {
		return TaskSummary{}, err
	}
	out.AverageCompletionTimeHours = avg
	return out, nil
}

func (s *Reports) latestTaskSnapshot(ctx context.Context, inRange []analytics.TaskSnapshot, to time.Time) (analytics.TaskSnapshot, bool, error) {
	if len(inRange) > 0 {
		return inRange[len(inRange)-1], true, nil
	}
	before, err := s.Store.ListTaskSnapshots(ctx, time.Time{}, to)
	if err != nil {
		return analytics.TaskSnapshot{}, false, fmt.Errorf("list earlier task snapshots: %w", err)
	}
	if len(before) == 0 {
		return analytics.TaskSnapshot{}, false, nil
	}
	return before[len(before)-1], true, nil
}

// averageCompletionHours averages created-to-completed durations of tasks
// completed within r. Non-positive durations are ignored.
func (s *Reports) averageCompletionHours(ctx context.Context, r Range) (float64, error) {
	done, err := s.Store.ListMirrors(ctx, analytics.MirrorFilter{CompletedOnly: true, IncludeDeleted: true})
	if err != nil {
		return 0, fmt.Errorf("list completed mirrors: %w", err)
	}
	end := r.To.AddDate(0, 0, 1)
	var sum float64
	var n int
	for _, m := range done {
		if m.CompletedAt == nil || m.CreatedAt.IsZero() {
			continue
		}
		if m.CompletedAt.Before(r.From) || !m.CompletedAt.Before(end) {
			continue
		}
		hours := m.CompletedAt.Sub(m.CreatedAt).Truncate(time.Minute).Hours()
		if hours <= 0 {
			continue
		}
		sum += hours
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

// UserTaskSummary reports one user's latest counts in r with distributions
// summed over every row in the range.
func (s *Reports) UserTaskSummary(ctx context.Context, userID string, r Range) (UserTaskSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserTaskSummary{}, ErrUserIDRequired
	}
	if err := r.validate(); err != nil {
		return UserTaskSummary{}, err
	}
	rows, err := s.Store.ListUserTaskStats(ctx, analytics.UserStatsFilter{UserID: userID, From: r.From, To: r.To})
	if err != nil {
		return UserTaskSummary{}, fmt.Errorf("list user stats: %w", err)
	}

	var latest *analytics.UserTaskStatistics
	if len(rows) > 0 {
		latest = &rows[len(rows)-1]
	} else {
		before, err := s.Store.ListUserTaskStats(ctx, analytics.UserStatsFilter{UserID: userID, To: r.To})
		if err != nil {
			return UserTaskSummary{}, fmt.Errorf("list earlier user stats: %w", err)
		}
		if len(before) > 0 {
			latest = &before[len(before)-1]
		}
	}

	out := userSummary(userID, r, latest)
	merged := mergeBreakdowns(rows)
	out.TasksByCategory = preferNonEmpty(merged.ByCategory, out.TasksByCategory)
	out.TasksByPriority = preferNonEmpty(merged.ByPriority, out.TasksByPriority)
	out.TasksByStatus = preferNonEmpty(merged.ByStatus, out.TasksByStatus)
	out.TasksByDepartment = preferNonEmpty(merged.ByDepartment, out.TasksByDepartment)
	return out, nil
}

func userSummary(userID string, r Range, row *analytics.UserTaskStatistics) UserTaskSummary {
	out := UserTaskSummary{
		UserID:            userID,
		StartDate:         analytics.DayKey(r.From),
		EndDate:           analytics.DayKey(r.To),
		TasksByCategory:   map[string]int64{},
		TasksByPriority:   map[string]int64{},
		TasksByStatus:     map[string]int64{},
		TasksByDepartment: map[string]int64{},
	}
	if row == nil {
		return out
	}
	out.TotalTasks = row.Total
	out.CompletedTasks = row.Completed
	out.InProgressTasks = row.InProgress
	out.PendingTasks = row.Pending
	out.DeletedTasks = row.Deleted
	out.CompletionPercentage = row.CompletionPercentage
	b := row.Breakdown.Clone()
	out.TasksByCategory = b.ByCategory
	out.TasksByPriority = b.ByPriority
	out.TasksByStatus = b.ByStatus
	out.TasksByDepartment = b.ByDepartment
	return out
}

func mergeBreakdowns(rows []analytics.UserTaskStatistics) analytics.Breakdown {
	out := analytics.Breakdown{}.Clone()
	add := func(dst, src map[string]int64) {
		for k, v := range src {
			dst[k] += v
		}
	}
	for _, row := range rows {
		add(out.ByStatus, row.ByStatus)
		add(out.ByPriority, row.ByPriority)
		add(out.ByCategory, row.ByCategory)
		add(out.ByDepartment, row.ByDepartment)
	}
	return out
}

func preferNonEmpty(primary, fallback map[string]int64) map[string]int64 {
	if len(primary) > 0 {
		return primary
	}
	return fallback
}

// LoginAnalytics sums login outcomes over r.
func (s *Reports) LoginAnalytics(ctx context.Context, r Range) (LoginAnalytics, error) {
	if err := r.validate(); err != nil {
		return LoginAnalytics{}, err
	}
	snaps, err := s.Store.ListUserSnapshots(ctx, r.From, r.To)
	if err != nil {
		return LoginAnalytics{}, fmt.Errorf("list user snapshots: %w", err)
	}
	out := LoginAnalytics{
		DailySuccessfulLogins: map[string]int64{},
		DailyFailedLogins:     map[string]int64{},
	}
	for _, snap := range snaps {
		out.SuccessfulLogins += snap.SuccessfulLogins
		out.FailedLogins += snap.FailedLogins
		out.DailySuccessfulLogins[analytics.DayKey(snap.Date)] = snap.SuccessfulLogins
		out.DailyFailedLogins[analytics.DayKey(snap.Date)] = snap.FailedLogins
	}
	out.TotalLogins = out.SuccessfulLogins + out.FailedLogins
	if out.TotalLogins > 0 {
		out.SuccessRate = float64(out.SuccessfulLogins) * 100 / float64(out.TotalLogins)
	}
	return out, nil
}

// Dashboard combines the task summary, login analytics and the five users
// with the highest completion percentage on their latest row in r.
func (s *Reports) Dashboard(ctx context.Context, r Range) (Dashboard, error) {
	tasks, err := s.TaskSummary(ctx, r)
	if err != nil {
		return Dashboard{}, err
	}
	logins, err := s.LoginAnalytics(ctx, r)
	if err != nil {
		return Dashboard{}, err
	}
	rows, err := s.Store.ListUserTaskStats(ctx, analytics.UserStatsFilter{From: r.From, To: r.To})
	if err != nil {
		return Dashboard{}, fmt.Errorf("list user stats: %w", err)
	}

	latest := map[string]analytics.UserTaskStatistics{}
	for _, row := range rows {
		if prev, ok := latest[row.UserID]; !ok || row.Date.After(prev.Date) {
			latest[row.UserID] = row
		}
	}
	top := make([]UserTaskSummary, 0, len(latest))
	for userID, row := range latest {
		top = append(top, userSummary(userID, r, &row))
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].CompletionPercentage != top[j].CompletionPercentage {
			return top[i].CompletionPercentage > top[j].CompletionPercentage
		}
		return top[i].UserID < top[j].UserID
	})
	if len(top) > topUsersLimit {
		top = top[:topUsersLimit]
	}
	return Dashboard{TaskSummary: tasks, LoginAnalytics: logins, TopUsers: top}, nil
}
