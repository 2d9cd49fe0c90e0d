package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todo-1m/analytics/internal/analytics"
	"github.com/todo-1m/analytics/internal/analytics/memstore"
)

func day(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := analytics.ParseDay(raw)
	require.NoError(t, err)
	return d
}

func seedTasks(t *testing.T, s *memstore.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.PutTaskSnapshot(ctx, analytics.TaskSnapshot{
		Date:       day(t, "2025-03-01"),
		TaskCounts: analytics.TaskCounts{Total: 4, Completed: 1, Pending: 3, CreatedToday: 4, CompletedToday: 1},
		Breakdown:  analytics.Breakdown{ByStatus: map[string]int64{"AVAILABLE": 3, "COMPLETED": 1}},
	}))
	require.NoError(t, s.PutTaskSnapshot(ctx, analytics.TaskSnapshot{
		Date:       day(t, "2025-03-03"),
		TaskCounts: analytics.TaskCounts{Total: 5, Completed: 2, Pending: 2, InProgress: 1, CreatedToday: 1, CompletedToday: 1},
		Breakdown:  analytics.Breakdown{ByPriority: map[string]int64{"HIGH": 5}},
	}))
}

func TestTaskSummary_UsesLatestInRange(t *testing.T) {
	s := memstore.New()
	seedTasks(t, s)
	r := NewReports(s)

	got, err := r.TaskSummary(context.Background(), Range{From: day(t, "2025-03-01"), To: day(t, "2025-03-05")})
	require.NoError(t, err)

	assert.Equal(t, int64(5), got.TotalTasks)
	assert.Equal(t, int64(2), got.CompletedTasks)
	assert.InDelta(t, 40.0, got.CompletionPercentage, 0.001)
	assert.Equal(t, map[string]int64{"HIGH": 5}, got.TasksByPriority)
	assert.Equal(t, map[string]int64{"2025-03-01": 4, "2025-03-03": 1}, got.DailyCreatedTasks)
	assert.Equal(t, map[string]int64{"2025-03-01": 1, "2025-03-03": 1}, got.DailyCompletedTasks)
	assert.Equal(t, "2025-03-01", got.StartDate)
	assert.Equal(t, "2025-03-05", got.EndDate)
}

func TestTaskSummary_FallsBackToEarlierSnapshot(t *testing.T) {
	s := memstore.New()
	seedTasks(t, s)

	got, err := NewReports(s).TaskSummary(context.Background(), Range{From: day(t, "2025-03-10"), To: day(t, "2025-03-12")})
	require.NoError(t, err)

	assert.Equal(t, int64(5), got.TotalTasks)
	assert.Empty(t, got.DailyCreatedTasks)
}

func TestTaskSummary_EmptyStore(t *testing.T) {
	got, err := NewReports(memstore.New()).TaskSummary(context.Background(), Range{From: day(t, "2025-03-01"), To: day(t, "2025-03-02")})
	require.NoError(t, err)
	assert.Zero(t, got.TotalTasks)
	assert.NotNil(t, got.TasksByStatus)
	assert.Zero(t, got.AverageCompletionTimeHours)
}

func TestTaskSummary_RejectsInvertedRange(t *testing.T) {
	_, err := NewReports(memstore.New()).TaskSummary(context.Background(), Range{From: day(t, "2025-03-05"), To: day(t, "2025-03-01")})
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestTaskSummary_AverageCompletionHours(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	created := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)
	mirror := func(id string, createdAt, completedAt time.Time) analytics.TaskMirror {
		return analytics.TaskMirror{TaskID: id, CreatedAt: createdAt, CompletedAt: &completedAt, IsCompleted: true}
	}
	for _, m := range []analytics.TaskMirror{
		mirror("a", created, created.Add(2*time.Hour)),
		mirror("b", created, created.Add(6*time.Hour)),
		// completed before it was created: ignored
		mirror("c", created, created.Add(-time.Hour)),
		// outside the range
		mirror("d", created, created.AddDate(0, 0, 20)),
	} {
		_, err := s.UpsertMirror(ctx, m)
		require.NoError(t, err)
	}
	_, err := s.UpsertMirror(ctx, analytics.TaskMirror{TaskID: "open", CreatedAt: created})
	require.NoError(t, err)

	got, err := NewReports(s).TaskSummary(ctx, Range{From: day(t, "2025-03-01"), To: day(t, "2025-03-02")})
	require.NoError(t, err)
	assert.InDelta(t, 4.0, got.AverageCompletionTimeHours, 0.001)
}

func TestUserTaskSummary(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.PutUserTaskStats(ctx, analytics.UserTaskStatistics{
		UserID:     "u1",
		Date:       day(t, "2025-03-01"),
		TaskCounts: analytics.TaskCounts{Total: 2, Completed: 1},
		Breakdown:  analytics.Breakdown{ByCategory: map[string]int64{"Testing": 2}},
	}))
	require.NoError(t, s.PutUserTaskStats(ctx, analytics.UserTaskStatistics{
		UserID:     "u1",
		Date:       day(t, "2025-03-02"),
		TaskCounts: analytics.TaskCounts{Total: 4, Completed: 3},
		Breakdown:  analytics.Breakdown{ByCategory: map[string]int64{"Testing": 1, "Other": 3}},
	}))
	require.NoError(t, s.PutUserTaskStats(ctx, analytics.UserTaskStatistics{
		UserID:     "u2",
		Date:       day(t, "2025-03-02"),
		TaskCounts: analytics.TaskCounts{Total: 9},
	}))
	r := NewReports(s)

	got, err := r.UserTaskSummary(ctx, "u1", Range{From: day(t, "2025-03-01"), To: day(t, "2025-03-02")})
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.TotalTasks)
	assert.Equal(t, int64(3), got.CompletedTasks)
	assert.InDelta(t, 75.0, got.CompletionPercentage, 0.001)
	assert.Equal(t, map[string]int64{"Testing": 3, "Other": 3}, got.TasksByCategory)

	_, err = r.UserTaskSummary(ctx, "  ", Range{From: day(t, "2025-03-01"), To: day(t, "2025-03-02")})
	assert.ErrorIs(t, err, ErrUserIDRequired)

	later, err := r.UserTaskSummary(ctx, "u1", Range{From: day(t, "2025-04-01"), To: day(t, "2025-04-02")})
	require.NoError(t, err)
	assert.Equal(t, int64(4), later.TotalTasks)
	assert.Equal(t, map[string]int64{"Testing": 1, "Other": 3}, later.TasksByCategory)
}

func TestLoginAnalytics(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	require.NoError(t, s.IncrementUserSnapshot(ctx, day(t, "2025-03-01"), analytics.UserCounts{SuccessfulLogins: 3, FailedLogins: 1}, time.Now()))
	require.NoError(t, s.IncrementUserSnapshot(ctx, day(t, "2025-03-02"), analytics.UserCounts{SuccessfulLogins: 3}, time.Now()))
	require.NoError(t, s.IncrementUserSnapshot(ctx, day(t, "2025-03-09"), analytics.UserCounts{FailedLogins: 7}, time.Now()))

	got, err := NewReports(s).LoginAnalytics(ctx, Range{From: day(t, "2025-03-01"), To: day(t, "2025-03-02")})
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.TotalLogins)
	assert.Equal(t, int64(6), got.SuccessfulLogins)
	assert.Equal(t, int64(1), got.FailedLogins)
	assert.InDelta(t, 600.0/7, got.SuccessRate, 0.001)
	assert.Equal(t, map[string]int64{"2025-03-01": 3, "2025-03-02": 3}, got.DailySuccessfulLogins)
	assert.Equal(t, map[string]int64{"2025-03-01": 1, "2025-03-02": 0}, got.DailyFailedLogins)
}

func TestLoginAnalytics_NoLogins(t *testing.T) {
	got, err := NewReports(memstore.New()).LoginAnalytics(context.Background(), Range{From: day(t, "2025-03-01"), To: day(t, "2025-03-02")})
	require.NoError(t, err)
	assert.Zero(t, got.SuccessRate)
}

func TestDashboard_TopUsers(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	seedTasks(t, s)
	d := day(t, "2025-03-03")
	for i, pct := range []int64{10, 90, 50, 70, 30, 100, 20} {
		require.NoError(t, s.PutUserTaskStats(ctx, analytics.UserTaskStatistics{
			UserID:     string(rune('a' + i)),
			Date:       d,
			TaskCounts: analytics.TaskCounts{Total: 100, Completed: pct},
		}))
	}
	// an older, better row for "a" must not win over its latest one
	require.NoError(t, s.PutUserTaskStats(ctx, analytics.UserTaskStatistics{
		UserID:     "a",
		Date:       day(t, "2025-03-01"),
		TaskCounts: analytics.TaskCounts{Total: 1, Completed: 1},
	}))

	got, err := NewReports(s).Dashboard(ctx, Range{From: day(t, "2025-03-01"), To: day(t, "2025-03-05")})
	require.NoError(t, err)

	require.Len(t, got.TopUsers, 5)
	ids := make([]string, 0, len(got.TopUsers))
	for _, u := range got.TopUsers {
		ids = append(ids, u.UserID)
	}
	assert.Equal(t, []string{"f", "b", "d", "c", "e"}, ids)
	assert.Equal(t, int64(5), got.TaskSummary.TotalTasks)
}
