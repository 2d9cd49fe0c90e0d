//go:build integration

package pgstore_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todo-1m/analytics/internal/analytics"
	"github.com/todo-1m/analytics/internal/analytics/pgstore"
	"github.com/todo-1m/analytics/internal/contracts"
	"github.com/todo-1m/analytics/internal/database"
	"github.com/todo-1m/analytics/internal/platform/logger"
)

func openStore(t *testing.T) (*pgstore.Store, *pgxpool.Pool) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL is not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.RunMigrations(ctx, pool, logger.Nop()))
	_, err = pool.Exec(ctx, `TRUNCATE task_mirrors, global_counters, task_snapshots,
		user_task_statistics, user_snapshots, daily_active_users, applied_events`)
	require.NoError(t, err)
	return pgstore.New(pool), pool
}

var (
	day = time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	now = day.Add(10 * time.Hour)
)

func TestStore_IncrementsAreAtomic(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.IncrementCounter(ctx, analytics.CounterTasks, 1, now)
			assert.NoError(t, err)
			assert.NoError(t, store.IncrementTaskSnapshot(ctx, day, analytics.TaskCounts{Total: 1, Pending: 1}, now))
		}()
	}
	wg.Wait()

	c, err := store.GetCounter(ctx, analytics.CounterTasks)
	require.NoError(t, err)
	assert.Equal(t, int64(50), c.Total)
	snap, err := store.GetTaskSnapshot(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, int64(50), snap.Total)
	assert.Equal(t, int64(50), snap.Pending)
}

func TestStore_ClampAndCompletionPercentage(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.IncrementUserTaskStats(ctx, "u1", day, analytics.TaskCounts{Total: 4, Completed: 1, Pending: -2}, now))
	row, err := store.GetUserTaskStats(ctx, "u1", day)
	require.NoError(t, err)
	assert.Equal(t, int64(0), row.Pending)
	assert.InDelta(t, 25.0, row.CompletionPercentage, 1e-9)
	assert.Equal(t, day, row.Date)
}

func TestStore_MirrorsAndLedger(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()

	created, err := store.UpsertMirror(ctx, analytics.TaskMirror{
		TaskID: "t1", Status: analytics.StatusAvailable, AssigneeIDs: []string{"u1", "u2"},
		CreatedAt: now, LastUpdated: now,
	})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = store.UpsertMirror(ctx, analytics.TaskMirror{TaskID: "t1", CreatedAt: now, LastUpdated: now})
	require.NoError(t, err)
	assert.False(t, created)

	deleted := true
	found, err := store.PatchMirror(ctx, "t1", analytics.MirrorPatch{IsDeleted: &deleted}, now)
	require.NoError(t, err)
	assert.True(t, found)

	active, err := store.ListMirrors(ctx, analytics.MirrorFilter{})
	require.NoError(t, err)
	assert.Empty(t, active)

	first, err := store.MarkEventApplied(ctx, "e1", "t1", now)
	require.NoError(t, err)
	assert.True(t, first)
	first, err = store.MarkEventApplied(ctx, "e1", "t1", now)
	require.NoError(t, err)
	assert.False(t, first)
}

func TestStore_MirrorRoundTripIsUTC(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	due := now.Add(48 * time.Hour)
	completed := now.Add(time.Hour)
	want := analytics.TaskMirror{
		TaskID:      "t-utc",
		Title:       "Write docs",
		Category:    analytics.CategoryDocumentation,
		Priority:    "LOW",
		Status:      analytics.StatusCompleted,
		Department:  "HR",
		AssigneeIDs: []string{"u1"},
		CreatorID:   "u1",
		CreatedAt:   now,
		UpdatedAt:   &completed,
		CompletedAt: &completed,
		DueDate:     &due,
		IsCompleted: true,
		LastUpdated: completed,
	}
	_, err := store.UpsertMirror(ctx, want)
	require.NoError(t, err)

	got, err := store.GetMirror(ctx, "t-utc")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
	assert.True(t, want.Equal(got))
}

func TestEngine_OnPostgres(t *testing.T) {
	store, _ := openStore(t)
	ctx := context.Background()
	e := analytics.NewEngine(store, logger.Nop())
	e.Now = func() time.Time { return now }

	require.NoError(t, e.HandleTaskCreated(ctx, contracts.TaskCreated{
		Meta: contracts.Meta{EntityID: "t1"}, Title: "Fix bug", Priority: "HIGH", Department: "IT",
		CreatorID: "u1", AssigneeIDs: []string{"u1", "u2"}, CreatedAt: now,
	}))
	require.NoError(t, e.HandleTaskCompleted(ctx, contracts.TaskCompleted{Meta: contracts.Meta{EntityID: "t1"}}))
	require.NoError(t, e.HandleUserLoginSucceeded(ctx, contracts.UserLoginSucceeded{
		Meta: contracts.Meta{EntityID: "u1"}, Username: "alice",
	}))

	snap, err := store.GetTaskSnapshot(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Completed)
	assert.InDelta(t, 100.0, snap.CompletionPercentage, 1e-9)
	assert.Equal(t, map[string]int64{"COMPLETED": 1}, snap.ByStatus)

	users, err := store.GetUserSnapshot(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, int64(1), users.ActiveUsersToday)
	assert.Equal(t, int64(1), users.SuccessfulLogins)
}
