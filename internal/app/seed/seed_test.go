package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todo-1m/analytics/internal/analytics"
	"github.com/todo-1m/analytics/internal/analytics/memstore"
	"github.com/todo-1m/analytics/internal/platform/logger"
)

var seedNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func newSeeder(store analytics.Store) *Seeder {
	s := New(store, logger.Nop())
	s.Now = func() time.Time { return seedNow }
	return s
}

func TestRun_WritesFixedDataSet(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	res, err := newSeeder(store).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Tasks)
	assert.Equal(t, 6, res.Users)

	today := analytics.Day(seedNow, time.UTC)
	snap, err := store.GetTaskSnapshot(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, int64(10), snap.Total)
	assert.Equal(t, int64(2), snap.Completed)
	assert.Equal(t, int64(3), snap.InProgress)
	assert.Equal(t, int64(3), snap.Pending)
	assert.Equal(t, int64(1), snap.CreatedToday)
	assert.Equal(t, int64(1), snap.CompletedToday)
	assert.Equal(t, int64(4), snap.UpdatedToday)
	assert.InDelta(t, 20.0, snap.CompletionPercentage, 0.001)
	assert.Equal(t, int64(2), snap.ByStatus["BLOCKED"])
	assert.Equal(t, int64(7), snap.ByDepartment["IT"])

	counter, err := store.GetCounter(ctx, analytics.CounterTasks)
	require.NoError(t, err)
	assert.Equal(t, int64(10), counter.Total)

	row, err := store.GetUserTaskStats(ctx, User1ID, today)
	require.NoError(t, err)
	assert.Equal(t, int64(3), row.Total)
	assert.Equal(t, int64(1), row.InProgress)
	assert.Equal(t, int64(1), row.Pending)
	assert.Equal(t, int64(2), row.ByPriority["HIGH"])

	users, err := store.GetUserSnapshot(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, int64(6), users.TotalUsers)
	assert.Equal(t, int64(5), users.ActiveUsersToday)
	assert.Equal(t, int64(12), users.SuccessfulLogins)
	assert.Equal(t, int64(2), users.FailedLogins)

	m, err := store.GetMirror(ctx, TaskID("task-2"))
	require.NoError(t, err)
	assert.True(t, m.IsCompleted)
	require.NotNil(t, m.CompletedAt)
	assert.Equal(t, seedNow.Add(-time.Hour), *m.CompletedAt)
}

func TestRun_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	s := newSeeder(store)

	_, err := s.Run(ctx)
	require.NoError(t, err)
	today := analytics.Day(seedNow, time.UTC)
	firstTasks, err := store.GetTaskSnapshot(ctx, today)
	require.NoError(t, err)
	firstUsers, err := store.GetUserSnapshot(ctx, today)
	require.NoError(t, err)
	firstActive, err := store.ListActiveUsers(ctx, today)
	require.NoError(t, err)

	_, err = s.Run(ctx)
	require.NoError(t, err)

	secondTasks, err := store.GetTaskSnapshot(ctx, today)
	require.NoError(t, err)
	secondUsers, err := store.GetUserSnapshot(ctx, today)
	require.NoError(t, err)
	secondActive, err := store.ListActiveUsers(ctx, today)
	require.NoError(t, err)

	assert.Equal(t, firstTasks, secondTasks)
	assert.Equal(t, firstUsers, secondUsers)
	assert.Equal(t, firstActive, secondActive)

	all, err := store.ListMirrors(ctx, analytics.MirrorFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func TestRun_SyntheticTasksAreDeterministic(t *testing.T) {
	ctx := context.Background()
	a, b := memstore.New(), memstore.New()

	sa := newSeeder(a)
	sa.Synthetic = 25
	sb := newSeeder(b)
	sb.Synthetic = 25

	res, err := sa.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 35, res.Tasks)
	_, err = sb.Run(ctx)
	require.NoError(t, err)

	ma, err := a.ListMirrors(ctx, analytics.MirrorFilter{})
	require.NoError(t, err)
	mb, err := b.ListMirrors(ctx, analytics.MirrorFilter{})
	require.NoError(t, err)
	assert.Equal(t, ma, mb)
}

func TestTaskID_Stable(t *testing.T) {
	assert.Equal(t, TaskID("task-1"), TaskID("task-1"))
	assert.NotEqual(t, TaskID("task-1"), TaskID("task-2"))
}
