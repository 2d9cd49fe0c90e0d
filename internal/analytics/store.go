package analytics

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by point lookups for a missing key.
var ErrNotFound = errors.New("analytics: not found")

// Store is the durable aggregate storage the handlers depend on. Increment
// methods must be atomic inside the store: concurrent calls on the same key
// never lose updates. Counter columns never drop below zero.
type Store interface {
	MirrorStore
	CounterStore
	TaskSnapshotStore
	UserTaskStatsStore
	UserSnapshotStore
	ActivityStore
	EventLedger
}

type MirrorStore interface {
	// UpsertMirror writes m under m.TaskID, overwriting any previous row.
	UpsertMirror(ctx context.Context, m TaskMirror) (created bool, err error)
	// PatchMirror applies patch to an existing mirror. found is false when
	// the id is unknown; that is not an error.
	PatchMirror(ctx context.Context, taskID string, patch MirrorPatch, at time.Time) (found bool, err error)
	GetMirror(ctx context.Context, taskID string) (TaskMirror, error)
	ListMirrors(ctx context.Context, filter MirrorFilter) ([]TaskMirror, error)
}

type CounterStore interface {
	IncrementCounter(ctx context.Context, id string, delta int64, at time.Time) (int64, error)
	SetCounter(ctx context.Context, id string, total int64, at time.Time) error
	GetCounter(ctx context.Context, id string) (GlobalCounter, error)
}

type TaskSnapshotStore interface {
	// IncrementTaskSnapshot adds delta to the day row, creating it if absent,
	// and refreshes completion_percentage in the same statement.
	IncrementTaskSnapshot(ctx context.Context, day time.Time, delta TaskCounts, at time.Time) error
	PutTaskBreakdown(ctx context.Context, day time.Time, b Breakdown, at time.Time) error
	// PutTaskSnapshot overwrites the whole row. Used by seeding and repair.
	PutTaskSnapshot(ctx context.Context, s TaskSnapshot) error
	GetTaskSnapshot(ctx context.Context, day time.Time) (TaskSnapshot, error)
	ListTaskSnapshots(ctx context.Context, from, to time.Time) ([]TaskSnapshot, error)
}

// UserStatsFilter narrows ListUserTaskStats. Zero From/To are open bounds.
type UserStatsFilter struct {
	UserID string
	From   time.Time
	To     time.Time
}

type UserTaskStatsStore interface {
	IncrementUserTaskStats(ctx context.Context, userID string, day time.Time, delta TaskCounts, at time.Time) error
	PutUserTaskBreakdown(ctx context.Context, userID string, day time.Time, b Breakdown, at time.Time) error
	PutUserTaskStats(ctx context.Context, s UserTaskStatistics) error
	GetUserTaskStats(ctx context.Context, userID string, day time.Time) (UserTaskStatistics, error)
	ListUserTaskStats(ctx context.Context, filter UserStatsFilter) ([]UserTaskStatistics, error)
}

type UserSnapshotStore interface {
	IncrementUserSnapshot(ctx context.Context, day time.Time, delta UserCounts, at time.Time) error
	// RefreshUserTotals sets total_users from the users counter and
	// active_users_today from the distinct active-user rows of day, in one
	// store-side operation.
	RefreshUserTotals(ctx context.Context, day time.Time, at time.Time) (UserSnapshot, error)
	GetUserSnapshot(ctx context.Context, day time.Time) (UserSnapshot, error)
	ListUserSnapshots(ctx context.Context, from, to time.Time) ([]UserSnapshot, error)
}

type ActivityStore interface {
	// TouchActiveUser records username as active on day and adds loginDelta
	// to its login count. created reports whether the row is new.
	TouchActiveUser(ctx context.Context, username string, day time.Time, loginDelta int64) (created bool, err error)
	CountActiveUsers(ctx context.Context, day time.Time) (int64, error)
	ListActiveUsers(ctx context.Context, day time.Time) ([]DailyActiveUser, error)
}

type EventLedger interface {
	// MarkEventApplied records eventID. first is false if it was already
	// recorded.
	MarkEventApplied(ctx context.Context, eventID, entityID string, at time.Time) (first bool, err error)
}
