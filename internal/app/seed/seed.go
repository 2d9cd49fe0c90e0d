// Package seed loads a fixed demo data set into the aggregate store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/todo-1m/analytics/internal/analytics"
	"github.com/todo-1m/analytics/internal/platform/logger"
)

// randSeed keeps synthetic tasks identical across runs.
const randSeed = 42

var taskNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://todo-1m/analytics/seed/tasks"))

// Demo users. Ids match the ones used by the upstream dev fixtures.
const (
	AdminID = "11111111-1111-1111-1111-111111111111"
	UserID  = "22222222-2222-2222-2222-222222222222"
	User1ID = "33333333-3333-3333-3333-333333333333"
	User2ID = "44444444-4444-4444-4444-444444444444"
	User3ID = "55555555-5555-5555-5555-555555555555"
	User4ID = "66666666-6666-6666-6666-666666666666"
)

var userIDs = []string{AdminID, UserID, User1ID, User2ID, User3ID, User4ID}

type activeUser struct {
	username string
	logins   int64
}

var activeUsers = []activeUser{
	{"admin", 3},
	{"user", 2},
	{"user1", 2},
	{"user2", 1},
	{"user3", 1},
}

const (
	seededSuccessfulLogins = 12
	seededFailedLogins     = 2
)

type task struct {
	key        string
	title      string
	category   string
	status     analytics.Status
	priority   string
	department string
	assignees  []string
	created    time.Duration
	updated    time.Duration
	due        *time.Duration
	completed  *time.Duration
}

func ago(d time.Duration) *time.Duration { return &d }

const day = 24 * time.Hour

// Offsets are relative to the seeding time; negative values lie in the future.
var fixedTasks = []task{
	{"task-1", "Set up CI/CD pipeline", "DevOps", analytics.StatusInProgress, "HIGH", "IT", []string{User1ID, User2ID}, 4 * day, 0, ago(-5 * day), nil},
	{"task-2", "Refresh UI style guide", "Design", analytics.StatusCompleted, "MEDIUM", "MARKETING", []string{User3ID}, 5 * day, day, ago(day), ago(time.Hour)},
	{"task-3", "Migrate to Postgres 15", "Migration", analytics.StatusBlocked, "HIGH", "IT", []string{AdminID, User1ID}, 6 * day, day, nil, nil},
	{"task-4", "Tests for auth service", "Testing", analytics.StatusInProgress, "MEDIUM", "IT", []string{UserID}, 2 * day, 0, ago(-3 * day), nil},
	{"task-5", "Prometheus monitoring", "Monitoring", analytics.StatusAvailable, "HIGH", "IT", nil, day, day, ago(-10 * day), nil},
	{"task-6", "Metrics report", "Finance", analytics.StatusCompleted, "MEDIUM", "FINANCE", []string{User4ID}, 4 * day, 2 * day, ago(2 * day), ago(2 * day)},
	{"task-7", "Broker retries", "Messaging", analytics.StatusBlocked, "HIGH", "IT", []string{User2ID}, 3 * day, day, nil, nil},
	{"task-8", "Team training plan", "Training", analytics.StatusAvailable, "LOW", "HR", nil, day, day, ago(-20 * day), nil},
	{"task-9", "Feature: task comments", "New features", analytics.StatusInProgress, "HIGH", "IT", []string{User3ID, User4ID}, 3 * day, 0, ago(-7 * day), nil},
	{"task-10", "Back up object storage settings", "Backup", analytics.StatusAvailable, "MEDIUM", "IT", []string{User1ID}, 0, 0, ago(-14 * day), nil},
}

var (
	syntheticTitles = []string{
		"Fix flaky login bug",
		"Add export feature",
		"Refactor billing module",
		"Write integration tests",
		"Update API documentation",
		"Review quarterly budget",
		"Plan onboarding session",
	}
	syntheticStatuses    = []analytics.Status{analytics.StatusAvailable, analytics.StatusInProgress, analytics.StatusCompleted, analytics.StatusBlocked}
	syntheticPriorities  = []string{"LOW", "MEDIUM", "HIGH"}
	syntheticDepartments = []string{"IT", "HR", "FINANCE", "MARKETING", "SALES"}
)

// Result reports what a run wrote.
type Result struct {
	Tasks    int `json:"tasks"`
	Users    int `json:"users"`
	UserRows int `json:"user_rows"`
}

// Seeder writes demo mirrors and the snapshots derived from them. Re-running
// it converges to the same state: rows are overwritten and counters are set,
// never incremented.
type Seeder struct {
	Store     analytics.Store
	Location  *time.Location
	Now       func() time.Time
	Synthetic int
	Logger    *logger.Logger
}

func New(store analytics.Store, log *logger.Logger) *Seeder {
	if log == nil {
		log = logger.Default()
	}
	return &Seeder{
		Store:    store,
		Location: time.UTC,
		Now:      func() time.Time { return time.Now().UTC() },
		Logger:   log.WithComponent("seed"),
	}
}

// TaskID returns the stable id of a seeded task key.
func TaskID(key string) string {
	return uuid.NewSHA1(taskNamespace, []byte(key)).String()
}

func (s *Seeder) Run(ctx context.Context) (Result, error) {
	now := s.Now()
	today := analytics.Day(now, s.Location)
	mirrors := s.mirrors(now)

	for _, m := range mirrors {
		if _, err := s.Store.UpsertMirror(ctx, m); err != nil {
			return Result{}, fmt.Errorf("upsert mirror %s: %w", m.TaskID, err)
		}
	}
	if err := s.Store.SetCounter(ctx, analytics.CounterTasks, int64(len(mirrors)), now); err != nil {
		return Result{}, fmt.Errorf("set task counter: %w", err)
	}

	snap := analytics.TaskSnapshot{
		Date:        today,
		TaskCounts:  s.counts(mirrors, today),
		Breakdown:   analytics.Breakdowns(mirrors),
		LastUpdated: now,
	}
	if err := s.Store.PutTaskSnapshot(ctx, snap); err != nil {
		return Result{}, fmt.Errorf("put task snapshot: %w", err)
	}

	byUser := map[string][]analytics.TaskMirror{}
	for _, m := range mirrors {
		for _, id := range m.AssigneeIDs {
			byUser[id] = append(byUser[id], m)
		}
	}
	for userID, assigned := range byUser {
		row := analytics.UserTaskStatistics{
			UserID:      userID,
			Date:        today,
			TaskCounts:  s.counts(assigned, today),
			Breakdown:   analytics.Breakdowns(assigned),
			LastUpdated: now,
		}
		if err := s.Store.PutUserTaskStats(ctx, row); err != nil {
			return Result{}, fmt.Errorf("put user stats %s: %w", userID, err)
		}
	}

	// Mirrors already in the store from real traffic still count toward the
	// breakdowns.
	rows, err := (&analytics.Recomputer{Store: s.Store}).RecomputeAll(ctx, today, now)
	if err != nil {
		return Result{}, fmt.Errorf("recompute: %w", err)
	}

	if err := s.seedUsers(ctx, today, now); err != nil {
		return Result{}, err
	}

	res := Result{Tasks: len(mirrors), Users: len(userIDs), UserRows: rows}
	s.Logger.Info("seed completed",
		zap.Int("tasks", res.Tasks),
		zap.Int("users", res.Users),
		zap.Int("user_rows", res.UserRows),
		zap.String("date", analytics.DayKey(today)),
	)
	return res, nil
}

func (s *Seeder) seedUsers(ctx context.Context, today, now time.Time) error {
	if err := s.Store.SetCounter(ctx, analytics.CounterUsers, int64(len(userIDs)), now); err != nil {
		return fmt.Errorf("set user counter: %w", err)
	}

	existing, err := s.Store.ListActiveUsers(ctx, today)
	if err != nil {
		return fmt.Errorf("list active users: %w", err)
	}
	have := make(map[string]int64, len(existing))
	for _, u := range existing {
		have[u.Username] = u.LoginCount
	}
	for _, u := range activeUsers {
		if _, err := s.Store.TouchActiveUser(ctx, u.username, today, u.logins-have[u.username]); err != nil {
			return fmt.Errorf("touch active user %s: %w", u.username, err)
		}
	}

	current, err := s.Store.GetUserSnapshot(ctx, today)
	if err != nil && !errors.Is(err, analytics.ErrNotFound) {
		return fmt.Errorf("get user snapshot: %w", err)
	}
	delta := analytics.UserCounts{
		NewUsersToday:    -current.NewUsersToday,
		SuccessfulLogins: seededSuccessfulLogins - current.SuccessfulLogins,
		FailedLogins:     seededFailedLogins - current.FailedLogins,
	}
	if err := s.Store.IncrementUserSnapshot(ctx, today, delta, now); err != nil {
		return fmt.Errorf("set user snapshot counts: %w", err)
	}
	if _, err := s.Store.RefreshUserTotals(ctx, today, now); err != nil {
		return fmt.Errorf("refresh user totals: %w", err)
	}
	return nil
}

func (s *Seeder) mirrors(now time.Time) []analytics.TaskMirror {
	out := make([]analytics.TaskMirror, 0, len(fixedTasks)+s.Synthetic)
	for _, t := range fixedTasks {
		out = append(out, t.mirror(now))
	}

	rng := rand.New(rand.NewSource(randSeed))
	for i := 0; i < s.Synthetic; i++ {
		title := syntheticTitles[rng.Intn(len(syntheticTitles))]
		priority := syntheticPriorities[rng.Intn(len(syntheticPriorities))]
		t := task{
			key:        fmt.Sprintf("synthetic-%d", i),
			title:      title,
			category:   analytics.ExtractCategory(title, priority),
			status:     syntheticStatuses[rng.Intn(len(syntheticStatuses))],
			priority:   priority,
			department: syntheticDepartments[rng.Intn(len(syntheticDepartments))],
			assignees:  []string{userIDs[rng.Intn(len(userIDs))]},
			created:    time.Duration(rng.Intn(14*24)) * time.Hour,
		}
		if t.status == analytics.StatusCompleted {
			t.completed = ago(t.created / 2)
		}
		out = append(out, t.mirror(now))
	}
	return out
}

func (t task) mirror(now time.Time) analytics.TaskMirror {
	at := func(d time.Duration) *time.Time {
		v := now.Add(-d)
		return &v
	}
	m := analytics.TaskMirror{
		TaskID:      TaskID(t.key),
		Title:       t.title,
		Category:    t.category,
		Priority:    t.priority,
		Status:      t.status,
		Department:  t.department,
		AssigneeIDs: append([]string(nil), t.assignees...),
		CreatorID:   AdminID,
		CreatedAt:   now.Add(-t.created),
		UpdatedAt:   at(t.updated),
		IsCompleted: t.status == analytics.StatusCompleted,
		LastUpdated: now,
	}
	if t.due != nil {
		m.DueDate = at(*t.due)
	}
	if t.completed != nil {
		m.CompletedAt = at(*t.completed)
	}
	return m
}

func (s *Seeder) counts(mirrors []analytics.TaskMirror, today time.Time) analytics.TaskCounts {
	onDay := func(t *time.Time) bool {
		return t != nil && analytics.Day(*t, s.Location).Equal(today)
	}
	var c analytics.TaskCounts
	for _, m := range mirrors {
		c.Total++
		switch m.Status {
		case analytics.StatusCompleted:
			c.Completed++
		case analytics.StatusInProgress:
			c.InProgress++
		case analytics.StatusAvailable:
			c.Pending++
		}
		if onDay(&m.CreatedAt) {
			c.CreatedToday++
		}
		if onDay(m.CompletedAt) {
			c.CompletedToday++
		}
		if onDay(m.UpdatedAt) {
			c.UpdatedToday++
		}
	}
	return c
}
