// Package memstore is an in-process analytics.Store. Every method runs under
// one mutex, which makes each increment atomic.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/todo-1m/analytics/internal/analytics"
)

type userDayKey struct {
	userID string
	day    time.Time
}

type activeKey struct {
	username string
	day      time.Time
}

type Store struct {
	mu sync.Mutex

	mirrors       map[string]analytics.TaskMirror
	counters      map[string]analytics.GlobalCounter
	taskSnapshots map[time.Time]analytics.TaskSnapshot
	userStats     map[userDayKey]analytics.UserTaskStatistics
	userSnapshots map[time.Time]analytics.UserSnapshot
	active        map[activeKey]analytics.DailyActiveUser
	applied       map[string]time.Time
}

var _ analytics.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		mirrors:       map[string]analytics.TaskMirror{},
		counters:      map[string]analytics.GlobalCounter{},
		taskSnapshots: map[time.Time]analytics.TaskSnapshot{},
		userStats:     map[userDayKey]analytics.UserTaskStatistics{},
		userSnapshots: map[time.Time]analytics.UserSnapshot{},
		active:        map[activeKey]analytics.DailyActiveUser{},
		applied:       map[string]time.Time{},
	}
}

func cloneMirror(m analytics.TaskMirror) analytics.TaskMirror {
	m.AssigneeIDs = slices.Clone(m.AssigneeIDs)
	if m.AssigneeIDs == nil {
		m.AssigneeIDs = []string{}
	}
	return m
}

func (s *Store) UpsertMirror(_ context.Context, m analytics.TaskMirror) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.mirrors[m.TaskID]
	s.mirrors[m.TaskID] = cloneMirror(m)
	return !exists, nil
}

func (s *Store) PatchMirror(_ context.Context, taskID string, patch analytics.MirrorPatch, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mirrors[taskID]
	if !ok {
		return false, nil
	}
	patch.Apply(&m)
	m.LastUpdated = at
	s.mirrors[taskID] = cloneMirror(m)
	return true, nil
}

func (s *Store) GetMirror(_ context.Context, taskID string) (analytics.TaskMirror, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mirrors[taskID]
	if !ok {
		return analytics.TaskMirror{}, analytics.ErrNotFound
	}
	return cloneMirror(m), nil
}

func (s *Store) ListMirrors(_ context.Context, filter analytics.MirrorFilter) ([]analytics.TaskMirror, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]analytics.TaskMirror, 0, len(s.mirrors))
	for _, m := range s.mirrors {
		if filter.Match(m) {
			out = append(out, cloneMirror(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

func (s *Store) IncrementCounter(_ context.Context, id string, delta int64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters[id]
	c.ID = id
	c.Total = max(0, c.Total+delta)
	c.LastUpdated = at
	s.counters[id] = c
	return c.Total, nil
}

func (s *Store) SetCounter(_ context.Context, id string, total int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[id] = analytics.GlobalCounter{ID: id, Total: max(0, total), LastUpdated: at}
	return nil
}

func (s *Store) GetCounter(_ context.Context, id string) (analytics.GlobalCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[id]
	if !ok {
		return analytics.GlobalCounter{}, analytics.ErrNotFound
	}
	return c, nil
}

func (s *Store) taskSnapshot(day time.Time) analytics.TaskSnapshot {
	snap, ok := s.taskSnapshots[day]
	if !ok {
		snap = analytics.TaskSnapshot{Date: day}
	}
	snap.Breakdown = snap.Breakdown.Clone()
	return snap
}

func (s *Store) IncrementTaskSnapshot(_ context.Context, day time.Time, delta analytics.TaskCounts, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = norm(day)
	snap := s.taskSnapshot(day)
	snap.TaskCounts = snap.TaskCounts.Add(delta)
	snap.CompletionPercentage = analytics.CompletionPercentage(snap.Total, snap.Completed)
	snap.LastUpdated = at
	s.taskSnapshots[day] = snap
	return nil
}

func (s *Store) PutTaskBreakdown(_ context.Context, day time.Time, b analytics.Breakdown, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = norm(day)
	snap := s.taskSnapshot(day)
	snap.Breakdown = b.Clone()
	snap.LastUpdated = at
	s.taskSnapshots[day] = snap
	return nil
}

func (s *Store) PutTaskSnapshot(_ context.Context, snap analytics.TaskSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Date = norm(snap.Date)
	snap.Breakdown = snap.Breakdown.Clone()
	snap.CompletionPercentage = analytics.CompletionPercentage(snap.Total, snap.Completed)
	s.taskSnapshots[snap.Date] = snap
	return nil
}

func (s *Store) GetTaskSnapshot(_ context.Context, day time.Time) (analytics.TaskSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = norm(day)
	if _, ok := s.taskSnapshots[day]; !ok {
		return analytics.TaskSnapshot{}, analytics.ErrNotFound
	}
	return s.taskSnapshot(day), nil
}

func (s *Store) ListTaskSnapshots(_ context.Context, from, to time.Time) ([]analytics.TaskSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []analytics.TaskSnapshot
	for day := range s.taskSnapshots {
		if inRange(day, from, to) {
			out = append(out, s.taskSnapshot(day))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) userStatsRow(userID string, day time.Time) analytics.UserTaskStatistics {
	row, ok := s.userStats[userDayKey{userID, day}]
	if !ok {
		row = analytics.UserTaskStatistics{UserID: userID, Date: day}
	}
	row.Breakdown = row.Breakdown.Clone()
	return row
}

func (s *Store) IncrementUserTaskStats(_ context.Context, userID string, day time.Time, delta analytics.TaskCounts, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = norm(day)
	row := s.userStatsRow(userID, day)
	row.TaskCounts = row.TaskCounts.Add(delta)
	row.CompletionPercentage = analytics.CompletionPercentage(row.Total, row.Completed)
	row.LastUpdated = at
	s.userStats[userDayKey{userID, day}] = row
	return nil
}

func (s *Store) PutUserTaskBreakdown(_ context.Context, userID string, day time.Time, b analytics.Breakdown, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = norm(day)
	row := s.userStatsRow(userID, day)
	row.Breakdown = b.Clone()
	row.LastUpdated = at
	s.userStats[userDayKey{userID, day}] = row
	return nil
}

func (s *Store) PutUserTaskStats(_ context.Context, row analytics.UserTaskStatistics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.Date = norm(row.Date)
	row.Breakdown = row.Breakdown.Clone()
	row.CompletionPercentage = analytics.CompletionPercentage(row.Total, row.Completed)
	s.userStats[userDayKey{row.UserID, row.Date}] = row
	return nil
}

func (s *Store) GetUserTaskStats(_ context.Context, userID string, day time.Time) (analytics.UserTaskStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = norm(day)
	if _, ok := s.userStats[userDayKey{userID, day}]; !ok {
		return analytics.UserTaskStatistics{}, analytics.ErrNotFound
	}
	return s.userStatsRow(userID, day), nil
}

func (s *Store) ListUserTaskStats(_ context.Context, filter analytics.UserStatsFilter) ([]analytics.UserTaskStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []analytics.UserTaskStatistics
	for key := range s.userStats {
		if filter.UserID != "" && key.userID != filter.UserID {
			continue
		}
		if !inRange(key.day, filter.From, filter.To) {
			continue
		}
		out = append(out, s.userStatsRow(key.userID, key.day))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *Store) userSnapshot(day time.Time) analytics.UserSnapshot {
	snap, ok := s.userSnapshots[day]
	if !ok {
		snap = analytics.UserSnapshot{Date: day}
	}
	return snap
}

func (s *Store) IncrementUserSnapshot(_ context.Context, day time.Time, delta analytics.UserCounts, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = norm(day)
	snap := s.userSnapshot(day)
	snap.NewUsersToday = max(0, snap.NewUsersToday+delta.NewUsersToday)
	snap.SuccessfulLogins = max(0, snap.SuccessfulLogins+delta.SuccessfulLogins)
	snap.FailedLogins = max(0, snap.FailedLogins+delta.FailedLogins)
	snap.LastUpdated = at
	s.userSnapshots[day] = snap
	return nil
}

func (s *Store) RefreshUserTotals(_ context.Context, day time.Time, at time.Time) (analytics.UserSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = norm(day)
	snap := s.userSnapshot(day)
	snap.TotalUsers = s.counters[analytics.CounterUsers].Total
	snap.ActiveUsersToday = s.countActive(day)
	snap.LastUpdated = at
	s.userSnapshots[day] = snap
	return snap, nil
}

func (s *Store) GetUserSnapshot(_ context.Context, day time.Time) (analytics.UserSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = norm(day)
	snap, ok := s.userSnapshots[day]
	if !ok {
		return analytics.UserSnapshot{}, analytics.ErrNotFound
	}
	return snap, nil
}

func (s *Store) ListUserSnapshots(_ context.Context, from, to time.Time) ([]analytics.UserSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []analytics.UserSnapshot
	for day, snap := range s.userSnapshots {
		if inRange(day, from, to) {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) TouchActiveUser(_ context.Context, username string, day time.Time, loginDelta int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = norm(day)
	key := activeKey{username, day}
	row, exists := s.active[key]
	if !exists {
		row = analytics.DailyActiveUser{Username: username, Date: day}
	}
	row.LoginCount = max(0, row.LoginCount+loginDelta)
	s.active[key] = row
	return !exists, nil
}

func (s *Store) countActive(day time.Time) int64 {
	var n int64
	for key := range s.active {
		if key.day.Equal(day) {
			n++
		}
	}
	return n
}

func (s *Store) CountActiveUsers(_ context.Context, day time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = norm(day)
	return s.countActive(day), nil
}

func (s *Store) ListActiveUsers(_ context.Context, day time.Time) ([]analytics.DailyActiveUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day = norm(day)
	var out []analytics.DailyActiveUser
	for key, row := range s.active {
		if key.day.Equal(day) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) MarkEventApplied(_ context.Context, eventID, _ string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.applied[eventID]; seen {
		return false, nil
	}
	s.applied[eventID] = at
	return true, nil
}

func norm(day time.Time) time.Time {
	return analytics.Day(day, time.UTC)
}

func inRange(day, from, to time.Time) bool {
	if !from.IsZero() && day.Before(from) {
		return false
	}
	if !to.IsZero() && day.After(to) {
		return false
	}
	return true
}
