package analytics

import (
	"slices"
	"strings"
	"time"
)

// DateLayout is the canonical day key format.
const DateLayout = "2006-01-02"

// Global counter ids.
const (
	CounterTasks = "tasks"
	CounterUsers = "users"
)

// Status is the aggregation-relevant task status.
type Status string

const (
	StatusAvailable  Status = "AVAILABLE"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusBlocked    Status = "BLOCKED"
)

// ParseStatus normalises upstream status strings. PENDING is an alias for
// AVAILABLE; unknown values pass through upper-cased.
func ParseStatus(raw string) Status {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "PENDING" {
		return StatusAvailable
	}
	return Status(s)
}

// bucket is the scalar counter a status contributes to.
type bucket int

const (
	bucketNone bucket = iota
	bucketPending
	bucketInProgress
	bucketCompleted
)

func (s Status) bucket() bucket {
	switch s {
	case StatusAvailable:
		return bucketPending
	case StatusInProgress:
		return bucketInProgress
	case StatusCompleted:
		return bucketCompleted
	default:
		return bucketNone
	}
}

// TaskMirror is the local shadow of an upstream task.
type TaskMirror struct {
	TaskID      string     `json:"task_id"`
	Title       string     `json:"title"`
	Category    string     `json:"category"`
	Priority    string     `json:"priority"`
	Status      Status     `json:"status"`
	Department  string     `json:"department"`
	AssigneeIDs []string   `json:"assignee_ids"`
	CreatorID   string     `json:"creator_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	IsCompleted bool       `json:"is_completed"`
	IsDeleted   bool       `json:"is_deleted"`
	LastUpdated time.Time  `json:"last_updated"`
}

// Equal reports whether m and o hold the same values. Timestamps compare by
// instant, so a row read back in another zone is still equal.
func (m TaskMirror) Equal(o TaskMirror) bool {
	return m.TaskID == o.TaskID &&
		m.Title == o.Title &&
		m.Category == o.Category &&
		m.Priority == o.Priority &&
		m.Status == o.Status &&
		m.Department == o.Department &&
		slices.Equal(m.AssigneeIDs, o.AssigneeIDs) &&
		m.CreatorID == o.CreatorID &&
		m.CreatedAt.Equal(o.CreatedAt) &&
		sameTime(m.UpdatedAt, o.UpdatedAt) &&
		sameTime(m.CompletedAt, o.CompletedAt) &&
		sameTime(m.DueDate, o.DueDate) &&
		m.IsCompleted == o.IsCompleted &&
		m.IsDeleted == o.IsDeleted &&
		m.LastUpdated.Equal(o.LastUpdated)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// HasAssignee reports whether userID is among the task assignees.
func (m TaskMirror) HasAssignee(userID string) bool {
	return slices.Contains(m.AssigneeIDs, userID)
}

// Participants returns creator and assignees, de-duplicated, in stable order.
func (m TaskMirror) Participants() []string {
	return participants(m.CreatorID, m.AssigneeIDs)
}

func participants(creatorID string, assigneeIDs []string) []string {
	seen := make(map[string]struct{}, len(assigneeIDs)+1)
	out := make([]string, 0, len(assigneeIDs)+1)
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(creatorID)
	for _, id := range assigneeIDs {
		add(id)
	}
	return out
}

// MirrorPatch lists the fields to overwrite; nil fields are left as is.
type MirrorPatch struct {
	Title       *string
	Category    *string
	Priority    *string
	Department  *string
	AssigneeIDs *[]string
	Status      *Status
	UpdatedAt   *time.Time
	CompletedAt *time.Time
	DueDate     *time.Time
	IsCompleted *bool
	IsDeleted   *bool
}

// Apply overwrites m with the non-nil fields of p.
func (p MirrorPatch) Apply(m *TaskMirror) {
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.Category != nil {
		m.Category = *p.Category
	}
	if p.Priority != nil {
		m.Priority = *p.Priority
	}
	if p.Department != nil {
		m.Department = *p.Department
	}
	if p.AssigneeIDs != nil {
		m.AssigneeIDs = slices.Clone(*p.AssigneeIDs)
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.UpdatedAt != nil {
		t := *p.UpdatedAt
		m.UpdatedAt = &t
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		m.CompletedAt = &t
	}
	if p.DueDate != nil {
		t := *p.DueDate
		m.DueDate = &t
	}
	if p.IsCompleted != nil {
		m.IsCompleted = *p.IsCompleted
	}
	if p.IsDeleted != nil {
		m.IsDeleted = *p.IsDeleted
	}
}

// MirrorFilter narrows ListMirrors. The zero value selects active mirrors.
type MirrorFilter struct {
	AssigneeID     string
	IncludeDeleted bool
	CompletedOnly  bool
}

// Match applies the filter in memory.
func (f MirrorFilter) Match(m TaskMirror) bool {
	if m.IsDeleted && !f.IncludeDeleted {
		return false
	}
	if f.CompletedOnly && !m.IsCompleted {
		return false
	}
	if f.AssigneeID != "" && !m.HasAssignee(f.AssigneeID) {
		return false
	}
	return true
}

// GlobalCounter is a singleton running total.
type GlobalCounter struct {
	ID          string    `json:"id"`
	Total       int64     `json:"total"`
	LastUpdated time.Time `json:"last_updated"`
}

// TaskCounts holds the scalar fields of a task day snapshot. It is used both
// for stored values and for atomic deltas.
type TaskCounts struct {
	Total          int64 `json:"total_tasks"`
	Completed      int64 `json:"completed_tasks"`
	InProgress     int64 `json:"in_progress_tasks"`
	Pending        int64 `json:"pending_tasks"`
	Deleted        int64 `json:"deleted_tasks"`
	CreatedToday   int64 `json:"created_tasks_today"`
	CompletedToday int64 `json:"completed_tasks_today"`
	DeletedToday   int64 `json:"deleted_tasks_today"`
	UpdatedToday   int64 `json:"updated_tasks_today"`
}

func (c TaskCounts) IsZero() bool {
	return c == TaskCounts{}
}

// Add returns c+d with every scalar floored at zero.
func (c TaskCounts) Add(d TaskCounts) TaskCounts {
	return TaskCounts{
		Total:          floor0(c.Total + d.Total),
		Completed:      floor0(c.Completed + d.Completed),
		InProgress:     floor0(c.InProgress + d.InProgress),
		Pending:        floor0(c.Pending + d.Pending),
		Deleted:        floor0(c.Deleted + d.Deleted),
		CreatedToday:   floor0(c.CreatedToday + d.CreatedToday),
		CompletedToday: floor0(c.CompletedToday + d.CompletedToday),
		DeletedToday:   floor0(c.DeletedToday + d.DeletedToday),
		UpdatedToday:   floor0(c.UpdatedToday + d.UpdatedToday),
	}
}

// shift moves one task between status buckets.
func (c *TaskCounts) shift(b bucket, delta int64) {
	switch b {
	case bucketPending:
		c.Pending += delta
	case bucketInProgress:
		c.InProgress += delta
	case bucketCompleted:
		c.Completed += delta
	}
}

func floor0(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// CompletionPercentage is completed/total*100, 0 when total is 0.
func CompletionPercentage(total, completed int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(completed) * 100.0 / float64(total)
}

// Breakdown holds the four distribution maps of a snapshot.
type Breakdown struct {
	ByStatus     map[string]int64 `json:"tasks_by_status"`
	ByPriority   map[string]int64 `json:"tasks_by_priority"`
	ByCategory   map[string]int64 `json:"tasks_by_category"`
	ByDepartment map[string]int64 `json:"tasks_by_department"`
}

func emptyBreakdown() Breakdown {
	return Breakdown{
		ByStatus:     map[string]int64{},
		ByPriority:   map[string]int64{},
		ByCategory:   map[string]int64{},
		ByDepartment: map[string]int64{},
	}
}

// Clone deep-copies b, normalising nil maps to empty ones.
func (b Breakdown) Clone() Breakdown {
	out := emptyBreakdown()
	for k, v := range b.ByStatus {
		out.ByStatus[k] = v
	}
	for k, v := range b.ByPriority {
		out.ByPriority[k] = v
	}
	for k, v := range b.ByCategory {
		out.ByCategory[k] = v
	}
	for k, v := range b.ByDepartment {
		out.ByDepartment[k] = v
	}
	return out
}

// TaskSnapshot is the global task aggregate for one day.
type TaskSnapshot struct {
	Date time.Time `json:"date"`
	TaskCounts
	CompletionPercentage float64 `json:"completion_percentage"`
	Breakdown
	LastUpdated time.Time `json:"last_updated"`
}

// UserTaskStatistics is a TaskSnapshot scoped to one user.
type UserTaskStatistics struct {
	UserID string    `json:"user_id"`
	Date   time.Time `json:"date"`
	TaskCounts
	CompletionPercentage float64 `json:"completion_percentage"`
	Breakdown
	LastUpdated time.Time `json:"last_updated"`
}

// UserCounts holds the incrementable fields of a user day snapshot.
type UserCounts struct {
	NewUsersToday    int64 `json:"new_users_today"`
	SuccessfulLogins int64 `json:"successful_logins"`
	FailedLogins     int64 `json:"failed_logins"`
}

// UserSnapshot is the user-activity aggregate for one day.
type UserSnapshot struct {
	Date             time.Time `json:"date"`
	TotalUsers       int64     `json:"total_users"`
	ActiveUsersToday int64     `json:"active_users_today"`
	UserCounts
	LastUpdated time.Time `json:"last_updated"`
}

// DailyActiveUser records that username was active on Date.
type DailyActiveUser struct {
	Username   string    `json:"username"`
	Date       time.Time `json:"date"`
	LoginCount int64     `json:"login_count"`
}

// Day truncates t to its calendar date in loc, returned as UTC midnight.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayKey formats a day as YYYY-MM-DD.
func DayKey(day time.Time) string {
	return day.Format(DateLayout)
}

// ParseDay parses a YYYY-MM-DD key.
func ParseDay(raw string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(raw), time.UTC)
}

func ptr[T any](v T) *T { return &v }
