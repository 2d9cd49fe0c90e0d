package contracts

import "time"

// Event types carried in Envelope.EventType.
const (
	TypeTaskCreated          = "task.created"
	TypeTaskUpdated          = "task.updated"
	TypeTaskStatusUpdated    = "task.status_updated"
	TypeTaskCompleted        = "task.completed"
	TypeTaskDeleted          = "task.deleted"
	TypeTaskAssigneesUpdated = "task.assignees_updated"
	TypeUserRegistered       = "user.registered"
	TypeUserLoginSucceeded   = "user.login_succeeded"
	TypeUserLoginFailed      = "user.login_failed"
)

// Meta is shared by every DomainEvent variant. EntityID is the task id for
// task events and the user id for user events; it doubles as partition key.
type Meta struct {
	EventID    string    `json:"event_id"`
	EntityID   string    `json:"entity_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DomainEvent is the closed set of facts consumed by the analytics engine.
// Only the variants declared in this package implement it.
type DomainEvent interface {
	EventMeta() Meta
	EventType() string
	isDomainEvent()
}

func (m Meta) EventMeta() Meta { return m }
func (Meta) isDomainEvent()    {}

type TaskCreated struct {
	Meta
	Title       string     `json:"title"`
	Category    string     `json:"category,omitempty"`
	Priority    string     `json:"priority"`
	Department  string     `json:"department"`
	CreatorID   string     `json:"creator_id"`
	AssigneeIDs []string   `json:"assignee_ids"`
	CreatedAt   time.Time  `json:"created_at"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

type TaskUpdated struct {
	Meta
	Title       string     `json:"title"`
	Category    string     `json:"category,omitempty"`
	Priority    string     `json:"priority"`
	Department  string     `json:"department"`
	AssigneeIDs []string   `json:"assignee_ids"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

type TaskStatusUpdated struct {
	Meta
	Status    string    `json:"status"`
	UserID    string    `json:"user_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TaskCompleted struct {
	Meta
	AssigneeIDs []string  `json:"assignee_ids,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

type TaskDeleted struct {
	Meta
}

type TaskAssigneesUpdated struct {
	Meta
	AssigneeIDs []string  `json:"assignee_ids"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type UserRegistered struct {
	Meta
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

type UserLoginSucceeded struct {
	Meta
	Username  string `json:"username"`
	UserAgent string `json:"user_agent,omitempty"`
}

type UserLoginFailed struct {
	Meta
	Username      string `json:"username"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func (TaskCreated) EventType() string          { return TypeTaskCreated }
func (TaskUpdated) EventType() string          { return TypeTaskUpdated }
func (TaskStatusUpdated) EventType() string    { return TypeTaskStatusUpdated }
func (TaskCompleted) EventType() string        { return TypeTaskCompleted }
func (TaskDeleted) EventType() string          { return TypeTaskDeleted }
func (TaskAssigneesUpdated) EventType() string { return TypeTaskAssigneesUpdated }
func (UserRegistered) EventType() string       { return TypeUserRegistered }
func (UserLoginSucceeded) EventType() string   { return TypeUserLoginSucceeded }
func (UserLoginFailed) EventType() string      { return TypeUserLoginFailed }
