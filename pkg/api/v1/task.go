// Package v1 defines the wire types of the OpenGate HTTP API for Go
// clients. The server serializes its domain models directly; these structs
// mirror that JSON so external tools (the bridge daemon, custom agents)
// can decode responses without importing server internals.
package v1

import "time"

// TaskStatus is a task lifecycle state.
type TaskStatus string

const (
	StatusBacklog    TaskStatus = "backlog"
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusReview     TaskStatus = "review"
	StatusBlocked    TaskStatus = "blocked"
	StatusHandoff    TaskStatus = "handoff"
	StatusDone       TaskStatus = "done"
	StatusCancelled  TaskStatus = "cancelled"
)

// TaskPriority is a scheduling priority, highest first.
type TaskPriority string

const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityMedium   TaskPriority = "medium"
	PriorityLow      TaskPriority = "low"
)

// ActorRef identifies who performed or owns something: an agent, a human
// operator, or the system itself.
type ActorRef struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// StatusHistoryEntry records one accepted status transition.
type StatusHistoryEntry struct {
	Status    TaskStatus `json:"status"`
	AgentType string     `json:"agent_type,omitempty"`
	AgentID   string     `json:"agent_id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// RecurrenceRule describes how a completed task spawns its successor.
type RecurrenceRule struct {
	Frequency string     `json:"frequency"`
	Interval  int        `json:"interval"`
	Cron      string     `json:"cron,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	EndAfter  int        `json:"end_after,omitempty"`
}

// Task is the unit of work agents claim, execute, review, and complete.
type Task struct {
	ID                 string               `json:"id"`
	ProjectID          string               `json:"project_id"`
	Title              string               `json:"title"`
	Description        string               `json:"description,omitempty"`
	Status             TaskStatus           `json:"status"`
	Priority           TaskPriority         `json:"priority"`
	Assignee           *ActorRef            `json:"assignee,omitempty"`
	Reviewer           *ActorRef            `json:"reviewer,omitempty"`
	Context            map[string]any       `json:"context"`
	Output             map[string]any       `json:"output"`
	Tags               []string             `json:"tags"`
	DueDate            *time.Time           `json:"due_date,omitempty"`
	ScheduledAt        *time.Time           `json:"scheduled_at,omitempty"`
	Recurrence         *RecurrenceRule      `json:"recurrence_rule,omitempty"`
	RecurrenceParentID string               `json:"recurrence_parent_id,omitempty"`
	StatusHistory      []StatusHistoryEntry `json:"status_history"`
	HasOpenQuestions   bool                 `json:"has_open_questions"`
	CreatedBy          ActorRef             `json:"created_by"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`
	Dependencies       []string             `json:"dependencies"`
}

// Project owns tasks and knowledge entries.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Question is a clarification thread attached to a task.
type Question struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"task_id"`
	Question   string     `json:"question"`
	Context    string     `json:"context,omitempty"`
	AskedBy    ActorRef   `json:"asked_by"`
	Target     *ActorRef  `json:"target,omitempty"`
	Blocking   bool       `json:"blocking"`
	Status     string     `json:"status"`
	Resolution string     `json:"resolution,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// TaskListResponse is the envelope of task list endpoints.
type TaskListResponse struct {
	Items []Task `json:"items"`
	Total int    `json:"total"`
}

// ProjectListResponse is the envelope of GET /api/projects.
type ProjectListResponse struct {
	Items []Project `json:"items"`
	Total int       `json:"total"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
