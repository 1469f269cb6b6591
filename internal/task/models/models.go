// Package models defines the task domain entities and the task state machine.
package models

import "time"

// ActorType discriminates who performed an action or owns a reference.
type ActorType string

const (
	ActorAgent  ActorType = "agent"
	ActorHuman  ActorType = "human"
	ActorSystem ActorType = "system"
)

// Actor identifies the originator of a command. Anonymous callers are
// human operators; background loops act as the system actor.
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id,omitempty"`
	Name string    `json:"name,omitempty"`
}

// AgentActor builds an agent actor.
func AgentActor(id, name string) Actor {
	return Actor{Type: ActorAgent, ID: id, Name: name}
}

// HumanActor builds a human operator actor.
func HumanActor(name string) Actor {
	if name == "" {
		name = "operator"
	}
	return Actor{Type: ActorHuman, Name: name}
}

// SystemActor builds the system actor. The reason is recorded where an
// agent ID would be (auto-unblock, stale_release, scheduled-auto-transition).
func SystemActor(reason string) Actor {
	return Actor{Type: ActorSystem, ID: reason, Name: "system"}
}

// IsAgent reports whether the actor is an authenticated agent.
func (a Actor) IsAgent() bool {
	return a.Type == ActorAgent && a.ID != ""
}

// ActorRef is the persisted (type, id) pair for assignee, reviewer,
// creator, and question targets.
type ActorRef struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id"`
}

// Ref converts an Actor to its persisted reference.
func (a Actor) Ref() ActorRef {
	return ActorRef{Type: a.Type, ID: a.ID}
}

// ProjectStatus enumerates project lifecycle states.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
)

// Project owns tasks and knowledge entries. Archival is soft.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      ProjectStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// TaskStatus enumerates the eight task lifecycle states.
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

// ValidStatuses lists every task status in lifecycle order.
var ValidStatuses = []TaskStatus{
	StatusBacklog, StatusTodo, StatusInProgress, StatusReview,
	StatusBlocked, StatusHandoff, StatusDone, StatusCancelled,
}

// IsValid reports whether s is one of the eight task statuses.
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusReview,
		StatusBlocked, StatusHandoff, StatusDone, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends the task lifecycle.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// TaskPriority enumerates scheduling priorities, highest first.
type TaskPriority string

const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityMedium   TaskPriority = "medium"
	PriorityLow      TaskPriority = "low"
)

// Rank returns the sort rank of a priority; lower sorts first.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// IsValid reports whether p is a known priority.
func (p TaskPriority) IsValid() bool {
	return p.Rank() < 4
}

// StatusHistoryEntry records one accepted transition. Entries are
// append-only and never updated in place.
type StatusHistoryEntry struct {
	Status    TaskStatus `json:"status"`
	AgentType ActorType  `json:"agent_type,omitempty"`
	AgentID   string     `json:"agent_id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// RecurrenceFrequency enumerates recurrence rule frequencies.
type RecurrenceFrequency string

const (
	FrequencyDaily   RecurrenceFrequency = "daily"
	FrequencyWeekly  RecurrenceFrequency = "weekly"
	FrequencyMonthly RecurrenceFrequency = "monthly"
	FrequencyCron    RecurrenceFrequency = "cron"
)

// RecurrenceRule describes how a completed task spawns its successor.
type RecurrenceRule struct {
	Frequency RecurrenceFrequency `json:"frequency"`
	Interval  int                 `json:"interval"`
	Cron      string              `json:"cron,omitempty"`
	EndDate   *time.Time          `json:"end_date,omitempty"`
	EndAfter  int                 `json:"end_after,omitempty"`
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
	StartedReviewAt    *time.Time           `json:"started_review_at,omitempty"`
	CreatedBy          ActorRef             `json:"created_by"`
	CreatedAt          time.Time            `json:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at"`

	// Dependencies holds the upstream task IDs, loaded with the task.
	Dependencies []string `json:"dependencies"`
	// Artifacts are loaded on single-task reads, nil on list reads.
	Artifacts []*Artifact `json:"artifacts,omitempty"`
}

// AssignedTo reports whether the task is assigned to the given agent.
func (t *Task) AssignedTo(agentID string) bool {
	return t.Assignee != nil && t.Assignee.Type == ActorAgent && t.Assignee.ID == agentID
}

// ReviewedBy reports whether the given agent is the task's reviewer.
func (t *Task) ReviewedBy(agentID string) bool {
	return t.Reviewer != nil && t.Reviewer.Type == ActorAgent && t.Reviewer.ID == agentID
}

// ScheduledInFuture reports whether the task's scheduled_at is after now.
func (t *Task) ScheduledInFuture(now time.Time) bool {
	return t.ScheduledAt != nil && t.ScheduledAt.After(now)
}

// ActivityType enumerates task activity kinds.
type ActivityType string

const (
	ActivityComment        ActivityType = "comment"
	ActivityProgress       ActivityType = "progress"
	ActivityBlocked        ActivityType = "blocked"
	ActivityReviewFeedback ActivityType = "review_feedback"
	ActivityHandoff        ActivityType = "handoff"
)

// TaskActivity is an append-only audit entry on a task.
type TaskActivity struct {
	ID           string         `json:"id"`
	TaskID       string         `json:"task_id"`
	Author       ActorRef       `json:"author"`
	Content      string         `json:"content"`
	ActivityType ActivityType   `json:"activity_type"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ArtifactType enumerates artifact kinds.
type ArtifactType string

const (
	ArtifactText ArtifactType = "text"
	ArtifactURL  ArtifactType = "url"
	ArtifactFile ArtifactType = "file"
	ArtifactJSON ArtifactType = "json"
)

// MaxInlineArtifactBytes caps text and json artifact content.
const MaxInlineArtifactBytes = 100_000

// IsValid reports whether t is a known artifact type.
func (t ArtifactType) IsValid() bool {
	switch t {
	case ArtifactText, ArtifactURL, ArtifactFile, ArtifactJSON:
		return true
	}
	return false
}

// Artifact is an output attachment on a task.
type Artifact struct {
	ID           string         `json:"id"`
	TaskID       string         `json:"task_id"`
	Name         string         `json:"name"`
	ArtifactType ArtifactType   `json:"artifact_type"`
	Content      string         `json:"content"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedBy    ActorRef       `json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
}

// QuestionStatus enumerates question lifecycle states.
type QuestionStatus string

const (
	QuestionOpen      QuestionStatus = "open"
	QuestionResolved  QuestionStatus = "resolved"
	QuestionAnswered  QuestionStatus = "answered"
	QuestionDismissed QuestionStatus = "dismissed"
)

// Question is attached to a task; an open blocking question marks the task
// as having open questions.
type Question struct {
	ID                 string         `json:"id"`
	TaskID             string         `json:"task_id"`
	Question           string         `json:"question"`
	QuestionType       string         `json:"question_type,omitempty"`
	Context            string         `json:"context,omitempty"`
	AskedBy            ActorRef       `json:"asked_by"`
	Target             *ActorRef      `json:"target,omitempty"`
	RequiredCapability string         `json:"required_capability,omitempty"`
	Blocking           bool           `json:"blocking"`
	Status             QuestionStatus `json:"status"`
	Resolution         string         `json:"resolution,omitempty"`
	ResolvedBy         *ActorRef      `json:"resolved_by,omitempty"`
	DismissedReason    string         `json:"dismissed_reason,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	ResolvedAt         *time.Time     `json:"resolved_at,omitempty"`
}

// QuestionReply is one message in a question thread.
type QuestionReply struct {
	ID           string    `json:"id"`
	QuestionID   string    `json:"question_id"`
	Author       ActorRef  `json:"author"`
	Body         string    `json:"body"`
	IsResolution bool      `json:"is_resolution"`
	CreatedAt    time.Time `json:"created_at"`
}

// Knowledge is a project-scoped note, upserted by (project, title).
type Knowledge struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedBy ActorRef  `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Usage is one token/cost ledger entry reported by an agent for a task.
type Usage struct {
	ID           string         `json:"id"`
	TaskID       string         `json:"task_id"`
	AgentID      string         `json:"agent_id"`
	Model        string         `json:"model,omitempty"`
	InputTokens  int64          `json:"input_tokens"`
	OutputTokens int64          `json:"output_tokens"`
	CostUSD      float64        `json:"cost_usd"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// UsageTotals aggregates a task's usage entries.
type UsageTotals struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}
