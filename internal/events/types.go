// Package events defines the durable event log records and the event type
// vocabulary observers subscribe to.
package events

import (
	"strings"
	"time"

	"github.com/opengate/opengate/internal/task/models"
)

// Event types for task lifecycle
const (
	TaskCreated   = "task.created"
	TaskUpdated   = "task.updated"
	TaskDeleted   = "task.deleted"
	TaskClaimed   = "task.claimed"
	TaskReleased  = "task.released"
	TaskAssigned  = "task.assigned"
	TaskProgress  = "task.progress"
	TaskBlocked   = "task.blocked"
	TaskCompleted = "task.completed"
	TaskCancelled = "task.cancelled"
	TaskUnblocked = "task.unblocked"
	TaskHandoff   = "task.handoff"
)

// Event types for the review workflow
const (
	TaskReviewRequested  = "task.review_requested"
	TaskReviewStarted    = "task.review_started"
	TaskChangesRequested = "task.changes_requested"
	TaskApproved         = "task.approved"
)

// Event types for the question system
const (
	TaskQuestionAsked     = "task.question_asked"
	TaskQuestionAssigned  = "task.question_assigned"
	TaskQuestionReplied   = "task.question_replied"
	TaskQuestionResolved  = "task.question_resolved"
	TaskQuestionDismissed = "task.question_dismissed"
)

// Event types for projects and agents
const (
	ProjectCreated  = "project.created"
	ProjectUpdated  = "project.updated"
	ProjectDeleted  = "project.deleted"
	AgentRegistered = "agent.registered"
)

// TaskDependencyReady is not an event log type: it names the per-task
// webhook fired to an unblocked task's agent alongside task.unblocked.
const TaskDependencyReady = "task.dependency_ready"

// Event is one durable, monotonically numbered record of a state change.
// The event log is the source of truth for observers; notifications and
// transports derive from it.
type Event struct {
	ID        int64          `json:"id"`
	EventType string         `json:"event_type"`
	TaskID    string         `json:"task_id,omitempty"`
	ProjectID string         `json:"project_id"`
	Actor     models.Actor   `json:"actor"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// New builds an unnumbered event; the store assigns the ID on append.
func New(eventType, projectID, taskID string, actor models.Actor, payload map[string]any) *Event {
	if payload == nil {
		payload = map[string]any{}
	}
	if actor.Name != "" {
		payload["actor_name"] = actor.Name
	}
	return &Event{
		EventType: eventType,
		TaskID:    taskID,
		ProjectID: projectID,
		Actor:     actor,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// TaskPayload builds the standard payload for task events: the task title
// plus the status transition when one occurred.
func TaskPayload(t *models.Task, from, to models.TaskStatus) map[string]any {
	p := map[string]any{"task_title": t.Title}
	if from != "" {
		p["from_status"] = string(from)
	}
	if to != "" {
		p["to_status"] = string(to)
	}
	return p
}

// MatchPattern reports whether an event type matches a subscription
// pattern. Two forms are supported:
//   - exact: "task.created" matches only that type;
//   - prefix wildcard: "task.*" matches "task.X" where X is non-empty
//     and contains no dot.
func MatchPattern(pattern, eventType string) bool {
	if pattern == eventType {
		return true
	}
	prefix, ok := strings.CutSuffix(pattern, ".*")
	if !ok || prefix == "" {
		return false
	}
	rest, ok := strings.CutPrefix(eventType, prefix+".")
	if !ok || rest == "" {
		return false
	}
	return !strings.Contains(rest, ".")
}
