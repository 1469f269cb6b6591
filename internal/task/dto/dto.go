// Package dto defines the JSON request bodies and list envelopes of the
// HTTP API. Domain models serialize themselves; this package only shapes
// what comes in and how collections go out.
package dto

import (
	"time"

	"github.com/opengate/opengate/internal/events"
	"github.com/opengate/opengate/internal/task/models"
)

// CreateProjectRequest is the body of POST /api/projects.
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// UpdateProjectRequest is the body of PATCH /api/projects/:id.
type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// CreateTaskRequest is the body of POST /api/projects/:id/tasks.
type CreateTaskRequest struct {
	Title        string                 `json:"title"`
	Description  string                 `json:"description,omitempty"`
	Status       string                 `json:"status,omitempty"`
	Priority     string                 `json:"priority,omitempty"`
	Tags         []string               `json:"tags,omitempty"`
	Context      map[string]any         `json:"context,omitempty"`
	AssigneeID   string                 `json:"assignee_id,omitempty"`
	DueDate      *time.Time             `json:"due_date,omitempty"`
	ScheduledAt  *time.Time             `json:"scheduled_at,omitempty"`
	Recurrence   *models.RecurrenceRule `json:"recurrence_rule,omitempty"`
	Dependencies []string               `json:"dependencies,omitempty"`
}

// UpdateTaskRequest is the body of PATCH /api/tasks/:id. Absent fields are
// left unchanged; the Clear flags are how a client erases a date, since an
// absent field and a null field read the same.
type UpdateTaskRequest struct {
	Title            *string                `json:"title,omitempty"`
	Description      *string                `json:"description,omitempty"`
	Priority         *string                `json:"priority,omitempty"`
	Tags             *[]string              `json:"tags,omitempty"`
	DueDate          *time.Time             `json:"due_date,omitempty"`
	ClearDueDate     bool                   `json:"clear_due_date,omitempty"`
	ScheduledAt      *time.Time             `json:"scheduled_at,omitempty"`
	ClearScheduledAt bool                   `json:"clear_scheduled_at,omitempty"`
	Recurrence       *models.RecurrenceRule `json:"recurrence_rule,omitempty"`
	Context          map[string]any         `json:"context,omitempty"`
	Output           map[string]any         `json:"output,omitempty"`
	Status           *string                `json:"status,omitempty"`
	Reason           string                 `json:"reason,omitempty"`
}

// UpdateStatusRequest is the body of POST /api/tasks/:id/block and the
// per-task shape behind batch status updates.
type UpdateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// CompleteTaskRequest is the body of POST /api/tasks/:id/complete.
type CompleteTaskRequest struct {
	Output  map[string]any `json:"output,omitempty"`
	Summary string         `json:"summary,omitempty"`
}

// AssignTaskRequest is the body of POST /api/tasks/:id/assign.
type AssignTaskRequest struct {
	AgentID string `json:"agent_id"`
}

// HandoffRequest is the body of POST /api/tasks/:id/handoff.
type HandoffRequest struct {
	ToAgentID string `json:"to_agent_id"`
	Note      string `json:"note,omitempty"`
}

// SubmitReviewRequest is the body of POST /api/tasks/:id/submit-review.
type SubmitReviewRequest struct {
	Summary    string `json:"summary,omitempty"`
	ReviewerID string `json:"reviewer_id,omitempty"`
}

// ReviewDecisionRequest is the body of approve and request-changes.
type ReviewDecisionRequest struct {
	Comment string `json:"comment,omitempty"`
}

// AskQuestionRequest is the body of POST /api/tasks/:id/questions.
type AskQuestionRequest struct {
	Question           string `json:"question"`
	QuestionType       string `json:"question_type,omitempty"`
	Context            string `json:"context,omitempty"`
	Blocking           bool   `json:"blocking,omitempty"`
	TargetAgentID      string `json:"target_agent_id,omitempty"`
	RequiredCapability string `json:"required_capability,omitempty"`
}

// ReplyRequest is the body of POST /api/questions/:id/replies.
type ReplyRequest struct {
	Body      string `json:"body"`
	Resolving bool   `json:"resolving,omitempty"`
}

// ResolveQuestionRequest is the body of POST /api/questions/:id/resolve.
type ResolveQuestionRequest struct {
	Resolution string `json:"resolution,omitempty"`
}

// DismissQuestionRequest is the body of POST /api/questions/:id/dismiss.
type DismissQuestionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// AssignQuestionRequest is the body of POST /api/questions/:id/assign.
type AssignQuestionRequest struct {
	AgentID string `json:"agent_id"`
}

// AddActivityRequest is the body of POST /api/tasks/:id/activity.
type AddActivityRequest struct {
	Content      string         `json:"content"`
	ActivityType string         `json:"activity_type,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// AddArtifactRequest is the body of POST /api/tasks/:id/artifacts.
type AddArtifactRequest struct {
	Name         string         `json:"name"`
	ArtifactType string         `json:"artifact_type,omitempty"`
	Content      string         `json:"content,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// UpsertKnowledgeRequest is the body of POST /api/projects/:id/knowledge.
type UpsertKnowledgeRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

// UpdateKnowledgeRequest is the body of PATCH /api/knowledge/:id.
type UpdateKnowledgeRequest struct {
	Title   *string   `json:"title,omitempty"`
	Content *string   `json:"content,omitempty"`
	Tags    *[]string `json:"tags,omitempty"`
}

// AddUsageRequest is the body of POST /api/tasks/:id/usage.
type AddUsageRequest struct {
	Model        string         `json:"model,omitempty"`
	InputTokens  int64          `json:"input_tokens"`
	OutputTokens int64          `json:"output_tokens"`
	CostUSD      float64        `json:"cost_usd"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// BatchStatusRequest is the body of POST /api/tasks/batch/status.
type BatchStatusRequest struct {
	TaskIDs []string `json:"task_ids"`
	Status  string   `json:"status"`
}

// AddDependencyRequest is the body of POST /api/tasks/:id/dependencies.
type AddDependencyRequest struct {
	DependsOn string `json:"depends_on"`
}

// CreateTriggerRequest is the body of POST /api/projects/:id/triggers.
type CreateTriggerRequest struct {
	Name         string         `json:"name"`
	ActionType   string         `json:"action_type,omitempty"`
	ActionConfig map[string]any `json:"action_config,omitempty"`
	Enabled      *bool          `json:"enabled,omitempty"`
}

// List envelopes. Collections always travel with a total so clients can
// render counts without fetching everything.

type ProjectListResponse struct {
	Projects []*models.Project `json:"projects"`
	Total    int               `json:"total"`
}

type TaskListResponse struct {
	Tasks []*models.Task `json:"tasks"`
	Total int            `json:"total"`
}

type QuestionListResponse struct {
	Questions []*models.Question `json:"questions"`
	Total     int                `json:"total"`
}

type ReplyListResponse struct {
	Replies []*models.QuestionReply `json:"replies"`
	Total   int                     `json:"total"`
}

type ActivityListResponse struct {
	Activities []*models.TaskActivity `json:"activities"`
	Total      int                    `json:"total"`
}

type ArtifactListResponse struct {
	Artifacts []*models.Artifact `json:"artifacts"`
	Total     int                `json:"total"`
}

type KnowledgeListResponse struct {
	Entries []*models.Knowledge `json:"entries"`
	Total   int                 `json:"total"`
}

type UsageListResponse struct {
	Usage  []*models.Usage     `json:"usage"`
	Totals *models.UsageTotals `json:"totals"`
}

type EventListResponse struct {
	Events []*events.Event `json:"events"`
	Total  int             `json:"total"`
}
