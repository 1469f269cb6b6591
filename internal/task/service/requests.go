package service

import (
	"time"

	"github.com/opengate/opengate/internal/task/models"
)

// CreateProjectRequest contains the data needed to create a project.
type CreateProjectRequest struct {
	Name        string
	Description string
}

// UpdateProjectRequest patches project fields; nil means "leave unchanged".
type UpdateProjectRequest struct {
	Name        *string
	Description *string
	Status      *models.ProjectStatus
}

// CreateTaskRequest contains the data needed to create a task.
type CreateTaskRequest struct {
	ProjectID    string
	Title        string
	Description  string
	Status       models.TaskStatus
	Priority     models.TaskPriority
	Tags         []string
	Context      map[string]any
	AssigneeID   string
	DueDate      *time.Time
	ScheduledAt  *time.Time
	Recurrence   *models.RecurrenceRule
	Dependencies []string
}

// UpdateTaskRequest patches task fields; nil means "leave unchanged".
// Context is a JSON merge-patch; Status runs the full transition gate chain
// and Reason feeds the activity a move to blocked requires.
type UpdateTaskRequest struct {
	Title       *string
	Description *string
	Priority    *models.TaskPriority
	Tags        *[]string
	DueDate     *time.Time
	ClearDue    bool
	ScheduledAt *time.Time
	ClearSched  bool
	Recurrence  *models.RecurrenceRule
	Context     map[string]any
	Output      map[string]any
	Status      *models.TaskStatus
	Reason      string
}

// CompleteTaskRequest carries the optional completion output and summary.
type CompleteTaskRequest struct {
	Output  map[string]any
	Summary string
}

// SubmitReviewRequest carries the optional work summary and explicit
// reviewer for submit-for-review.
type SubmitReviewRequest struct {
	Summary    string
	ReviewerID string
}

// ReviewDecisionRequest carries the reviewer's comment. Approvals may omit
// it; requesting changes must not.
type ReviewDecisionRequest struct {
	Comment string
}

// HandoffRequest names the receiving agent and an optional note.
type HandoffRequest struct {
	ToAgentID string
	Note      string
}

// AskQuestionRequest contains the data needed to open a question.
type AskQuestionRequest struct {
	Question           string
	QuestionType       string
	Context            string
	Blocking           bool
	Target             *models.ActorRef
	RequiredCapability string
}

// AddActivityRequest appends one audit entry to a task.
type AddActivityRequest struct {
	Content      string
	ActivityType models.ActivityType
	Metadata     map[string]any
}

// AddArtifactRequest attaches one output artifact to a task.
type AddArtifactRequest struct {
	Name         string
	ArtifactType models.ArtifactType
	Content      string
	Metadata     map[string]any
}

// UpsertKnowledgeRequest creates or replaces a knowledge entry keyed by
// (project, title).
type UpsertKnowledgeRequest struct {
	Title   string
	Content string
	Tags    []string
}

// UpdateKnowledgeRequest patches a knowledge entry by ID.
type UpdateKnowledgeRequest struct {
	Title   *string
	Content *string
	Tags    *[]string
}

// AddUsageRequest appends one token/cost ledger entry.
type AddUsageRequest struct {
	Model        string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	Metadata     map[string]any
}

// BatchStatusResult is the partial-failure shape for batch status updates.
type BatchStatusResult struct {
	Succeeded []string           `json:"succeeded"`
	Failed    []BatchStatusError `json:"failed"`
}

// BatchStatusError records one task that could not be moved.
type BatchStatusError struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

// ScheduleEntry is one row of a project schedule window: a stored
// occurrence, or a projected next occurrence of a recurring task.
type ScheduleEntry struct {
	Task        *models.Task `json:"task"`
	ScheduledAt time.Time    `json:"scheduled_at"`
	Projected   bool         `json:"projected"`
}

// Pulse is the project dashboard projection.
type Pulse struct {
	Active        []*models.Task     `json:"active"`
	InReview      []*models.Task     `json:"in_review"`
	Blocked       []*models.Task     `json:"blocked"`
	RecentlyDone  []*models.Task     `json:"recently_done"`
	AgentsPresent []*PulseAgent      `json:"agents_present"`
	OpenQuestions []*models.Question `json:"open_questions"`
}

// PulseAgent is the slim agent view embedded in a pulse.
type PulseAgent struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}
