// Package repository defines the storage contract for the task domain.
package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/opengate/opengate/internal/task/models"
)

// TaskFilter narrows task list queries. Zero values mean "any".
type TaskFilter struct {
	ProjectID  string
	Statuses   []models.TaskStatus
	Priority   models.TaskPriority
	AssigneeID string
	ReviewerID string
	Tag        string
	Limit      int
}

// Repository defines the interface for task domain storage operations.
// Mutators with a Tx suffix run inside a caller-owned write transaction so
// a command's store changes and its event appends commit atomically.
type Repository interface {
	// Transaction control
	BeginTx(ctx context.Context) (*sqlx.Tx, error)

	// Project operations
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	UpdateProject(ctx context.Context, project *models.Project) error
	DeleteProject(ctx context.Context, id string) error
	ListProjects(ctx context.Context) ([]*models.Project, error)

	// Task operations
	CreateTask(ctx context.Context, task *models.Task) error
	CreateTaskTx(ctx context.Context, tx *sqlx.Tx, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	GetTaskTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Task, error)
	GetTasksByIDs(ctx context.Context, ids []string) ([]*models.Task, error)
	GetTasksByIDsTx(ctx context.Context, tx *sqlx.Tx, ids []string) ([]*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	UpdateTaskTx(ctx context.Context, tx *sqlx.Tx, task *models.Task) error
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error)
	CountTasksByAssignee(ctx context.Context, agentID string, statuses []models.TaskStatus) (int, error)
	CountTasksByAssigneeTx(ctx context.Context, tx *sqlx.Tx, agentID string, statuses []models.TaskStatus) (int, error)
	CountTasksByReviewer(ctx context.Context, agentID string, statuses []models.TaskStatus) (int, error)
	CountRecurrenceChain(ctx context.Context, tx *sqlx.Tx, progenitorID string) (int, error)

	// Dependency operations
	AddDependency(ctx context.Context, tx *sqlx.Tx, taskID, dependsOnID string) error
	RemoveDependency(ctx context.Context, tx *sqlx.Tx, taskID, dependsOnID string) error
	ListDependencyIDs(ctx context.Context, taskID string) ([]string, error)
	ListDependencyIDsTx(ctx context.Context, tx *sqlx.Tx, taskID string) ([]string, error)
	ListDependentIDs(ctx context.Context, taskID string) ([]string, error)
	ListDependentIDsTx(ctx context.Context, tx *sqlx.Tx, taskID string) ([]string, error)

	// Activity operations
	AddActivity(ctx context.Context, tx *sqlx.Tx, activity *models.TaskActivity) error
	ListActivities(ctx context.Context, taskID string, limit int) ([]*models.TaskActivity, error)

	// Question operations
	CreateQuestion(ctx context.Context, tx *sqlx.Tx, question *models.Question) error
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	UpdateQuestionTx(ctx context.Context, tx *sqlx.Tx, question *models.Question) error
	ListQuestionsByTask(ctx context.Context, taskID string) ([]*models.Question, error)
	ListOpenQuestionsForAgent(ctx context.Context, agentID string) ([]*models.Question, error)
	ListOpenQuestionsByProject(ctx context.Context, projectID string) ([]*models.Question, error)
	CountOpenBlockingTx(ctx context.Context, tx *sqlx.Tx, taskID string) (int, error)
	AddReply(ctx context.Context, tx *sqlx.Tx, reply *models.QuestionReply) error
	ListReplies(ctx context.Context, questionID string) ([]*models.QuestionReply, error)

	// Artifact operations
	AddArtifact(ctx context.Context, artifact *models.Artifact) error
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	ListArtifacts(ctx context.Context, taskID string) ([]*models.Artifact, error)
	DeleteArtifact(ctx context.Context, id string) error

	// Knowledge operations
	UpsertKnowledge(ctx context.Context, entry *models.Knowledge) error
	UpdateKnowledge(ctx context.Context, entry *models.Knowledge) error
	GetKnowledge(ctx context.Context, id string) (*models.Knowledge, error)
	ListKnowledge(ctx context.Context, projectID string) ([]*models.Knowledge, error)
	SearchKnowledge(ctx context.Context, projectID, query string) ([]*models.Knowledge, error)
	DeleteKnowledge(ctx context.Context, id string) error

	// Usage operations
	AddUsage(ctx context.Context, usage *models.Usage) error
	ListUsage(ctx context.Context, taskID string) ([]*models.Usage, error)
	UsageTotals(ctx context.Context, taskID string) (*models.UsageTotals, error)

	Close() error
}
