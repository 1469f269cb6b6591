package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/db/dialect"
	"github.com/opengate/opengate/internal/task/models"
	"github.com/opengate/opengate/internal/task/repository"
)

const taskColumns = `id, project_id, title, description, status, priority,
	assignee_type, assignee_id, reviewer_type, reviewer_id,
	context, output, tags, due_date, scheduled_at,
	recurrence_rule, recurrence_parent_id, status_history, has_open_questions,
	started_review_at, created_by_type, created_by_id, created_at, updated_at`

// CreateTask inserts a task with its own implicit transaction.
func (r *Repository) CreateTask(ctx context.Context, task *models.Task) error {
	return insertTask(ctx, r.db, task)
}

// CreateTaskTx inserts a task inside the caller's transaction.
func (r *Repository) CreateTaskTx(ctx context.Context, tx *sqlx.Tx, task *models.Task) error {
	return insertTask(ctx, tx, task)
}

// GetTask retrieves a task by ID with its dependency list.
func (r *Repository) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return getTask(ctx, r.ro, id)
}

// GetTaskTx retrieves a task inside the caller's transaction, seeing its
// uncommitted writes.
func (r *Repository) GetTaskTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Task, error) {
	return getTask(ctx, tx, id)
}

// GetTasksByIDs retrieves the given tasks; missing IDs are skipped.
func (r *Repository) GetTasksByIDs(ctx context.Context, ids []string) ([]*models.Task, error) {
	return getTasksByIDs(ctx, r.ro, ids)
}

// GetTasksByIDsTx retrieves the given tasks inside the caller's transaction.
func (r *Repository) GetTasksByIDsTx(ctx context.Context, tx *sqlx.Tx, ids []string) ([]*models.Task, error) {
	return getTasksByIDs(ctx, tx, ids)
}

// UpdateTask rewrites all mutable task columns.
func (r *Repository) UpdateTask(ctx context.Context, task *models.Task) error {
	return updateTask(ctx, r.db, task)
}

// UpdateTaskTx rewrites all mutable task columns inside the caller's
// transaction.
func (r *Repository) UpdateTaskTx(ctx context.Context, tx *sqlx.Tx, task *models.Task) error {
	return updateTask(ctx, tx, task)
}

// DeleteTask removes a task and, by cascade, its dependencies, activities,
// questions, and artifacts.
func (r *Repository) DeleteTask(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("task", id)
	}
	return nil
}

// ListTasks returns tasks matching the filter, ordered by priority rank
// (critical first) then recency.
func (r *Repository) ListTasks(ctx context.Context, filter repository.TaskFilter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []any{}

	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if len(filter.Statuses) > 0 {
		query += ` AND status IN (?)`
		args = append(args, filter.Statuses)
	}
	if filter.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, filter.Priority)
	}
	if filter.AssigneeID != "" {
		query += ` AND assignee_id = ? AND assignee_type = 'agent'`
		args = append(args, filter.AssigneeID)
	}
	if filter.ReviewerID != "" {
		query += ` AND reviewer_id = ? AND reviewer_type = 'agent'`
		args = append(args, filter.ReviewerID)
	}
	if filter.Tag != "" {
		// Tags are stored as a JSON string array; a quoted LIKE match is
		// exact for the plain word tags this system uses.
		query += ` AND tags LIKE ?`
		args = append(args, `%"`+filter.Tag+`"%`)
	}
	query += ` ORDER BY CASE priority
			WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4
		END ASC, created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	rows, err := r.ro.QueryxContext(ctx, r.ro.Rebind(expanded), expandedArgs...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	if err := loadDependencies(ctx, r.ro, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CountTasksByAssignee counts tasks assigned to an agent in the given
// statuses.
func (r *Repository) CountTasksByAssignee(ctx context.Context, agentID string, statuses []models.TaskStatus) (int, error) {
	return countTasksByActor(ctx, r.ro, "assignee", agentID, statuses)
}

// CountTasksByAssigneeTx counts inside the caller's transaction so a claim
// sees concurrent claims that already committed.
func (r *Repository) CountTasksByAssigneeTx(ctx context.Context, tx *sqlx.Tx, agentID string, statuses []models.TaskStatus) (int, error) {
	return countTasksByActor(ctx, tx, "assignee", agentID, statuses)
}

// CountTasksByReviewer counts tasks the agent reviews in the given statuses.
func (r *Repository) CountTasksByReviewer(ctx context.Context, agentID string, statuses []models.TaskStatus) (int, error) {
	return countTasksByActor(ctx, r.ro, "reviewer", agentID, statuses)
}

// CountRecurrenceChain counts the progenitor plus every task spawned from
// it, inside the caller's transaction.
func (r *Repository) CountRecurrenceChain(ctx context.Context, tx *sqlx.Tx, progenitorID string) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx, tx.Rebind(`
		SELECT COUNT(*) FROM tasks WHERE id = ? OR recurrence_parent_id = ?
	`), progenitorID, progenitorID).Scan(&count)
	return count, err
}

func insertTask(ctx context.Context, q sqlx.ExtContext, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = models.StatusBacklog
	}
	if task.Priority == "" {
		task.Priority = models.PriorityMedium
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	cols, err := marshalTaskColumns(task)
	if err != nil {
		return err
	}
	assigneeType, assigneeID := refColumns(task.Assignee)
	reviewerType, reviewerID := refColumns(task.Reviewer)

	_, err = q.ExecContext(ctx, q.Rebind(`
		INSERT INTO tasks (id, project_id, title, description, status, priority,
			assignee_type, assignee_id, reviewer_type, reviewer_id,
			context, output, tags, due_date, scheduled_at,
			recurrence_rule, recurrence_parent_id, status_history, has_open_questions,
			started_review_at, created_by_type, created_by_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), task.ID, task.ProjectID, task.Title, task.Description, task.Status, task.Priority,
		assigneeType, assigneeID, reviewerType, reviewerID,
		cols.context, cols.output, cols.tags, task.DueDate, task.ScheduledAt,
		cols.recurrence, task.RecurrenceParentID, cols.history, dialect.BoolToInt(task.HasOpenQuestions),
		task.StartedReviewAt, task.CreatedBy.Type, task.CreatedBy.ID, task.CreatedAt, task.UpdatedAt)
	return err
}

func updateTask(ctx context.Context, q sqlx.ExtContext, task *models.Task) error {
	task.UpdatedAt = time.Now().UTC()

	cols, err := marshalTaskColumns(task)
	if err != nil {
		return err
	}
	assigneeType, assigneeID := refColumns(task.Assignee)
	reviewerType, reviewerID := refColumns(task.Reviewer)

	result, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?,
			assignee_type = ?, assignee_id = ?, reviewer_type = ?, reviewer_id = ?,
			context = ?, output = ?, tags = ?, due_date = ?, scheduled_at = ?,
			recurrence_rule = ?, recurrence_parent_id = ?, status_history = ?,
			has_open_questions = ?, started_review_at = ?, updated_at = ?
		WHERE id = ?
	`), task.Title, task.Description, task.Status, task.Priority,
		assigneeType, assigneeID, reviewerType, reviewerID,
		cols.context, cols.output, cols.tags, task.DueDate, task.ScheduledAt,
		cols.recurrence, task.RecurrenceParentID, cols.history,
		dialect.BoolToInt(task.HasOpenQuestions), task.StartedReviewAt, task.UpdatedAt, task.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("task", task.ID)
	}
	return nil
}

func getTask(ctx context.Context, q sqlx.ExtContext, id string) (*models.Task, error) {
	row := q.QueryRowxContext(ctx, q.Rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("task", id)
	}
	if err != nil {
		return nil, err
	}
	if err := loadDependencies(ctx, q, []*models.Task{task}); err != nil {
		return nil, err
	}
	// Single-task reads return the full snapshot including artifacts.
	task.Artifacts, err = listArtifacts(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return task, nil
}

func getTasksByIDs(ctx context.Context, q sqlx.ExtContext, ids []string) ([]*models.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+taskColumns+` FROM tasks WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryxContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	if err := loadDependencies(ctx, q, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func countTasksByActor(ctx context.Context, q sqlx.ExtContext, role, agentID string, statuses []models.TaskStatus) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM tasks WHERE %s_type = 'agent' AND %s_id = ?`, role, role)
	args := []any{agentID}
	if len(statuses) > 0 {
		query += ` AND status IN (?)`
		args = append(args, statuses)
	}
	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return 0, err
	}
	var count int
	err = q.QueryRowxContext(ctx, q.Rebind(expanded), expandedArgs...).Scan(&count)
	return count, err
}

// taskJSONColumns holds the serialized JSON column values of one task.
type taskJSONColumns struct {
	context    string
	output     string
	tags       string
	history    string
	recurrence string
}

func marshalTaskColumns(task *models.Task) (*taskJSONColumns, error) {
	contextJSON, err := marshalMap(task.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize task context: %w", err)
	}
	outputJSON, err := marshalMap(task.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize task output: %w", err)
	}
	tagsJSON, err := marshalList(task.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize task tags: %w", err)
	}
	historyJSON, err := json.Marshal(emptyHistory(task.StatusHistory))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize status history: %w", err)
	}
	recurrenceJSON := ""
	if task.Recurrence != nil {
		data, err := json.Marshal(task.Recurrence)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize recurrence rule: %w", err)
		}
		recurrenceJSON = string(data)
	}
	return &taskJSONColumns{
		context:    contextJSON,
		output:     outputJSON,
		tags:       tagsJSON,
		history:    string(historyJSON),
		recurrence: recurrenceJSON,
	}, nil
}

func emptyHistory(history []models.StatusHistoryEntry) []models.StatusHistoryEntry {
	if history == nil {
		return []models.StatusHistoryEntry{}
	}
	return history
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	task := &models.Task{}
	var (
		assigneeType, assigneeID   string
		reviewerType, reviewerID   string
		contextJSON, outputJSON    string
		tagsJSON, historyJSON      string
		recurrenceJSON             string
		hasOpenQuestions           int
		createdByType, createdByID string
	)
	if err := row.Scan(
		&task.ID, &task.ProjectID, &task.Title, &task.Description, &task.Status, &task.Priority,
		&assigneeType, &assigneeID, &reviewerType, &reviewerID,
		&contextJSON, &outputJSON, &tagsJSON, &task.DueDate, &task.ScheduledAt,
		&recurrenceJSON, &task.RecurrenceParentID, &historyJSON, &hasOpenQuestions,
		&task.StartedReviewAt, &createdByType, &createdByID, &task.CreatedAt, &task.UpdatedAt,
	); err != nil {
		return nil, err
	}

	task.Assignee = refFromColumns(assigneeType, assigneeID)
	task.Reviewer = refFromColumns(reviewerType, reviewerID)
	task.CreatedBy = models.ActorRef{Type: models.ActorType(createdByType), ID: createdByID}
	task.HasOpenQuestions = hasOpenQuestions == 1

	if err := unmarshalMap(contextJSON, &task.Context); err != nil {
		return nil, fmt.Errorf("failed to deserialize task context: %w", err)
	}
	if err := unmarshalMap(outputJSON, &task.Output); err != nil {
		return nil, fmt.Errorf("failed to deserialize task output: %w", err)
	}
	if err := unmarshalList(tagsJSON, &task.Tags); err != nil {
		return nil, fmt.Errorf("failed to deserialize task tags: %w", err)
	}
	task.StatusHistory = []models.StatusHistoryEntry{}
	if historyJSON != "" && historyJSON != "[]" {
		if err := json.Unmarshal([]byte(historyJSON), &task.StatusHistory); err != nil {
			return nil, fmt.Errorf("failed to deserialize status history: %w", err)
		}
	}
	if recurrenceJSON != "" {
		task.Recurrence = &models.RecurrenceRule{}
		if err := json.Unmarshal([]byte(recurrenceJSON), task.Recurrence); err != nil {
			return nil, fmt.Errorf("failed to deserialize recurrence rule: %w", err)
		}
	}
	task.Dependencies = []string{}
	return task, nil
}

func collectTasks(rows *sqlx.Rows) ([]*models.Task, error) {
	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// loadDependencies fills the Dependencies list of every task in one query.
func loadDependencies(ctx context.Context, q sqlx.ExtContext, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	ids := make([]string, len(tasks))
	index := make(map[string]*models.Task, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
		index[t.ID] = t
	}

	query, args, err := sqlx.In(`
		SELECT task_id, depends_on_task_id FROM task_dependencies
		WHERE task_id IN (?) ORDER BY created_at ASC
	`, ids)
	if err != nil {
		return err
	}
	rows, err := q.QueryxContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var taskID, dependsOn string
		if err := rows.Scan(&taskID, &dependsOn); err != nil {
			return err
		}
		if t, ok := index[taskID]; ok {
			t.Dependencies = append(t.Dependencies, dependsOn)
		}
	}
	return rows.Err()
}

func refColumns(ref *models.ActorRef) (string, string) {
	if ref == nil {
		return "", ""
	}
	return string(ref.Type), ref.ID
}

func refFromColumns(refType, refID string) *models.ActorRef {
	if refType == "" {
		return nil
	}
	return &models.ActorRef{Type: models.ActorType(refType), ID: refID}
}

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMap(s string, dest *map[string]any) error {
	*dest = map[string]any{}
	if s == "" || s == "{}" {
		return nil
	}
	return json.Unmarshal([]byte(s), dest)
}

func marshalList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalList(s string, dest *[]string) error {
	*dest = []string{}
	if s == "" || s == "[]" {
		return nil
	}
	return json.Unmarshal([]byte(s), dest)
}
