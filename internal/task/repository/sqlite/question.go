package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/db/dialect"
	"github.com/opengate/opengate/internal/task/models"
)

const questionColumns = `id, task_id, question, question_type, context,
	asked_by_type, asked_by_id, target_type, target_id, required_capability,
	blocking, status, resolution, resolved_by_type, resolved_by_id,
	dismissed_reason, created_at, resolved_at`

// CreateQuestion inserts a question inside the caller's transaction.
func (r *Repository) CreateQuestion(ctx context.Context, tx *sqlx.Tx, question *models.Question) error {
	if question.ID == "" {
		question.ID = uuid.New().String()
	}
	if question.CreatedAt.IsZero() {
		question.CreatedAt = time.Now().UTC()
	}
	if question.Status == "" {
		question.Status = models.QuestionOpen
	}

	targetType, targetID := refColumns(question.Target)
	resolvedType, resolvedID := refColumns(question.ResolvedBy)

	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO questions (`+questionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		question.ID, question.TaskID, question.Question, question.QuestionType, question.Context,
		question.AskedBy.Type, question.AskedBy.ID, targetType, targetID, question.RequiredCapability,
		dialect.BoolToInt(question.Blocking), question.Status, question.Resolution, resolvedType, resolvedID,
		question.DismissedReason, question.CreatedAt, question.ResolvedAt,
	)
	return err
}

// GetQuestion fetches one question by ID.
func (r *Repository) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	row := r.ro.QueryRowxContext(ctx, r.ro.Rebind(`
		SELECT `+questionColumns+` FROM questions WHERE id = ?
	`), id)
	question, err := scanQuestion(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("question", id)
	}
	if err != nil {
		return nil, err
	}
	return question, nil
}

// UpdateQuestionTx rewrites a question's mutable fields inside the caller's
// transaction.
func (r *Repository) UpdateQuestionTx(ctx context.Context, tx *sqlx.Tx, question *models.Question) error {
	targetType, targetID := refColumns(question.Target)
	resolvedType, resolvedID := refColumns(question.ResolvedBy)

	result, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE questions SET
			target_type = ?, target_id = ?,
			blocking = ?, status = ?, resolution = ?,
			resolved_by_type = ?, resolved_by_id = ?,
			dismissed_reason = ?, resolved_at = ?
		WHERE id = ?
	`),
		targetType, targetID,
		dialect.BoolToInt(question.Blocking), question.Status, question.Resolution,
		resolvedType, resolvedID,
		question.DismissedReason, question.ResolvedAt,
		question.ID,
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("question", question.ID)
	}
	return nil
}

// ListQuestionsByTask returns all of a task's questions, oldest first.
func (r *Repository) ListQuestionsByTask(ctx context.Context, taskID string) ([]*models.Question, error) {
	rows, err := r.ro.QueryxContext(ctx, r.ro.Rebind(`
		SELECT `+questionColumns+` FROM questions WHERE task_id = ? ORDER BY created_at ASC, id ASC
	`), taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectQuestions(rows)
}

// ListOpenQuestionsForAgent returns open questions targeted at an agent,
// oldest first.
func (r *Repository) ListOpenQuestionsForAgent(ctx context.Context, agentID string) ([]*models.Question, error) {
	rows, err := r.ro.QueryxContext(ctx, r.ro.Rebind(`
		SELECT `+questionColumns+` FROM questions
		WHERE target_type = 'agent' AND target_id = ? AND status = 'open'
		ORDER BY created_at ASC, id ASC
	`), agentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectQuestions(rows)
}

// ListOpenQuestionsByProject returns open questions on a project's tasks,
// oldest first.
func (r *Repository) ListOpenQuestionsByProject(ctx context.Context, projectID string) ([]*models.Question, error) {
	rows, err := r.ro.QueryxContext(ctx, r.ro.Rebind(`
		SELECT q.id, q.task_id, q.question, q.question_type, q.context,
			q.asked_by_type, q.asked_by_id, q.target_type, q.target_id, q.required_capability,
			q.blocking, q.status, q.resolution, q.resolved_by_type, q.resolved_by_id,
			q.dismissed_reason, q.created_at, q.resolved_at
		FROM questions q
		JOIN tasks t ON t.id = q.task_id
		WHERE t.project_id = ? AND q.status = 'open'
		ORDER BY q.created_at ASC, q.id ASC
	`), projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectQuestions(rows)
}

// CountOpenBlockingTx counts a task's open blocking questions inside the
// caller's transaction.
func (r *Repository) CountOpenBlockingTx(ctx context.Context, tx *sqlx.Tx, taskID string) (int, error) {
	var count int
	err := tx.QueryRowxContext(ctx, tx.Rebind(`
		SELECT COUNT(*) FROM questions WHERE task_id = ? AND status = 'open' AND blocking = 1
	`), taskID).Scan(&count)
	return count, err
}

// AddReply appends a reply to a question thread inside the caller's
// transaction.
func (r *Repository) AddReply(ctx context.Context, tx *sqlx.Tx, reply *models.QuestionReply) error {
	if reply.ID == "" {
		reply.ID = uuid.New().String()
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = time.Now().UTC()
	}

	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO question_replies (id, question_id, author_type, author_id, body, is_resolution, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`),
		reply.ID, reply.QuestionID,
		reply.Author.Type, reply.Author.ID,
		reply.Body, dialect.BoolToInt(reply.IsResolution), reply.CreatedAt,
	)
	return err
}

// ListReplies returns a question's thread, oldest first.
func (r *Repository) ListReplies(ctx context.Context, questionID string) ([]*models.QuestionReply, error) {
	rows, err := r.ro.QueryxContext(ctx, r.ro.Rebind(`
		SELECT id, question_id, author_type, author_id, body, is_resolution, created_at
		FROM question_replies
		WHERE question_id = ?
		ORDER BY created_at ASC, id ASC
	`), questionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var replies []*models.QuestionReply
	for rows.Next() {
		var (
			reply                models.QuestionReply
			authorType, authorID string
			isResolution         int
		)
		if err := rows.Scan(
			&reply.ID, &reply.QuestionID,
			&authorType, &authorID,
			&reply.Body, &isResolution, &reply.CreatedAt,
		); err != nil {
			return nil, err
		}
		reply.Author = models.ActorRef{Type: models.ActorType(authorType), ID: authorID}
		reply.IsResolution = isResolution == 1
		replies = append(replies, &reply)
	}
	return replies, rows.Err()
}

func collectQuestions(rows *sqlx.Rows) ([]*models.Question, error) {
	var questions []*models.Question
	for rows.Next() {
		question, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, question)
	}
	return questions, rows.Err()
}

func scanQuestion(row rowScanner) (*models.Question, error) {
	var (
		q                          models.Question
		askedByType, askedByID     string
		targetType, targetID       string
		resolvedByType, resolvedBy string
		blocking                   int
		resolvedAt                 sql.NullTime
	)
	if err := row.Scan(
		&q.ID, &q.TaskID, &q.Question, &q.QuestionType, &q.Context,
		&askedByType, &askedByID, &targetType, &targetID, &q.RequiredCapability,
		&blocking, &q.Status, &q.Resolution, &resolvedByType, &resolvedBy,
		&q.DismissedReason, &q.CreatedAt, &resolvedAt,
	); err != nil {
		return nil, err
	}

	q.AskedBy = models.ActorRef{Type: models.ActorType(askedByType), ID: askedByID}
	q.Target = refFromColumns(targetType, targetID)
	q.ResolvedBy = refFromColumns(resolvedByType, resolvedBy)
	q.Blocking = blocking == 1
	if resolvedAt.Valid {
		t := resolvedAt.Time
		q.ResolvedAt = &t
	}
	return &q, nil
}
