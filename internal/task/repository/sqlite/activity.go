package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opengate/opengate/internal/task/models"
)

// AddActivity appends one audit entry inside the caller's transaction.
func (r *Repository) AddActivity(ctx context.Context, tx *sqlx.Tx, activity *models.TaskActivity) error {
	if activity.ID == "" {
		activity.ID = uuid.New().String()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	if activity.ActivityType == "" {
		activity.ActivityType = models.ActivityComment
	}

	metadata, err := marshalMap(activity.Metadata)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO task_activities (id, task_id, author_type, author_id, content, activity_type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`),
		activity.ID, activity.TaskID,
		activity.Author.Type, activity.Author.ID,
		activity.Content, activity.ActivityType, metadata, activity.CreatedAt,
	)
	return err
}

// ListActivities returns a task's audit trail, newest first.
func (r *Repository) ListActivities(ctx context.Context, taskID string, limit int) ([]*models.TaskActivity, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	rows, err := r.ro.QueryxContext(ctx, r.ro.Rebind(`
		SELECT id, task_id, author_type, author_id, content, activity_type, metadata, created_at
		FROM task_activities
		WHERE task_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`), taskID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var activities []*models.TaskActivity
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, activity)
	}
	return activities, rows.Err()
}

func scanActivity(rows *sqlx.Rows) (*models.TaskActivity, error) {
	var (
		activity             models.TaskActivity
		authorType, authorID string
		metadata             string
	)
	if err := rows.Scan(
		&activity.ID, &activity.TaskID,
		&authorType, &authorID,
		&activity.Content, &activity.ActivityType, &metadata, &activity.CreatedAt,
	); err != nil {
		return nil, err
	}

	activity.Author = models.ActorRef{Type: models.ActorType(authorType), ID: authorID}
	if err := unmarshalMap(metadata, &activity.Metadata); err != nil {
		return nil, err
	}
	return &activity, nil
}
