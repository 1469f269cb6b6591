package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/task/models"
)

// AddArtifact attaches an output artifact to a task.
func (r *Repository) AddArtifact(ctx context.Context, artifact *models.Artifact) error {
	if artifact.ID == "" {
		artifact.ID = uuid.New().String()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}
	if artifact.ArtifactType == "" {
		artifact.ArtifactType = models.ArtifactText
	}

	metadata, err := marshalMap(artifact.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO artifacts (id, task_id, name, artifact_type, content, metadata, created_by_type, created_by_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		artifact.ID, artifact.TaskID, artifact.Name, artifact.ArtifactType,
		artifact.Content, metadata,
		artifact.CreatedBy.Type, artifact.CreatedBy.ID, artifact.CreatedAt,
	)
	return err
}

// GetArtifact fetches one artifact by ID.
func (r *Repository) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	row := r.ro.QueryRowxContext(ctx, r.ro.Rebind(`
		SELECT id, task_id, name, artifact_type, content, metadata, created_by_type, created_by_id, created_at
		FROM artifacts WHERE id = ?
	`), id)
	artifact, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("artifact", id)
	}
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

// ListArtifacts returns a task's artifacts, oldest first.
func (r *Repository) ListArtifacts(ctx context.Context, taskID string) ([]*models.Artifact, error) {
	return listArtifacts(ctx, r.ro, taskID)
}

func listArtifacts(ctx context.Context, q sqlx.ExtContext, taskID string) ([]*models.Artifact, error) {
	rows, err := q.QueryxContext(ctx, q.Rebind(`
		SELECT id, task_id, name, artifact_type, content, metadata, created_by_type, created_by_id, created_at
		FROM artifacts WHERE task_id = ? ORDER BY created_at ASC, id ASC
	`), taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var artifacts []*models.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

// DeleteArtifact removes one artifact.
func (r *Repository) DeleteArtifact(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM artifacts WHERE id = ?`), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("artifact", id)
	}
	return nil
}

func scanArtifact(row rowScanner) (*models.Artifact, error) {
	var (
		artifact               models.Artifact
		metadata               string
		createdType, createdID string
	)
	if err := row.Scan(
		&artifact.ID, &artifact.TaskID, &artifact.Name, &artifact.ArtifactType,
		&artifact.Content, &metadata,
		&createdType, &createdID, &artifact.CreatedAt,
	); err != nil {
		return nil, err
	}

	artifact.CreatedBy = models.ActorRef{Type: models.ActorType(createdType), ID: createdID}
	if err := unmarshalMap(metadata, &artifact.Metadata); err != nil {
		return nil, err
	}
	return &artifact, nil
}
