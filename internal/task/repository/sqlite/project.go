package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/task/models"
)

// CreateProject creates a new project.
func (r *Repository) CreateProject(ctx context.Context, project *models.Project) error {
	if project.ID == "" {
		project.ID = uuid.New().String()
	}
	if project.Status == "" {
		project.Status = models.ProjectActive
	}
	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO projects (id, name, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), project.ID, project.Name, project.Description, project.Status, project.CreatedAt, project.UpdatedAt)
	return err
}

// GetProject retrieves a project by ID.
func (r *Repository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	project := &models.Project{}
	err := r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT id, name, description, status, created_at, updated_at
		FROM projects WHERE id = ?
	`), id).Scan(
		&project.ID, &project.Name, &project.Description, &project.Status,
		&project.CreatedAt, &project.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("project", id)
	}
	if err != nil {
		return nil, err
	}
	return project, nil
}

// UpdateProject updates a project's name, description, and status.
func (r *Repository) UpdateProject(ctx context.Context, project *models.Project) error {
	project.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE projects SET name = ?, description = ?, status = ?, updated_at = ?
		WHERE id = ?
	`), project.Name, project.Description, project.Status, project.UpdatedAt, project.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("project", project.ID)
	}
	return nil
}

// DeleteProject removes a project and, by cascade, its tasks and knowledge.
func (r *Repository) DeleteProject(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM projects WHERE id = ?`), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("project", id)
	}
	return nil
}

// ListProjects returns all projects, newest first.
func (r *Repository) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := r.ro.QueryContext(ctx, `
		SELECT id, name, description, status, created_at, updated_at
		FROM projects ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*models.Project
	for rows.Next() {
		project := &models.Project{}
		if err := rows.Scan(
			&project.ID, &project.Name, &project.Description, &project.Status,
			&project.CreatedAt, &project.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, project)
	}
	return result, rows.Err()
}
