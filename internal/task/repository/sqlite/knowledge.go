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

const knowledgeColumns = `id, project_id, title, content, tags, created_by_type, created_by_id, created_at, updated_at`

// UpsertKnowledge inserts a knowledge entry, or replaces the content and
// tags of the entry with the same (project, title). The entry keeps its
// original ID, creator, and creation time across upserts.
func (r *Repository) UpsertKnowledge(ctx context.Context, entry *models.Knowledge) error {
	now := time.Now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	tags, err := marshalList(entry.Tags)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE knowledge SET content = ?, tags = ?, updated_at = ?
		WHERE project_id = ? AND title = ?
	`), entry.Content, tags, entry.UpdatedAt, entry.ProjectID, entry.Title)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return r.reloadKnowledge(ctx, entry)
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO knowledge (`+knowledgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		entry.ID, entry.ProjectID, entry.Title, entry.Content, tags,
		entry.CreatedBy.Type, entry.CreatedBy.ID, entry.CreatedAt, entry.UpdatedAt,
	)
	return err
}

// GetKnowledge fetches one knowledge entry by ID.
func (r *Repository) GetKnowledge(ctx context.Context, id string) (*models.Knowledge, error) {
	row := r.ro.QueryRowxContext(ctx, r.ro.Rebind(`
		SELECT `+knowledgeColumns+` FROM knowledge WHERE id = ?
	`), id)
	entry, err := scanKnowledge(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("knowledge", id)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// UpdateKnowledge rewrites an entry's title, content, and tags by ID.
func (r *Repository) UpdateKnowledge(ctx context.Context, entry *models.Knowledge) error {
	entry.UpdatedAt = time.Now().UTC()
	tags, err := marshalList(entry.Tags)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE knowledge SET title = ?, content = ?, tags = ?, updated_at = ?
		WHERE id = ?
	`), entry.Title, entry.Content, tags, entry.UpdatedAt, entry.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("knowledge", entry.ID)
	}
	return nil
}

// ListKnowledge returns a project's knowledge entries, most recently
// updated first.
func (r *Repository) ListKnowledge(ctx context.Context, projectID string) ([]*models.Knowledge, error) {
	rows, err := r.ro.QueryxContext(ctx, r.ro.Rebind(`
		SELECT `+knowledgeColumns+` FROM knowledge
		WHERE project_id = ?
		ORDER BY updated_at DESC, id DESC
	`), projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectKnowledge(rows)
}

// SearchKnowledge matches a project's entries by substring against title,
// content, and tags.
func (r *Repository) SearchKnowledge(ctx context.Context, projectID, query string) ([]*models.Knowledge, error) {
	like := dialect.Like(r.ro.DriverName())
	pattern := "%" + query + "%"

	rows, err := r.ro.QueryxContext(ctx, r.ro.Rebind(`
		SELECT `+knowledgeColumns+` FROM knowledge
		WHERE project_id = ? AND (title `+like+` ? OR content `+like+` ? OR tags `+like+` ?)
		ORDER BY updated_at DESC, id DESC
	`), projectID, pattern, pattern, pattern)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectKnowledge(rows)
}

// DeleteKnowledge removes one knowledge entry.
func (r *Repository) DeleteKnowledge(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM knowledge WHERE id = ?`), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("knowledge", id)
	}
	return nil
}

// reloadKnowledge refreshes an upserted entry with the stored identity of
// the row it replaced.
func (r *Repository) reloadKnowledge(ctx context.Context, entry *models.Knowledge) error {
	row := r.db.QueryRowxContext(ctx, r.db.Rebind(`
		SELECT `+knowledgeColumns+` FROM knowledge WHERE project_id = ? AND title = ?
	`), entry.ProjectID, entry.Title)
	stored, err := scanKnowledge(row)
	if err != nil {
		return err
	}
	*entry = *stored
	return nil
}

func collectKnowledge(rows *sqlx.Rows) ([]*models.Knowledge, error) {
	var entries []*models.Knowledge
	for rows.Next() {
		entry, err := scanKnowledge(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanKnowledge(row rowScanner) (*models.Knowledge, error) {
	var (
		entry                  models.Knowledge
		tags                   string
		createdType, createdID string
	)
	if err := row.Scan(
		&entry.ID, &entry.ProjectID, &entry.Title, &entry.Content, &tags,
		&createdType, &createdID, &entry.CreatedAt, &entry.UpdatedAt,
	); err != nil {
		return nil, err
	}

	entry.CreatedBy = models.ActorRef{Type: models.ActorType(createdType), ID: createdID}
	if err := unmarshalList(tags, &entry.Tags); err != nil {
		return nil, err
	}
	return &entry, nil
}
