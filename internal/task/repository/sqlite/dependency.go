package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/opengate/opengate/internal/common/errors"
)

// AddDependency records that taskID depends on dependsOnID. Duplicate edges
// are rejected as validation errors.
func (r *Repository) AddDependency(ctx context.Context, tx *sqlx.Tx, taskID, dependsOnID string) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO task_dependencies (task_id, depends_on_task_id, created_at)
		VALUES (?, ?, ?)
	`), taskID, dependsOnID, time.Now().UTC())
	if err != nil && isUniqueViolation(err) {
		return apperrors.Validation("dependency already exists")
	}
	return err
}

// RemoveDependency deletes one dependency edge.
func (r *Repository) RemoveDependency(ctx context.Context, tx *sqlx.Tx, taskID, dependsOnID string) error {
	result, err := tx.ExecContext(ctx, tx.Rebind(`
		DELETE FROM task_dependencies WHERE task_id = ? AND depends_on_task_id = ?
	`), taskID, dependsOnID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("dependency", taskID+" -> "+dependsOnID)
	}
	return nil
}

// ListDependencyIDs returns the IDs of the tasks taskID depends on.
func (r *Repository) ListDependencyIDs(ctx context.Context, taskID string) ([]string, error) {
	return listEdgeIDs(ctx, r.ro, `SELECT depends_on_task_id FROM task_dependencies WHERE task_id = ? ORDER BY created_at ASC`, taskID)
}

// ListDependencyIDsTx is ListDependencyIDs inside the caller's transaction.
func (r *Repository) ListDependencyIDsTx(ctx context.Context, tx *sqlx.Tx, taskID string) ([]string, error) {
	return listEdgeIDs(ctx, tx, `SELECT depends_on_task_id FROM task_dependencies WHERE task_id = ? ORDER BY created_at ASC`, taskID)
}

// ListDependentIDs returns the IDs of the tasks that depend on taskID.
func (r *Repository) ListDependentIDs(ctx context.Context, taskID string) ([]string, error) {
	return listEdgeIDs(ctx, r.ro, `SELECT task_id FROM task_dependencies WHERE depends_on_task_id = ? ORDER BY created_at ASC`, taskID)
}

// ListDependentIDsTx returns the IDs of the tasks that depend on taskID,
// inside the caller's transaction.
func (r *Repository) ListDependentIDsTx(ctx context.Context, tx *sqlx.Tx, taskID string) ([]string, error) {
	return listEdgeIDs(ctx, tx, `SELECT task_id FROM task_dependencies WHERE depends_on_task_id = ? ORDER BY created_at ASC`, taskID)
}

func listEdgeIDs(ctx context.Context, q sqlx.ExtContext, query, id string) ([]string, error) {
	rows, err := q.QueryxContext(ctx, q.Rebind(query), id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var edgeID string
		if err := rows.Scan(&edgeID); err != nil {
			return nil, err
		}
		ids = append(ids, edgeID)
	}
	return ids, rows.Err()
}

// isUniqueViolation detects duplicate-key errors across both drivers
// without importing their error types here.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
