package sqlite

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/opengate/opengate/internal/task/models"
)

// AddUsage appends one token/cost ledger entry.
func (r *Repository) AddUsage(ctx context.Context, usage *models.Usage) error {
	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}

	metadata, err := marshalMap(usage.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO usage_entries (id, task_id, agent_id, model, input_tokens, output_tokens, cost_usd, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		usage.ID, usage.TaskID, usage.AgentID, usage.Model,
		usage.InputTokens, usage.OutputTokens, usage.CostUSD,
		metadata, usage.CreatedAt,
	)
	return err
}

// ListUsage returns a task's usage entries, oldest first.
func (r *Repository) ListUsage(ctx context.Context, taskID string) ([]*models.Usage, error) {
	rows, err := r.ro.QueryxContext(ctx, r.ro.Rebind(`
		SELECT id, task_id, agent_id, model, input_tokens, output_tokens, cost_usd, metadata, created_at
		FROM usage_entries
		WHERE task_id = ?
		ORDER BY created_at ASC, id ASC
	`), taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.Usage
	for rows.Next() {
		var (
			entry    models.Usage
			metadata string
		)
		if err := rows.Scan(
			&entry.ID, &entry.TaskID, &entry.AgentID, &entry.Model,
			&entry.InputTokens, &entry.OutputTokens, &entry.CostUSD,
			&metadata, &entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := unmarshalMap(metadata, &entry.Metadata); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// UsageTotals sums a task's usage entries.
func (r *Repository) UsageTotals(ctx context.Context, taskID string) (*models.UsageTotals, error) {
	totals := &models.UsageTotals{}
	err := r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM usage_entries WHERE task_id = ?
	`), taskID).Scan(&totals.InputTokens, &totals.OutputTokens, &totals.CostUSD)
	if err != nil {
		return nil, err
	}
	return totals, nil
}
