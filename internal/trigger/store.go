package trigger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/db"
	"github.com/opengate/opengate/internal/db/dialect"
)

const triggerColumns = `id, project_id, name, action_type, action_config, secret_hash, enabled, created_at`

// Store provides SQL-backed storage for triggers and their invocation log.
type Store struct {
	db *sqlx.DB
	ro *sqlx.DB
}

// NewStore creates the store over a shared connection pool and initializes
// the schema.
func NewStore(pool *db.Pool) (*Store, error) {
	s := &Store{db: pool.Writer(), ro: pool.Reader()}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize trigger schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS webhook_triggers (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		action_type TEXT NOT NULL,
		action_config TEXT DEFAULT '{}',
		secret_hash TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_webhook_triggers_project ON webhook_triggers(project_id);

	CREATE TABLE IF NOT EXISTS trigger_invocations (
		id %s,
		trigger_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT DEFAULT '',
		task_id TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trigger_invocations_trigger ON trigger_invocations(trigger_id, id);
	`, dialect.AutoIncrementPK(s.db.DriverName()))
	_, err := s.db.Exec(schema)
	return err
}

// Create persists a new trigger.
func (s *Store) Create(ctx context.Context, t *Trigger) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	config, err := marshalConfig(t.ActionConfig)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO webhook_triggers (`+triggerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), t.ID, t.ProjectID, t.Name, t.ActionType, config, t.SecretHash, t.Enabled, t.CreatedAt)
	return err
}

// Get fetches one trigger by ID.
func (s *Store) Get(ctx context.Context, id string) (*Trigger, error) {
	row := s.ro.QueryRowxContext(ctx, s.ro.Rebind(`
		SELECT `+triggerColumns+` FROM webhook_triggers WHERE id = ?
	`), id)
	t, err := scanTrigger(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound("trigger", id)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListByProject returns a project's triggers, oldest first.
func (s *Store) ListByProject(ctx context.Context, projectID string) ([]*Trigger, error) {
	rows, err := s.ro.QueryxContext(ctx, s.ro.Rebind(`
		SELECT `+triggerColumns+` FROM webhook_triggers
		WHERE project_id = ? ORDER BY created_at ASC, id ASC
	`), projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var triggers []*Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// SetEnabled flips a trigger's enabled flag.
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE webhook_triggers SET enabled = ? WHERE id = ?
	`), enabled, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("trigger", id)
	}
	return nil
}

// Delete removes a trigger. Its invocation log is kept for audit.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM webhook_triggers WHERE id = ?
	`), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("trigger", id)
	}
	return nil
}

// LogInvocation appends one row to the invocation log.
func (s *Store) LogInvocation(ctx context.Context, inv *Invocation) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	id, err := dialect.InsertReturningID(ctx, tx, `
		INSERT INTO trigger_invocations (trigger_id, outcome, detail, task_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, inv.TriggerID, inv.Outcome, inv.Detail, inv.TaskID, inv.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	inv.ID = id
	return nil
}

// ListInvocations returns a trigger's invocation log, newest first, capped
// at limit.
func (s *Store) ListInvocations(ctx context.Context, triggerID string, limit int) ([]*Invocation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.ro.QueryxContext(ctx, s.ro.Rebind(`
		SELECT id, trigger_id, outcome, detail, task_id, created_at
		FROM trigger_invocations WHERE trigger_id = ? ORDER BY id DESC LIMIT ?
	`), triggerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var invocations []*Invocation
	for rows.Next() {
		inv := &Invocation{}
		if err := rows.Scan(&inv.ID, &inv.TriggerID, &inv.Outcome, &inv.Detail, &inv.TaskID, &inv.CreatedAt); err != nil {
			return nil, err
		}
		invocations = append(invocations, inv)
	}
	return invocations, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row rowScanner) (*Trigger, error) {
	t := &Trigger{}
	var config string
	if err := row.Scan(
		&t.ID, &t.ProjectID, &t.Name, &t.ActionType, &config,
		&t.SecretHash, &t.Enabled, &t.CreatedAt,
	); err != nil {
		return nil, err
	}
	if config != "" && config != "{}" {
		if err := json.Unmarshal([]byte(config), &t.ActionConfig); err != nil {
			return nil, fmt.Errorf("failed to deserialize trigger config: %w", err)
		}
	}
	return t, nil
}

func marshalConfig(config map[string]any) (string, error) {
	if config == nil {
		config = map[string]any{}
	}
	data, err := json.Marshal(config)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
