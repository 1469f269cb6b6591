// Package store persists the durable event log.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opengate/opengate/internal/db"
	"github.com/opengate/opengate/internal/db/dialect"
	"github.com/opengate/opengate/internal/events"
	"github.com/opengate/opengate/internal/task/models"
)

// Store provides SQL-backed storage for the event log.
type Store struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

// New creates the event store and its schema.
func New(pool *db.Pool) (*Store, error) {
	s := &Store{db: pool.Writer(), ro: pool.Reader()}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize events schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS events (
		id %s,
		event_type TEXT NOT NULL,
		project_id TEXT NOT NULL DEFAULT '',
		task_id TEXT DEFAULT '',
		actor_type TEXT NOT NULL DEFAULT 'system',
		actor_id TEXT DEFAULT '',
		payload TEXT DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_project_id ON events(project_id, id);
	CREATE INDEX IF NOT EXISTS idx_events_task_id ON events(task_id, id);
	`, dialect.AutoIncrementPK(s.db.DriverName()))
	_, err := s.db.Exec(schema)
	return err
}

// Append writes the event inside the caller's transaction and fills in the
// assigned sequence ID. Events appended in one transaction become visible
// to readers in ID order.
func (s *Store) Append(ctx context.Context, tx *sqlx.Tx, evt *events.Event) error {
	payloadJSON, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("failed to serialize event payload: %w", err)
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}

	id, err := dialect.InsertReturningID(ctx, tx, `
		INSERT INTO events (event_type, project_id, task_id, actor_type, actor_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, evt.EventType, evt.ProjectID, evt.TaskID, evt.Actor.Type, evt.Actor.ID, string(payloadJSON), evt.CreatedAt)
	if err != nil {
		return err
	}
	evt.ID = id
	return nil
}

// ListByProject returns events for a project with ID greater than sinceID,
// oldest first, capped at limit.
func (s *Store) ListByProject(ctx context.Context, projectID string, sinceID int64, limit int) ([]*events.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, event_type, project_id, task_id, actor_type, actor_id, payload, created_at
		FROM events WHERE project_id = ? AND id > ? ORDER BY id ASC LIMIT ?
	`), projectID, sinceID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*events.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, evt)
	}
	return result, rows.Err()
}

// ListByTask returns the event trail of one task, oldest first, capped at
// limit.
func (s *Store) ListByTask(ctx context.Context, taskID string, limit int) ([]*events.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, event_type, project_id, task_id, actor_type, actor_id, payload, created_at
		FROM events WHERE task_id = ? ORDER BY id ASC LIMIT ?
	`), taskID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*events.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, evt)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*events.Event, error) {
	evt := &events.Event{}
	var actorType, payloadJSON string
	if err := row.Scan(
		&evt.ID, &evt.EventType, &evt.ProjectID, &evt.TaskID,
		&actorType, &evt.Actor.ID, &payloadJSON, &evt.CreatedAt,
	); err != nil {
		return nil, err
	}
	evt.Actor.Type = models.ActorType(actorType)
	if payloadJSON != "" && payloadJSON != "{}" {
		if err := json.Unmarshal([]byte(payloadJSON), &evt.Payload); err != nil {
			return nil, fmt.Errorf("failed to deserialize event payload: %w", err)
		}
	}
	if name, ok := evt.Payload["actor_name"].(string); ok {
		evt.Actor.Name = name
	}
	return evt, nil
}
