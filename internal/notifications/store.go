package notifications

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opengate/opengate/internal/db"
	"github.com/opengate/opengate/internal/db/dialect"
)

// Store provides SQL-backed storage for notifications and the webhook
// delivery log.
type Store struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

// NewStore creates the notification store and its schema.
func NewStore(pool *db.Pool) (*Store, error) {
	s := &Store{db: pool.Writer(), ro: pool.Reader()}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize notifications schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	pk := dialect.AutoIncrementPK(s.db.DriverName())
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS notifications (
		id %s,
		agent_id TEXT NOT NULL,
		event_id INTEGER,
		event_type TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT DEFAULT '',
		read INTEGER NOT NULL DEFAULT 0,
		webhook_status TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_agent_id ON notifications(agent_id, read, id);

	CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id %s,
		agent_id TEXT NOT NULL,
		url TEXT NOT NULL,
		event_type TEXT NOT NULL,
		task_id TEXT DEFAULT '',
		attempt INTEGER NOT NULL DEFAULT 1,
		status_code INTEGER DEFAULT 0,
		success INTEGER NOT NULL DEFAULT 0,
		error TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_agent_id ON webhook_deliveries(agent_id, id);
	CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_task_id ON webhook_deliveries(task_id);
	`, pk, pk)
	_, err := s.db.Exec(schema)
	return err
}

// Insert writes a notification inside the caller's transaction and fills in
// the assigned ID.
func (s *Store) Insert(ctx context.Context, tx *sqlx.Tx, n *Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	var status any
	if n.WebhookStatus != "" {
		status = n.WebhookStatus
	}
	id, err := dialect.InsertReturningID(ctx, tx, `
		INSERT INTO notifications (agent_id, event_id, event_type, title, body, read, webhook_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, n.AgentID, n.EventID, n.EventType, n.Title, n.Body, dialect.BoolToInt(n.Read), status, n.CreatedAt)
	if err != nil {
		return err
	}
	n.ID = id
	return nil
}

// ListByAgent returns an agent's notifications, newest first. With
// unreadOnly set, read rows are excluded.
func (s *Store) ListByAgent(ctx context.Context, agentID string, unreadOnly bool, limit int) ([]*Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	query := `
		SELECT id, agent_id, event_id, event_type, title, body, read, webhook_status, created_at
		FROM notifications WHERE agent_id = ?`
	if unreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY id DESC LIMIT ?`

	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), agentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// Get returns one notification by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Notification, error) {
	row := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT id, agent_id, event_id, event_type, title, body, read, webhook_status, created_at
		FROM notifications WHERE id = ?
	`), id)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("notification not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// MarkRead acks one notification. The agent scope prevents acking another
// agent's inbox.
func (s *Store) MarkRead(ctx context.Context, agentID string, id int64) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE notifications SET read = 1 WHERE id = ? AND agent_id = ?
	`), id, agentID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("notification not found: %d", id)
	}
	return nil
}

// MarkAllRead acks every unread notification of an agent and returns how
// many were acked.
func (s *Store) MarkAllRead(ctx context.Context, agentID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE notifications SET read = 1 WHERE agent_id = ? AND read = 0
	`), agentID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountUnread returns the number of unread notifications for an agent.
func (s *Store) CountUnread(ctx context.Context, agentID string) (int, error) {
	var count int
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT COUNT(*) FROM notifications WHERE agent_id = ? AND read = 0
	`), agentID).Scan(&count)
	return count, err
}

// MarkWebhookResult records the outcome of a notification webhook delivery.
// Success also acks the notification; failure leaves it unread so the agent
// still sees it on poll.
func (s *Store) MarkWebhookResult(ctx context.Context, id int64, delivered bool) error {
	var err error
	if delivered {
		_, err = s.db.ExecContext(ctx, s.db.Rebind(`
			UPDATE notifications SET read = 1, webhook_status = ? WHERE id = ?
		`), WebhookDelivered, id)
	} else {
		_, err = s.db.ExecContext(ctx, s.db.Rebind(`
			UPDATE notifications SET webhook_status = ? WHERE id = ?
		`), WebhookFailed, id)
	}
	return err
}

// LogDelivery appends one webhook attempt to the durable delivery log.
func (s *Store) LogDelivery(ctx context.Context, d *DeliveryLog) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	id, err := dialect.InsertReturningID(ctx, s.db, `
		INSERT INTO webhook_deliveries (agent_id, url, event_type, task_id, attempt, status_code, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.AgentID, d.URL, d.EventType, d.TaskID, d.Attempt, d.StatusCode, dialect.BoolToInt(d.Success), d.Error, d.CreatedAt)
	if err != nil {
		return err
	}
	d.ID = id
	return nil
}

// ListDeliveries returns recent webhook attempts for an agent, newest first.
func (s *Store) ListDeliveries(ctx context.Context, agentID string, limit int) ([]*DeliveryLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, agent_id, url, event_type, task_id, attempt, status_code, success, error, created_at
		FROM webhook_deliveries WHERE agent_id = ? ORDER BY id DESC LIMIT ?
	`), agentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*DeliveryLog
	for rows.Next() {
		d := &DeliveryLog{}
		var success int
		if err := rows.Scan(
			&d.ID, &d.AgentID, &d.URL, &d.EventType, &d.TaskID,
			&d.Attempt, &d.StatusCode, &success, &d.Error, &d.CreatedAt,
		); err != nil {
			return nil, err
		}
		d.Success = success == 1
		result = append(result, d)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*Notification, error) {
	n := &Notification{}
	var read int
	var status sql.NullString
	if err := row.Scan(
		&n.ID, &n.AgentID, &n.EventID, &n.EventType, &n.Title, &n.Body,
		&read, &status, &n.CreatedAt,
	); err != nil {
		return nil, err
	}
	n.Read = read == 1
	n.WebhookStatus = status.String
	return n, nil
}
