// Package store persists registered agents.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opengate/opengate/internal/agent/models"
	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/db"
)

const agentColumns = `id, name, api_key_hash, skills, capabilities, seniority, role,
	max_concurrent_tasks, webhook_url, webhook_events, stale_timeout_minutes,
	last_seen_at, owner_id, tags, created_at`

// Store provides SQL-backed agent storage.
type Store struct {
	db *sqlx.DB
	ro *sqlx.DB
}

// New creates the store over a shared connection pool and initializes the
// schema.
func New(pool *db.Pool) (*Store, error) {
	s := &Store{db: pool.Writer(), ro: pool.Reader()}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		api_key_hash TEXT NOT NULL,
		skills TEXT DEFAULT '[]',
		capabilities TEXT DEFAULT '[]',
		seniority TEXT NOT NULL DEFAULT 'mid',
		role TEXT NOT NULL DEFAULT 'executor',
		max_concurrent_tasks INTEGER NOT NULL DEFAULT 1,
		webhook_url TEXT DEFAULT '',
		webhook_events TEXT DEFAULT '[]',
		stale_timeout_minutes INTEGER NOT NULL DEFAULT 240,
		last_seen_at TIMESTAMP,
		owner_id TEXT DEFAULT '',
		tags TEXT DEFAULT '[]',
		created_at TIMESTAMP NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_api_key_hash ON agents(api_key_hash);
	CREATE INDEX IF NOT EXISTS idx_agents_name ON agents(name);
	`)
	return err
}

// Create registers a new agent.
func (s *Store) Create(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if agent.Seniority == "" {
		agent.Seniority = models.SeniorityMid
	}
	if agent.Role == "" {
		agent.Role = models.RoleExecutor
	}
	if agent.MaxConcurrentTasks <= 0 {
		agent.MaxConcurrentTasks = 1
	}
	if agent.StaleTimeoutMins <= 0 {
		agent.StaleTimeoutMins = models.DefaultStaleTimeoutMinutes
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}

	skills, capabilities, events, tags, err := marshalAgentLists(agent)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		agent.ID, agent.Name, agent.APIKeyHash, skills, capabilities,
		agent.Seniority, agent.Role, agent.MaxConcurrentTasks,
		agent.WebhookURL, events, agent.StaleTimeoutMins,
		agent.LastSeenAt, agent.OwnerID, tags, agent.CreatedAt,
	)
	if err != nil && strings.Contains(err.Error(), "idx_agents_api_key_hash") {
		return apperrors.Validation("api key already registered")
	}
	return err
}

// Get fetches one agent by ID.
func (s *Store) Get(ctx context.Context, id string) (*models.Agent, error) {
	return s.getWhere(ctx, "id = ?", id, "agent", id)
}

// GetByAPIKeyHash resolves the agent owning an API key hash.
func (s *Store) GetByAPIKeyHash(ctx context.Context, hash string) (*models.Agent, error) {
	return s.getWhere(ctx, "api_key_hash = ?", hash, "agent", "by api key")
}

// GetByName fetches one agent by name. Names are not unique; the oldest
// registration wins.
func (s *Store) GetByName(ctx context.Context, name string) (*models.Agent, error) {
	return s.getWhere(ctx, "name = ?", name, "agent", name)
}

func (s *Store) getWhere(ctx context.Context, where string, arg any, resource, label string) (*models.Agent, error) {
	row := s.ro.QueryRowxContext(ctx, s.ro.Rebind(`
		SELECT `+agentColumns+` FROM agents WHERE `+where+` ORDER BY created_at ASC LIMIT 1
	`), arg)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound(resource, label)
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// Update rewrites an agent's mutable columns.
func (s *Store) Update(ctx context.Context, agent *models.Agent) error {
	skills, capabilities, events, tags, err := marshalAgentLists(agent)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE agents SET name = ?, skills = ?, capabilities = ?, seniority = ?, role = ?,
			max_concurrent_tasks = ?, webhook_url = ?, webhook_events = ?,
			stale_timeout_minutes = ?, owner_id = ?, tags = ?
		WHERE id = ?
	`),
		agent.Name, skills, capabilities, agent.Seniority, agent.Role,
		agent.MaxConcurrentTasks, agent.WebhookURL, events,
		agent.StaleTimeoutMins, agent.OwnerID, tags, agent.ID,
	)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("agent", agent.ID)
	}
	return nil
}

// UpdateLastSeen moves an agent's heartbeat forward. Last write wins.
func (s *Store) UpdateLastSeen(ctx context.Context, id string, seenAt time.Time) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE agents SET last_seen_at = ? WHERE id = ?
	`), seenAt.UTC(), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("agent", id)
	}
	return nil
}

// List returns all registered agents, oldest first.
func (s *Store) List(ctx context.Context) ([]*models.Agent, error) {
	rows, err := s.ro.QueryxContext(ctx, `
		SELECT `+agentColumns+` FROM agents ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var agents []*models.Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	agent := &models.Agent{}
	var (
		skills, capabilities string
		events, tags         string
		lastSeen             sql.NullTime
	)
	if err := row.Scan(
		&agent.ID, &agent.Name, &agent.APIKeyHash, &skills, &capabilities,
		&agent.Seniority, &agent.Role, &agent.MaxConcurrentTasks,
		&agent.WebhookURL, &events, &agent.StaleTimeoutMins,
		&lastSeen, &agent.OwnerID, &tags, &agent.CreatedAt,
	); err != nil {
		return nil, err
	}

	if lastSeen.Valid {
		t := lastSeen.Time
		agent.LastSeenAt = &t
	}
	if err := unmarshalStrings(skills, &agent.Skills); err != nil {
		return nil, err
	}
	if err := unmarshalStrings(capabilities, &agent.Capabilities); err != nil {
		return nil, err
	}
	if err := unmarshalStrings(events, &agent.WebhookEvents); err != nil {
		return nil, err
	}
	if err := unmarshalStrings(tags, &agent.Tags); err != nil {
		return nil, err
	}
	return agent, nil
}

func marshalAgentLists(agent *models.Agent) (skills, capabilities, events, tags string, err error) {
	if skills, err = marshalStrings(agent.Skills); err != nil {
		return
	}
	if capabilities, err = marshalStrings(agent.Capabilities); err != nil {
		return
	}
	if events, err = marshalStrings(agent.WebhookEvents); err != nil {
		return
	}
	tags, err = marshalStrings(agent.Tags)
	return
}

func marshalStrings(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalStrings(s string, dest *[]string) error {
	*dest = []string{}
	if s == "" || s == "[]" {
		return nil
	}
	return json.Unmarshal([]byte(s), dest)
}
