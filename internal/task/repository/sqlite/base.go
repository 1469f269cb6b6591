// Package sqlite provides the SQL-backed task domain repository.
package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/opengate/opengate/internal/db"
	"github.com/opengate/opengate/internal/task/repository"
)

// Repository provides SQL-backed task domain storage.
type Repository struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader (read-only pool)
}

var _ repository.Repository = (*Repository)(nil)

// New creates the repository over a shared connection pool and initializes
// the schema.
func New(pool *db.Pool) (*Repository, error) {
	repo := &Repository{db: pool.Writer(), ro: pool.Reader()}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close is a no-op; the pool owns the connections.
func (r *Repository) Close() error {
	return nil
}

// BeginTx opens a write transaction on the single-writer connection.
func (r *Repository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}

func (r *Repository) initSchema() error {
	if err := r.initProjectSchema(); err != nil {
		return err
	}
	if err := r.initTaskSchema(); err != nil {
		return err
	}
	if err := r.initQuestionSchema(); err != nil {
		return err
	}
	if err := r.initResourceSchema(); err != nil {
		return err
	}
	return r.initIndexes()
}

func (r *Repository) initProjectSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`)
	return err
}

func (r *Repository) initTaskSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		status TEXT NOT NULL DEFAULT 'backlog',
		priority TEXT NOT NULL DEFAULT 'medium',
		assignee_type TEXT DEFAULT '',
		assignee_id TEXT DEFAULT '',
		reviewer_type TEXT DEFAULT '',
		reviewer_id TEXT DEFAULT '',
		context TEXT DEFAULT '{}',
		output TEXT DEFAULT '{}',
		tags TEXT DEFAULT '[]',
		due_date TIMESTAMP,
		scheduled_at TIMESTAMP,
		recurrence_rule TEXT DEFAULT '',
		recurrence_parent_id TEXT DEFAULT '',
		status_history TEXT DEFAULT '[]',
		has_open_questions INTEGER NOT NULL DEFAULT 0,
		started_review_at TIMESTAMP,
		created_by_type TEXT NOT NULL DEFAULT 'human',
		created_by_id TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL,
		depends_on_task_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (task_id, depends_on_task_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
		FOREIGN KEY (depends_on_task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS task_activities (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		author_type TEXT NOT NULL DEFAULT 'agent',
		author_id TEXT DEFAULT '',
		content TEXT NOT NULL,
		activity_type TEXT NOT NULL DEFAULT 'comment',
		metadata TEXT DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);
	`)
	return err
}

func (r *Repository) initQuestionSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		question TEXT NOT NULL,
		question_type TEXT DEFAULT '',
		context TEXT DEFAULT '',
		asked_by_type TEXT NOT NULL DEFAULT 'agent',
		asked_by_id TEXT DEFAULT '',
		target_type TEXT DEFAULT '',
		target_id TEXT DEFAULT '',
		required_capability TEXT DEFAULT '',
		blocking INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL DEFAULT 'open',
		resolution TEXT DEFAULT '',
		resolved_by_type TEXT DEFAULT '',
		resolved_by_id TEXT DEFAULT '',
		dismissed_reason TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS question_replies (
		id TEXT PRIMARY KEY,
		question_id TEXT NOT NULL,
		author_type TEXT NOT NULL DEFAULT 'agent',
		author_id TEXT DEFAULT '',
		body TEXT NOT NULL,
		is_resolution INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE
	);
	`)
	return err
}

func (r *Repository) initResourceSchema() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		name TEXT NOT NULL,
		artifact_type TEXT NOT NULL DEFAULT 'text',
		content TEXT DEFAULT '',
		metadata TEXT DEFAULT '{}',
		created_by_type TEXT NOT NULL DEFAULT 'agent',
		created_by_id TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS knowledge (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		tags TEXT DEFAULT '[]',
		created_by_type TEXT NOT NULL DEFAULT 'human',
		created_by_id TEXT DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (project_id, title),
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS usage_entries (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		model TEXT DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		metadata TEXT DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);
	`)
	return err
}

func (r *Repository) initIndexes() error {
	_, err := r.db.Exec(`
	CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project_id, status);
	CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_id, status);
	CREATE INDEX IF NOT EXISTS idx_tasks_reviewer ON tasks(reviewer_id, status);
	CREATE INDEX IF NOT EXISTS idx_tasks_scheduled ON tasks(status, scheduled_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_recurrence_parent ON tasks(recurrence_parent_id);
	CREATE INDEX IF NOT EXISTS idx_task_dependencies_depends_on ON task_dependencies(depends_on_task_id);
	CREATE INDEX IF NOT EXISTS idx_task_activities_task ON task_activities(task_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_questions_task_status ON questions(task_id, status);
	CREATE INDEX IF NOT EXISTS idx_questions_target ON questions(target_id, status);
	CREATE INDEX IF NOT EXISTS idx_question_replies_question ON question_replies(question_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_artifacts_task ON artifacts(task_id);
	CREATE INDEX IF NOT EXISTS idx_knowledge_project ON knowledge(project_id);
	CREATE INDEX IF NOT EXISTS idx_usage_entries_task ON usage_entries(task_id);
	`)
	return err
}
