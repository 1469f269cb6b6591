// Package trigger lets external systems create tasks by webhook: a project
// registers a templated action behind a shared secret, and inbound payloads
// are interpolated into it.
package trigger

import "time"

// ActionCreateTask is the only action type the engine executes.
const ActionCreateTask = "create_task"

// Trigger is one registered inbound webhook.
type Trigger struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id"`
	Name         string         `json:"name,omitempty"`
	ActionType   string         `json:"action_type"`
	ActionConfig map[string]any `json:"action_config"`
	SecretHash   string         `json:"-"`
	Enabled      bool           `json:"enabled"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Invocation outcomes.
const (
	OutcomeCreated  = "created"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Invocation is one logged trigger call, successful or not.
type Invocation struct {
	ID        int64     `json:"id"`
	TriggerID string    `json:"trigger_id"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
