// Package notifications implements per-agent notification inboxes and the
// outbound webhook delivery pipeline.
package notifications

import (
	"time"

	"github.com/opengate/opengate/internal/task/models"
)

// Webhook delivery status values. Empty means delivery was never attempted.
const (
	WebhookDelivered = "delivered"
	WebhookFailed    = "failed"
)

// Notification is one row in an agent's inbox. It stays unread until the
// agent acks it explicitly or a webhook delivery succeeds.
type Notification struct {
	ID            int64     `json:"id"`
	AgentID       string    `json:"agent_id"`
	EventID       *int64    `json:"event_id,omitempty"`
	EventType     string    `json:"event_type"`
	Title         string    `json:"title"`
	Body          string    `json:"body,omitempty"`
	Read          bool      `json:"read"`
	WebhookStatus string    `json:"webhook_status,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// PendingWebhook is the envelope a command handler returns for asynchronous
// delivery after its transaction commits. It is only produced for recipients
// whose agent has a webhook URL and whose event filter admits the type.
type PendingWebhook struct {
	NotificationID int64
	AgentID        string
	WebhookURL     string
	EventType      string
	Title          string
	Body           string
	CreatedAt      time.Time
}

// TaskWebhook carries a full task object to the agent's webhook. It is fired
// for assignment, updates, review requests, and dependency readiness, and is
// independent of the notification inbox.
type TaskWebhook struct {
	AgentID    string
	WebhookURL string
	EventType  string
	Task       *models.Task
}

// DeliveryLog records one webhook delivery attempt.
type DeliveryLog struct {
	ID         int64     `json:"id"`
	AgentID    string    `json:"agent_id"`
	URL        string    `json:"url"`
	EventType  string    `json:"event_type"`
	TaskID     string    `json:"task_id,omitempty"`
	Attempt    int       `json:"attempt"`
	StatusCode int       `json:"status_code,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
