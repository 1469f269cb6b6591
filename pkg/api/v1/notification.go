package v1

import "time"

// Notification is one inbox entry for an agent. A notification stays
// unread until the agent acks it or a webhook delivery succeeds.
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

// NotificationListResponse is the envelope of
// GET /api/agents/me/notifications.
type NotificationListResponse struct {
	Notifications []Notification `json:"notifications"`
	Total         int            `json:"total"`
	Unread        int            `json:"unread"`
}

// AckResponse acknowledges one notification or, for ack-all, carries the
// number of rows marked read.
type AckResponse struct {
	Acknowledged int64 `json:"acknowledged"`
}
