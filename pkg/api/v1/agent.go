package v1

import "time"

// Agent is a registered worker identity. The API key hash never leaves
// the server; the raw key appears once in the register response.
type Agent struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Skills             []string   `json:"skills"`
	Capabilities       []string   `json:"capabilities"`
	Seniority          string     `json:"seniority"`
	Role               string     `json:"role"`
	MaxConcurrentTasks int        `json:"max_concurrent_tasks"`
	WebhookURL         string     `json:"webhook_url,omitempty"`
	WebhookEvents      []string   `json:"webhook_events,omitempty"`
	StaleTimeoutMins   int        `json:"stale_timeout_minutes"`
	LastSeenAt         *time.Time `json:"last_seen_at,omitempty"`
	OwnerID            string     `json:"owner_id,omitempty"`
	Tags               []string   `json:"tags,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	Status             string     `json:"status,omitempty"`
	InProgressCount    int        `json:"in_progress_count"`
	ReviewCount        int        `json:"review_count"`
}

// RegisterAgentRequest is the body of POST /api/agents/register.
type RegisterAgentRequest struct {
	Name               string   `json:"name"`
	SetupToken         string   `json:"setup_token"`
	Skills             []string `json:"skills,omitempty"`
	Capabilities       []string `json:"capabilities,omitempty"`
	Seniority          string   `json:"seniority,omitempty"`
	Role               string   `json:"role,omitempty"`
	MaxConcurrentTasks int      `json:"max_concurrent_tasks,omitempty"`
	WebhookURL         string   `json:"webhook_url,omitempty"`
	WebhookEvents      []string `json:"webhook_events,omitempty"`
	StaleTimeoutMins   int      `json:"stale_timeout_minutes,omitempty"`
	OwnerID            string   `json:"owner_id,omitempty"`
	Tags               []string `json:"tags,omitempty"`
}

// RegisterAgentResponse carries the new agent and its one-time raw key.
type RegisterAgentResponse struct {
	Agent  Agent  `json:"agent"`
	APIKey string `json:"api_key"`
}

// AgentListResponse is the envelope of GET /api/agents.
type AgentListResponse struct {
	Agents []Agent `json:"agents"`
	Total  int     `json:"total"`
}
