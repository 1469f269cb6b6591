// Package models defines the agent entity and its derived liveness state.
package models

import (
	"strings"
	"time"
)

// Seniority enumerates agent experience levels. Reviewer selection only
// considers senior agents.
type Seniority string

const (
	SeniorityJunior Seniority = "junior"
	SeniorityMid    Seniority = "mid"
	SenioritySenior Seniority = "senior"
)

// IsValid reports whether s is a known seniority.
func (s Seniority) IsValid() bool {
	return s == SeniorityJunior || s == SeniorityMid || s == SenioritySenior
}

// Role enumerates what an agent is for.
type Role string

const (
	RoleExecutor     Role = "executor"
	RoleOrchestrator Role = "orchestrator"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleExecutor || r == RoleOrchestrator
}

// Status is the derived liveness state. Never persisted; computed from
// last_seen_at and live task counts on every read.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
)

// DefaultStaleTimeoutMinutes applies when registration does not set one.
const DefaultStaleTimeoutMinutes = 240

// Agent is an autonomous client authenticated by API key.
type Agent struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	APIKeyHash         string     `json:"-"`
	Skills             []string   `json:"skills"`
	Capabilities       []string   `json:"capabilities"`
	Seniority          Seniority  `json:"seniority"`
	Role               Role       `json:"role"`
	MaxConcurrentTasks int        `json:"max_concurrent_tasks"`
	WebhookURL         string     `json:"webhook_url,omitempty"`
	WebhookEvents      []string   `json:"webhook_events,omitempty"`
	StaleTimeoutMins   int        `json:"stale_timeout_minutes"`
	LastSeenAt         *time.Time `json:"last_seen_at,omitempty"`
	OwnerID            string     `json:"owner_id,omitempty"`
	Tags               []string   `json:"tags,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`

	// Derived on read, never persisted.
	Status          Status `json:"status,omitempty"`
	InProgressCount int    `json:"in_progress_count"`
	ReviewCount     int    `json:"review_count"`
}

// StaleTimeout returns the per-agent heartbeat budget.
func (a *Agent) StaleTimeout() time.Duration {
	mins := a.StaleTimeoutMins
	if mins <= 0 {
		mins = DefaultStaleTimeoutMinutes
	}
	return time.Duration(mins) * time.Minute
}

// Online reports whether the agent's heartbeat is within its stale timeout.
func (a *Agent) Online(now time.Time) bool {
	return a.LastSeenAt != nil && now.Sub(*a.LastSeenAt) <= a.StaleTimeout()
}

// ComputeStatus derives the liveness state from the heartbeat and the live
// task counts (n in-progress as assignee, r in-review as reviewer).
func (a *Agent) ComputeStatus(now time.Time) Status {
	if !a.Online(now) {
		return StatusOffline
	}
	if a.InProgressCount+a.ReviewCount >= a.MaxConcurrentTasks {
		return StatusBusy
	}
	return StatusAvailable
}

// WantsWebhook reports whether the agent's webhook should receive the given
// event type: a URL is configured and either no filter is set or the event
// type is in the filter.
func (a *Agent) WantsWebhook(eventType string) bool {
	if a.WebhookURL == "" {
		return false
	}
	if len(a.WebhookEvents) == 0 {
		return true
	}
	for _, e := range a.WebhookEvents {
		if e == eventType {
			return true
		}
	}
	return false
}

// MatchCapabilities counts how many of the agent's capabilities match the
// requested one. A request "c" matches a capability that equals "c"
// verbatim, or, when "c" carries no colon, any capability scoped under it
// ("c:something"). Matching is case-insensitive.
func (a *Agent) MatchCapabilities(required string) int {
	required = strings.ToLower(strings.TrimSpace(required))
	if required == "" {
		return 0
	}
	widen := !strings.Contains(required, ":")
	count := 0
	for _, c := range a.Capabilities {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == required {
			count++
			continue
		}
		if widen && strings.HasPrefix(c, required+":") {
			count++
		}
	}
	return count
}

// SkillsIntersect reports whether any agent skill appears in the given tag
// set, case-insensitively.
func (a *Agent) SkillsIntersect(tags []string) bool {
	if len(tags) == 0 || len(a.Skills) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	for _, s := range a.Skills {
		if _, ok := set[strings.ToLower(strings.TrimSpace(s))]; ok {
			return true
		}
	}
	return false
}
