package websocket

import (
	"github.com/opengate/opengate/internal/events"
	"github.com/opengate/opengate/internal/task/models"
)

// Frame types sent by clients.
const (
	frameAuth        = "auth"
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePing        = "ping"
	framePong        = "pong"
)

// Frame types sent by the server.
const (
	frameAuthOK       = "auth_ok"
	frameSubscribed   = "subscribed"
	frameUnsubscribed = "unsubscribed"
	frameEvent        = "event"
	frameError        = "error"
)

// Error codes carried in error frames.
const (
	codeAuthRequired = "auth_required"
	codeAuthFailed   = "auth_failed"
	codeBadFrame     = "bad_frame"
	codeUnknownSub   = "unknown_subscription"
	codeEventsLagged = "events_lagged"
)

// inboundFrame is the union of every client frame. Only the fields that
// belong to the named type are read; extra fields are ignored.
type inboundFrame struct {
	Type   string       `json:"type"`
	Token  string       `json:"token,omitempty"`
	ID     int64        `json:"id,omitempty"`
	Events []string     `json:"events,omitempty"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows a subscription beyond its type patterns. Both
// fields are ANDed with the pattern match. AgentID accepts the special
// value "self", which resolves to the authenticated agent.
type EventFilter struct {
	AgentID   string `json:"agent_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

type authOKFrame struct {
	Type     string       `json:"type"`
	Identity models.Actor `json:"identity"`
}

// ackFrame acknowledges subscribe and unsubscribe requests, and answers
// client pings (with a zero ID omitted).
type ackFrame struct {
	Type string `json:"type"`
	ID   int64  `json:"id,omitempty"`
}

type eventFrame struct {
	Type  string        `json:"type"`
	Sub   int64         `json:"sub"`
	Event string        `json:"event"`
	Data  *events.Event `json:"data"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Dropped int64  `json:"dropped,omitempty"`
}
