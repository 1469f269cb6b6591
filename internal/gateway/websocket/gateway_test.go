package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/opengate/opengate/internal/common/logger"
	"github.com/opengate/opengate/internal/events"
	"github.com/opengate/opengate/internal/events/bus"
	"github.com/opengate/opengate/internal/task/models"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{
		Level:  "error",
		Format: "json",
	})
	return log
}

type stubAuth struct{}

func (stubAuth) Authenticate(_ context.Context, token string) (models.Actor, error) {
	if token == "good-key" {
		return models.AgentActor("agent-1", "builder"), nil
	}
	return models.Actor{}, errors.New("invalid API key")
}

func newTestGateway(t *testing.T) (*Gateway, *bus.Broadcaster, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	b := bus.NewBroadcaster(0)
	gw := New(b, stubAuth{}, newTestLogger())
	router := gin.New()
	router.GET("/ws", gw.Handle)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		b.Close()
	})
	return gw, b, server
}

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("failed to marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("failed to parse frame %q: %v", data, err)
	}
	return m
}

func authenticate(t *testing.T, conn *websocket.Conn, token string) map[string]any {
	t.Helper()
	sendFrame(t, conn, map[string]any{"type": "auth", "token": token})
	frame := readFrame(t, conn)
	if frame["type"] != "auth_ok" {
		t.Fatalf("expected auth_ok, got %v", frame)
	}
	return frame
}

func TestGatewaySubscribeAndReceive(t *testing.T) {
	_, b, server := newTestGateway(t)
	conn := dialWS(t, server)

	frame := authenticate(t, conn, "good-key")
	identity, _ := frame["identity"].(map[string]any)
	if identity["id"] != "agent-1" {
		t.Errorf("expected identity agent-1, got %v", identity)
	}

	sendFrame(t, conn, map[string]any{"type": "subscribe", "events": []string{"task.*"}})
	frame = readFrame(t, conn)
	if frame["type"] != "subscribed" || frame["id"] != float64(1) {
		t.Fatalf("expected subscribed id 1, got %v", frame)
	}

	evt := events.New(events.TaskCreated, "proj-1", "task-1",
		models.AgentActor("agent-2", "planner"), map[string]any{"task_title": "ship it"})
	evt.ID = 42
	b.Publish(evt)

	frame = readFrame(t, conn)
	if frame["type"] != "event" {
		t.Fatalf("expected event frame, got %v", frame)
	}
	if frame["sub"] != float64(1) || frame["event"] != "task.created" {
		t.Errorf("unexpected envelope: %v", frame)
	}
	data, _ := frame["data"].(map[string]any)
	if data["id"] != float64(42) || data["task_id"] != "task-1" {
		t.Errorf("unexpected event data: %v", data)
	}
}

func TestGatewayPingPong(t *testing.T) {
	_, _, server := newTestGateway(t)
	conn := dialWS(t, server)
	authenticate(t, conn, "good-key")

	sendFrame(t, conn, map[string]any{"type": "ping"})
	frame := readFrame(t, conn)
	if frame["type"] != "pong" {
		t.Fatalf("expected pong, got %v", frame)
	}
}

func TestGatewayUnsubscribeStopsDelivery(t *testing.T) {
	_, b, server := newTestGateway(t)
	conn := dialWS(t, server)
	authenticate(t, conn, "good-key")

	sendFrame(t, conn, map[string]any{"type": "subscribe", "events": []string{"task.created"}})
	if frame := readFrame(t, conn); frame["type"] != "subscribed" {
		t.Fatalf("expected subscribed, got %v", frame)
	}

	sendFrame(t, conn, map[string]any{"type": "unsubscribe", "id": 1})
	if frame := readFrame(t, conn); frame["type"] != "unsubscribed" {
		t.Fatalf("expected unsubscribed, got %v", frame)
	}

	b.Publish(events.New(events.TaskCreated, "proj-1", "task-1",
		models.HumanActor("op"), nil))

	// Nothing should arrive for the cancelled subscription.
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no frame after unsubscribe, got %s", data)
	}
}

func TestGatewayUnsubscribeUnknownID(t *testing.T) {
	_, _, server := newTestGateway(t)
	conn := dialWS(t, server)
	authenticate(t, conn, "good-key")

	sendFrame(t, conn, map[string]any{"type": "unsubscribe", "id": 99})
	frame := readFrame(t, conn)
	if frame["type"] != "error" || frame["code"] != "unknown_subscription" {
		t.Fatalf("expected unknown_subscription error, got %v", frame)
	}
}

func TestGatewayRejectsNonAuthFirstFrame(t *testing.T) {
	_, _, server := newTestGateway(t)
	conn := dialWS(t, server)

	sendFrame(t, conn, map[string]any{"type": "subscribe", "events": []string{"task.*"}})
	frame := readFrame(t, conn)
	if frame["type"] != "error" || frame["code"] != "auth_required" {
		t.Fatalf("expected auth_required error, got %v", frame)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to close after rejected handshake")
	}
}

func TestGatewayRejectsBadToken(t *testing.T) {
	_, _, server := newTestGateway(t)
	conn := dialWS(t, server)

	sendFrame(t, conn, map[string]any{"type": "auth", "token": "wrong"})
	frame := readFrame(t, conn)
	if frame["type"] != "error" || frame["code"] != "auth_failed" {
		t.Fatalf("expected auth_failed error, got %v", frame)
	}
}

func TestGatewayAnonymousOperator(t *testing.T) {
	_, _, server := newTestGateway(t)
	conn := dialWS(t, server)

	frame := authenticate(t, conn, "")
	identity, _ := frame["identity"].(map[string]any)
	if identity["type"] != "human" {
		t.Errorf("expected human identity for empty token, got %v", identity)
	}
}

func TestGatewaySelfFilter(t *testing.T) {
	_, b, server := newTestGateway(t)
	conn := dialWS(t, server)
	authenticate(t, conn, "good-key")

	sendFrame(t, conn, map[string]any{
		"type":   "subscribe",
		"events": []string{"task.*"},
		"filter": map[string]any{"agent_id": "self"},
	})
	if frame := readFrame(t, conn); frame["type"] != "subscribed" {
		t.Fatalf("expected subscribed, got %v", frame)
	}

	// Concerns agent-2 only; must not be delivered.
	b.Publish(events.New(events.TaskClaimed, "proj-1", "task-1",
		models.AgentActor("agent-2", "planner"), nil))
	// Assigned to agent-1; must be delivered.
	b.Publish(events.New(events.TaskAssigned, "proj-1", "task-2",
		models.HumanActor("op"), map[string]any{"assignee_id": "agent-1"}))

	frame := readFrame(t, conn)
	if frame["event"] != "task.assigned" {
		t.Fatalf("expected only the task.assigned event, got %v", frame)
	}
}

func TestSubscriptionMatches(t *testing.T) {
	self := models.AgentActor("agent-1", "builder")
	evt := events.New(events.TaskCompleted, "proj-1", "task-1",
		models.AgentActor("agent-2", "planner"), map[string]any{"reviewer_id": "agent-1"})

	tests := []struct {
		name string
		sub  subscription
		want bool
	}{
		{"exact match", subscription{patterns: []string{"task.completed"}}, true},
		{"wildcard match", subscription{patterns: []string{"task.*"}}, true},
		{"no pattern match", subscription{patterns: []string{"project.*"}}, false},
		{"project filter hit", subscription{patterns: []string{"task.*"}, filter: &EventFilter{ProjectID: "proj-1"}}, true},
		{"project filter miss", subscription{patterns: []string{"task.*"}, filter: &EventFilter{ProjectID: "proj-2"}}, false},
		{"agent filter via payload", subscription{patterns: []string{"task.*"}, filter: &EventFilter{AgentID: "agent-1"}}, true},
		{"agent filter via actor", subscription{patterns: []string{"task.*"}, filter: &EventFilter{AgentID: "agent-2"}}, true},
		{"agent filter miss", subscription{patterns: []string{"task.*"}, filter: &EventFilter{AgentID: "agent-3"}}, false},
		{"self filter", subscription{patterns: []string{"task.*"}, filter: &EventFilter{AgentID: "self"}}, true},
		{"both filters", subscription{patterns: []string{"task.*"}, filter: &EventFilter{AgentID: "self", ProjectID: "proj-2"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.matches(evt, self); got != tt.want {
				t.Errorf("matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelfFilterForAnonymousMatchesNothing(t *testing.T) {
	sub := subscription{patterns: []string{"task.*"}, filter: &EventFilter{AgentID: "self"}}
	evt := events.New(events.TaskCreated, "proj-1", "task-1",
		models.AgentActor("agent-1", "builder"), nil)
	if sub.matches(evt, models.HumanActor("op")) {
		t.Error("self filter without an agent identity should never match")
	}
}
