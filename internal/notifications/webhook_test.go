package notifications

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opengate/opengate/internal/common/logger"
	"github.com/opengate/opengate/internal/task/models"
)

func newTestDeliverer(t *testing.T, s *Store, cfg DelivererConfig) *Deliverer {
	t.Helper()
	d := NewDeliverer(s, cfg, logger.Default())
	d.backoff = func(int) time.Duration { return time.Millisecond }
	d.Start(context.Background())
	t.Cleanup(d.Stop)
	return d
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDeliverNotificationSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var got atomic.Pointer[map[string]any]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		got.Store(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := &Notification{AgentID: "agent-1", EventType: "task.assigned", Title: "Fix login bug", Body: "assigned by alice"}
	insertTest(t, s, n)

	d := newTestDeliverer(t, s, DelivererConfig{})
	d.Enqueue([]*PendingWebhook{{
		NotificationID: n.ID,
		AgentID:        n.AgentID,
		WebhookURL:     srv.URL,
		EventType:      n.EventType,
		Title:          n.Title,
		Body:           n.Body,
		CreatedAt:      n.CreatedAt,
	}})

	waitFor(t, func() bool {
		row, err := s.Get(ctx, n.ID)
		return err == nil && row.WebhookStatus == WebhookDelivered
	})

	row, err := s.Get(ctx, n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !row.Read {
		t.Error("delivered webhook should ack the notification")
	}

	body := *got.Load()
	if body["event"] != "notification" {
		t.Errorf("payload event = %v, want notification", body["event"])
	}
	if body["event_type"] != "task.assigned" {
		t.Errorf("payload event_type = %v", body["event_type"])
	}
	if body["title"] != "Fix login bug" {
		t.Errorf("payload title = %v", body["title"])
	}
	if _, ok := body["notification_id"].(float64); !ok {
		t.Errorf("payload notification_id missing: %v", body)
	}
	if _, ok := body["timestamp"].(string); !ok {
		t.Errorf("payload timestamp missing: %v", body)
	}
}

func TestDeliverNotificationRetriesThenSucceeds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := &Notification{AgentID: "agent-1", EventType: "task.unblocked", Title: "Ready"}
	insertTest(t, s, n)

	d := newTestDeliverer(t, s, DelivererConfig{MaxAttempts: 3})
	d.Enqueue([]*PendingWebhook{{NotificationID: n.ID, AgentID: n.AgentID, WebhookURL: srv.URL, EventType: n.EventType, Title: n.Title, CreatedAt: n.CreatedAt}})

	waitFor(t, func() bool {
		row, err := s.Get(ctx, n.ID)
		return err == nil && row.WebhookStatus == WebhookDelivered
	})
	if got := calls.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}

	log, err := s.ListDeliveries(ctx, "agent-1", 10)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(log) != 3 {
		t.Fatalf("logged attempts = %d, want 3", len(log))
	}
	if !log[0].Success {
		t.Error("final attempt should be logged as success")
	}
}

func TestDeliverNotificationExhaustsAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := &Notification{AgentID: "agent-1", EventType: "task.blocked", Title: "Blocked"}
	insertTest(t, s, n)

	d := newTestDeliverer(t, s, DelivererConfig{MaxAttempts: 2})
	d.Enqueue([]*PendingWebhook{{NotificationID: n.ID, AgentID: n.AgentID, WebhookURL: srv.URL, EventType: n.EventType, Title: n.Title, CreatedAt: n.CreatedAt}})

	waitFor(t, func() bool {
		row, err := s.Get(ctx, n.ID)
		return err == nil && row.WebhookStatus == WebhookFailed
	})

	row, err := s.Get(ctx, n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// Failed delivery keeps the notification unread for polling.
	if row.Read {
		t.Error("failed webhook must not ack the notification")
	}
}

func TestDeliverTaskWebhook(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var got atomic.Pointer[map[string]any]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		got.Store(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	task := &models.Task{ID: "task-1", ProjectID: "proj-1", Title: "Ship feature", Status: models.StatusTodo}
	d := newTestDeliverer(t, s, DelivererConfig{})
	d.EnqueueTask(&TaskWebhook{AgentID: "agent-1", WebhookURL: srv.URL, EventType: "task.assigned", Task: task})

	waitFor(t, func() bool { return got.Load() != nil })

	body := *got.Load()
	if body["event"] != "task.assigned" {
		t.Errorf("payload event = %v", body["event"])
	}
	taskBody, ok := body["task"].(map[string]any)
	if !ok {
		t.Fatalf("payload task missing: %v", body)
	}
	if taskBody["id"] != "task-1" || taskBody["title"] != "Ship feature" {
		t.Errorf("task payload = %v", taskBody)
	}

	log, err := s.ListDeliveries(ctx, "agent-1", 10)
	if err != nil {
		t.Fatalf("list deliveries: %v", err)
	}
	if len(log) != 1 || !log[0].Success || log[0].TaskID != "task-1" {
		t.Errorf("delivery log = %+v", log)
	}
}

func TestEnqueueTaskWithoutURLIsNoop(t *testing.T) {
	s := newTestStore(t)
	d := NewDeliverer(s, DelivererConfig{QueueSize: 1}, logger.Default())

	d.EnqueueTask(&TaskWebhook{AgentID: "agent-1", EventType: "task.updated", Task: &models.Task{ID: "t"}})
	d.EnqueueTask(nil)

	if len(d.queue) != 0 {
		t.Errorf("queue length = %d, want 0", len(d.queue))
	}
}
