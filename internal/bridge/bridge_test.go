package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opengate/opengate/internal/common/logger"
	v1 "github.com/opengate/opengate/pkg/api/v1"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
url = "http://localhost:8080/"

[[agents]]
name = "builder"
api_key = "key-1"

[[agents]]
name = "reviewer"
api_key = "key-2"
wake_mode = "webhook"
wake_url = "http://localhost:9999/wake"
wake_timeout = 5
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.URL != "http://localhost:8080" {
		t.Errorf("url = %q, want trailing slash trimmed", cfg.Server.URL)
	}
	if cfg.Server.HeartbeatInterval() != 60*time.Second {
		t.Errorf("heartbeat interval = %v, want default 60s", cfg.Server.HeartbeatInterval())
	}
	if cfg.Server.PollInterval() != 15*time.Second {
		t.Errorf("poll interval = %v, want default 15s", cfg.Server.PollInterval())
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(cfg.Agents))
	}
	if cfg.Agents[0].WakeMode != WakeStdout {
		t.Errorf("default wake_mode = %q, want stdout", cfg.Agents[0].WakeMode)
	}
	if cfg.Agents[0].WakeTimeout() != 60*time.Second {
		t.Errorf("default wake_timeout = %v, want 60s", cfg.Agents[0].WakeTimeout())
	}
	if cfg.Agents[1].WakeMode != WakeWebhook || cfg.Agents[1].WakeURL != "http://localhost:9999/wake" {
		t.Errorf("agent 1 wake = %q %q", cfg.Agents[1].WakeMode, cfg.Agents[1].WakeURL)
	}
	if cfg.Agents[1].WakeTimeout() != 5*time.Second {
		t.Errorf("wake_timeout = %v, want 5s", cfg.Agents[1].WakeTimeout())
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		toml string
	}{
		{"no server url", "[[agents]]\nname = \"a\"\napi_key = \"k\"\n"},
		{"no agents", "[server]\nurl = \"http://localhost:8080\"\n"},
		{"agent without name", "[server]\nurl = \"http://x\"\n[[agents]]\napi_key = \"k\"\n"},
		{"agent without key", "[server]\nurl = \"http://x\"\n[[agents]]\nname = \"a\"\n"},
		{"duplicate names", "[server]\nurl = \"http://x\"\n[[agents]]\nname = \"a\"\napi_key = \"k\"\n[[agents]]\nname = \"a\"\napi_key = \"k2\"\n"},
		{"webhook without url", "[server]\nurl = \"http://x\"\n[[agents]]\nname = \"a\"\napi_key = \"k\"\nwake_mode = \"webhook\"\n"},
		{"command without argv", "[server]\nurl = \"http://x\"\n[[agents]]\nname = \"a\"\napi_key = \"k\"\nwake_mode = \"command\"\n"},
		{"unknown mode", "[server]\nurl = \"http://x\"\n[[agents]]\nname = \"a\"\napi_key = \"k\"\nwake_mode = \"telepathy\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tc.toml)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfigOpenClawDefaultURL(t *testing.T) {
	path := writeConfig(t, `
[server]
url = "http://localhost:8080"

[[agents]]
name = "builder"
api_key = "k"
wake_mode = "openclaw"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agents[0].WakeURL != DefaultOpenClawURL {
		t.Errorf("wake_url = %q, want default gateway URL", cfg.Agents[0].WakeURL)
	}
}

func TestAgentKeyFromFile(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(keyPath, []byte("  secret-key\n"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	a := AgentConfig{Name: "builder", APIKeyFile: keyPath}
	key, err := a.Key()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if key != "secret-key" {
		t.Errorf("key = %q, want trimmed file content", key)
	}

	a = AgentConfig{Name: "builder", APIKey: "inline", APIKeyFile: keyPath}
	if key, _ := a.Key(); key != "inline" {
		t.Errorf("key = %q, inline value should win", key)
	}

	a = AgentConfig{Name: "builder", APIKeyFile: filepath.Join(t.TempDir(), "missing")}
	if _, err := a.Key(); err == nil {
		t.Error("expected error for missing key file")
	}
}

func TestRenderSummary(t *testing.T) {
	notifs := []v1.Notification{
		{EventType: "task.assigned", Title: "Fix login bug", Body: "assigned by alice"},
		{EventType: "question.asked", Title: "Which DB?"},
	}
	s := renderSummary("builder", notifs)

	if s.Agent != "builder" || s.Unread != 2 {
		t.Errorf("summary header = %q %d", s.Agent, s.Unread)
	}
	if !strings.Contains(s.Text, "2 unread") {
		t.Errorf("text missing count: %q", s.Text)
	}
	if !strings.Contains(s.Text, "[task.assigned] Fix login bug: assigned by alice") {
		t.Errorf("text missing first entry: %q", s.Text)
	}
	if !strings.Contains(s.Text, "[question.asked] Which DB?") {
		t.Errorf("text missing second entry: %q", s.Text)
	}
}

func TestRenderSummaryCapsPreview(t *testing.T) {
	notifs := make([]v1.Notification, 14)
	for i := range notifs {
		notifs[i] = v1.Notification{EventType: "task.updated", Title: "t"}
	}
	s := renderSummary("builder", notifs)

	if s.Unread != 14 {
		t.Errorf("unread = %d", s.Unread)
	}
	if !strings.Contains(s.Text, "and 4 more") {
		t.Errorf("text should truncate after %d entries: %q", summaryPreview, s.Text)
	}
	if got := strings.Count(s.Text, "[task.updated]"); got != summaryPreview {
		t.Errorf("listed entries = %d, want %d", got, summaryPreview)
	}
}

func TestWebhookWaker(t *testing.T) {
	var got atomic.Pointer[Summary]
	var auth atomic.Pointer[string]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		auth.Store(&h)
		var s Summary
		_ = json.NewDecoder(r.Body).Decode(&s)
		got.Store(&s)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := &webhookWaker{url: srv.URL, token: "wake-secret"}
	summary := renderSummary("builder", []v1.Notification{{EventType: "task.assigned", Title: "Go"}})
	if err := w.Wake(context.Background(), summary); err != nil {
		t.Fatalf("wake: %v", err)
	}

	if *auth.Load() != "Bearer wake-secret" {
		t.Errorf("auth header = %q", *auth.Load())
	}
	s := got.Load()
	if s.Agent != "builder" || s.Unread != 1 || len(s.Notifications) != 1 {
		t.Errorf("posted summary = %+v", s)
	}
}

func TestWebhookWakerSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	w := &webhookWaker{url: srv.URL}
	err := w.Wake(context.Background(), renderSummary("builder", nil))
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("err = %v, want status in message", err)
	}
}

func TestOpenClawWakerPayload(t *testing.T) {
	var got atomic.Pointer[map[string]any]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		got.Store(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := &openClawWaker{url: srv.URL}
	summary := renderSummary("builder", []v1.Notification{{EventType: "task.assigned", Title: "Go"}})
	if err := w.Wake(context.Background(), summary); err != nil {
		t.Fatalf("wake: %v", err)
	}

	body := *got.Load()
	if body["agent"] != "builder" {
		t.Errorf("payload agent = %v", body["agent"])
	}
	msg, _ := body["message"].(string)
	if !strings.Contains(msg, "task.assigned") {
		t.Errorf("payload message = %q", msg)
	}
}

func TestCommandWakerPipesSummary(t *testing.T) {
	out := filepath.Join(t.TempDir(), "wake.txt")
	w := &commandWaker{argv: []string{"sh", "-c", "cat > " + out}}
	summary := renderSummary("builder", []v1.Notification{{EventType: "task.assigned", Title: "Go"}})

	if err := w.Wake(context.Background(), summary); err != nil {
		t.Fatalf("wake: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != summary.Text {
		t.Errorf("stdin content = %q, want summary text", data)
	}
}

func TestCommandWakerReportsFailure(t *testing.T) {
	w := &commandWaker{argv: []string{"sh", "-c", "echo broken >&2; exit 3"}}
	err := w.Wake(context.Background(), renderSummary("builder", nil))
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Errorf("err = %v, want command output in message", err)
	}
}

// fakeWaker records wake calls for poller tests.
type fakeWaker struct {
	calls atomic.Int32
	last  atomic.Pointer[Summary]
	fail  atomic.Bool
}

func (f *fakeWaker) Wake(_ context.Context, s *Summary) error {
	f.calls.Add(1)
	f.last.Store(s)
	if f.fail.Load() {
		return errors.New("wake transport down")
	}
	return nil
}

// fakeServer emulates the two endpoints the bridge uses.
type fakeServer struct {
	*httptest.Server
	heartbeats atomic.Int32
	unread     atomic.Pointer[[]v1.Notification]
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	empty := []v1.Notification{}
	fs.unread.Store(&empty)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/agents/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-1" {
			http.Error(w, `{"error":"invalid API key"}`, http.StatusUnauthorized)
			return
		}
		fs.heartbeats.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"agent-1","name":"builder"}`))
	})
	mux.HandleFunc("GET /api/agents/me/notifications", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("unread") != "true" {
			http.Error(w, `{"error":"expected unread filter"}`, http.StatusBadRequest)
			return
		}
		notifs := *fs.unread.Load()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v1.NotificationListResponse{
			Notifications: notifs,
			Total:         len(notifs),
			Unread:        len(notifs),
		})
	})
	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func newTestPoller(t *testing.T, srv *fakeServer, waker Waker) *poller {
	t.Helper()
	cfg := &AgentConfig{Name: "builder", APIKey: "key-1", WakeMode: WakeStdout, WakeTimeoutSeconds: 5}
	return &poller{
		cfg:    cfg,
		client: NewClient(srv.URL, "key-1"),
		waker:  waker,
		log:    logger.Default(),
	}
}

func TestPollerWakesOnUnread(t *testing.T) {
	srv := newFakeServer(t)
	notifs := []v1.Notification{
		{ID: 1, EventType: "task.assigned", Title: "Fix login bug"},
		{ID: 2, EventType: "question.asked", Title: "Which DB?"},
	}
	srv.unread.Store(&notifs)

	waker := &fakeWaker{}
	p := newTestPoller(t, srv, waker)
	p.poll(context.Background())

	if waker.calls.Load() != 1 {
		t.Fatalf("wake calls = %d, want 1", waker.calls.Load())
	}
	s := waker.last.Load()
	if s.Unread != 2 || s.Agent != "builder" {
		t.Errorf("summary = %+v", s)
	}
}

func TestPollerSkipsWakeWhenInboxEmpty(t *testing.T) {
	srv := newFakeServer(t)
	waker := &fakeWaker{}
	p := newTestPoller(t, srv, waker)

	p.poll(context.Background())
	if waker.calls.Load() != 0 {
		t.Errorf("wake calls = %d, want 0 for empty inbox", waker.calls.Load())
	}
}

func TestPollerRetriesFailedWakeNextTick(t *testing.T) {
	srv := newFakeServer(t)
	notifs := []v1.Notification{{ID: 1, EventType: "task.assigned", Title: "Go"}}
	srv.unread.Store(&notifs)

	waker := &fakeWaker{}
	waker.fail.Store(true)
	p := newTestPoller(t, srv, waker)

	p.poll(context.Background())
	if waker.calls.Load() != 1 {
		t.Fatalf("wake calls = %d", waker.calls.Load())
	}

	// Notification is still unread, so the next tick tries again.
	waker.fail.Store(false)
	p.poll(context.Background())
	if waker.calls.Load() != 2 {
		t.Errorf("wake calls = %d, want retry on next poll", waker.calls.Load())
	}
}

func TestPollerHeartbeat(t *testing.T) {
	srv := newFakeServer(t)
	p := newTestPoller(t, srv, &fakeWaker{})

	p.heartbeat(context.Background())
	p.heartbeat(context.Background())
	if srv.heartbeats.Load() != 2 {
		t.Errorf("heartbeats = %d, want 2", srv.heartbeats.Load())
	}
}

func TestClientErrorCarriesServerMessage(t *testing.T) {
	srv := newFakeServer(t)
	c := NewClient(srv.URL, "wrong-key")

	err := c.Heartbeat(context.Background())
	if err == nil || !strings.Contains(err.Error(), "invalid API key") {
		t.Errorf("err = %v, want server message", err)
	}
}
