package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/opengate/opengate/internal/agent/models"
	agentservice "github.com/opengate/opengate/internal/agent/service"
	agentstore "github.com/opengate/opengate/internal/agent/store"
	"github.com/opengate/opengate/internal/common/httpmw"
	"github.com/opengate/opengate/internal/common/logger"
	"github.com/opengate/opengate/internal/db"
	"github.com/opengate/opengate/internal/events/bus"
	"github.com/opengate/opengate/internal/events/dispatch"
	eventstore "github.com/opengate/opengate/internal/events/store"
	"github.com/opengate/opengate/internal/inbox"
	"github.com/opengate/opengate/internal/notifications"
	taskmodels "github.com/opengate/opengate/internal/task/models"
	"github.com/opengate/opengate/internal/task/repository/sqlite"
	taskservice "github.com/opengate/opengate/internal/task/service"
)

type fixture struct {
	router *gin.Engine
	tasks  *taskservice.Service
}

func setupRouter(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pool, err := db.OpenSQLitePool(filepath.Join(t.TempDir(), "test.db"), 0)
	if err != nil {
		t.Fatalf("failed to open sqlite pool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	repo, err := sqlite.New(pool)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	agents, err := agentstore.New(pool)
	if err != nil {
		t.Fatalf("failed to create agent store: %v", err)
	}
	evts, err := eventstore.New(pool)
	if err != nil {
		t.Fatalf("failed to create event store: %v", err)
	}
	notifs, err := notifications.NewStore(pool)
	if err != nil {
		t.Fatalf("failed to create notification store: %v", err)
	}

	log := logger.Default()
	broadcaster := bus.NewBroadcaster(16)
	t.Cleanup(broadcaster.Close)
	dispatcher := dispatch.New(evts, notifs, agents, broadcaster, nil, nil, log)

	tasks := taskservice.NewService(repo, agents, dispatcher, evts, log)
	agentSvc := agentservice.NewService(agents, repo, pool, dispatcher, "secret", log)
	composer := inbox.NewComposer(repo, notifs)

	h := NewHandlers(agentSvc, tasks, composer, notifs, log)
	router := gin.New()
	api := router.Group("/api", httpmw.Identity(NewResolver(agentSvc)))
	RegisterRoutes(api, h)

	return &fixture{router: router, tasks: tasks}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", w.Body.String(), err)
	}
}

type registerResponse struct {
	Agent  *models.Agent `json:"agent"`
	APIKey string        `json:"api_key"`
}

func (f *fixture) registerAgent(t *testing.T, name string) *registerResponse {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/agents/register", "", gin.H{
		"name":                 name,
		"setup_token":          "secret",
		"seniority":            "senior",
		"max_concurrent_tasks": 3,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("failed to register %s: %d %s", name, w.Code, w.Body.String())
	}
	var resp registerResponse
	decode(t, w, &resp)
	return &resp
}

func TestRegisterEndpoint(t *testing.T) {
	f := setupRouter(t)

	resp := f.registerAgent(t, "builder")
	if resp.Agent == nil || resp.Agent.ID == "" {
		t.Fatalf("expected agent in response, got %+v", resp)
	}
	if resp.APIKey == "" {
		t.Error("expected the api key in the registration response")
	}
	if resp.Agent.Seniority != models.SenioritySenior {
		t.Errorf("expected senior, got %s", resp.Agent.Seniority)
	}

	if w := f.do(t, http.MethodPost, "/api/agents/register", "", gin.H{"name": "x", "setup_token": "guess"}); w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a wrong setup token, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/agents/register", "", gin.H{"setup_token": "secret"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a missing name, got %d", w.Code)
	}
}

func TestHeartbeatAndMe(t *testing.T) {
	f := setupRouter(t)
	agent := f.registerAgent(t, "builder")

	if w := f.do(t, http.MethodPost, "/api/agents/heartbeat", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/agents/heartbeat", agent.APIKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var beat models.Agent
	decode(t, w, &beat)
	if beat.LastSeenAt == nil {
		t.Error("expected a heartbeat timestamp")
	}
	if beat.Status != models.StatusAvailable {
		t.Errorf("expected available, got %s", beat.Status)
	}

	w = f.do(t, http.MethodGet, "/api/agents/me", agent.APIKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var me models.Agent
	decode(t, w, &me)
	if me.ID != agent.Agent.ID {
		t.Errorf("expected agent %s, got %s", agent.Agent.ID, me.ID)
	}
}

func TestListAndGetAgents(t *testing.T) {
	f := setupRouter(t)
	first := f.registerAgent(t, "first")
	f.registerAgent(t, "second")

	w := f.do(t, http.MethodGet, "/api/agents", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list struct {
		Agents []*models.Agent `json:"agents"`
		Total  int             `json:"total"`
	}
	decode(t, w, &list)
	if list.Total != 2 {
		t.Errorf("expected 2 agents, got %d", list.Total)
	}

	if w := f.do(t, http.MethodGet, "/api/agents/"+first.Agent.ID, "", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/agents/nonexistent", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestInboxEndpoint(t *testing.T) {
	f := setupRouter(t)
	agent := f.registerAgent(t, "builder")
	ctx := context.Background()

	project, err := f.tasks.CreateProject(ctx, &taskservice.CreateProjectRequest{Name: "Test Project"}, taskmodels.HumanActor(""))
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	if _, err := f.tasks.CreateTask(ctx, &taskservice.CreateTaskRequest{
		ProjectID:  project.ID,
		Title:      "Assigned work",
		Status:     taskmodels.StatusTodo,
		AssigneeID: agent.Agent.ID,
	}, taskmodels.HumanActor("")); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}

	if w := f.do(t, http.MethodGet, "/api/agents/me/inbox", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without agent auth, got %d", w.Code)
	}

	w := f.do(t, http.MethodGet, "/api/agents/me/inbox", agent.APIKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var in inbox.Inbox
	decode(t, w, &in)
	if len(in.Tasks.Todo) != 1 {
		t.Errorf("expected 1 todo item, got %+v", in.Tasks)
	}
	if in.Capacity.Max != 3 || !in.Capacity.HasCapacity {
		t.Errorf("unexpected capacity: %+v", in.Capacity)
	}
	if in.Summary == "" {
		t.Error("expected a summary line")
	}
	// The assignment notification is part of the same composed view.
	if len(in.Notifications) != 1 {
		t.Errorf("expected the assignment notification, got %+v", in.Notifications)
	}
}

func TestNotificationEndpoints(t *testing.T) {
	f := setupRouter(t)
	agent := f.registerAgent(t, "builder")
	ctx := context.Background()

	project, err := f.tasks.CreateProject(ctx, &taskservice.CreateProjectRequest{Name: "Test Project"}, taskmodels.HumanActor(""))
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	if _, err := f.tasks.CreateTask(ctx, &taskservice.CreateTaskRequest{
		ProjectID:  project.ID,
		Title:      "Ping",
		AssigneeID: agent.Agent.ID,
	}, taskmodels.HumanActor("")); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}

	w := f.do(t, http.MethodGet, "/api/agents/me/notifications?unread=true", agent.APIKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var list struct {
		Notifications []*notifications.Notification `json:"notifications"`
		Total         int                           `json:"total"`
		Unread        int                           `json:"unread"`
	}
	decode(t, w, &list)
	if list.Total != 1 || list.Unread != 1 {
		t.Fatalf("expected one unread notification, got %+v", list)
	}

	if w := f.do(t, http.MethodPost, "/api/agents/me/notifications/abc/ack", agent.APIKey, nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a non-numeric id, got %d", w.Code)
	}

	id := list.Notifications[0].ID
	w = f.do(t, http.MethodPost, "/api/agents/me/notifications/"+strconv.FormatInt(id, 10)+"/ack", agent.APIKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/agents/me/notifications?unread=true", agent.APIKey, nil)
	decode(t, w, &list)
	if list.Total != 0 || list.Unread != 0 {
		t.Errorf("expected none unread after ack, got %+v", list)
	}

	w = f.do(t, http.MethodPost, "/api/agents/me/notifications/ack-all", agent.APIKey, nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestUpdateAgentEndpoint(t *testing.T) {
	f := setupRouter(t)
	target := f.registerAgent(t, "target")
	rival := f.registerAgent(t, "rival")

	// Agents cannot patch other agents.
	if w := f.do(t, http.MethodPatch, "/api/agents/"+target.Agent.ID, rival.APIKey, gin.H{"max_concurrent_tasks": 9}); w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}

	w := f.do(t, http.MethodPatch, "/api/agents/"+target.Agent.ID, target.APIKey, gin.H{
		"skills":               []string{"go"},
		"max_concurrent_tasks": 5,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var updated models.Agent
	decode(t, w, &updated)
	if updated.MaxConcurrentTasks != 5 || len(updated.Skills) != 1 {
		t.Errorf("unexpected agent: %+v", updated)
	}

	// A human operator can patch anyone.
	if w := f.do(t, http.MethodPatch, "/api/agents/"+target.Agent.ID, "", gin.H{"stale_timeout_minutes": 45}); w.Code != http.StatusOK {
		t.Errorf("expected 200 for operator patch, got %d", w.Code)
	}

	if w := f.do(t, http.MethodPatch, "/api/agents/"+target.Agent.ID, "", gin.H{"seniority": "principal"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown seniority, got %d", w.Code)
	}
}

func TestMyQuestionsEndpoint(t *testing.T) {
	f := setupRouter(t)
	asker := f.registerAgent(t, "asker")
	helper := f.registerAgent(t, "helper")
	ctx := context.Background()

	project, err := f.tasks.CreateProject(ctx, &taskservice.CreateProjectRequest{Name: "Test Project"}, taskmodels.HumanActor(""))
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	task, err := f.tasks.CreateTask(ctx, &taskservice.CreateTaskRequest{ProjectID: project.ID, Title: "Puzzling"}, taskmodels.HumanActor(""))
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	if _, err := f.tasks.AskQuestion(ctx, task.ID, &taskservice.AskQuestionRequest{
		Question: "Which bucket?",
		Target:   &taskmodels.ActorRef{Type: taskmodels.ActorAgent, ID: helper.Agent.ID},
	}, taskmodels.AgentActor(asker.Agent.ID, "asker")); err != nil {
		t.Fatalf("failed to ask question: %v", err)
	}

	w := f.do(t, http.MethodGet, "/api/agents/me/questions", helper.APIKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var list struct {
		Questions []*taskmodels.Question `json:"questions"`
		Total     int                    `json:"total"`
	}
	decode(t, w, &list)
	if list.Total != 1 {
		t.Errorf("expected 1 question in the helper's queue, got %d", list.Total)
	}

	w = f.do(t, http.MethodGet, "/api/agents/me/questions", asker.APIKey, nil)
	decode(t, w, &list)
	if list.Total != 0 {
		t.Errorf("expected no questions for the asker, got %d", list.Total)
	}
}
