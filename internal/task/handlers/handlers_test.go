package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	agenthandlers "github.com/opengate/opengate/internal/agent/handlers"
	agentservice "github.com/opengate/opengate/internal/agent/service"
	agentstore "github.com/opengate/opengate/internal/agent/store"
	"github.com/opengate/opengate/internal/common/httpmw"
	"github.com/opengate/opengate/internal/common/logger"
	"github.com/opengate/opengate/internal/db"
	"github.com/opengate/opengate/internal/events/bus"
	"github.com/opengate/opengate/internal/events/dispatch"
	eventstore "github.com/opengate/opengate/internal/events/store"
	"github.com/opengate/opengate/internal/notifications"
	"github.com/opengate/opengate/internal/task/models"
	"github.com/opengate/opengate/internal/task/repository/sqlite"
	"github.com/opengate/opengate/internal/task/service"
	"github.com/opengate/opengate/internal/trigger"
)

type fixture struct {
	router *gin.Engine
	agents *agentservice.Service
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
	triggerStore, err := trigger.NewStore(pool)
	if err != nil {
		t.Fatalf("failed to create trigger store: %v", err)
	}

	log := logger.Default()
	broadcaster := bus.NewBroadcaster(16)
	t.Cleanup(broadcaster.Close)
	dispatcher := dispatch.New(evts, notifs, agents, broadcaster, nil, nil, log)

	tasks := service.NewService(repo, agents, dispatcher, evts, log)
	triggers := trigger.NewService(triggerStore, tasks, log)
	agentSvc := agentservice.NewService(agents, repo, pool, dispatcher, "secret", log)

	h := NewHandlers(tasks, triggers, log)
	router := gin.New()
	api := router.Group("/api", httpmw.Identity(agenthandlers.NewResolver(agentSvc)))
	RegisterRoutes(api, h)
	RegisterPublicRoutes(router, h)

	return &fixture{router: router, agents: agentSvc}
}

// do issues one request against the router. An empty token means an
// anonymous human operator.
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

func (f *fixture) registerAgent(t *testing.T, name string) *agentservice.RegisterResult {
	t.Helper()
	result, err := f.agents.Register(context.Background(), &agentservice.RegisterRequest{
		Name:               name,
		SetupToken:         "secret",
		Seniority:          "senior",
		MaxConcurrentTasks: 3,
	})
	if err != nil {
		t.Fatalf("failed to register agent %s: %v", name, err)
	}
	return result
}

func (f *fixture) createProject(t *testing.T) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/projects", "", gin.H{"name": "Test Project"})
	if w.Code != http.StatusCreated {
		t.Fatalf("failed to create project: %d %s", w.Code, w.Body.String())
	}
	var project models.Project
	decode(t, w, &project)
	return project.ID
}

func (f *fixture) createTask(t *testing.T, projectID string, body gin.H) *models.Task {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/projects/"+projectID+"/tasks", "", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("failed to create task: %d %s", w.Code, w.Body.String())
	}
	var task models.Task
	decode(t, w, &task)
	return &task
}

func TestProjectEndpoints(t *testing.T) {
	f := setupRouter(t)

	w := f.do(t, http.MethodPost, "/api/projects", "", gin.H{"name": "Gateway", "description": "edge"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var project models.Project
	decode(t, w, &project)
	if project.Name != "Gateway" || project.ID == "" {
		t.Errorf("unexpected project: %+v", project)
	}

	if w := f.do(t, http.MethodPost, "/api/projects", "", gin.H{"description": "nameless"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing name, got %d", w.Code)
	}

	if w := f.do(t, http.MethodGet, "/api/projects/"+project.ID, "", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/projects/nonexistent", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}

	w = f.do(t, http.MethodPatch, "/api/projects/"+project.ID, "", gin.H{"status": "archived"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	decode(t, w, &project)
	if project.Status != models.ProjectArchived {
		t.Errorf("expected archived, got %s", project.Status)
	}

	if w := f.do(t, http.MethodDelete, "/api/projects/"+project.ID, "", nil); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/projects/"+project.ID, "", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", w.Code)
	}
}

func TestCreateTaskEndpoint(t *testing.T) {
	f := setupRouter(t)
	projectID := f.createProject(t)

	task := f.createTask(t, projectID, gin.H{"title": "Ship it", "status": "todo", "priority": "high"})
	if task.Title != "Ship it" || task.Status != models.StatusTodo || task.Priority != models.PriorityHigh {
		t.Errorf("unexpected task: %+v", task)
	}

	if w := f.do(t, http.MethodPost, "/api/projects/"+projectID+"/tasks", "", gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing title, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/projects/nonexistent/tasks", "", gin.H{"title": "x"}); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown project, got %d", w.Code)
	}

	// Malformed JSON is a bind failure, not a service error.
	req := httptest.NewRequest(http.MethodPost, "/api/projects/"+projectID+"/tasks", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", w.Code)
	}
}

func TestClaimRequiresAgentToken(t *testing.T) {
	f := setupRouter(t)
	projectID := f.createProject(t)
	task := f.createTask(t, projectID, gin.H{"title": "Claimable", "status": "todo"})
	agent := f.registerAgent(t, "worker")

	if w := f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/claim", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/claim", "og_unknown", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for an unknown key, got %d", w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/claim", agent.APIKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var claimed models.Task
	decode(t, w, &claimed)
	if claimed.Status != models.StatusInProgress {
		t.Errorf("expected in_progress, got %s", claimed.Status)
	}
	if claimed.Assignee == nil || claimed.Assignee.ID != agent.Agent.ID {
		t.Errorf("expected assignee %s, got %+v", agent.Agent.ID, claimed.Assignee)
	}
}

func TestMalformedAuthHeader(t *testing.T) {
	f := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a non-bearer header, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer ")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for an empty bearer token, got %d", w.Code)
	}
}

func TestTaskListFilters(t *testing.T) {
	f := setupRouter(t)
	projectID := f.createProject(t)
	f.createTask(t, projectID, gin.H{"title": "One", "status": "todo"})
	f.createTask(t, projectID, gin.H{"title": "Two"})

	if w := f.do(t, http.MethodGet, "/api/tasks?status=bogus", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/tasks?priority=bogus", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown priority, got %d", w.Code)
	}

	w := f.do(t, http.MethodGet, "/api/tasks?status=todo", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list struct {
		Tasks []*models.Task `json:"tasks"`
		Total int            `json:"total"`
	}
	decode(t, w, &list)
	if list.Total != 1 || list.Tasks[0].Title != "One" {
		t.Errorf("expected only the todo task, got %+v", list)
	}

	w = f.do(t, http.MethodGet, "/api/projects/"+projectID+"/tasks", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	decode(t, w, &list)
	if list.Total != 2 {
		t.Errorf("expected 2 tasks in the project, got %d", list.Total)
	}
}

func TestCompleteTaskEndpoint(t *testing.T) {
	f := setupRouter(t)
	projectID := f.createProject(t)
	task := f.createTask(t, projectID, gin.H{"title": "Finish me", "status": "todo"})
	agent := f.registerAgent(t, "worker")

	if w := f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/claim", agent.APIKey, nil); w.Code != http.StatusOK {
		t.Fatalf("failed to claim: %d", w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/complete", agent.APIKey, gin.H{
		"output":  gin.H{"artifact": "build-7"},
		"summary": "Shipped.",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var done models.Task
	decode(t, w, &done)
	if done.Status != models.StatusDone {
		t.Errorf("expected done, got %s", done.Status)
	}
	if done.Output["artifact"] != "build-7" {
		t.Errorf("expected output to round-trip, got %v", done.Output)
	}
}

func TestBatchStatusEndpoint(t *testing.T) {
	f := setupRouter(t)
	projectID := f.createProject(t)
	task := f.createTask(t, projectID, gin.H{"title": "Mover"})

	if w := f.do(t, http.MethodPost, "/api/tasks/batch/status", "", gin.H{"status": "todo"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing task_ids, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/tasks/batch/status", "", gin.H{"task_ids": []string{task.ID}, "status": "bogus"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/tasks/batch/status", "", gin.H{
		"task_ids": []string{task.ID, "nonexistent"},
		"status":   "todo",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result struct {
		Succeeded []string `json:"succeeded"`
		Failed    []struct {
			TaskID string `json:"task_id"`
			Error  string `json:"error"`
		} `json:"failed"`
	}
	decode(t, w, &result)
	if len(result.Succeeded) != 1 || result.Succeeded[0] != task.ID {
		t.Errorf("unexpected succeeded list: %v", result.Succeeded)
	}
	if len(result.Failed) != 1 || result.Failed[0].TaskID != "nonexistent" || result.Failed[0].Error == "" {
		t.Errorf("unexpected failed list: %+v", result.Failed)
	}
}

func TestDependencyEndpoints(t *testing.T) {
	f := setupRouter(t)
	projectID := f.createProject(t)
	first := f.createTask(t, projectID, gin.H{"title": "First"})
	second := f.createTask(t, projectID, gin.H{"title": "Second"})

	if w := f.do(t, http.MethodPost, "/api/tasks/"+second.ID+"/dependencies", "", gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing depends_on, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/tasks/"+second.ID+"/dependencies", "", gin.H{"depends_on": first.ID}); w.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", w.Code)
	}
	// The reverse edge closes a cycle.
	if w := f.do(t, http.MethodPost, "/api/tasks/"+first.ID+"/dependencies", "", gin.H{"depends_on": second.ID}); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for a cycle, got %d", w.Code)
	}

	w := f.do(t, http.MethodGet, "/api/tasks/"+second.ID+"/dependencies", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list struct {
		Tasks []*models.Task `json:"tasks"`
		Total int            `json:"total"`
	}
	decode(t, w, &list)
	if list.Total != 1 || list.Tasks[0].ID != first.ID {
		t.Errorf("unexpected dependencies: %+v", list)
	}

	w = f.do(t, http.MethodGet, "/api/tasks/"+first.ID+"/dependents", "", nil)
	decode(t, w, &list)
	if list.Total != 1 || list.Tasks[0].ID != second.ID {
		t.Errorf("unexpected dependents: %+v", list)
	}

	if w := f.do(t, http.MethodDelete, "/api/tasks/"+second.ID+"/dependencies/"+first.ID, "", nil); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}

func TestQuestionEndpoints(t *testing.T) {
	f := setupRouter(t)
	projectID := f.createProject(t)
	task := f.createTask(t, projectID, gin.H{"title": "Puzzling"})
	agent := f.registerAgent(t, "asker")

	w := f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/questions", agent.APIKey, gin.H{
		"question": "Which region?",
		"blocking": true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var question models.Question
	decode(t, w, &question)
	if question.Status != models.QuestionOpen || !question.Blocking {
		t.Errorf("unexpected question: %+v", question)
	}

	if w := f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/questions", agent.APIKey, gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty question, got %d", w.Code)
	}

	if w := f.do(t, http.MethodGet, "/api/questions/"+question.ID, "", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/api/questions/"+question.ID+"/replies", "", gin.H{"body": "us-east-1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodPost, "/api/questions/"+question.ID+"/resolve", "", gin.H{"resolution": "us-east-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	decode(t, w, &question)
	if question.Status != models.QuestionResolved {
		t.Errorf("expected resolved, got %s", question.Status)
	}

	var replies struct {
		Replies []*models.QuestionReply `json:"replies"`
		Total   int                     `json:"total"`
	}
	w = f.do(t, http.MethodGet, "/api/questions/"+question.ID+"/replies", "", nil)
	decode(t, w, &replies)
	// The thread holds the reply plus the resolution entry.
	if replies.Total != 2 {
		t.Errorf("expected 2 replies, got %d", replies.Total)
	}
}

func TestAssignEndpoint(t *testing.T) {
	f := setupRouter(t)
	projectID := f.createProject(t)
	task := f.createTask(t, projectID, gin.H{"title": "Handed", "status": "todo"})
	agent := f.registerAgent(t, "worker")

	if w := f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/assign", "", gin.H{}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing agent_id, got %d", w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/assign", "", gin.H{"agent_id": agent.Agent.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var assigned models.Task
	decode(t, w, &assigned)
	if assigned.Assignee == nil || assigned.Assignee.ID != agent.Agent.ID {
		t.Errorf("expected assignee, got %+v", assigned.Assignee)
	}

	if w := f.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/assign", "", gin.H{"agent_id": "nonexistent"}); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown agent, got %d", w.Code)
	}
}

func TestTriggerEndpoints(t *testing.T) {
	f := setupRouter(t)
	projectID := f.createProject(t)

	w := f.do(t, http.MethodPost, "/api/projects/"+projectID+"/triggers", "", gin.H{
		"name":          "Inbound",
		"action_config": gin.H{"title": "From {{payload.source}}"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Trigger *trigger.Trigger `json:"trigger"`
		Secret  string           `json:"secret"`
	}
	decode(t, w, &created)
	if created.Secret == "" || created.Trigger.ID == "" {
		t.Fatalf("expected trigger and secret, got %+v", created)
	}

	// The public endpoint authenticates with the shared secret header.
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/trigger/"+created.Trigger.ID,
		bytes.NewBufferString(`{"source":"pager"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Secret", created.Secret)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var fired struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	decode(t, w, &fired)
	if fired.TaskID == "" || fired.Status != string(models.StatusBacklog) {
		t.Errorf("unexpected invoke response: %+v", fired)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/webhooks/trigger/"+created.Trigger.ID, nil)
	req.Header.Set("X-Webhook-Secret", "wrong")
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a bad secret, got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/api/triggers/"+created.Trigger.ID+"/invocations", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var invocations struct {
		Invocations []*trigger.Invocation `json:"invocations"`
		Total       int                   `json:"total"`
	}
	decode(t, w, &invocations)
	if invocations.Total != 2 {
		t.Errorf("expected both invocations logged, got %d", invocations.Total)
	}

	if w := f.do(t, http.MethodDelete, "/api/triggers/"+created.Trigger.ID, "", nil); w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
}

func TestAgentOnlyRoutes(t *testing.T) {
	f := setupRouter(t)

	if w := f.do(t, http.MethodGet, "/api/tasks/mine", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for /tasks/mine without agent auth, got %d", w.Code)
	}

	agent := f.registerAgent(t, "worker")
	w := f.do(t, http.MethodGet, "/api/tasks/mine", agent.APIKey, nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestNextTaskEmpty(t *testing.T) {
	f := setupRouter(t)

	if w := f.do(t, http.MethodGet, "/api/tasks/next", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 when nothing is claimable, got %d", w.Code)
	}

	projectID := f.createProject(t)
	f.createTask(t, projectID, gin.H{"title": "Ready", "status": "todo"})
	w := f.do(t, http.MethodGet, "/api/tasks/next?skills=go,sql", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestScheduleQueryValidation(t *testing.T) {
	f := setupRouter(t)
	projectID := f.createProject(t)

	if w := f.do(t, http.MethodGet, "/api/projects/"+projectID+"/schedule?from=yesterday", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a non-RFC3339 bound, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/projects/"+projectID+"/schedule", "", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200 with default window, got %d", w.Code)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	f := setupRouter(t)

	w := f.do(t, http.MethodGet, "/api/schema", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var catalog struct {
		Routes []Route `json:"routes"`
		Total  int     `json:"total"`
	}
	decode(t, w, &catalog)
	if catalog.Total == 0 || catalog.Total != len(catalog.Routes) {
		t.Errorf("unexpected catalog: %d routes, total %d", len(catalog.Routes), catalog.Total)
	}
}
