package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Route is one row of the self-description catalog agents read to
// configure themselves.
type Route struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Auth        string `json:"auth"`
	Description string `json:"description"`
}

const (
	authNone   = "none"
	authBearer = "bearer"
	authAgent  = "agent"
	authSecret = "webhook-secret"
)

var routeCatalog = []Route{
	{"GET", "/health", authNone, "Liveness probe."},
	{"GET", "/metrics", authNone, "Prometheus scrape endpoint."},
	{"GET", "/api/schema", authBearer, "This catalog."},

	{"POST", "/api/projects", authBearer, "Create a project."},
	{"GET", "/api/projects", authBearer, "List projects, optional ?status=."},
	{"GET", "/api/projects/{id}", authBearer, "Fetch one project."},
	{"PATCH", "/api/projects/{id}", authBearer, "Patch name, description, or status."},
	{"DELETE", "/api/projects/{id}", authBearer, "Delete a project and everything it owns."},
	{"GET", "/api/projects/{id}/pulse", authBearer, "Dashboard projection: active, in review, blocked, recently done, agents present, open questions."},
	{"GET", "/api/projects/{id}/schedule", authBearer, "Scheduled occurrences in ?from=&to= (RFC 3339), including projected recurrences."},
	{"GET", "/api/projects/{id}/events", authBearer, "Ordered event log slice after ?since_id=, up to ?limit=."},
	{"GET", "/api/projects/{id}/tasks", authBearer, "List the project's tasks with the standard task filters."},
	{"POST", "/api/projects/{id}/tasks", authBearer, "Create a task in the project."},
	{"GET", "/api/projects/{id}/knowledge", authBearer, "List knowledge entries."},
	{"POST", "/api/projects/{id}/knowledge", authBearer, "Create or replace a knowledge entry keyed by title."},
	{"GET", "/api/projects/{id}/knowledge/search", authBearer, "Substring search over title and content, ?q=."},
	{"GET", "/api/projects/{id}/triggers", authBearer, "List inbound webhook triggers."},
	{"POST", "/api/projects/{id}/triggers", authBearer, "Register a trigger; the response carries the secret exactly once."},

	{"PATCH", "/api/knowledge/{id}", authBearer, "Patch a knowledge entry."},
	{"DELETE", "/api/knowledge/{id}", authBearer, "Delete a knowledge entry."},

	{"GET", "/api/tasks", authBearer, "List tasks: ?project_id=&status=&priority=&assignee_id=&tag=&limit=."},
	{"GET", "/api/tasks/next", authBearer, "Highest-priority claimable task, ?skills= ranks matching tags first. 404 when none."},
	{"GET", "/api/tasks/mine", authAgent, "Tasks where the calling agent is assignee or reviewer."},
	{"POST", "/api/tasks/batch/status", authBearer, "Move several tasks; per-task success and failure lists."},
	{"GET", "/api/tasks/{id}", authBearer, "Task snapshot with dependencies and artifacts."},
	{"PATCH", "/api/tasks/{id}", authBearer, "Patch task fields; context patches merge."},
	{"PATCH", "/api/tasks/{id}/context", authBearer, "JSON merge-patch of the task context. Object only."},
	{"DELETE", "/api/tasks/{id}", authBearer, "Delete a task."},
	{"GET", "/api/tasks/{id}/events", authBearer, "The task's event trail."},

	{"POST", "/api/tasks/{id}/claim", authAgent, "Claim the task. Runs dependency and capacity gates."},
	{"POST", "/api/tasks/{id}/release", authAgent, "Release a claimed task back to todo."},
	{"POST", "/api/tasks/{id}/complete", authBearer, "Complete the task; unblocks dependents and spawns recurrences."},
	{"POST", "/api/tasks/{id}/block", authBearer, "Mark blocked; body {reason} required."},
	{"POST", "/api/tasks/{id}/status", authBearer, "Generic status move through the full gate chain."},
	{"POST", "/api/tasks/{id}/assign", authBearer, "Assign to an agent without the capacity gate."},
	{"POST", "/api/tasks/{id}/handoff", authBearer, "Hand an in-progress task to another agent."},
	{"POST", "/api/tasks/{id}/submit-review", authBearer, "Move to review; selects a reviewer when none is named."},
	{"POST", "/api/tasks/{id}/start-review", authBearer, "Reviewer marks the review started."},
	{"POST", "/api/tasks/{id}/approve", authBearer, "Approve the review; completes the task."},
	{"POST", "/api/tasks/{id}/request-changes", authBearer, "Send back to the assignee; body {comment} required."},

	{"GET", "/api/tasks/{id}/dependencies", authBearer, "Upstream tasks this task waits on."},
	{"POST", "/api/tasks/{id}/dependencies", authBearer, "Add an edge; body {depends_on}. Cycles are rejected."},
	{"DELETE", "/api/tasks/{id}/dependencies/{dep_id}", authBearer, "Remove an edge."},
	{"GET", "/api/tasks/{id}/dependents", authBearer, "Downstream tasks waiting on this task."},

	{"GET", "/api/tasks/{id}/activity", authBearer, "Audit trail, newest first, ?limit=."},
	{"POST", "/api/tasks/{id}/activity", authBearer, "Append an activity entry; progress entries notify the owner."},
	{"GET", "/api/tasks/{id}/questions", authBearer, "Questions on the task."},
	{"POST", "/api/tasks/{id}/questions", authBearer, "Ask a question; blocking questions hold the task."},
	{"GET", "/api/tasks/{id}/artifacts", authBearer, "Artifacts attached to the task."},
	{"POST", "/api/tasks/{id}/artifacts", authBearer, "Attach an artifact: text, url, file, or json."},
	{"GET", "/api/tasks/{id}/usage", authBearer, "Token and cost ledger with totals."},
	{"POST", "/api/tasks/{id}/usage", authAgent, "Append a usage entry."},

	{"GET", "/api/questions/{id}", authBearer, "Fetch one question."},
	{"GET", "/api/questions/{id}/replies", authBearer, "The question thread."},
	{"POST", "/api/questions/{id}/replies", authBearer, "Reply; {resolving:true} also resolves."},
	{"POST", "/api/questions/{id}/resolve", authBearer, "Resolve with a resolution text."},
	{"POST", "/api/questions/{id}/dismiss", authBearer, "Dismiss without an answer."},
	{"POST", "/api/questions/{id}/assign", authBearer, "Retarget the question at an agent."},

	{"GET", "/api/artifacts/{id}", authBearer, "Fetch one artifact."},
	{"DELETE", "/api/artifacts/{id}", authBearer, "Delete an artifact."},

	{"DELETE", "/api/triggers/{id}", authBearer, "Delete a trigger."},
	{"GET", "/api/triggers/{id}/invocations", authBearer, "Invocation log, newest first."},
	{"POST", "/api/webhooks/trigger/{id}", authSecret, "Fire a trigger with an arbitrary JSON payload."},

	{"GET", "/api/agents", authBearer, "List registered agents with liveness and load."},
	{"POST", "/api/agents/register", authNone, "Register an agent; requires the server setup token."},
	{"POST", "/api/agents/heartbeat", authAgent, "Refresh the calling agent's last-seen time."},
	{"GET", "/api/agents/me", authAgent, "The calling agent's own record."},
	{"GET", "/api/agents/me/inbox", authAgent, "Composed inbox: tasks, reviews, questions, notifications, capacity."},
	{"GET", "/api/agents/me/questions", authAgent, "Open questions targeted at the calling agent."},
	{"GET", "/api/agents/me/notifications", authAgent, "Notifications, ?unread=true to filter."},
	{"POST", "/api/agents/me/notifications/{id}/ack", authAgent, "Mark one notification read."},
	{"POST", "/api/agents/me/notifications/ack-all", authAgent, "Mark everything read."},
	{"GET", "/api/agents/{id}", authBearer, "Fetch one agent."},
	{"PATCH", "/api/agents/{id}", authBearer, "Patch agent settings. Agents may only patch themselves."},

	{"GET", "/ws", authNone, "WebSocket endpoint; first frame must authenticate."},
}

func (h *Handlers) schema(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"routes": routeCatalog, "total": len(routeCatalog)})
}
