package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/opengate/opengate/internal/common/logger"
)

func registerTools(s *server.MCPServer, cfg Config, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("list_projects",
			mcp.WithDescription("List all projects. Use this first to get project IDs for other operations."),
		),
		listProjectsHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List tasks, optionally narrowed to a project, status, or assignee."),
			mcp.WithString("project_id",
				mcp.Description("Only list tasks in this project (optional)"),
			),
			mcp.WithString("status",
				mcp.Description("Only list tasks in this status: backlog, todo, in_progress, blocked, review, handoff, done, cancelled (optional)"),
			),
			mcp.WithString("assignee_id",
				mcp.Description("Only list tasks assigned to this agent (optional)"),
			),
		),
		listTasksHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("get_task",
			mcp.WithDescription("Fetch one task with its dependencies, activity counts, and context."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task ID to fetch"),
			),
		),
		getTaskHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("create_task",
			mcp.WithDescription("Create a new task in a project."),
			mcp.WithString("project_id",
				mcp.Required(),
				mcp.Description("The project to create the task in"),
			),
			mcp.WithString("title",
				mcp.Required(),
				mcp.Description("The task title"),
			),
			mcp.WithString("description",
				mcp.Description("The task description (optional)"),
			),
			mcp.WithString("priority",
				mcp.Description("Priority: low, medium, high, urgent (optional, defaults to medium)"),
			),
		),
		createTaskHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("claim_task",
			mcp.WithDescription("Claim a task for the configured agent. Fails when dependencies are unmet or the agent is at capacity."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task ID to claim"),
			),
		),
		claimTaskHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("complete_task",
			mcp.WithDescription("Complete a task. Routes to review when the task has a reviewer, otherwise marks it done and unblocks dependents."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task ID to complete"),
			),
			mcp.WithString("summary",
				mcp.Description("A short summary of what was done (optional)"),
			),
		),
		completeTaskHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("ask_question",
			mcp.WithDescription("Ask a question on a task. A blocking question moves the task to blocked until someone answers."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task the question concerns"),
			),
			mcp.WithString("question",
				mcp.Required(),
				mcp.Description("The question text"),
			),
			mcp.WithString("target_agent_id",
				mcp.Description("Direct the question at a specific agent (optional)"),
			),
			mcp.WithBoolean("blocking",
				mcp.Description("Block the task until the question is resolved (optional)"),
			),
		),
		askQuestionHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("get_inbox",
			mcp.WithDescription("Fetch the configured agent's inbox: assigned work, review queue, open questions, and unread notifications."),
		),
		getInboxHandler(cfg, log),
	)

	log.Info("registered MCP tools", zap.Int("count", 8))
}

func listProjectsHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return apiGet(ctx, cfg, log, "/api/projects")
	}
}

func listTasksHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q := url.Values{}
		for _, key := range []string{"project_id", "status", "assignee_id"} {
			if v := req.GetString(key, ""); v != "" {
				q.Set(key, v)
			}
		}
		path := "/api/tasks"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		return apiGet(ctx, cfg, log, path)
	}
}

func getTaskHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return apiGet(ctx, cfg, log, "/api/tasks/"+url.PathEscape(taskID))
	}
}

func createTaskHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		title, err := req.RequireString("title")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		payload := map[string]any{"title": title}
		if desc := req.GetString("description", ""); desc != "" {
			payload["description"] = desc
		}
		if prio := req.GetString("priority", ""); prio != "" {
			payload["priority"] = prio
		}
		return apiPost(ctx, cfg, log, "/api/projects/"+url.PathEscape(projectID)+"/tasks", payload)
	}
}

func claimTaskHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return apiPost(ctx, cfg, log, "/api/tasks/"+url.PathEscape(taskID)+"/claim", nil)
	}
}

func completeTaskHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		payload := map[string]any{}
		if summary := req.GetString("summary", ""); summary != "" {
			payload["summary"] = summary
		}
		return apiPost(ctx, cfg, log, "/api/tasks/"+url.PathEscape(taskID)+"/complete", payload)
	}
}

func askQuestionHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		payload := map[string]any{"question": question}
		if target := req.GetString("target_agent_id", ""); target != "" {
			payload["target_agent_id"] = target
		}
		if blocking, ok := req.GetArguments()["blocking"].(bool); ok && blocking {
			payload["blocking"] = true
		}
		return apiPost(ctx, cfg, log, "/api/tasks/"+url.PathEscape(taskID)+"/questions", payload)
	}
}

func getInboxHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return apiGet(ctx, cfg, log, "/api/agents/me/inbox")
	}
}

// apiGet proxies a GET to the OpenGate API and renders the JSON for the
// model.
func apiGet(ctx context.Context, cfg Config, log *logger.Logger, path string) (*mcp.CallToolResult, error) {
	return apiCall(ctx, cfg, log, http.MethodGet, path, nil)
}

// apiPost proxies a POST with a JSON body.
func apiPost(ctx context.Context, cfg Config, log *logger.Logger, path string, payload map[string]any) (*mcp.CallToolResult, error) {
	return apiCall(ctx, cfg, log, http.MethodPost, path, payload)
}

func apiCall(ctx context.Context, cfg Config, log *logger.Logger, method, path string, payload map[string]any) (*mcp.CallToolResult, error) {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to encode request: %v", err)), nil
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	endpoint := strings.TrimSuffix(cfg.ServerURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create request: %v", err)), nil
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		log.Error("API request failed", zap.String("path", path), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Request failed: %v", err)), nil
	}
	defer func() { _ = resp.Body.Close() }()

	var result json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	if resp.StatusCode >= 400 {
		return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", resp.StatusCode, string(result))), nil
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(formatted)), nil
}
