// Package handlers exposes agent identity and the per-agent views over
// HTTP: registration, heartbeat, the composed inbox, and notifications.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/opengate/opengate/internal/agent/models"
	agentservice "github.com/opengate/opengate/internal/agent/service"
	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/common/httpmw"
	"github.com/opengate/opengate/internal/common/logger"
	"github.com/opengate/opengate/internal/inbox"
	"github.com/opengate/opengate/internal/notifications"
	taskmodels "github.com/opengate/opengate/internal/task/models"
	taskservice "github.com/opengate/opengate/internal/task/service"
)

// Handlers serves the agent routes.
type Handlers struct {
	agents   *agentservice.Service
	tasks    *taskservice.Service
	composer *inbox.Composer
	notifs   *notifications.Store
	logger   *logger.Logger
}

// NewHandlers wires the agent handler set.
func NewHandlers(
	agents *agentservice.Service,
	tasks *taskservice.Service,
	composer *inbox.Composer,
	notifs *notifications.Store,
	log *logger.Logger,
) *Handlers {
	return &Handlers{
		agents:   agents,
		tasks:    tasks,
		composer: composer,
		notifs:   notifs,
		logger:   log.WithComponent("agent-handlers"),
	}
}

// RegisterRoutes mounts the agent routes on the authenticated API group.
// Registration itself is open; the setup token does the gating.
func RegisterRoutes(api *gin.RouterGroup, h *Handlers) {
	api.GET("/agents", h.listAgents)
	api.POST("/agents/register", h.register)
	api.POST("/agents/heartbeat", h.heartbeat)
	api.GET("/agents/me", h.me)
	api.GET("/agents/me/inbox", h.myInbox)
	api.GET("/agents/me/questions", h.myQuestions)
	api.GET("/agents/me/notifications", h.myNotifications)
	api.POST("/agents/me/notifications/ack-all", h.ackAllNotifications)
	api.POST("/agents/me/notifications/:id/ack", h.ackNotification)
	api.GET("/agents/:id", h.getAgent)
	api.PATCH("/agents/:id", h.updateAgent)
}

// Resolver adapts the agent service to the identity middleware: a bearer
// token is an agent API key, and resolving it refreshes the heartbeat.
type Resolver struct {
	agents *agentservice.Service
}

// NewResolver builds the middleware adapter.
func NewResolver(agents *agentservice.Service) *Resolver {
	return &Resolver{agents: agents}
}

// ResolveToken authenticates the API key and returns the agent actor.
func (r *Resolver) ResolveToken(c *gin.Context, token string) (taskmodels.Actor, error) {
	return r.Authenticate(c.Request.Context(), token)
}

// Authenticate is the transport-independent form of ResolveToken; the
// websocket gateway uses it for auth frames. Either path refreshes the
// agent's heartbeat.
func (r *Resolver) Authenticate(ctx context.Context, token string) (taskmodels.Actor, error) {
	agent, err := r.agents.Authenticate(ctx, token)
	if err != nil {
		return taskmodels.Actor{}, err
	}
	return taskmodels.AgentActor(agent.ID, agent.Name), nil
}

type registerBody struct {
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

func (h *Handlers) register(c *gin.Context) {
	var body registerBody
	if !h.bind(c, &body) {
		return
	}
	result, err := h.agents.Register(c.Request.Context(), &agentservice.RegisterRequest{
		Name:               body.Name,
		SetupToken:         body.SetupToken,
		Skills:             body.Skills,
		Capabilities:       body.Capabilities,
		Seniority:          models.Seniority(body.Seniority),
		Role:               models.Role(body.Role),
		MaxConcurrentTasks: body.MaxConcurrentTasks,
		WebhookURL:         body.WebhookURL,
		WebhookEvents:      body.WebhookEvents,
		StaleTimeoutMins:   body.StaleTimeoutMins,
		OwnerID:            body.OwnerID,
		Tags:               body.Tags,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	// The raw API key appears in this response and nowhere else.
	c.JSON(http.StatusCreated, gin.H{"agent": result.Agent, "api_key": result.APIKey})
}

func (h *Handlers) heartbeat(c *gin.Context) {
	actor, err := httpmw.RequireAgent(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	agent, err := h.agents.Heartbeat(c.Request.Context(), actor.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (h *Handlers) listAgents(c *gin.Context) {
	agents, err := h.agents.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents, "total": len(agents)})
}

func (h *Handlers) me(c *gin.Context) {
	actor, err := httpmw.RequireAgent(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	agent, err := h.agents.Get(c.Request.Context(), actor.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (h *Handlers) myInbox(c *gin.Context) {
	actor, err := httpmw.RequireAgent(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	agent, err := h.agents.Get(c.Request.Context(), actor.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	in, err := h.composer.Compose(c.Request.Context(), agent)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

func (h *Handlers) myQuestions(c *gin.Context) {
	actor, err := httpmw.RequireAgent(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	questions, err := h.tasks.OpenQuestionsForAgent(c.Request.Context(), actor.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": questions, "total": len(questions)})
}

func (h *Handlers) myNotifications(c *gin.Context) {
	actor, err := httpmw.RequireAgent(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	unreadOnly := c.Query("unread") == "true"
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.notifs.ListByAgent(c.Request.Context(), actor.ID, unreadOnly, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	unread, err := h.notifs.CountUnread(c.Request.Context(), actor.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items, "total": len(items), "unread": unread})
}

func (h *Handlers) ackNotification(c *gin.Context) {
	actor, err := httpmw.RequireAgent(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "notification id must be numeric"})
		return
	}
	if err := h.notifs.MarkRead(c.Request.Context(), actor.ID, id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": id})
}

func (h *Handlers) ackAllNotifications(c *gin.Context) {
	actor, err := httpmw.RequireAgent(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	n, err := h.notifs.MarkAllRead(c.Request.Context(), actor.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acknowledged": n})
}

func (h *Handlers) getAgent(c *gin.Context) {
	agent, err := h.agents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

type updateAgentBody struct {
	Skills             *[]string `json:"skills,omitempty"`
	Capabilities       *[]string `json:"capabilities,omitempty"`
	Seniority          *string   `json:"seniority,omitempty"`
	MaxConcurrentTasks *int      `json:"max_concurrent_tasks,omitempty"`
	WebhookURL         *string   `json:"webhook_url,omitempty"`
	WebhookEvents      *[]string `json:"webhook_events,omitempty"`
	StaleTimeoutMins   *int      `json:"stale_timeout_minutes,omitempty"`
	Tags               *[]string `json:"tags,omitempty"`
}

func (h *Handlers) updateAgent(c *gin.Context) {
	var body updateAgentBody
	if !h.bind(c, &body) {
		return
	}
	req := &agentservice.UpdateAgentRequest{
		Skills:             body.Skills,
		Capabilities:       body.Capabilities,
		MaxConcurrentTasks: body.MaxConcurrentTasks,
		WebhookURL:         body.WebhookURL,
		WebhookEvents:      body.WebhookEvents,
		StaleTimeoutMins:   body.StaleTimeoutMins,
		Tags:               body.Tags,
	}
	if body.Seniority != nil {
		seniority := models.Seniority(*body.Seniority)
		req.Seniority = &seniority
	}
	agent, err := h.agents.Update(c.Request.Context(), c.Param("id"), req, httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (h *Handlers) fail(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.HTTPStatus >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	httpmw.AbortWithError(c, err)
}

func (h *Handlers) bind(c *gin.Context, out any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return false
	}
	return true
}
