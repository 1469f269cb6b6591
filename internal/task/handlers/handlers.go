// Package handlers exposes the task engine over HTTP.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/common/httpmw"
	"github.com/opengate/opengate/internal/common/logger"
	"github.com/opengate/opengate/internal/task/service"
	"github.com/opengate/opengate/internal/trigger"
)

// Handlers serves the project, task, question, and trigger routes.
type Handlers struct {
	tasks    *service.Service
	triggers *trigger.Service
	logger   *logger.Logger
}

// NewHandlers wires the handler set.
func NewHandlers(tasks *service.Service, triggers *trigger.Service, log *logger.Logger) *Handlers {
	return &Handlers{
		tasks:    tasks,
		triggers: triggers,
		logger:   log.WithComponent("task-handlers"),
	}
}

// RegisterRoutes mounts every task-domain route on the authenticated API
// group. The public trigger endpoint is mounted separately because it
// authenticates with a shared secret instead of a bearer token.
func RegisterRoutes(api *gin.RouterGroup, h *Handlers) {
	api.POST("/projects", h.createProject)
	api.GET("/projects", h.listProjects)
	api.GET("/projects/:id", h.getProject)
	api.PATCH("/projects/:id", h.updateProject)
	api.DELETE("/projects/:id", h.deleteProject)
	api.GET("/projects/:id/pulse", h.projectPulse)
	api.GET("/projects/:id/schedule", h.projectSchedule)
	api.GET("/projects/:id/events", h.listProjectEvents)
	api.GET("/projects/:id/tasks", h.listProjectTasks)
	api.POST("/projects/:id/tasks", h.createTask)
	api.GET("/projects/:id/knowledge", h.listKnowledge)
	api.POST("/projects/:id/knowledge", h.upsertKnowledge)
	api.GET("/projects/:id/knowledge/search", h.searchKnowledge)
	api.GET("/projects/:id/triggers", h.listTriggers)
	api.POST("/projects/:id/triggers", h.createTrigger)

	api.PATCH("/knowledge/:id", h.updateKnowledge)
	api.DELETE("/knowledge/:id", h.deleteKnowledge)

	api.GET("/tasks", h.listTasks)
	api.GET("/tasks/next", h.nextTask)
	api.GET("/tasks/mine", h.myTasks)
	api.POST("/tasks/batch/status", h.batchStatus)
	api.GET("/tasks/:id", h.getTask)
	api.PATCH("/tasks/:id", h.updateTask)
	api.PATCH("/tasks/:id/context", h.patchContext)
	api.DELETE("/tasks/:id", h.deleteTask)
	api.GET("/tasks/:id/events", h.listTaskEvents)

	api.POST("/tasks/:id/claim", h.claimTask)
	api.POST("/tasks/:id/release", h.releaseTask)
	api.POST("/tasks/:id/complete", h.completeTask)
	api.POST("/tasks/:id/block", h.blockTask)
	api.POST("/tasks/:id/status", h.updateStatus)
	api.POST("/tasks/:id/assign", h.assignTask)
	api.POST("/tasks/:id/handoff", h.handoffTask)
	api.POST("/tasks/:id/submit-review", h.submitReview)
	api.POST("/tasks/:id/start-review", h.startReview)
	api.POST("/tasks/:id/approve", h.approveReview)
	api.POST("/tasks/:id/request-changes", h.requestChanges)

	api.GET("/tasks/:id/dependencies", h.listDependencies)
	api.POST("/tasks/:id/dependencies", h.addDependency)
	api.DELETE("/tasks/:id/dependencies/:dep_id", h.removeDependency)
	api.GET("/tasks/:id/dependents", h.listDependents)

	api.GET("/tasks/:id/activity", h.listActivity)
	api.POST("/tasks/:id/activity", h.addActivity)
	api.GET("/tasks/:id/questions", h.listQuestions)
	api.POST("/tasks/:id/questions", h.askQuestion)
	api.GET("/tasks/:id/artifacts", h.listArtifacts)
	api.POST("/tasks/:id/artifacts", h.addArtifact)
	api.GET("/tasks/:id/usage", h.listUsage)
	api.POST("/tasks/:id/usage", h.addUsage)

	api.GET("/questions/:id", h.getQuestion)
	api.GET("/questions/:id/replies", h.listReplies)
	api.POST("/questions/:id/replies", h.replyQuestion)
	api.POST("/questions/:id/resolve", h.resolveQuestion)
	api.POST("/questions/:id/dismiss", h.dismissQuestion)
	api.POST("/questions/:id/assign", h.assignQuestion)

	api.GET("/artifacts/:id", h.getArtifact)
	api.DELETE("/artifacts/:id", h.deleteArtifact)

	api.DELETE("/triggers/:id", h.deleteTrigger)
	api.GET("/triggers/:id/invocations", h.listTriggerInvocations)

	api.GET("/schema", h.schema)
}

// RegisterPublicRoutes mounts the routes that skip bearer auth.
func RegisterPublicRoutes(router gin.IRouter, h *Handlers) {
	router.POST("/api/webhooks/trigger/:id", h.invokeTrigger)
}

// fail renders an error with its taxonomy status and logs server faults.
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

// bind decodes a JSON body, answering 400 on malformed input. A missing
// body is fine when the handler treats every field as optional.
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
