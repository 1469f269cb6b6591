package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opengate/opengate/internal/common/httpmw"
	"github.com/opengate/opengate/internal/task/dto"
	"github.com/opengate/opengate/internal/task/models"
)

// Lifecycle actions. Each runs the full gate chain in the service; the
// handler's job is only to shape the request and pick the caller.

func (h *Handlers) claimTask(c *gin.Context) {
	actor, err := httpmw.RequireAgent(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	task, err := h.tasks.ClaimTask(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) releaseTask(c *gin.Context) {
	actor, err := httpmw.RequireAgent(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	task, err := h.tasks.ReleaseTask(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) completeTask(c *gin.Context) {
	var body dto.CompleteTaskRequest
	if !h.bind(c, &body) {
		return
	}
	task, err := h.tasks.CompleteTask(c.Request.Context(), c.Param("id"), dto.ToCompleteTask(&body), httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) blockTask(c *gin.Context) {
	var body dto.UpdateStatusRequest
	if !h.bind(c, &body) {
		return
	}
	task, err := h.tasks.UpdateTaskStatus(c.Request.Context(), c.Param("id"), models.StatusBlocked, httpmw.Actor(c), body.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) updateStatus(c *gin.Context) {
	var body dto.UpdateStatusRequest
	if !h.bind(c, &body) {
		return
	}
	status := models.TaskStatus(body.Status)
	if !status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + body.Status})
		return
	}
	task, err := h.tasks.UpdateTaskStatus(c.Request.Context(), c.Param("id"), status, httpmw.Actor(c), body.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) assignTask(c *gin.Context) {
	var body dto.AssignTaskRequest
	if !h.bind(c, &body) {
		return
	}
	if body.AgentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_id is required"})
		return
	}
	task, err := h.tasks.AssignTask(c.Request.Context(), c.Param("id"), body.AgentID, httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) handoffTask(c *gin.Context) {
	var body dto.HandoffRequest
	if !h.bind(c, &body) {
		return
	}
	task, err := h.tasks.HandoffTask(c.Request.Context(), c.Param("id"), dto.ToHandoff(&body), httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) submitReview(c *gin.Context) {
	var body dto.SubmitReviewRequest
	if !h.bind(c, &body) {
		return
	}
	task, err := h.tasks.SubmitForReview(c.Request.Context(), c.Param("id"), dto.ToSubmitReview(&body), httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) startReview(c *gin.Context) {
	task, err := h.tasks.StartReview(c.Request.Context(), c.Param("id"), httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) approveReview(c *gin.Context) {
	var body dto.ReviewDecisionRequest
	if !h.bind(c, &body) {
		return
	}
	task, err := h.tasks.ApproveReview(c.Request.Context(), c.Param("id"), dto.ToReviewDecision(&body), httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) requestChanges(c *gin.Context) {
	var body dto.ReviewDecisionRequest
	if !h.bind(c, &body) {
		return
	}
	task, err := h.tasks.RequestChanges(c.Request.Context(), c.Param("id"), dto.ToReviewDecision(&body), httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
