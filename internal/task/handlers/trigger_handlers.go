package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opengate/opengate/internal/task/dto"
	"github.com/opengate/opengate/internal/trigger"
)

func (h *Handlers) createTrigger(c *gin.Context) {
	var body dto.CreateTriggerRequest
	if !h.bind(c, &body) {
		return
	}
	result, err := h.triggers.Create(c.Request.Context(), c.Param("id"), &trigger.CreateRequest{
		Name:         body.Name,
		ActionType:   body.ActionType,
		ActionConfig: body.ActionConfig,
		Enabled:      body.Enabled,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	// The plaintext secret appears in this response and nowhere else.
	c.JSON(http.StatusCreated, gin.H{"trigger": result.Trigger, "secret": result.Secret})
}

func (h *Handlers) listTriggers(c *gin.Context) {
	triggers, err := h.triggers.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"triggers": triggers, "total": len(triggers)})
}

func (h *Handlers) deleteTrigger(c *gin.Context) {
	if err := h.triggers.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) listTriggerInvocations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	invocations, err := h.triggers.ListInvocations(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invocations": invocations, "total": len(invocations)})
}

// invokeTrigger is the public inbound endpoint. It authenticates with the
// X-Webhook-Secret header, not a bearer token.
func (h *Handlers) invokeTrigger(c *gin.Context) {
	var payload map[string]any
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload must be a JSON object"})
			return
		}
	}
	task, err := h.triggers.Invoke(c.Request.Context(), c.Param("id"), c.GetHeader("X-Webhook-Secret"), payload)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task_id": task.ID, "status": string(task.Status)})
}
