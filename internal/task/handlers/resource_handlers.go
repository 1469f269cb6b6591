package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opengate/opengate/internal/common/httpmw"
	"github.com/opengate/opengate/internal/task/dto"
)

// Activity

func (h *Handlers) addActivity(c *gin.Context) {
	var body dto.AddActivityRequest
	if !h.bind(c, &body) {
		return
	}
	activity, err := h.tasks.AddActivity(c.Request.Context(), c.Param("id"), dto.ToAddActivity(&body), httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, activity)
}

func (h *Handlers) listActivity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	activities, err := h.tasks.ListActivities(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ActivityListResponse{Activities: activities, Total: len(activities)})
}

// Artifacts

func (h *Handlers) addArtifact(c *gin.Context) {
	var body dto.AddArtifactRequest
	if !h.bind(c, &body) {
		return
	}
	artifact, err := h.tasks.AddArtifact(c.Request.Context(), c.Param("id"), dto.ToAddArtifact(&body), httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, artifact)
}

func (h *Handlers) listArtifacts(c *gin.Context) {
	artifacts, err := h.tasks.ListArtifacts(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ArtifactListResponse{Artifacts: artifacts, Total: len(artifacts)})
}

func (h *Handlers) getArtifact(c *gin.Context) {
	artifact, err := h.tasks.GetArtifact(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, artifact)
}

func (h *Handlers) deleteArtifact(c *gin.Context) {
	if err := h.tasks.DeleteArtifact(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Knowledge

func (h *Handlers) upsertKnowledge(c *gin.Context) {
	var body dto.UpsertKnowledgeRequest
	if !h.bind(c, &body) {
		return
	}
	entry, err := h.tasks.UpsertKnowledge(c.Request.Context(), c.Param("id"), dto.ToUpsertKnowledge(&body), httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handlers) listKnowledge(c *gin.Context) {
	entries, err := h.tasks.ListKnowledge(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.KnowledgeListResponse{Entries: entries, Total: len(entries)})
}

func (h *Handlers) searchKnowledge(c *gin.Context) {
	entries, err := h.tasks.SearchKnowledge(c.Request.Context(), c.Param("id"), c.Query("q"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.KnowledgeListResponse{Entries: entries, Total: len(entries)})
}

func (h *Handlers) updateKnowledge(c *gin.Context) {
	var body dto.UpdateKnowledgeRequest
	if !h.bind(c, &body) {
		return
	}
	entry, err := h.tasks.UpdateKnowledge(c.Request.Context(), c.Param("id"), dto.ToUpdateKnowledge(&body))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handlers) deleteKnowledge(c *gin.Context) {
	if err := h.tasks.DeleteKnowledge(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Usage

func (h *Handlers) addUsage(c *gin.Context) {
	var body dto.AddUsageRequest
	if !h.bind(c, &body) {
		return
	}
	usage, err := h.tasks.AddUsage(c.Request.Context(), c.Param("id"), dto.ToAddUsage(&body), httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, usage)
}

func (h *Handlers) listUsage(c *gin.Context) {
	entries, err := h.tasks.ListUsage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	totals, err := h.tasks.UsageTotals(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.UsageListResponse{Usage: entries, Totals: totals})
}
