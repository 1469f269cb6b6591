package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opengate/opengate/internal/common/httpmw"
	"github.com/opengate/opengate/internal/task/dto"
	"github.com/opengate/opengate/internal/task/models"
)

func (h *Handlers) createProject(c *gin.Context) {
	var body dto.CreateProjectRequest
	if !h.bind(c, &body) {
		return
	}
	project, err := h.tasks.CreateProject(c.Request.Context(), dto.ToCreateProject(&body), httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

func (h *Handlers) listProjects(c *gin.Context) {
	status := models.ProjectStatus(c.Query("status"))
	projects, err := h.tasks.ListProjects(c.Request.Context(), status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ProjectListResponse{Projects: projects, Total: len(projects)})
}

func (h *Handlers) getProject(c *gin.Context) {
	project, err := h.tasks.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *Handlers) updateProject(c *gin.Context) {
	var body dto.UpdateProjectRequest
	if !h.bind(c, &body) {
		return
	}
	project, err := h.tasks.UpdateProject(c.Request.Context(), c.Param("id"), dto.ToUpdateProject(&body), httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *Handlers) deleteProject(c *gin.Context) {
	if err := h.tasks.DeleteProject(c.Request.Context(), c.Param("id"), httpmw.Actor(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) projectPulse(c *gin.Context) {
	pulse, err := h.tasks.ProjectPulse(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, pulse)
}

func (h *Handlers) projectSchedule(c *gin.Context) {
	now := time.Now().UTC()
	from, ok := h.timeQuery(c, "from", now)
	if !ok {
		return
	}
	to, ok := h.timeQuery(c, "to", now.Add(7*24*time.Hour))
	if !ok {
		return
	}
	entries, err := h.tasks.Schedule(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "from": from, "to": to})
}

func (h *Handlers) listProjectEvents(c *gin.Context) {
	sinceID, _ := strconv.ParseInt(c.Query("since_id"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))
	evts, err := h.tasks.ListProjectEvents(c.Request.Context(), c.Param("id"), sinceID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.EventListResponse{Events: evts, Total: len(evts)})
}

func (h *Handlers) timeQuery(c *gin.Context, name string, fallback time.Time) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be RFC 3339"})
		return time.Time{}, false
	}
	return t, true
}
