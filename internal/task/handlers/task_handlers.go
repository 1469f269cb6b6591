package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opengate/opengate/internal/common/httpmw"
	"github.com/opengate/opengate/internal/task/dto"
	"github.com/opengate/opengate/internal/task/models"
	"github.com/opengate/opengate/internal/task/repository"
)

func (h *Handlers) createTask(c *gin.Context) {
	var body dto.CreateTaskRequest
	if !h.bind(c, &body) {
		return
	}
	task, err := h.tasks.CreateTask(c.Request.Context(), dto.ToCreateTask(c.Param("id"), &body), httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *Handlers) listProjectTasks(c *gin.Context) {
	filter, ok := h.taskFilter(c)
	if !ok {
		return
	}
	filter.ProjectID = c.Param("id")
	if _, err := h.tasks.GetProject(c.Request.Context(), filter.ProjectID); err != nil {
		h.fail(c, err)
		return
	}
	h.respondTaskList(c, filter)
}

func (h *Handlers) listTasks(c *gin.Context) {
	filter, ok := h.taskFilter(c)
	if !ok {
		return
	}
	filter.ProjectID = c.Query("project_id")
	h.respondTaskList(c, filter)
}

// taskFilter parses the shared list-query parameters.
func (h *Handlers) taskFilter(c *gin.Context) (repository.TaskFilter, bool) {
	filter := repository.TaskFilter{
		AssigneeID: c.Query("assignee_id"),
		Tag:        c.Query("tag"),
	}
	if status := c.Query("status"); status != "" {
		st := models.TaskStatus(status)
		if !st.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + status})
			return filter, false
		}
		filter.Statuses = []models.TaskStatus{st}
	}
	if priority := c.Query("priority"); priority != "" {
		p := models.TaskPriority(priority)
		if !p.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown priority: " + priority})
			return filter, false
		}
		filter.Priority = p
	}
	if limit := c.Query("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	return filter, true
}

func (h *Handlers) respondTaskList(c *gin.Context, filter repository.TaskFilter) {
	tasks, err := h.tasks.ListTasks(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.TaskListResponse{Tasks: tasks, Total: len(tasks)})
}

func (h *Handlers) getTask(c *gin.Context) {
	task, err := h.tasks.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) updateTask(c *gin.Context) {
	var body dto.UpdateTaskRequest
	if !h.bind(c, &body) {
		return
	}
	task, err := h.tasks.UpdateTask(c.Request.Context(), c.Param("id"), dto.ToUpdateTask(&body), httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) patchContext(c *gin.Context) {
	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "context patch must be a JSON object"})
		return
	}
	task, err := h.tasks.PatchContext(c.Request.Context(), c.Param("id"), patch, httpmw.Actor(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) deleteTask(c *gin.Context) {
	if err := h.tasks.DeleteTask(c.Request.Context(), c.Param("id"), httpmw.Actor(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) listTaskEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	evts, err := h.tasks.ListTaskEvents(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.EventListResponse{Events: evts, Total: len(evts)})
}

func (h *Handlers) nextTask(c *gin.Context) {
	var skills []string
	if raw := c.Query("skills"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				skills = append(skills, s)
			}
		}
	}
	task, err := h.tasks.NextTask(c.Request.Context(), skills)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handlers) myTasks(c *gin.Context) {
	actor, err := httpmw.RequireAgent(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	tasks, err := h.tasks.MyTasks(c.Request.Context(), actor.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.TaskListResponse{Tasks: tasks, Total: len(tasks)})
}

func (h *Handlers) batchStatus(c *gin.Context) {
	var body dto.BatchStatusRequest
	if !h.bind(c, &body) {
		return
	}
	if len(body.TaskIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_ids is required"})
		return
	}
	status := models.TaskStatus(body.Status)
	if !status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + body.Status})
		return
	}
	result := h.tasks.BatchUpdateStatus(c.Request.Context(), body.TaskIDs, status, httpmw.Actor(c))
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) listDependencies(c *gin.Context) {
	deps, err := h.tasks.ListDependencies(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.TaskListResponse{Tasks: deps, Total: len(deps)})
}

func (h *Handlers) addDependency(c *gin.Context) {
	var body dto.AddDependencyRequest
	if !h.bind(c, &body) {
		return
	}
	if body.DependsOn == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "depends_on is required"})
		return
	}
	if err := h.tasks.AddDependency(c.Request.Context(), c.Param("id"), body.DependsOn, httpmw.Actor(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (h *Handlers) removeDependency(c *gin.Context) {
	if err := h.tasks.RemoveDependency(c.Request.Context(), c.Param("id"), c.Param("dep_id"), httpmw.Actor(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) listDependents(c *gin.Context) {
	dependents, err := h.tasks.ListDependents(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.TaskListResponse{Tasks: dependents, Total: len(dependents)})
}
