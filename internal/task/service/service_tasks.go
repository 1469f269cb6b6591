package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/events"
	"github.com/opengate/opengate/internal/events/dispatch"
	"github.com/opengate/opengate/internal/task/models"
	"github.com/opengate/opengate/internal/task/repository"
)

// Task operations

// CreateTask creates a task, wires its initial dependencies, and publishes
// task.created (plus task.assigned when created pre-assigned).
func (s *Service) CreateTask(ctx context.Context, req *CreateTaskRequest, actor models.Actor) (*models.Task, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, apperrors.Validation("task title is required")
	}
	if _, err := s.repo.GetProject(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	status := req.Status
	if status == "" {
		status = models.StatusBacklog
	}
	if status != models.StatusBacklog && status != models.StatusTodo {
		return nil, apperrors.Validation("tasks can only be created in 'backlog' or 'todo'")
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.IsValid() {
		return nil, apperrors.Validation(fmt.Sprintf("unknown priority %q", priority))
	}
	if req.Recurrence != nil {
		if err := req.Recurrence.Validate(); err != nil {
			return nil, err
		}
	}

	now := s.now()
	task := &models.Task{
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Status:      status,
		Priority:    priority,
		Tags:        req.Tags,
		Context:     req.Context,
		DueDate:     req.DueDate,
		ScheduledAt: req.ScheduledAt,
		Recurrence:  req.Recurrence,
		CreatedBy:   actor.Ref(),
	}
	if task.ScheduledInFuture(now) && status != models.StatusBacklog {
		return nil, apperrors.Validation("a task scheduled in the future must start in 'backlog'")
	}
	if req.AssigneeID != "" {
		// Pre-assignment to an offline agent is allowed.
		agent, err := s.agents.Get(ctx, req.AssigneeID)
		if err != nil {
			return nil, err
		}
		ref := models.ActorRef{Type: models.ActorAgent, ID: agent.ID}
		task.Assignee = &ref
	}
	task.StatusHistory = []models.StatusHistoryEntry{models.HistoryEntry(status, actor, now)}

	err := s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		if err := s.repo.CreateTaskTx(ctx, tx, task); err != nil {
			return err
		}
		for _, depID := range req.Dependencies {
			if depID == task.ID {
				return apperrors.Validation("a task cannot depend on itself")
			}
			if _, err := s.repo.GetTaskTx(ctx, tx, depID); err != nil {
				return err
			}
			if err := s.repo.AddDependency(ctx, tx, task.ID, depID); err != nil {
				return err
			}
		}
		task.Dependencies = req.Dependencies

		evt := events.New(events.TaskCreated, task.ProjectID, task.ID, actor, events.TaskPayload(task, "", task.Status))
		if err := s.emit(ctx, tx, pending, evt, task); err != nil {
			return err
		}
		if task.Assignee != nil {
			assigned := events.New(events.TaskAssigned, task.ProjectID, task.ID, actor, events.TaskPayload(task, "", ""))
			if err := s.emit(ctx, tx, pending, assigned, task); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to create task", zap.Error(err))
		return nil, err
	}

	s.logger.Info("task created", zap.String("task_id", task.ID), zap.String("title", task.Title))
	return task, nil
}

// GetTask returns a task snapshot with dependencies and artifacts.
func (s *Service) GetTask(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	artifacts, err := s.repo.ListArtifacts(ctx, id)
	if err != nil {
		return nil, err
	}
	task.Artifacts = artifacts
	return task, nil
}

// ListTasks returns tasks matching the filter.
func (s *Service) ListTasks(ctx context.Context, filter repository.TaskFilter) ([]*models.Task, error) {
	return s.repo.ListTasks(ctx, filter)
}

// UpdateTask patches task fields in one transaction. A status change in the
// patch runs the full transition gate chain, including completion side
// effects for a move to done.
func (s *Service) UpdateTask(ctx context.Context, id string, req *UpdateTaskRequest, actor models.Actor) (*models.Task, error) {
	var task *models.Task
	err := s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		var err error
		task, err = s.repo.GetTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}

		fieldsChanged, err := applyFieldPatch(task, req)
		if err != nil {
			return err
		}

		statusChanged := false
		if req.Status != nil && *req.Status != task.Status {
			if err := s.applyStatusChangeTx(ctx, tx, pending, task, *req.Status, actor, req.Reason); err != nil {
				return err
			}
			statusChanged = true
		}
		if !fieldsChanged && !statusChanged {
			return nil
		}

		if err := s.repo.UpdateTaskTx(ctx, tx, task); err != nil {
			return err
		}
		if fieldsChanged {
			evt := events.New(events.TaskUpdated, task.ProjectID, task.ID, actor, events.TaskPayload(task, "", ""))
			if err := s.emit(ctx, tx, pending, evt, task); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// applyFieldPatch applies the non-status parts of an update request and
// reports whether anything changed.
func applyFieldPatch(task *models.Task, req *UpdateTaskRequest) (bool, error) {
	changed := false
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return false, apperrors.Validation("task title cannot be empty")
		}
		task.Title = *req.Title
		changed = true
	}
	if req.Description != nil {
		task.Description = *req.Description
		changed = true
	}
	if req.Priority != nil {
		if !req.Priority.IsValid() {
			return false, apperrors.Validation(fmt.Sprintf("unknown priority %q", *req.Priority))
		}
		task.Priority = *req.Priority
		changed = true
	}
	if req.Tags != nil {
		task.Tags = *req.Tags
		changed = true
	}
	if req.ClearDue {
		task.DueDate = nil
		changed = true
	} else if req.DueDate != nil {
		task.DueDate = req.DueDate
		changed = true
	}
	if req.ClearSched {
		task.ScheduledAt = nil
		changed = true
	} else if req.ScheduledAt != nil {
		task.ScheduledAt = req.ScheduledAt
		changed = true
	}
	if req.Recurrence != nil {
		if err := req.Recurrence.Validate(); err != nil {
			return false, err
		}
		task.Recurrence = req.Recurrence
		changed = true
	}
	if req.Context != nil {
		merged, ok := any(models.MergePatch(task.Context, req.Context)).(map[string]any)
		if !ok {
			return false, apperrors.Validation("context patch must be a JSON object")
		}
		task.Context = merged
		changed = true
	}
	if req.Output != nil {
		task.Output = req.Output
		changed = true
	}
	return changed, nil
}

// PatchContext applies a JSON merge-patch to the task context.
func (s *Service) PatchContext(ctx context.Context, id string, patch map[string]any, actor models.Actor) (*models.Task, error) {
	if patch == nil {
		return nil, apperrors.Validation("context patch must be a JSON object")
	}
	return s.UpdateTask(ctx, id, &UpdateTaskRequest{Context: patch}, actor)
}

// DeleteTask removes a task and its dependent rows.
func (s *Service) DeleteTask(ctx context.Context, id string, actor models.Actor) error {
	var task *models.Task
	err := s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		var err error
		task, err = s.repo.GetTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		evt := events.New(events.TaskDeleted, task.ProjectID, task.ID, actor, events.TaskPayload(task, "", ""))
		return s.emit(ctx, tx, pending, evt, nil)
	})
	if err != nil {
		return err
	}
	if err := s.repo.DeleteTask(ctx, id); err != nil {
		return err
	}
	s.logger.Info("task deleted", zap.String("task_id", id))
	return nil
}

// Dependency operations

// AddDependency adds an edge task -> dependsOn, rejecting self-references
// and cycles.
func (s *Service) AddDependency(ctx context.Context, taskID, dependsOnID string, actor models.Actor) error {
	if taskID == dependsOnID {
		return apperrors.Validation("a task cannot depend on itself")
	}
	return s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		task, err := s.repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if _, err := s.repo.GetTaskTx(ctx, tx, dependsOnID); err != nil {
			return err
		}
		cyclic, err := s.reachesTx(ctx, tx, dependsOnID, taskID)
		if err != nil {
			return err
		}
		if cyclic {
			return apperrors.Cycle(taskID, dependsOnID)
		}
		if err := s.repo.AddDependency(ctx, tx, taskID, dependsOnID); err != nil {
			return err
		}

		payload := events.TaskPayload(task, "", "")
		payload["dependency_added"] = dependsOnID
		evt := events.New(events.TaskUpdated, task.ProjectID, task.ID, actor, payload)
		return s.emit(ctx, tx, pending, evt, task)
	})
}

// RemoveDependency deletes the edge task -> dependsOn.
func (s *Service) RemoveDependency(ctx context.Context, taskID, dependsOnID string, actor models.Actor) error {
	return s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		task, err := s.repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := s.repo.RemoveDependency(ctx, tx, taskID, dependsOnID); err != nil {
			return err
		}

		payload := events.TaskPayload(task, "", "")
		payload["dependency_removed"] = dependsOnID
		evt := events.New(events.TaskUpdated, task.ProjectID, task.ID, actor, payload)
		return s.emit(ctx, tx, pending, evt, task)
	})
}

// ListDependencies returns the upstream tasks of a task.
func (s *Service) ListDependencies(ctx context.Context, taskID string) ([]*models.Task, error) {
	if _, err := s.repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	ids, err := s.repo.ListDependencyIDs(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return s.repo.GetTasksByIDs(ctx, ids)
}

// ListDependents returns the downstream tasks waiting on a task.
func (s *Service) ListDependents(ctx context.Context, taskID string) ([]*models.Task, error) {
	if _, err := s.repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	ids, err := s.repo.ListDependentIDs(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return s.repo.GetTasksByIDs(ctx, ids)
}

// reachesTx reports whether target is reachable from start along
// depends-on edges. Used for cycle detection before inserting an edge.
func (s *Service) reachesTx(ctx context.Context, tx *sqlx.Tx, start, target string) (bool, error) {
	seen := map[string]bool{}
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true, nil
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		deps, err := s.repo.ListDependencyIDsTx(ctx, tx, id)
		if err != nil {
			return false, err
		}
		stack = append(stack, deps...)
	}
	return false, nil
}

// pendingDependenciesTx returns the IDs of upstream tasks that are not done.
func (s *Service) pendingDependenciesTx(ctx context.Context, tx *sqlx.Tx, taskID string) ([]string, error) {
	depIDs, err := s.repo.ListDependencyIDsTx(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if len(depIDs) == 0 {
		return nil, nil
	}
	deps, err := s.repo.GetTasksByIDsTx(ctx, tx, depIDs)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(deps))
	for _, d := range deps {
		done[d.ID] = d.Status == models.StatusDone
	}
	var pending []string
	for _, id := range depIDs {
		if !done[id] {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

// Discovery

// NextTask returns the highest-ranked claimable task: todo, unassigned,
// dependencies met, not scheduled in the future. Tasks whose tags intersect
// the caller's skills rank first, then priority, then age.
func (s *Service) NextTask(ctx context.Context, skills []string) (*models.Task, error) {
	candidates, err := s.repo.ListTasks(ctx, repository.TaskFilter{Statuses: []models.TaskStatus{models.StatusTodo}})
	if err != nil {
		return nil, err
	}
	now := s.now()

	eligible := make([]*models.Task, 0, len(candidates))
	var depIDs []string
	for _, t := range candidates {
		if t.Assignee != nil || t.ScheduledInFuture(now) {
			continue
		}
		eligible = append(eligible, t)
		depIDs = append(depIDs, t.Dependencies...)
	}
	doneDeps, err := s.doneSet(ctx, depIDs)
	if err != nil {
		return nil, err
	}

	var best *models.Task
	bestSkill := false
	for _, t := range eligible {
		if !allDone(t.Dependencies, doneDeps) {
			continue
		}
		skillMatch := tagsIntersect(t.Tags, skills)
		if best == nil || rankBefore(t, skillMatch, best, bestSkill) {
			best, bestSkill = t, skillMatch
		}
	}
	if best == nil {
		return nil, apperrors.NotFound("claimable task", "next")
	}
	return best, nil
}

// MyTasks returns tasks where the agent is assignee or reviewer, ordered by
// priority then recency.
func (s *Service) MyTasks(ctx context.Context, agentID string) ([]*models.Task, error) {
	assigned, err := s.repo.ListTasks(ctx, repository.TaskFilter{AssigneeID: agentID})
	if err != nil {
		return nil, err
	}
	reviewing, err := s.repo.ListTasks(ctx, repository.TaskFilter{ReviewerID: agentID})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(assigned))
	merged := make([]*models.Task, 0, len(assigned)+len(reviewing))
	for _, t := range assigned {
		seen[t.ID] = true
		merged = append(merged, t)
	}
	for _, t := range reviewing {
		if !seen[t.ID] {
			merged = append(merged, t)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if a, b := merged[i].Priority.Rank(), merged[j].Priority.Rank(); a != b {
			return a < b
		}
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	return merged, nil
}

// BatchUpdateStatus moves several tasks through the full transition gate
// chain, reporting per-task outcomes.
func (s *Service) BatchUpdateStatus(ctx context.Context, taskIDs []string, to models.TaskStatus, actor models.Actor) *BatchStatusResult {
	result := &BatchStatusResult{Succeeded: []string{}, Failed: []BatchStatusError{}}
	for _, id := range taskIDs {
		if _, err := s.UpdateTaskStatus(ctx, id, to, actor, ""); err != nil {
			result.Failed = append(result.Failed, BatchStatusError{TaskID: id, Error: errText(err)})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

// Schedule lists the project's occurrences in [from, to): stored
// scheduled_at values plus, for recurring tasks, the next projected
// occurrence when it falls inside the window.
func (s *Service) Schedule(ctx context.Context, projectID string, from, to time.Time) ([]*ScheduleEntry, error) {
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	tasks, err := s.repo.ListTasks(ctx, repository.TaskFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}

	var entries []*ScheduleEntry
	for _, t := range tasks {
		if t.ScheduledAt != nil && !t.ScheduledAt.Before(from) && t.ScheduledAt.Before(to) {
			entries = append(entries, &ScheduleEntry{Task: t, ScheduledAt: *t.ScheduledAt})
		}
		if t.Recurrence == nil || t.Status.IsTerminal() {
			continue
		}
		base := t.CreatedAt
		if t.ScheduledAt != nil {
			base = *t.ScheduledAt
		}
		next, err := t.Recurrence.Next(base)
		if err != nil {
			continue
		}
		if t.Recurrence.EndDate != nil && next.After(*t.Recurrence.EndDate) {
			continue
		}
		if !next.Before(from) && next.Before(to) {
			entries = append(entries, &ScheduleEntry{Task: t, ScheduledAt: next, Projected: true})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ScheduledAt.Before(entries[j].ScheduledAt) })
	return entries, nil
}

// ProjectPulse builds the project dashboard projection: in-flight tasks by
// status, tasks finished in the last day, agents seen in the last ten
// minutes, and open blocking questions.
func (s *Service) ProjectPulse(ctx context.Context, projectID string) (*Pulse, error) {
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	now := s.now()
	pulse := &Pulse{
		Active:        []*models.Task{},
		InReview:      []*models.Task{},
		Blocked:       []*models.Task{},
		RecentlyDone:  []*models.Task{},
		AgentsPresent: []*PulseAgent{},
		OpenQuestions: []*models.Question{},
	}

	tasks, err := s.repo.ListTasks(ctx, repository.TaskFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		switch t.Status {
		case models.StatusInProgress:
			pulse.Active = append(pulse.Active, t)
		case models.StatusReview:
			pulse.InReview = append(pulse.InReview, t)
		case models.StatusBlocked:
			pulse.Blocked = append(pulse.Blocked, t)
		case models.StatusDone:
			if now.Sub(t.UpdatedAt) <= 24*time.Hour {
				pulse.RecentlyDone = append(pulse.RecentlyDone, t)
			}
		}
	}

	questions, err := s.repo.ListOpenQuestionsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, q := range questions {
		if q.Blocking {
			pulse.OpenQuestions = append(pulse.OpenQuestions, q)
		}
	}

	agents, err := s.agents.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		if a.LastSeenAt != nil && now.Sub(*a.LastSeenAt) <= 10*time.Minute {
			pulse.AgentsPresent = append(pulse.AgentsPresent, &PulseAgent{ID: a.ID, Name: a.Name, LastSeenAt: a.LastSeenAt})
		}
	}
	return pulse, nil
}

// doneSet fetches the given tasks and returns the subset that is done.
func (s *Service) doneSet(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}
	tasks, err := s.repo.GetTasksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.Status == models.StatusDone {
			done[t.ID] = true
		}
	}
	return done, nil
}

func allDone(ids []string, done map[string]bool) bool {
	for _, id := range ids {
		if !done[id] {
			return false
		}
	}
	return true
}

func tagsIntersect(tags, skills []string) bool {
	if len(tags) == 0 || len(skills) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(skills))
	for _, sk := range skills {
		set[strings.ToLower(strings.TrimSpace(sk))] = struct{}{}
	}
	for _, tag := range tags {
		if _, ok := set[strings.ToLower(strings.TrimSpace(tag))]; ok {
			return true
		}
	}
	return false
}

// rankBefore reports whether candidate t outranks the current best for
// next-task selection: skill match first, then priority, then age.
func rankBefore(t *models.Task, tSkill bool, best *models.Task, bestSkill bool) bool {
	if tSkill != bestSkill {
		return tSkill
	}
	if a, b := t.Priority.Rank(), best.Priority.Rank(); a != b {
		return a < b
	}
	return t.CreatedAt.Before(best.CreatedAt)
}

func errText(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
