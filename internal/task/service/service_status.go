package service

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	agentmodels "github.com/opengate/opengate/internal/agent/models"
	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/events"
	"github.com/opengate/opengate/internal/events/dispatch"
	"github.com/opengate/opengate/internal/task/models"
)

// stamp applies an accepted transition: status, history entry, updated_at.
func (s *Service) stamp(task *models.Task, to models.TaskStatus, actor models.Actor, now time.Time) {
	task.Status = to
	task.StatusHistory = append(task.StatusHistory, models.HistoryEntry(to, actor, now))
	task.UpdatedAt = now
}

// UpdateTaskStatus moves a task through the full transition gate chain.
// Setting the current status is a no-op that appends no history.
func (s *Service) UpdateTaskStatus(ctx context.Context, id string, to models.TaskStatus, actor models.Actor, reason string) (*models.Task, error) {
	var task *models.Task
	err := s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		var err error
		task, err = s.repo.GetTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if task.Status == to {
			return nil
		}
		return s.applyStatusChangeTx(ctx, tx, pending, task, to, actor, reason)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// applyStatusChangeTx runs the gate chain for one transition, persists the
// task, and emits the transition's event. Moves to review and done route
// through the submission and completion paths so reviewer selection and
// completion side effects always run, whichever endpoint asked.
func (s *Service) applyStatusChangeTx(ctx context.Context, tx *sqlx.Tx, pending *dispatch.Pending, task *models.Task, to models.TaskStatus, actor models.Actor, reason string) error {
	switch to {
	case models.StatusReview:
		return s.submitForReviewTx(ctx, tx, pending, task, actor, &SubmitReviewRequest{})
	case models.StatusDone:
		return s.finishTx(ctx, tx, pending, task, actor, events.TaskCompleted)
	case models.StatusHandoff:
		return apperrors.Validation("handoff requires a receiving agent; use the handoff operation")
	}

	now := s.now()
	if err := models.ValidateTransition(task, to, now); err != nil {
		return err
	}
	if to == models.StatusInProgress {
		if task.Assignee == nil {
			return apperrors.Validation("task has no assignee; claim it instead")
		}
		if actor.IsAgent() && !task.AssignedTo(actor.ID) && !task.ReviewedBy(actor.ID) {
			return apperrors.Forbidden("only the assignee can start this task")
		}
		pendingDeps, err := s.pendingDependenciesTx(ctx, tx, task.ID)
		if err != nil {
			return err
		}
		if len(pendingDeps) > 0 {
			return apperrors.DependenciesUnmet(task.ID, pendingDeps)
		}
	}
	if to == models.StatusBlocked {
		if strings.TrimSpace(reason) == "" {
			return apperrors.Validation("a reason is required to block a task")
		}
		activity := &models.TaskActivity{
			TaskID:       task.ID,
			Author:       actor.Ref(),
			Content:      reason,
			ActivityType: models.ActivityBlocked,
		}
		if err := s.repo.AddActivity(ctx, tx, activity); err != nil {
			return err
		}
	}

	from := task.Status
	s.stamp(task, to, actor, now)
	if err := s.repo.UpdateTaskTx(ctx, tx, task); err != nil {
		return err
	}

	payload := events.TaskPayload(task, from, to)
	eventType := events.TaskUpdated
	switch to {
	case models.StatusBlocked:
		eventType = events.TaskBlocked
		payload["reason"] = reason
	case models.StatusCancelled:
		eventType = events.TaskCancelled
	}
	evt := events.New(eventType, task.ProjectID, task.ID, actor, payload)
	return s.emit(ctx, tx, pending, evt, task)
}

// ClaimTask assigns a task to the calling agent and starts it. Claiming a
// task already held by the caller is an idempotent no-op.
func (s *Service) ClaimTask(ctx context.Context, taskID string, actor models.Actor) (*models.Task, error) {
	agent, err := s.loadAgent(ctx, actor)
	if err != nil {
		return nil, err
	}

	var task *models.Task
	err = s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		task, err = s.repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.AssignedTo(agent.ID) && !task.Status.IsTerminal() {
			return nil
		}
		if task.Status.IsTerminal() {
			return apperrors.InvalidTransition(string(task.Status), string(models.StatusInProgress))
		}
		if task.Assignee != nil {
			return apperrors.Forbidden("task is already assigned to another agent")
		}

		now := s.now()
		if err := models.ValidateTransition(task, models.StatusInProgress, now); err != nil {
			return err
		}
		pendingDeps, err := s.pendingDependenciesTx(ctx, tx, task.ID)
		if err != nil {
			return err
		}
		if len(pendingDeps) > 0 {
			return apperrors.DependenciesUnmet(task.ID, pendingDeps)
		}
		inProgress, err := s.repo.CountTasksByAssigneeTx(ctx, tx, agent.ID, []models.TaskStatus{models.StatusInProgress})
		if err != nil {
			return err
		}
		if inProgress >= agent.MaxConcurrentTasks {
			return apperrors.Capacity(agent.Name, agent.MaxConcurrentTasks)
		}

		from := task.Status
		ref := models.ActorRef{Type: models.ActorAgent, ID: agent.ID}
		task.Assignee = &ref
		if from != models.StatusInProgress {
			s.stamp(task, models.StatusInProgress, actor, now)
		}
		if err := s.repo.UpdateTaskTx(ctx, tx, task); err != nil {
			return err
		}

		evt := events.New(events.TaskClaimed, task.ProjectID, task.ID, actor, events.TaskPayload(task, from, task.Status))
		return s.emit(ctx, tx, pending, evt, task)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("task claimed", zap.String("task_id", taskID), zap.String("agent_id", agent.ID))
	return task, nil
}

// ReleaseTask returns a claimed task to the pool: assignee cleared, status
// forced to todo.
func (s *Service) ReleaseTask(ctx context.Context, taskID string, actor models.Actor) (*models.Task, error) {
	if !actor.IsAgent() {
		return nil, apperrors.AuthRequired("agent authentication required")
	}

	var task *models.Task
	err := s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		var err error
		task, err = s.repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !task.AssignedTo(actor.ID) {
			return apperrors.Forbidden("only the assignee can release this task")
		}
		if task.Status.IsTerminal() {
			return apperrors.InvalidTransition(string(task.Status), string(models.StatusTodo))
		}

		now := s.now()
		from := task.Status
		task.Assignee = nil
		if from != models.StatusTodo {
			s.stamp(task, models.StatusTodo, actor, now)
		} else {
			task.UpdatedAt = now
		}
		if err := s.repo.UpdateTaskTx(ctx, tx, task); err != nil {
			return err
		}

		evt := events.New(events.TaskReleased, task.ProjectID, task.ID, actor, events.TaskPayload(task, from, models.StatusTodo))
		return s.emit(ctx, tx, pending, evt, task)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("task released", zap.String("task_id", taskID), zap.String("agent_id", actor.ID))
	return task, nil
}

// CompleteTask moves a task to done and runs the completion side effects.
// Output, when provided, replaces the task's output object.
func (s *Service) CompleteTask(ctx context.Context, taskID string, req *CompleteTaskRequest, actor models.Actor) (*models.Task, error) {
	if req == nil {
		req = &CompleteTaskRequest{}
	}
	var task *models.Task
	err := s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		var err error
		task, err = s.repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if actor.IsAgent() && !task.AssignedTo(actor.ID) && !task.ReviewedBy(actor.ID) {
			return apperrors.Forbidden("only the assignee or reviewer can complete this task")
		}
		if req.Output != nil {
			task.Output = req.Output
		}
		if strings.TrimSpace(req.Summary) != "" {
			activity := &models.TaskActivity{
				TaskID:       task.ID,
				Author:       actor.Ref(),
				Content:      req.Summary,
				ActivityType: models.ActivityComment,
			}
			if err := s.repo.AddActivity(ctx, tx, activity); err != nil {
				return err
			}
		}
		return s.finishTx(ctx, tx, pending, task, actor, events.TaskCompleted)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("task completed", zap.String("task_id", taskID))
	return task, nil
}

// finishTx moves a task to done, persists it, emits the closing event, and
// runs the completion side effects: upstream output injection, dependent
// unblock, and recurrence emission.
func (s *Service) finishTx(ctx context.Context, tx *sqlx.Tx, pending *dispatch.Pending, task *models.Task, actor models.Actor, eventType string) error {
	now := s.now()
	if err := models.ValidateTransition(task, models.StatusDone, now); err != nil {
		return err
	}
	from := task.Status
	s.stamp(task, models.StatusDone, actor, now)
	if err := s.repo.UpdateTaskTx(ctx, tx, task); err != nil {
		return err
	}

	evt := events.New(eventType, task.ProjectID, task.ID, actor, events.TaskPayload(task, from, models.StatusDone))
	if err := s.emit(ctx, tx, pending, evt, task); err != nil {
		return err
	}
	return s.completionEffectsTx(ctx, tx, pending, task, actor, now)
}

// completionEffectsTx applies the side effects of a task reaching done.
func (s *Service) completionEffectsTx(ctx context.Context, tx *sqlx.Tx, pending *dispatch.Pending, completed *models.Task, actor models.Actor, now time.Time) error {
	dependentIDs, err := s.repo.ListDependentIDsTx(ctx, tx, completed.ID)
	if err != nil {
		return err
	}
	if len(dependentIDs) > 0 {
		dependents, err := s.repo.GetTasksByIDsTx(ctx, tx, dependentIDs)
		if err != nil {
			return err
		}
		for _, dep := range dependents {
			injectUpstreamOutput(dep, completed, actor, now)

			unblockedFrom := models.TaskStatus("")
			if dep.Status == models.StatusBacklog || dep.Status == models.StatusBlocked {
				pendingDeps, err := s.pendingDependenciesTx(ctx, tx, dep.ID)
				if err != nil {
					return err
				}
				if len(pendingDeps) == 0 {
					unblockedFrom = dep.Status
					s.stamp(dep, models.StatusTodo, models.SystemActor("auto-unblock"), now)
				}
			}
			if err := s.repo.UpdateTaskTx(ctx, tx, dep); err != nil {
				return err
			}
			if unblockedFrom != "" {
				payload := events.TaskPayload(dep, unblockedFrom, models.StatusTodo)
				payload["completed_task_id"] = completed.ID
				payload["completed_title"] = completed.Title
				evt := events.New(events.TaskUnblocked, dep.ProjectID, dep.ID, models.SystemActor("auto-unblock"), payload)
				if err := s.emit(ctx, tx, pending, evt, dep); err != nil {
					return err
				}
			}
		}
	}
	return s.emitRecurrenceTx(ctx, tx, pending, completed, now)
}

// injectUpstreamOutput merges the completed task's output into a
// dependent's context under upstream_outputs[completed.id]. The merge never
// replaces unrelated context keys.
func injectUpstreamOutput(dep, completed *models.Task, actor models.Actor, now time.Time) {
	if dep.Context == nil {
		dep.Context = map[string]any{}
	}
	outputs, ok := dep.Context["upstream_outputs"].(map[string]any)
	if !ok {
		outputs = map[string]any{}
	}
	agent := actor.Name
	if agent == "" {
		agent = actor.ID
	}
	outputs[completed.ID] = map[string]any{
		"task_title":   completed.Title,
		"agent":        agent,
		"completed_at": now.Format(time.RFC3339),
		"output":       completed.Output,
	}
	dep.Context["upstream_outputs"] = outputs
}

// emitRecurrenceTx inserts the next occurrence of a recurring task unless
// the rule has run its course.
func (s *Service) emitRecurrenceTx(ctx context.Context, tx *sqlx.Tx, pending *dispatch.Pending, completed *models.Task, now time.Time) error {
	rule := completed.Recurrence
	if rule == nil {
		return nil
	}

	progenitorID := completed.RecurrenceParentID
	if progenitorID == "" {
		progenitorID = completed.ID
	}
	chainCount, err := s.repo.CountRecurrenceChain(ctx, tx, progenitorID)
	if err != nil {
		return err
	}

	base := completed.CreatedAt
	if completed.ScheduledAt != nil {
		base = *completed.ScheduledAt
	}
	next, err := rule.Next(base)
	if err != nil {
		s.logger.Warn("skipping recurrence with unusable rule",
			zap.String("task_id", completed.ID), zap.Error(err))
		return nil
	}
	if rule.Ended(chainCount, next) {
		s.logger.Debug("recurrence chain ended",
			zap.String("task_id", completed.ID), zap.Int("occurrences", chainCount))
		return nil
	}

	actor := models.SystemActor("recurrence")
	clone := &models.Task{
		ProjectID:          completed.ProjectID,
		Title:              completed.Title,
		Description:        completed.Description,
		Status:             models.StatusBacklog,
		Priority:           completed.Priority,
		Tags:               completed.Tags,
		Context:            completed.Context,
		Assignee:           completed.Assignee,
		ScheduledAt:        &next,
		Recurrence:         rule,
		RecurrenceParentID: progenitorID,
		CreatedBy:          completed.CreatedBy,
		StatusHistory:      []models.StatusHistoryEntry{models.HistoryEntry(models.StatusBacklog, actor, now)},
	}
	if err := s.repo.CreateTaskTx(ctx, tx, clone); err != nil {
		return err
	}

	payload := events.TaskPayload(clone, "", models.StatusBacklog)
	payload["recurrence_parent_id"] = progenitorID
	evt := events.New(events.TaskCreated, clone.ProjectID, clone.ID, actor, payload)
	if err := s.emit(ctx, tx, pending, evt, clone); err != nil {
		return err
	}

	s.logger.Info("recurrence emitted",
		zap.String("task_id", completed.ID),
		zap.String("next_task_id", clone.ID),
		zap.Time("scheduled_at", next))
	return nil
}

// AssignTask sets the assignee directly without the claim gates. Assigning
// to an offline agent is allowed (pre-assignment).
func (s *Service) AssignTask(ctx context.Context, taskID, agentID string, actor models.Actor) (*models.Task, error) {
	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}

	var task *models.Task
	err = s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		task, err = s.repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Status.IsTerminal() {
			return apperrors.Validation("cannot assign a task in a terminal status")
		}
		if task.AssignedTo(agent.ID) {
			return nil
		}

		ref := models.ActorRef{Type: models.ActorAgent, ID: agent.ID}
		task.Assignee = &ref
		task.UpdatedAt = s.now()
		if err := s.repo.UpdateTaskTx(ctx, tx, task); err != nil {
			return err
		}

		evt := events.New(events.TaskAssigned, task.ProjectID, task.ID, actor, events.TaskPayload(task, "", ""))
		return s.emit(ctx, tx, pending, evt, task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// HandoffTask transfers an in-progress task to another agent: one handoff
// history entry for the initiator, one in_progress entry for the receiver.
func (s *Service) HandoffTask(ctx context.Context, taskID string, req *HandoffRequest, actor models.Actor) (*models.Task, error) {
	if req == nil || req.ToAgentID == "" {
		return nil, apperrors.Validation("to_agent_id is required")
	}
	toAgent, err := s.agents.Get(ctx, req.ToAgentID)
	if err != nil {
		return nil, err
	}

	var task *models.Task
	err = s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		task, err = s.repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != models.StatusInProgress {
			return apperrors.InvalidTransition(string(task.Status), string(models.StatusHandoff))
		}
		if actor.IsAgent() && !task.AssignedTo(actor.ID) {
			initiator, err := s.agents.Get(ctx, actor.ID)
			if err != nil || initiator.Role != agentmodels.RoleOrchestrator {
				return apperrors.Forbidden("only the assignee or an orchestrator can hand off this task")
			}
		}

		now := s.now()
		var fromAgent string
		if task.Assignee != nil {
			fromAgent = task.Assignee.ID
		}
		s.stamp(task, models.StatusHandoff, actor, now)
		ref := models.ActorRef{Type: models.ActorAgent, ID: toAgent.ID}
		task.Assignee = &ref
		s.stamp(task, models.StatusInProgress, models.AgentActor(toAgent.ID, toAgent.Name), now)

		if strings.TrimSpace(req.Note) != "" {
			activity := &models.TaskActivity{
				TaskID:       task.ID,
				Author:       actor.Ref(),
				Content:      req.Note,
				ActivityType: models.ActivityHandoff,
			}
			if err := s.repo.AddActivity(ctx, tx, activity); err != nil {
				return err
			}
		}
		if err := s.repo.UpdateTaskTx(ctx, tx, task); err != nil {
			return err
		}

		payload := events.TaskPayload(task, models.StatusInProgress, models.StatusInProgress)
		payload["from_agent_id"] = fromAgent
		payload["to_agent_id"] = toAgent.ID
		handoff := events.New(events.TaskHandoff, task.ProjectID, task.ID, actor, payload)
		if err := s.emit(ctx, tx, pending, handoff, task); err != nil {
			return err
		}
		assigned := events.New(events.TaskAssigned, task.ProjectID, task.ID, actor, events.TaskPayload(task, "", ""))
		return s.emit(ctx, tx, pending, assigned, task)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("task handed off",
		zap.String("task_id", taskID), zap.String("to_agent_id", toAgent.ID))
	return task, nil
}
