package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	agentmodels "github.com/opengate/opengate/internal/agent/models"
	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/events"
	"github.com/opengate/opengate/internal/events/dispatch"
	"github.com/opengate/opengate/internal/task/models"
	"github.com/opengate/opengate/internal/task/repository"
)

// ReleaseStale returns in-progress tasks whose assignee went silent back to
// the pool. Only in_progress is reaped: review and handoff are protected,
// and a task waiting on an answer keeps its assignee. Each release runs in
// its own transaction so one failure never blocks the sweep.
func (s *Service) ReleaseStale(ctx context.Context) (int, error) {
	tasks, err := s.repo.ListTasks(ctx, repository.TaskFilter{
		Statuses: []models.TaskStatus{models.StatusInProgress},
	})
	if err != nil {
		return 0, err
	}

	now := s.now()
	cache := make(map[string]*agentmodels.Agent)
	released := 0
	for _, task := range tasks {
		if task.HasOpenQuestions || task.Assignee == nil || task.Assignee.Type != models.ActorAgent {
			continue
		}
		agent, ok := cache[task.Assignee.ID]
		if !ok {
			var err error
			agent, err = s.agents.Get(ctx, task.Assignee.ID)
			if err != nil && !apperrors.IsNotFound(err) {
				s.logger.Warn("stale sweep could not load assignee",
					zap.String("task_id", task.ID), zap.Error(err))
				continue
			}
			cache[task.Assignee.ID] = agent
		}
		// A deleted agent is as gone as a silent one.
		if agent != nil && agent.Online(now) {
			continue
		}

		if err := s.releaseStaleTask(ctx, task.ID, task.Assignee.ID); err != nil {
			s.logger.Warn("failed to release stale task",
				zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		released++
		s.logger.Info("released stale task",
			zap.String("task_id", task.ID),
			zap.String("agent_id", task.Assignee.ID))
	}
	return released, nil
}

// releaseStaleTask re-checks the reap conditions under the write lock, then
// clears the assignee and forces todo.
func (s *Service) releaseStaleTask(ctx context.Context, taskID, assigneeID string) error {
	return s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		task, err := s.repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != models.StatusInProgress || task.HasOpenQuestions ||
			!task.AssignedTo(assigneeID) {
			return nil
		}

		actor := models.SystemActor("stale_release")
		task.Assignee = nil
		s.stamp(task, models.StatusTodo, actor, s.now())
		if err := s.repo.UpdateTaskTx(ctx, tx, task); err != nil {
			return err
		}

		payload := events.TaskPayload(task, models.StatusInProgress, models.StatusTodo)
		payload["reason"] = "stale assignee"
		evt := events.New(events.TaskReleased, task.ProjectID, task.ID, actor, payload)
		return s.emit(ctx, tx, pending, evt, task)
	})
}

// PromoteScheduled moves backlog tasks whose scheduled time has passed to
// todo, skipping any still waiting on dependencies.
func (s *Service) PromoteScheduled(ctx context.Context) (int, error) {
	tasks, err := s.repo.ListTasks(ctx, repository.TaskFilter{
		Statuses: []models.TaskStatus{models.StatusBacklog},
	})
	if err != nil {
		return 0, err
	}

	now := s.now()
	promoted := 0
	for _, task := range tasks {
		if task.ScheduledAt == nil || task.ScheduledAt.After(now) {
			continue
		}
		ok, err := s.promoteScheduledTask(ctx, task.ID)
		if err != nil {
			s.logger.Warn("failed to promote scheduled task",
				zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		if ok {
			promoted++
			s.logger.Info("promoted scheduled task", zap.String("task_id", task.ID))
		}
	}
	return promoted, nil
}

func (s *Service) promoteScheduledTask(ctx context.Context, taskID string) (bool, error) {
	promoted := false
	err := s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		task, err := s.repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		now := s.now()
		if task.Status != models.StatusBacklog || task.ScheduledAt == nil || task.ScheduledAt.After(now) {
			return nil
		}
		pendingDeps, err := s.pendingDependenciesTx(ctx, tx, task.ID)
		if err != nil {
			return err
		}
		if len(pendingDeps) > 0 {
			return nil
		}

		actor := models.SystemActor("scheduled-auto-transition")
		s.stamp(task, models.StatusTodo, actor, now)
		if err := s.repo.UpdateTaskTx(ctx, tx, task); err != nil {
			return err
		}
		promoted = true

		evt := events.New(events.TaskUpdated, task.ProjectID, task.ID, actor,
			events.TaskPayload(task, models.StatusBacklog, models.StatusTodo))
		return s.emit(ctx, tx, pending, evt, task)
	})
	return promoted, err
}
