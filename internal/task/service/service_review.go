package service

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	agentmodels "github.com/opengate/opengate/internal/agent/models"
	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/events"
	"github.com/opengate/opengate/internal/events/dispatch"
	"github.com/opengate/opengate/internal/task/models"
)

// SubmitForReview moves an in-progress task to review and picks a reviewer.
func (s *Service) SubmitForReview(ctx context.Context, taskID string, req *SubmitReviewRequest, actor models.Actor) (*models.Task, error) {
	if req == nil {
		req = &SubmitReviewRequest{}
	}
	var task *models.Task
	err := s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		var err error
		task, err = s.repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		return s.submitForReviewTx(ctx, tx, pending, task, actor, req)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// submitForReviewTx is the shared submit path: validation, reviewer
// selection, transition, persistence, event.
func (s *Service) submitForReviewTx(ctx context.Context, tx *sqlx.Tx, pending *dispatch.Pending, task *models.Task, actor models.Actor, req *SubmitReviewRequest) error {
	now := s.now()
	if err := models.ValidateTransition(task, models.StatusReview, now); err != nil {
		return err
	}
	if task.Assignee == nil {
		return apperrors.Validation("task has no assignee to review for")
	}
	if actor.IsAgent() && !task.AssignedTo(actor.ID) {
		return apperrors.Forbidden("only the assignee can submit this task for review")
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

	reviewer, err := s.resolveReviewer(ctx, task, req.ReviewerID)
	if err != nil {
		return err
	}
	ref := models.ActorRef{Type: models.ActorAgent, ID: reviewer.ID}
	task.Reviewer = &ref
	task.StartedReviewAt = nil

	from := task.Status
	s.stamp(task, models.StatusReview, actor, now)
	if err := s.repo.UpdateTaskTx(ctx, tx, task); err != nil {
		return err
	}

	payload := events.TaskPayload(task, from, models.StatusReview)
	payload["reviewer_id"] = reviewer.ID
	evt := events.New(events.TaskReviewRequested, task.ProjectID, task.ID, actor, payload)
	if err := s.emit(ctx, tx, pending, evt, task); err != nil {
		return err
	}

	s.logger.Info("task submitted for review",
		zap.String("task_id", task.ID), zap.String("reviewer_id", reviewer.ID))
	return nil
}

// resolveReviewer honors an explicitly named reviewer when that agent
// exists, and falls back to automatic selection otherwise.
func (s *Service) resolveReviewer(ctx context.Context, task *models.Task, explicitID string) (*agentmodels.Agent, error) {
	if explicitID != "" {
		reviewer, err := s.agents.Get(ctx, explicitID)
		if err == nil {
			return reviewer, nil
		}
		if !apperrors.IsNotFound(err) {
			return nil, err
		}
	}
	excludeID := ""
	if task.Assignee != nil {
		excludeID = task.Assignee.ID
	}
	return s.selectReviewer(ctx, task, excludeID)
}

// selectReviewer picks a reviewer for a submitted task. Tier one: online
// senior agents, excluding the submitter, whose skills overlap the task's
// tags (a task with no tags matches any senior). Tier two drops the online
// and skill requirements so a reviewer is waiting when one comes back.
// Within a tier the least busy agent wins.
func (s *Service) selectReviewer(ctx context.Context, task *models.Task, excludeID string) (*agentmodels.Agent, error) {
	all, err := s.agents.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()

	var seniors []*agentmodels.Agent
	for _, a := range all {
		if a.Seniority != agentmodels.SenioritySenior || a.ID == excludeID {
			continue
		}
		seniors = append(seniors, a)
	}
	var tierOne []*agentmodels.Agent
	for _, a := range seniors {
		if !a.Online(now) {
			continue
		}
		if len(task.Tags) == 0 || a.SkillsIntersect(task.Tags) {
			tierOne = append(tierOne, a)
		}
	}

	pick := func(candidates []*agentmodels.Agent) *agentmodels.Agent {
		var best *agentmodels.Agent
		bestLoad := 0
		for _, a := range candidates {
			load := s.agentLoad(ctx, a.ID)
			if best == nil || load < bestLoad {
				best, bestLoad = a, load
			}
		}
		return best
	}
	if r := pick(tierOne); r != nil {
		return r, nil
	}
	if r := pick(seniors); r != nil {
		return r, nil
	}
	return nil, apperrors.NoEligibleReviewer()
}

// StartReview marks the moment the reviewer picked the task up. A reviewer
// calling it twice is a no-op; an unreviewed task adopts the caller.
func (s *Service) StartReview(ctx context.Context, taskID string, actor models.Actor) (*models.Task, error) {
	var task *models.Task
	err := s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		var err error
		task, err = s.repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != models.StatusReview {
			return apperrors.Validation("task is not in review")
		}
		if task.Reviewer == nil {
			if !actor.IsAgent() {
				return apperrors.Validation("task has no reviewer")
			}
			ref := actor.Ref()
			task.Reviewer = &ref
		} else if actor.IsAgent() && !task.ReviewedBy(actor.ID) {
			return apperrors.Forbidden("only the reviewer can start this review")
		}
		if task.StartedReviewAt != nil {
			return nil
		}

		now := s.now()
		task.StartedReviewAt = &now
		task.UpdatedAt = now
		if err := s.repo.UpdateTaskTx(ctx, tx, task); err != nil {
			return err
		}

		evt := events.New(events.TaskReviewStarted, task.ProjectID, task.ID, actor,
			events.TaskPayload(task, models.StatusReview, models.StatusReview))
		return s.emit(ctx, tx, pending, evt, task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ApproveReview accepts the work: the task moves to done with the full set
// of completion side effects, announced as an approval.
func (s *Service) ApproveReview(ctx context.Context, taskID string, req *ReviewDecisionRequest, actor models.Actor) (*models.Task, error) {
	if req == nil {
		req = &ReviewDecisionRequest{}
	}
	var task *models.Task
	err := s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		var err error
		task, err = s.repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != models.StatusReview {
			return apperrors.InvalidTransition(string(task.Status), string(models.StatusDone))
		}
		if actor.IsAgent() && !task.ReviewedBy(actor.ID) {
			return apperrors.Forbidden("only the reviewer can approve this task")
		}
		if strings.TrimSpace(req.Comment) != "" {
			activity := &models.TaskActivity{
				TaskID:       task.ID,
				Author:       actor.Ref(),
				Content:      req.Comment,
				ActivityType: models.ActivityReviewFeedback,
			}
			if err := s.repo.AddActivity(ctx, tx, activity); err != nil {
				return err
			}
		}
		return s.finishTx(ctx, tx, pending, task, actor, events.TaskApproved)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("review approved", zap.String("task_id", taskID))
	return task, nil
}

// RequestChanges sends the task back to its assignee: a handoff entry
// attributed to the reviewer, an in_progress entry attributed to the
// assignee, the reviewer kept for the next round.
func (s *Service) RequestChanges(ctx context.Context, taskID string, req *ReviewDecisionRequest, actor models.Actor) (*models.Task, error) {
	if req == nil || strings.TrimSpace(req.Comment) == "" {
		return nil, apperrors.Validation("a comment is required when requesting changes")
	}
	var task *models.Task
	err := s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		var err error
		task, err = s.repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != models.StatusReview {
			return apperrors.InvalidTransition(string(task.Status), string(models.StatusHandoff))
		}
		if actor.IsAgent() && !task.ReviewedBy(actor.ID) {
			return apperrors.Forbidden("only the reviewer can request changes")
		}

		activity := &models.TaskActivity{
			TaskID:       task.ID,
			Author:       actor.Ref(),
			Content:      req.Comment,
			ActivityType: models.ActivityReviewFeedback,
		}
		if err := s.repo.AddActivity(ctx, tx, activity); err != nil {
			return err
		}

		// Without an assignee there is nobody to hand back to; the feedback
		// stays on the task and it remains in review.
		to := task.Status
		if task.Assignee != nil {
			now := s.now()
			s.stamp(task, models.StatusHandoff, actor, now)
			s.stamp(task, models.StatusInProgress, models.AgentActor(task.Assignee.ID, ""), now)
			if err := s.repo.UpdateTaskTx(ctx, tx, task); err != nil {
				return err
			}
			to = models.StatusInProgress
		}

		payload := events.TaskPayload(task, models.StatusReview, to)
		payload["comment"] = req.Comment
		evt := events.New(events.TaskChangesRequested, task.ProjectID, task.ID, actor, payload)
		return s.emit(ctx, tx, pending, evt, task)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("changes requested", zap.String("task_id", taskID))
	return task, nil
}
