package service

import (
	"context"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	agentmodels "github.com/opengate/opengate/internal/agent/models"
	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/events"
	"github.com/opengate/opengate/internal/events/dispatch"
	"github.com/opengate/opengate/internal/task/models"
)

// AskQuestion opens a question on a task and routes it: an explicit target
// wins, then capability matching, then the task creator.
func (s *Service) AskQuestion(ctx context.Context, taskID string, req *AskQuestionRequest, actor models.Actor) (*models.Question, error) {
	if req == nil || strings.TrimSpace(req.Question) == "" {
		return nil, apperrors.Validation("question text is required")
	}

	question := &models.Question{
		TaskID:             taskID,
		Question:           req.Question,
		QuestionType:       req.QuestionType,
		Context:            req.Context,
		AskedBy:            actor.Ref(),
		Target:             req.Target,
		RequiredCapability: req.RequiredCapability,
		Blocking:           req.Blocking,
		Status:             models.QuestionOpen,
	}

	err := s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		task, err := s.repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		notify, err := s.questionTargets(ctx, task, question, actor.ID)
		if err != nil {
			return err
		}
		if err := s.repo.CreateQuestion(ctx, tx, question); err != nil {
			return err
		}
		if question.Blocking {
			if err := s.recountOpenQuestionsTx(ctx, tx, task); err != nil {
				return err
			}
		}

		payload := map[string]any{
			"question_id":      question.ID,
			"question":         question.Question,
			"blocking":         question.Blocking,
			"task_title":       task.Title,
			"notify_agent_ids": notify,
		}
		evt := events.New(events.TaskQuestionAsked, task.ProjectID, task.ID, actor, payload)
		return s.emit(ctx, tx, pending, evt, task)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("question asked",
		zap.String("task_id", taskID),
		zap.String("question_id", question.ID),
		zap.Bool("blocking", question.Blocking))
	return question, nil
}

// questionTargets resolves who a new question should reach, setting the
// question's target as a side effect when capability matching finds exactly
// one agent. No match falls back to the task creator when the creator is an
// agent other than the asker.
func (s *Service) questionTargets(ctx context.Context, task *models.Task, q *models.Question, askerID string) ([]string, error) {
	if q.Target != nil {
		if q.Target.Type == models.ActorAgent && q.Target.ID != "" {
			return []string{q.Target.ID}, nil
		}
		return nil, nil
	}
	if q.RequiredCapability != "" {
		matched, err := s.matchByCapability(ctx, q.RequiredCapability, askerID)
		if err != nil {
			return nil, err
		}
		switch len(matched) {
		case 0:
			// fall through to the creator
		case 1:
			ref := models.ActorRef{Type: models.ActorAgent, ID: matched[0].ID}
			q.Target = &ref
			return []string{matched[0].ID}, nil
		default:
			ids := make([]string, len(matched))
			for i, a := range matched {
				ids[i] = a.ID
			}
			return ids, nil
		}
	}
	if task.CreatedBy.Type == models.ActorAgent && task.CreatedBy.ID != "" && task.CreatedBy.ID != askerID {
		return []string{task.CreatedBy.ID}, nil
	}
	return nil, nil
}

// matchByCapability ranks agents advertising a capability: online before
// offline, more capability matches first, the least busy on ties.
func (s *Service) matchByCapability(ctx context.Context, capability, excludeID string) ([]*agentmodels.Agent, error) {
	all, err := s.agents.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()

	type ranked struct {
		agent  *agentmodels.Agent
		online bool
		count  int
		load   int
	}
	var rs []ranked
	for _, a := range all {
		if a.ID == excludeID {
			continue
		}
		count := a.MatchCapabilities(capability)
		if count == 0 {
			continue
		}
		rs = append(rs, ranked{agent: a, online: a.Online(now), count: count, load: s.agentLoad(ctx, a.ID)})
	}
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].online != rs[j].online {
			return rs[i].online
		}
		if rs[i].count != rs[j].count {
			return rs[i].count > rs[j].count
		}
		return rs[i].load < rs[j].load
	})

	out := make([]*agentmodels.Agent, len(rs))
	for i, r := range rs {
		out[i] = r.agent
	}
	return out, nil
}

// AssignQuestion points an open question at a specific agent.
func (s *Service) AssignQuestion(ctx context.Context, questionID, agentID string, actor models.Actor) (*models.Question, error) {
	agent, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	question, err := s.repo.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if question.Status != models.QuestionOpen {
		return nil, apperrors.Validation("question is not open")
	}

	err = s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		task, err := s.repo.GetTaskTx(ctx, tx, question.TaskID)
		if err != nil {
			return err
		}
		ref := models.ActorRef{Type: models.ActorAgent, ID: agent.ID}
		question.Target = &ref
		if err := s.repo.UpdateQuestionTx(ctx, tx, question); err != nil {
			return err
		}

		payload := map[string]any{
			"question_id":      question.ID,
			"question":         question.Question,
			"task_title":       task.Title,
			"notify_agent_ids": []string{agent.ID},
		}
		evt := events.New(events.TaskQuestionAssigned, task.ProjectID, task.ID, actor, payload)
		return s.emit(ctx, tx, pending, evt, task)
	})
	if err != nil {
		return nil, err
	}
	return question, nil
}

// ReplyQuestion appends a message to an open question's thread. A resolving
// reply closes the question as answered and stores the reply body as its
// resolution.
func (s *Service) ReplyQuestion(ctx context.Context, questionID, body string, resolving bool, actor models.Actor) (*models.QuestionReply, error) {
	if strings.TrimSpace(body) == "" {
		return nil, apperrors.Validation("reply body is required")
	}
	question, err := s.repo.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if question.Status != models.QuestionOpen {
		return nil, apperrors.Validation("question is not open")
	}

	participants := s.questionParticipants(ctx, question)
	reply := &models.QuestionReply{
		QuestionID:   questionID,
		Author:       actor.Ref(),
		Body:         body,
		IsResolution: resolving,
	}

	err = s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		task, err := s.repo.GetTaskTx(ctx, tx, question.TaskID)
		if err != nil {
			return err
		}
		if err := s.repo.AddReply(ctx, tx, reply); err != nil {
			return err
		}

		if resolving {
			now := s.now()
			ref := actor.Ref()
			question.Status = models.QuestionAnswered
			question.Resolution = body
			question.ResolvedBy = &ref
			question.ResolvedAt = &now
			if err := s.repo.UpdateQuestionTx(ctx, tx, question); err != nil {
				return err
			}
			if question.Blocking {
				if err := s.recountOpenQuestionsTx(ctx, tx, task); err != nil {
					return err
				}
			}
			payload := map[string]any{
				"question_id":      question.ID,
				"resolution":       body,
				"task_title":       task.Title,
				"notify_agent_ids": without(participants, actor.ID),
			}
			evt := events.New(events.TaskQuestionResolved, task.ProjectID, task.ID, actor, payload)
			return s.emit(ctx, tx, pending, evt, task)
		}

		payload := map[string]any{
			"question_id":      question.ID,
			"reply":            body,
			"task_title":       task.Title,
			"notify_agent_ids": participants,
		}
		evt := events.New(events.TaskQuestionReplied, task.ProjectID, task.ID, actor, payload)
		return s.emit(ctx, tx, pending, evt, task)
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// ResolveQuestion closes an open question with an answer. The resolution is
// also recorded as the thread's final reply.
func (s *Service) ResolveQuestion(ctx context.Context, questionID, resolution string, actor models.Actor) (*models.Question, error) {
	if strings.TrimSpace(resolution) == "" {
		return nil, apperrors.Validation("a resolution is required")
	}
	question, err := s.repo.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if question.Status != models.QuestionOpen {
		return nil, apperrors.Validation("question is not open")
	}

	participants := s.questionParticipants(ctx, question)
	err = s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		task, err := s.repo.GetTaskTx(ctx, tx, question.TaskID)
		if err != nil {
			return err
		}
		reply := &models.QuestionReply{
			QuestionID:   questionID,
			Author:       actor.Ref(),
			Body:         resolution,
			IsResolution: true,
		}
		if err := s.repo.AddReply(ctx, tx, reply); err != nil {
			return err
		}

		now := s.now()
		ref := actor.Ref()
		question.Status = models.QuestionResolved
		question.Resolution = resolution
		question.ResolvedBy = &ref
		question.ResolvedAt = &now
		if err := s.repo.UpdateQuestionTx(ctx, tx, question); err != nil {
			return err
		}
		if question.Blocking {
			if err := s.recountOpenQuestionsTx(ctx, tx, task); err != nil {
				return err
			}
		}

		payload := map[string]any{
			"question_id":      question.ID,
			"resolution":       resolution,
			"task_title":       task.Title,
			"notify_agent_ids": without(participants, actor.ID),
		}
		evt := events.New(events.TaskQuestionResolved, task.ProjectID, task.ID, actor, payload)
		return s.emit(ctx, tx, pending, evt, task)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("question resolved",
		zap.String("question_id", questionID), zap.String("task_id", question.TaskID))
	return question, nil
}

// DismissQuestion closes an open question without an answer.
func (s *Service) DismissQuestion(ctx context.Context, questionID, reason string, actor models.Actor) (*models.Question, error) {
	question, err := s.repo.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if question.Status != models.QuestionOpen {
		return nil, apperrors.Validation("question is not open")
	}

	err = s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		task, err := s.repo.GetTaskTx(ctx, tx, question.TaskID)
		if err != nil {
			return err
		}
		now := s.now()
		ref := actor.Ref()
		question.Status = models.QuestionDismissed
		question.DismissedReason = reason
		question.ResolvedBy = &ref
		question.ResolvedAt = &now
		if err := s.repo.UpdateQuestionTx(ctx, tx, question); err != nil {
			return err
		}
		if question.Blocking {
			if err := s.recountOpenQuestionsTx(ctx, tx, task); err != nil {
				return err
			}
		}

		payload := map[string]any{
			"question_id": question.ID,
			"reason":      reason,
			"task_title":  task.Title,
		}
		evt := events.New(events.TaskQuestionDismissed, task.ProjectID, task.ID, actor, payload)
		return s.emit(ctx, tx, pending, evt, task)
	})
	if err != nil {
		return nil, err
	}
	return question, nil
}

// GetQuestion returns one question by ID.
func (s *Service) GetQuestion(ctx context.Context, questionID string) (*models.Question, error) {
	return s.repo.GetQuestion(ctx, questionID)
}

// ListQuestions returns a task's questions, oldest first.
func (s *Service) ListQuestions(ctx context.Context, taskID string) ([]*models.Question, error) {
	return s.repo.ListQuestionsByTask(ctx, taskID)
}

// ListReplies returns a question's thread, oldest first.
func (s *Service) ListReplies(ctx context.Context, questionID string) ([]*models.QuestionReply, error) {
	return s.repo.ListReplies(ctx, questionID)
}

// OpenQuestionsForAgent returns open questions targeted at the agent, for
// the inbox.
func (s *Service) OpenQuestionsForAgent(ctx context.Context, agentID string) ([]*models.Question, error) {
	return s.repo.ListOpenQuestionsForAgent(ctx, agentID)
}

// recountOpenQuestionsTx refreshes the task's open-question flag from the
// open blocking question count and persists it when it changed.
func (s *Service) recountOpenQuestionsTx(ctx context.Context, tx *sqlx.Tx, task *models.Task) error {
	n, err := s.repo.CountOpenBlockingTx(ctx, tx, task.ID)
	if err != nil {
		return err
	}
	has := n > 0
	if task.HasOpenQuestions == has {
		return nil
	}
	task.HasOpenQuestions = has
	task.UpdatedAt = s.now()
	return s.repo.UpdateTaskTx(ctx, tx, task)
}

// questionParticipants collects the agent IDs in a question thread: asker,
// target, and everyone who replied.
func (s *Service) questionParticipants(ctx context.Context, q *models.Question) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(ref *models.ActorRef) {
		if ref == nil || ref.Type != models.ActorAgent || ref.ID == "" {
			return
		}
		if _, ok := seen[ref.ID]; ok {
			return
		}
		seen[ref.ID] = struct{}{}
		out = append(out, ref.ID)
	}
	add(&q.AskedBy)
	add(q.Target)
	replies, err := s.repo.ListReplies(ctx, q.ID)
	if err == nil {
		for _, r := range replies {
			add(&r.Author)
		}
	}
	return out
}

// without returns ids with one ID removed.
func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
