package service

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/events"
	"github.com/opengate/opengate/internal/events/dispatch"
	"github.com/opengate/opengate/internal/task/models"
)

// AddActivity appends an audit entry to a task. Progress entries fan out as
// task.progress so watchers see the update without polling.
func (s *Service) AddActivity(ctx context.Context, taskID string, req *AddActivityRequest, actor models.Actor) (*models.TaskActivity, error) {
	if req == nil || strings.TrimSpace(req.Content) == "" {
		return nil, apperrors.Validation("activity content is required")
	}
	activityType := req.ActivityType
	if activityType == "" {
		activityType = models.ActivityComment
	}
	switch activityType {
	case models.ActivityComment, models.ActivityProgress, models.ActivityBlocked,
		models.ActivityReviewFeedback, models.ActivityHandoff:
	default:
		return nil, apperrors.Validation("unknown activity type '" + string(activityType) + "'")
	}

	activity := &models.TaskActivity{
		TaskID:       taskID,
		Author:       actor.Ref(),
		Content:      req.Content,
		ActivityType: activityType,
		Metadata:     req.Metadata,
	}
	err := s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		task, err := s.repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := s.repo.AddActivity(ctx, tx, activity); err != nil {
			return err
		}
		if activityType != models.ActivityProgress {
			return nil
		}
		payload := map[string]any{
			"activity_id": activity.ID,
			"content":     req.Content,
			"task_title":  task.Title,
		}
		evt := events.New(events.TaskProgress, task.ProjectID, task.ID, actor, payload)
		return s.emit(ctx, tx, pending, evt, task)
	})
	if err != nil {
		return nil, err
	}
	return activity, nil
}

// ListActivities returns a task's audit entries, newest first.
func (s *Service) ListActivities(ctx context.Context, taskID string, limit int) ([]*models.TaskActivity, error) {
	if _, err := s.repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.repo.ListActivities(ctx, taskID, limit)
}

// AddArtifact attaches an output artifact to a task. Inline content (text
// and json artifacts) is capped; file and url artifacts carry a reference,
// not the payload.
func (s *Service) AddArtifact(ctx context.Context, taskID string, req *AddArtifactRequest, actor models.Actor) (*models.Artifact, error) {
	if req == nil || strings.TrimSpace(req.Name) == "" {
		return nil, apperrors.Validation("artifact name is required")
	}
	artifactType := req.ArtifactType
	if artifactType == "" {
		artifactType = models.ArtifactText
	}
	if !artifactType.IsValid() {
		return nil, apperrors.Validation("unknown artifact type '" + string(artifactType) + "'")
	}
	if artifactType == models.ArtifactText || artifactType == models.ArtifactJSON {
		if len(req.Content) > models.MaxInlineArtifactBytes {
			return nil, apperrors.Validation("artifact content exceeds the inline size limit")
		}
	}
	if _, err := s.repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}

	artifact := &models.Artifact{
		TaskID:       taskID,
		Name:         req.Name,
		ArtifactType: artifactType,
		Content:      req.Content,
		Metadata:     req.Metadata,
		CreatedBy:    actor.Ref(),
	}
	if err := s.repo.AddArtifact(ctx, artifact); err != nil {
		return nil, err
	}
	return artifact, nil
}

// GetArtifact returns one artifact by ID.
func (s *Service) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	return s.repo.GetArtifact(ctx, id)
}

// ListArtifacts returns a task's artifacts, oldest first.
func (s *Service) ListArtifacts(ctx context.Context, taskID string) ([]*models.Artifact, error) {
	return s.repo.ListArtifacts(ctx, taskID)
}

// DeleteArtifact removes one artifact.
func (s *Service) DeleteArtifact(ctx context.Context, id string) error {
	return s.repo.DeleteArtifact(ctx, id)
}

// UpsertKnowledge creates a knowledge entry, or replaces the content and
// tags of the entry with the same title in the project.
func (s *Service) UpsertKnowledge(ctx context.Context, projectID string, req *UpsertKnowledgeRequest, actor models.Actor) (*models.Knowledge, error) {
	if req == nil || strings.TrimSpace(req.Title) == "" {
		return nil, apperrors.Validation("knowledge title is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, apperrors.Validation("knowledge content is required")
	}
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	entry := &models.Knowledge{
		ProjectID: projectID,
		Title:     req.Title,
		Content:   req.Content,
		Tags:      req.Tags,
		CreatedBy: actor.Ref(),
	}
	if err := s.repo.UpsertKnowledge(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// UpdateKnowledge patches a knowledge entry by ID.
func (s *Service) UpdateKnowledge(ctx context.Context, id string, req *UpdateKnowledgeRequest) (*models.Knowledge, error) {
	entry, err := s.repo.GetKnowledge(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return entry, nil
	}
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return nil, apperrors.Validation("knowledge title cannot be empty")
		}
		entry.Title = *req.Title
	}
	if req.Content != nil {
		entry.Content = *req.Content
	}
	if req.Tags != nil {
		entry.Tags = *req.Tags
	}
	if err := s.repo.UpdateKnowledge(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// GetKnowledge returns one knowledge entry by ID.
func (s *Service) GetKnowledge(ctx context.Context, id string) (*models.Knowledge, error) {
	return s.repo.GetKnowledge(ctx, id)
}

// ListKnowledge returns a project's knowledge entries, newest first.
func (s *Service) ListKnowledge(ctx context.Context, projectID string) ([]*models.Knowledge, error) {
	return s.repo.ListKnowledge(ctx, projectID)
}

// SearchKnowledge returns project entries whose title, content, or tags
// match the query.
func (s *Service) SearchKnowledge(ctx context.Context, projectID, query string) ([]*models.Knowledge, error) {
	if strings.TrimSpace(query) == "" {
		return s.repo.ListKnowledge(ctx, projectID)
	}
	return s.repo.SearchKnowledge(ctx, projectID, query)
}

// DeleteKnowledge removes one knowledge entry.
func (s *Service) DeleteKnowledge(ctx context.Context, id string) error {
	return s.repo.DeleteKnowledge(ctx, id)
}

// AddUsage appends a token/cost ledger entry for a task.
func (s *Service) AddUsage(ctx context.Context, taskID string, req *AddUsageRequest, actor models.Actor) (*models.Usage, error) {
	if req == nil {
		return nil, apperrors.Validation("usage entry is required")
	}
	if req.InputTokens < 0 || req.OutputTokens < 0 || req.CostUSD < 0 {
		return nil, apperrors.Validation("usage numbers cannot be negative")
	}
	if _, err := s.repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}

	usage := &models.Usage{
		TaskID:       taskID,
		AgentID:      actor.ID,
		Model:        req.Model,
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
		CostUSD:      req.CostUSD,
		Metadata:     req.Metadata,
	}
	if err := s.repo.AddUsage(ctx, usage); err != nil {
		return nil, err
	}
	return usage, nil
}

// ListUsage returns a task's usage entries, newest first.
func (s *Service) ListUsage(ctx context.Context, taskID string) ([]*models.Usage, error) {
	return s.repo.ListUsage(ctx, taskID)
}

// UsageTotals aggregates a task's usage ledger.
func (s *Service) UsageTotals(ctx context.Context, taskID string) (*models.UsageTotals, error) {
	if _, err := s.repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.repo.UsageTotals(ctx, taskID)
}
