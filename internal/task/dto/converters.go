package dto

import (
	"github.com/opengate/opengate/internal/task/models"
	"github.com/opengate/opengate/internal/task/service"
)

// ToCreateProject maps the wire body onto the service request.
func ToCreateProject(body *CreateProjectRequest) *service.CreateProjectRequest {
	return &service.CreateProjectRequest{
		Name:        body.Name,
		Description: body.Description,
	}
}

// ToUpdateProject maps the wire body onto the service request.
func ToUpdateProject(body *UpdateProjectRequest) *service.UpdateProjectRequest {
	req := &service.UpdateProjectRequest{
		Name:        body.Name,
		Description: body.Description,
	}
	if body.Status != nil {
		status := models.ProjectStatus(*body.Status)
		req.Status = &status
	}
	return req
}

// ToCreateTask maps the wire body onto the service request. The project
// comes from the route, not the body.
func ToCreateTask(projectID string, body *CreateTaskRequest) *service.CreateTaskRequest {
	return &service.CreateTaskRequest{
		ProjectID:    projectID,
		Title:        body.Title,
		Description:  body.Description,
		Status:       models.TaskStatus(body.Status),
		Priority:     models.TaskPriority(body.Priority),
		Tags:         body.Tags,
		Context:      body.Context,
		AssigneeID:   body.AssigneeID,
		DueDate:      body.DueDate,
		ScheduledAt:  body.ScheduledAt,
		Recurrence:   body.Recurrence,
		Dependencies: body.Dependencies,
	}
}

// ToUpdateTask maps the wire body onto the service request.
func ToUpdateTask(body *UpdateTaskRequest) *service.UpdateTaskRequest {
	req := &service.UpdateTaskRequest{
		Title:       body.Title,
		Description: body.Description,
		Tags:        body.Tags,
		DueDate:     body.DueDate,
		ClearDue:    body.ClearDueDate,
		ScheduledAt: body.ScheduledAt,
		ClearSched:  body.ClearScheduledAt,
		Recurrence:  body.Recurrence,
		Context:     body.Context,
		Output:      body.Output,
		Reason:      body.Reason,
	}
	if body.Priority != nil {
		priority := models.TaskPriority(*body.Priority)
		req.Priority = &priority
	}
	if body.Status != nil {
		status := models.TaskStatus(*body.Status)
		req.Status = &status
	}
	return req
}

// ToCompleteTask maps the wire body onto the service request.
func ToCompleteTask(body *CompleteTaskRequest) *service.CompleteTaskRequest {
	return &service.CompleteTaskRequest{
		Output:  body.Output,
		Summary: body.Summary,
	}
}

// ToSubmitReview maps the wire body onto the service request.
func ToSubmitReview(body *SubmitReviewRequest) *service.SubmitReviewRequest {
	return &service.SubmitReviewRequest{
		Summary:    body.Summary,
		ReviewerID: body.ReviewerID,
	}
}

// ToHandoff maps the wire body onto the service request.
func ToHandoff(body *HandoffRequest) *service.HandoffRequest {
	return &service.HandoffRequest{
		ToAgentID: body.ToAgentID,
		Note:      body.Note,
	}
}

// ToReviewDecision maps the wire body onto the service request.
func ToReviewDecision(body *ReviewDecisionRequest) *service.ReviewDecisionRequest {
	return &service.ReviewDecisionRequest{Comment: body.Comment}
}

// ToAskQuestion maps the wire body onto the service request.
func ToAskQuestion(body *AskQuestionRequest) *service.AskQuestionRequest {
	req := &service.AskQuestionRequest{
		Question:           body.Question,
		QuestionType:       body.QuestionType,
		Context:            body.Context,
		Blocking:           body.Blocking,
		RequiredCapability: body.RequiredCapability,
	}
	if body.TargetAgentID != "" {
		req.Target = &models.ActorRef{Type: models.ActorAgent, ID: body.TargetAgentID}
	}
	return req
}

// ToAddActivity maps the wire body onto the service request.
func ToAddActivity(body *AddActivityRequest) *service.AddActivityRequest {
	return &service.AddActivityRequest{
		Content:      body.Content,
		ActivityType: models.ActivityType(body.ActivityType),
		Metadata:     body.Metadata,
	}
}

// ToAddArtifact maps the wire body onto the service request.
func ToAddArtifact(body *AddArtifactRequest) *service.AddArtifactRequest {
	return &service.AddArtifactRequest{
		Name:         body.Name,
		ArtifactType: models.ArtifactType(body.ArtifactType),
		Content:      body.Content,
		Metadata:     body.Metadata,
	}
}

// ToUpsertKnowledge maps the wire body onto the service request.
func ToUpsertKnowledge(body *UpsertKnowledgeRequest) *service.UpsertKnowledgeRequest {
	return &service.UpsertKnowledgeRequest{
		Title:   body.Title,
		Content: body.Content,
		Tags:    body.Tags,
	}
}

// ToUpdateKnowledge maps the wire body onto the service request.
func ToUpdateKnowledge(body *UpdateKnowledgeRequest) *service.UpdateKnowledgeRequest {
	return &service.UpdateKnowledgeRequest{
		Title:   body.Title,
		Content: body.Content,
		Tags:    body.Tags,
	}
}

// ToAddUsage maps the wire body onto the service request.
func ToAddUsage(body *AddUsageRequest) *service.AddUsageRequest {
	return &service.AddUsageRequest{
		Model:        body.Model,
		InputTokens:  body.InputTokens,
		OutputTokens: body.OutputTokens,
		CostUSD:      body.CostUSD,
		Metadata:     body.Metadata,
	}
}
