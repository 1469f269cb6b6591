// Package service implements the task engine's business logic: the task
// lifecycle and its gates, claims and capacity, the review workflow, the
// question system, dependencies, and the completion side effects that knit
// them together. Every mutation commits its store changes and event appends
// in one transaction and dispatches the staged fan-out only after commit.
package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	agentmodels "github.com/opengate/opengate/internal/agent/models"
	agentstore "github.com/opengate/opengate/internal/agent/store"
	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/common/logger"
	"github.com/opengate/opengate/internal/events"
	"github.com/opengate/opengate/internal/events/dispatch"
	eventstore "github.com/opengate/opengate/internal/events/store"
	"github.com/opengate/opengate/internal/task/models"
	"github.com/opengate/opengate/internal/task/repository"
)

// Service provides task business logic.
type Service struct {
	repo       repository.Repository
	agents     *agentstore.Store
	dispatcher *dispatch.Dispatcher
	events     *eventstore.Store
	logger     *logger.Logger
	now        func() time.Time
}

// NewService wires the task service.
func NewService(
	repo repository.Repository,
	agents *agentstore.Store,
	dispatcher *dispatch.Dispatcher,
	eventStore *eventstore.Store,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:       repo,
		agents:     agents,
		dispatcher: dispatcher,
		events:     eventStore,
		logger:     log.WithComponent("task-service"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// runTx runs fn inside a write transaction. Fan-out staged by emit calls is
// dispatched only after a successful commit.
func (s *Service) runTx(ctx context.Context, fn func(tx *sqlx.Tx, pending *dispatch.Pending) error) error {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	pending := &dispatch.Pending{}
	if err := fn(tx, pending); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.InternalError("failed to commit transaction", err)
	}
	s.dispatcher.Dispatch(pending)
	return nil
}

// emit appends an event inside the transaction and folds its staged fan-out
// into pending.
func (s *Service) emit(ctx context.Context, tx *sqlx.Tx, pending *dispatch.Pending, evt *events.Event, task *models.Task) error {
	p, err := s.dispatcher.Emit(ctx, tx, evt, task)
	if err != nil {
		return err
	}
	pending.Merge(p)
	return nil
}

// Project operations

// CreateProject creates a project and publishes project.created.
func (s *Service) CreateProject(ctx context.Context, req *CreateProjectRequest, actor models.Actor) (*models.Project, error) {
	if req.Name == "" {
		return nil, apperrors.Validation("project name is required")
	}
	project := &models.Project{
		Name:        req.Name,
		Description: req.Description,
	}
	if err := s.repo.CreateProject(ctx, project); err != nil {
		s.logger.Error("failed to create project", zap.Error(err))
		return nil, err
	}

	err := s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		evt := events.New(events.ProjectCreated, project.ID, "", actor, map[string]any{
			"project_name": project.Name,
		})
		return s.emit(ctx, tx, pending, evt, nil)
	})
	if err != nil {
		s.logger.Warn("failed to publish project.created", zap.Error(err))
	}
	s.logger.Info("project created", zap.String("project_id", project.ID), zap.String("name", project.Name))
	return project, nil
}

// GetProject returns one project.
func (s *Service) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return s.repo.GetProject(ctx, id)
}

// ListProjects returns all projects, optionally filtered by status.
func (s *Service) ListProjects(ctx context.Context, status models.ProjectStatus) ([]*models.Project, error) {
	projects, err := s.repo.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return projects, nil
	}
	filtered := make([]*models.Project, 0, len(projects))
	for _, p := range projects {
		if p.Status == status {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// UpdateProject patches name, description, or status and publishes
// project.updated.
func (s *Service) UpdateProject(ctx context.Context, id string, req *UpdateProjectRequest, actor models.Actor) (*models.Project, error) {
	project, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		if *req.Name == "" {
			return nil, apperrors.Validation("project name cannot be empty")
		}
		project.Name = *req.Name
	}
	if req.Description != nil {
		project.Description = *req.Description
	}
	if req.Status != nil {
		if *req.Status != models.ProjectActive && *req.Status != models.ProjectArchived {
			return nil, apperrors.Validation("project status must be 'active' or 'archived'")
		}
		project.Status = *req.Status
	}
	if err := s.repo.UpdateProject(ctx, project); err != nil {
		s.logger.Error("failed to update project", zap.String("project_id", id), zap.Error(err))
		return nil, err
	}

	err = s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		evt := events.New(events.ProjectUpdated, project.ID, "", actor, map[string]any{
			"project_name": project.Name,
		})
		return s.emit(ctx, tx, pending, evt, nil)
	})
	if err != nil {
		s.logger.Warn("failed to publish project.updated", zap.Error(err))
	}
	return project, nil
}

// DeleteProject removes a project and everything it owns.
func (s *Service) DeleteProject(ctx context.Context, id string, actor models.Actor) error {
	project, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProject(ctx, id); err != nil {
		s.logger.Error("failed to delete project", zap.String("project_id", id), zap.Error(err))
		return err
	}

	err = s.runTx(ctx, func(tx *sqlx.Tx, pending *dispatch.Pending) error {
		evt := events.New(events.ProjectDeleted, id, "", actor, map[string]any{
			"project_name": project.Name,
		})
		return s.emit(ctx, tx, pending, evt, nil)
	})
	if err != nil {
		s.logger.Warn("failed to publish project.deleted", zap.Error(err))
	}
	s.logger.Info("project deleted", zap.String("project_id", id))
	return nil
}

// Event log reads

// ListProjectEvents returns an ordered slice of the project's event log
// starting after sinceID.
func (s *Service) ListProjectEvents(ctx context.Context, projectID string, sinceID int64, limit int) ([]*events.Event, error) {
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.events.ListByProject(ctx, projectID, sinceID, limit)
}

// ListTaskEvents returns a task's events in append order.
func (s *Service) ListTaskEvents(ctx context.Context, taskID string, limit int) ([]*events.Event, error) {
	if _, err := s.repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.events.ListByTask(ctx, taskID, limit)
}

// loadAgent resolves an agent actor to its full record.
func (s *Service) loadAgent(ctx context.Context, actor models.Actor) (*agentmodels.Agent, error) {
	if !actor.IsAgent() {
		return nil, apperrors.AuthRequired("agent authentication required")
	}
	return s.agents.Get(ctx, actor.ID)
}

// agentLoad is the ranking load used by reviewer selection and question
// routing: tasks in progress as assignee plus reviews in flight as reviewer.
func (s *Service) agentLoad(ctx context.Context, agentID string) int {
	inProgress, err := s.repo.CountTasksByAssignee(ctx, agentID, []models.TaskStatus{models.StatusInProgress})
	if err != nil {
		return 0
	}
	inReview, err := s.repo.CountTasksByReviewer(ctx, agentID, []models.TaskStatus{models.StatusReview})
	if err != nil {
		return inProgress
	}
	return inProgress + inReview
}

// enrich fills an agent's derived status and live counts.
func (s *Service) enrich(ctx context.Context, agent *agentmodels.Agent) {
	n, err := s.repo.CountTasksByAssignee(ctx, agent.ID, []models.TaskStatus{models.StatusInProgress})
	if err == nil {
		agent.InProgressCount = n
	}
	r, err := s.repo.CountTasksByReviewer(ctx, agent.ID, []models.TaskStatus{models.StatusReview})
	if err == nil {
		agent.ReviewCount = r
	}
	agent.Status = agent.ComputeStatus(s.now())
}
