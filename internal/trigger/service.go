package trigger

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/common/logger"
	"github.com/opengate/opengate/internal/task/models"
	taskservice "github.com/opengate/opengate/internal/task/service"
)

// Service manages triggers and executes inbound invocations.
type Service struct {
	store  *Store
	tasks  *taskservice.Service
	logger *logger.Logger
	now    func() time.Time
}

// NewService wires the trigger service.
func NewService(store *Store, tasks *taskservice.Service, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		tasks:  tasks,
		logger: log.WithComponent("trigger-service"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest contains the data needed to register a trigger.
type CreateRequest struct {
	Name         string
	ActionType   string
	ActionConfig map[string]any
	Enabled      *bool
}

// CreateResult pairs the stored trigger with the plaintext secret, which is
// shown exactly once.
type CreateResult struct {
	Trigger *Trigger
	Secret  string
}

// Create registers a trigger on a project and mints its shared secret.
func (s *Service) Create(ctx context.Context, projectID string, req *CreateRequest) (*CreateResult, error) {
	if _, err := s.tasks.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, apperrors.Validation("trigger name is required")
	}
	actionType := req.ActionType
	if actionType == "" {
		actionType = ActionCreateTask
	}
	if actionType != ActionCreateTask {
		return nil, apperrors.Validation(fmt.Sprintf("unknown action type: %s", actionType))
	}

	secret, err := mintSecret()
	if err != nil {
		return nil, apperrors.InternalError("failed to generate trigger secret", err)
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	t := &Trigger{
		ProjectID:    projectID,
		Name:         req.Name,
		ActionType:   actionType,
		ActionConfig: req.ActionConfig,
		SecretHash:   HashSecret(secret),
		Enabled:      enabled,
		CreatedAt:    s.now(),
	}
	if err := s.store.Create(ctx, t); err != nil {
		s.logger.Error("failed to create trigger", zap.String("project_id", projectID), zap.Error(err))
		return nil, err
	}
	s.logger.Info("trigger created",
		zap.String("trigger_id", t.ID),
		zap.String("project_id", projectID),
		zap.String("name", t.Name))
	return &CreateResult{Trigger: t, Secret: secret}, nil
}

// Get returns one trigger.
func (s *Service) Get(ctx context.Context, id string) (*Trigger, error) {
	return s.store.Get(ctx, id)
}

// List returns a project's triggers.
func (s *Service) List(ctx context.Context, projectID string) ([]*Trigger, error) {
	if _, err := s.tasks.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListByProject(ctx, projectID)
}

// SetEnabled flips a trigger on or off.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) (*Trigger, error) {
	if err := s.store.SetEnabled(ctx, id, enabled); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// Delete removes a trigger.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// ListInvocations returns a trigger's invocation log, newest first.
func (s *Service) ListInvocations(ctx context.Context, triggerID string, limit int) ([]*Invocation, error) {
	if _, err := s.store.Get(ctx, triggerID); err != nil {
		return nil, err
	}
	return s.store.ListInvocations(ctx, triggerID, limit)
}

// Invoke executes a trigger against an inbound payload. The caller's secret
// is compared by hash; on match and enabled, the action config is
// interpolated with the payload and the configured action runs. Every
// invocation is logged, including rejected and failed ones.
func (s *Service) Invoke(ctx context.Context, triggerID, secret string, payload map[string]any) (*models.Task, error) {
	t, err := s.store.Get(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	if HashSecret(secret) != t.SecretHash {
		s.record(ctx, t.ID, OutcomeRejected, "invalid secret", "")
		return nil, apperrors.Forbidden("invalid trigger secret")
	}
	if !t.Enabled {
		s.record(ctx, t.ID, OutcomeRejected, "trigger disabled", "")
		return nil, apperrors.Forbidden("trigger is disabled")
	}
	if t.ActionType != ActionCreateTask {
		s.record(ctx, t.ID, OutcomeRejected, "unknown action type: "+t.ActionType, "")
		return nil, apperrors.Unprocessable(fmt.Sprintf("unknown action type: %s", t.ActionType))
	}

	task, err := s.createTask(ctx, t, payload)
	if err != nil {
		s.record(ctx, t.ID, OutcomeFailed, err.Error(), "")
		s.logger.Warn("trigger invocation failed",
			zap.String("trigger_id", t.ID),
			zap.Error(err))
		return nil, err
	}
	s.record(ctx, t.ID, OutcomeCreated, "", task.ID)
	s.logger.Info("trigger fired",
		zap.String("trigger_id", t.ID),
		zap.String("task_id", task.ID))
	return task, nil
}

func (s *Service) createTask(ctx context.Context, t *Trigger, payload map[string]any) (*models.Task, error) {
	rendered := Interpolate(t.ActionConfig, payload)
	req := &taskservice.CreateTaskRequest{
		ProjectID:   t.ProjectID,
		Title:       stringField(rendered, "title"),
		Description: stringField(rendered, "description"),
		Priority:    models.TaskPriority(stringField(rendered, "priority")),
		Tags:        stringSlice(rendered["tags"]),
		AssigneeID:  stringField(rendered, "assignee_id"),
	}
	if ctxMap, ok := rendered["context"].(map[string]any); ok {
		req.Context = ctxMap
	}
	if req.Title == "" {
		return nil, apperrors.Validation("trigger action produced an empty title")
	}
	return s.tasks.CreateTask(ctx, req, models.SystemActor("trigger:"+t.Name))
}

// record appends to the invocation log. Logging failures never mask the
// invocation's own outcome.
func (s *Service) record(ctx context.Context, triggerID, outcome, detail, taskID string) {
	inv := &Invocation{
		TriggerID: triggerID,
		Outcome:   outcome,
		Detail:    detail,
		TaskID:    taskID,
		CreatedAt: s.now(),
	}
	if err := s.store.LogInvocation(ctx, inv); err != nil {
		s.logger.Warn("failed to log trigger invocation",
			zap.String("trigger_id", triggerID),
			zap.Error(err))
	}
}

// mintSecret returns a fresh random shared secret.
func mintSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate trigger secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashSecret is the stored form of a trigger secret: SHA-256, hex-encoded.
// Trigger secrets guard an unauthenticated endpoint, so unlike API keys
// they get a cryptographic digest.
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
