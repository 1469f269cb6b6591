// Package service implements agent identity: registration gated by the
// server setup token, API-key authentication with heartbeat refresh, and
// the derived liveness view layered over the store.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opengate/opengate/internal/agent/models"
	"github.com/opengate/opengate/internal/agent/store"
	"github.com/opengate/opengate/internal/common/apikey"
	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/common/logger"
	"github.com/opengate/opengate/internal/db"
	"github.com/opengate/opengate/internal/events"
	"github.com/opengate/opengate/internal/events/dispatch"
	taskmodels "github.com/opengate/opengate/internal/task/models"
)

// TaskCounter provides the live task counts that drive the derived agent
// status. The task repository satisfies it.
type TaskCounter interface {
	CountTasksByAssignee(ctx context.Context, agentID string, statuses []taskmodels.TaskStatus) (int, error)
	CountTasksByReviewer(ctx context.Context, agentID string, statuses []taskmodels.TaskStatus) (int, error)
}

// Service provides agent business logic.
type Service struct {
	store      *store.Store
	counts     TaskCounter
	pool       *db.Pool
	dispatcher *dispatch.Dispatcher
	logger     *logger.Logger
	setupToken string
	now        func() time.Time
}

// NewService wires the agent service. setupToken gates registration; empty
// disables it.
func NewService(
	agentStore *store.Store,
	counts TaskCounter,
	pool *db.Pool,
	dispatcher *dispatch.Dispatcher,
	setupToken string,
	log *logger.Logger,
) *Service {
	return &Service{
		store:      agentStore,
		counts:     counts,
		pool:       pool,
		dispatcher: dispatcher,
		logger:     log.WithComponent("agent-service"),
		setupToken: setupToken,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRequest contains the data needed to register an agent.
type RegisterRequest struct {
	Name               string
	SetupToken         string
	Skills             []string
	Capabilities       []string
	Seniority          models.Seniority
	Role               models.Role
	MaxConcurrentTasks int
	WebhookURL         string
	WebhookEvents      []string
	StaleTimeoutMins   int
	OwnerID            string
	Tags               []string
}

// RegisterResult carries the created agent and its API key. The raw key is
// returned exactly once; only its hash is stored.
type RegisterResult struct {
	Agent  *models.Agent
	APIKey string
}

// Register creates an agent and mints its API key. Refused unless the
// caller presents the server's setup token.
func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*RegisterResult, error) {
	if s.setupToken == "" {
		return nil, apperrors.Forbidden("agent registration is disabled")
	}
	if req == nil || req.SetupToken != s.setupToken {
		return nil, apperrors.Forbidden("invalid setup token")
	}
	if req.Name == "" {
		return nil, apperrors.Validation("agent name is required")
	}
	if req.Seniority != "" && !req.Seniority.IsValid() {
		return nil, apperrors.Validation("unknown seniority '" + string(req.Seniority) + "'")
	}
	if req.Role != "" && !req.Role.IsValid() {
		return nil, apperrors.Validation("unknown role '" + string(req.Role) + "'")
	}

	rawKey, err := apikey.New()
	if err != nil {
		s.logger.Error("failed to generate api key", zap.Error(err))
		return nil, apperrors.InternalError("failed to generate api key", err)
	}

	now := s.now()
	agent := &models.Agent{
		Name:               req.Name,
		APIKeyHash:         apikey.Hash(rawKey),
		Skills:             req.Skills,
		Capabilities:       req.Capabilities,
		Seniority:          req.Seniority,
		Role:               req.Role,
		MaxConcurrentTasks: req.MaxConcurrentTasks,
		WebhookURL:         req.WebhookURL,
		WebhookEvents:      req.WebhookEvents,
		StaleTimeoutMins:   req.StaleTimeoutMins,
		LastSeenAt:         &now,
		OwnerID:            req.OwnerID,
		Tags:               req.Tags,
		CreatedAt:          now,
	}
	if err := s.store.Create(ctx, agent); err != nil {
		s.logger.Error("failed to register agent", zap.String("name", req.Name), zap.Error(err))
		return nil, err
	}

	s.emitRegistered(ctx, agent)
	s.enrich(ctx, agent)
	s.logger.Info("agent registered",
		zap.String("agent_id", agent.ID),
		zap.String("name", agent.Name),
		zap.String("role", string(agent.Role)))
	return &RegisterResult{Agent: agent, APIKey: rawKey}, nil
}

// emitRegistered appends and fans out agent.registered. Registration stands
// even when the announcement fails.
func (s *Service) emitRegistered(ctx context.Context, agent *models.Agent) {
	if s.dispatcher == nil {
		return
	}
	tx, err := s.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		s.logger.Warn("failed to announce agent registration", zap.Error(err))
		return
	}
	defer func() { _ = tx.Rollback() }()

	payload := map[string]any{
		"agent_name": agent.Name,
		"role":       string(agent.Role),
		"seniority":  string(agent.Seniority),
		"skills":     agent.Skills,
	}
	evt := events.New(events.AgentRegistered, "", "", taskmodels.AgentActor(agent.ID, agent.Name), payload)
	pending, err := s.dispatcher.Emit(ctx, tx, evt, nil)
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		s.logger.Warn("failed to announce agent registration", zap.String("agent_id", agent.ID), zap.Error(err))
		return
	}
	s.dispatcher.Dispatch(pending)
}

// Authenticate resolves an API key to its agent and refreshes the
// heartbeat. Unknown keys surface as an auth failure, not a lookup miss.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (*models.Agent, error) {
	if rawKey == "" {
		return nil, apperrors.AuthRequired("api key is required")
	}
	agent, err := s.store.GetByAPIKeyHash(ctx, apikey.Hash(rawKey))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.AuthRequired("invalid api key")
		}
		return nil, err
	}
	now := s.now()
	if err := s.store.UpdateLastSeen(ctx, agent.ID, now); err != nil {
		s.logger.Warn("failed to refresh heartbeat", zap.String("agent_id", agent.ID), zap.Error(err))
	} else {
		agent.LastSeenAt = &now
	}
	return agent, nil
}

// Heartbeat records liveness for an agent and returns its current view.
func (s *Service) Heartbeat(ctx context.Context, agentID string) (*models.Agent, error) {
	now := s.now()
	if err := s.store.UpdateLastSeen(ctx, agentID, now); err != nil {
		return nil, err
	}
	agent, err := s.store.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	s.enrich(ctx, agent)
	return agent, nil
}

// Get returns one agent with its derived status.
func (s *Service) Get(ctx context.Context, id string) (*models.Agent, error) {
	agent, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.enrich(ctx, agent)
	return agent, nil
}

// List returns all agents with their derived status.
func (s *Service) List(ctx context.Context) ([]*models.Agent, error) {
	agents, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, agent := range agents {
		s.enrich(ctx, agent)
	}
	return agents, nil
}

// UpdateAgentRequest patches agent fields; nil means "leave unchanged".
type UpdateAgentRequest struct {
	Skills             *[]string
	Capabilities       *[]string
	Seniority          *models.Seniority
	MaxConcurrentTasks *int
	WebhookURL         *string
	WebhookEvents      *[]string
	StaleTimeoutMins   *int
	Tags               *[]string
}

// Update patches an agent's configuration. Agents may only update
// themselves; human operators may update any agent.
func (s *Service) Update(ctx context.Context, id string, req *UpdateAgentRequest, actor taskmodels.Actor) (*models.Agent, error) {
	if actor.IsAgent() && actor.ID != id {
		return nil, apperrors.Forbidden("agents can only update themselves")
	}
	agent, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		s.enrich(ctx, agent)
		return agent, nil
	}

	if req.Skills != nil {
		agent.Skills = *req.Skills
	}
	if req.Capabilities != nil {
		agent.Capabilities = *req.Capabilities
	}
	if req.Seniority != nil {
		if !req.Seniority.IsValid() {
			return nil, apperrors.Validation("unknown seniority '" + string(*req.Seniority) + "'")
		}
		agent.Seniority = *req.Seniority
	}
	if req.MaxConcurrentTasks != nil {
		if *req.MaxConcurrentTasks <= 0 {
			return nil, apperrors.Validation("max_concurrent_tasks must be positive")
		}
		agent.MaxConcurrentTasks = *req.MaxConcurrentTasks
	}
	if req.WebhookURL != nil {
		agent.WebhookURL = *req.WebhookURL
	}
	if req.WebhookEvents != nil {
		agent.WebhookEvents = *req.WebhookEvents
	}
	if req.StaleTimeoutMins != nil {
		if *req.StaleTimeoutMins <= 0 {
			return nil, apperrors.Validation("stale_timeout_minutes must be positive")
		}
		agent.StaleTimeoutMins = *req.StaleTimeoutMins
	}
	if req.Tags != nil {
		agent.Tags = *req.Tags
	}

	if err := s.store.Update(ctx, agent); err != nil {
		s.logger.Error("failed to update agent", zap.String("agent_id", id), zap.Error(err))
		return nil, err
	}
	s.enrich(ctx, agent)
	s.logger.Info("agent updated", zap.String("agent_id", id))
	return agent, nil
}

// enrich fills the derived status and live counts.
func (s *Service) enrich(ctx context.Context, agent *models.Agent) {
	if n, err := s.counts.CountTasksByAssignee(ctx, agent.ID, []taskmodels.TaskStatus{taskmodels.StatusInProgress}); err == nil {
		agent.InProgressCount = n
	}
	if r, err := s.counts.CountTasksByReviewer(ctx, agent.ID, []taskmodels.TaskStatus{taskmodels.StatusReview}); err == nil {
		agent.ReviewCount = r
	}
	agent.Status = agent.ComputeStatus(s.now())
}
