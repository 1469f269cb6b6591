// Package seed bootstraps projects and agents from an optional YAML file,
// so operators can stand up a fleet without the setup-token registration
// dance. Loading is idempotent by name: existing rows are left untouched.
package seed

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	agentmodels "github.com/opengate/opengate/internal/agent/models"
	agentstore "github.com/opengate/opengate/internal/agent/store"
	"github.com/opengate/opengate/internal/common/apikey"
	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/common/logger"
	"github.com/opengate/opengate/internal/task/models"
	"github.com/opengate/opengate/internal/task/repository"
)

// File is the seed document.
type File struct {
	Projects []ProjectSeed `yaml:"projects"`
	Agents   []AgentSeed   `yaml:"agents"`
}

// ProjectSeed creates a project if none with the same name exists.
type ProjectSeed struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// AgentSeed creates an agent with an operator-chosen API key. Only the
// key's hash is stored.
type AgentSeed struct {
	Name               string   `yaml:"name"`
	APIKey             string   `yaml:"api_key"`
	Skills             []string `yaml:"skills"`
	Capabilities       []string `yaml:"capabilities"`
	Seniority          string   `yaml:"seniority"`
	Role               string   `yaml:"role"`
	MaxConcurrentTasks int      `yaml:"max_concurrent_tasks"`
}

// Loader applies seed files against the stores.
type Loader struct {
	repo   repository.Repository
	agents *agentstore.Store
	logger *logger.Logger
}

// New wires a loader.
func New(repo repository.Repository, agents *agentstore.Store, log *logger.Logger) *Loader {
	return &Loader{repo: repo, agents: agents, logger: log.WithComponent("seed")}
}

// Apply loads the file at path and creates whatever is missing. An empty
// path is a no-op. A malformed file or invalid entry fails startup; a half
// applied seed is worse than a loud refusal.
func (l *Loader) Apply(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse seed file %s: %w", path, err)
	}

	createdProjects, err := l.applyProjects(ctx, file.Projects)
	if err != nil {
		return err
	}
	createdAgents, err := l.applyAgents(ctx, file.Agents)
	if err != nil {
		return err
	}

	l.logger.Info("seed applied",
		zap.String("path", path),
		zap.Int("projects_created", createdProjects),
		zap.Int("agents_created", createdAgents),
		zap.Int("projects_seen", len(file.Projects)),
		zap.Int("agents_seen", len(file.Agents)))
	return nil
}

func (l *Loader) applyProjects(ctx context.Context, seeds []ProjectSeed) (int, error) {
	if len(seeds) == 0 {
		return 0, nil
	}

	existing, err := l.repo.ListProjects(ctx)
	if err != nil {
		return 0, fmt.Errorf("list projects: %w", err)
	}
	byName := make(map[string]bool, len(existing))
	for _, p := range existing {
		byName[p.Name] = true
	}

	created := 0
	for i, s := range seeds {
		if s.Name == "" {
			return created, fmt.Errorf("seed project %d has no name", i)
		}
		if byName[s.Name] {
			l.logger.Debug("seed project already exists", zap.String("name", s.Name))
			continue
		}
		project := &models.Project{Name: s.Name, Description: s.Description}
		if err := l.repo.CreateProject(ctx, project); err != nil {
			return created, fmt.Errorf("create seed project %q: %w", s.Name, err)
		}
		byName[s.Name] = true
		created++
		l.logger.Info("seeded project", zap.String("project_id", project.ID), zap.String("name", s.Name))
	}
	return created, nil
}

func (l *Loader) applyAgents(ctx context.Context, seeds []AgentSeed) (int, error) {
	created := 0
	for i, s := range seeds {
		if s.Name == "" {
			return created, fmt.Errorf("seed agent %d has no name", i)
		}
		if s.APIKey == "" {
			return created, fmt.Errorf("seed agent %q has no api_key", s.Name)
		}
		if s.Seniority != "" && !agentmodels.Seniority(s.Seniority).IsValid() {
			return created, fmt.Errorf("seed agent %q: unknown seniority %q", s.Name, s.Seniority)
		}
		if s.Role != "" && !agentmodels.Role(s.Role).IsValid() {
			return created, fmt.Errorf("seed agent %q: unknown role %q", s.Name, s.Role)
		}

		_, err := l.agents.GetByName(ctx, s.Name)
		if err == nil {
			l.logger.Debug("seed agent already exists", zap.String("name", s.Name))
			continue
		}
		if !apperrors.IsNotFound(err) {
			return created, fmt.Errorf("look up seed agent %q: %w", s.Name, err)
		}

		agent := &agentmodels.Agent{
			Name:               s.Name,
			APIKeyHash:         apikey.Hash(s.APIKey),
			Skills:             s.Skills,
			Capabilities:       s.Capabilities,
			Seniority:          agentmodels.Seniority(s.Seniority),
			Role:               agentmodels.Role(s.Role),
			MaxConcurrentTasks: s.MaxConcurrentTasks,
		}
		if err := l.agents.Create(ctx, agent); err != nil {
			return created, fmt.Errorf("create seed agent %q: %w", s.Name, err)
		}
		created++
		l.logger.Info("seeded agent", zap.String("agent_id", agent.ID), zap.String("name", s.Name))
	}
	return created, nil
}
