package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentstore "github.com/opengate/opengate/internal/agent/store"
	"github.com/opengate/opengate/internal/common/apikey"
	"github.com/opengate/opengate/internal/common/logger"
	"github.com/opengate/opengate/internal/db"
	"github.com/opengate/opengate/internal/task/repository"
	"github.com/opengate/opengate/internal/task/repository/sqlite"
)

type fixture struct {
	loader *Loader
	repo   repository.Repository
	agents *agentstore.Store
}

func newTestLoader(t *testing.T) *fixture {
	t.Helper()
	pool, err := db.OpenSQLitePool(filepath.Join(t.TempDir(), "test.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	repo, err := sqlite.New(pool)
	require.NoError(t, err)
	agents, err := agentstore.New(pool)
	require.NoError(t, err)

	return &fixture{
		loader: New(repo, agents, logger.Default()),
		repo:   repo,
		agents: agents,
	}
}

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestApply(t *testing.T) {
	ctx := context.Background()

	t.Run("creates projects and agents", func(t *testing.T) {
		f := newTestLoader(t)
		path := writeSeed(t, `
projects:
  - name: Platform
    description: Core services
agents:
  - name: builder
    api_key: og_seeded_key
    skills: [go, sql]
    seniority: senior
    max_concurrent_tasks: 2
`)
		require.NoError(t, f.loader.Apply(ctx, path))

		projects, err := f.repo.ListProjects(ctx)
		require.NoError(t, err)
		require.Len(t, projects, 1)
		assert.Equal(t, "Platform", projects[0].Name)
		assert.Equal(t, "Core services", projects[0].Description)

		agent, err := f.agents.GetByName(ctx, "builder")
		require.NoError(t, err)
		assert.Equal(t, apikey.Hash("og_seeded_key"), agent.APIKeyHash)
		assert.Equal(t, []string{"go", "sql"}, agent.Skills)
		assert.Equal(t, 2, agent.MaxConcurrentTasks)

		// The seeded key authenticates like a registered one.
		byHash, err := f.agents.GetByAPIKeyHash(ctx, apikey.Hash("og_seeded_key"))
		require.NoError(t, err)
		assert.Equal(t, agent.ID, byHash.ID)
	})

	t.Run("is idempotent by name", func(t *testing.T) {
		f := newTestLoader(t)
		path := writeSeed(t, `
projects:
  - name: Platform
agents:
  - name: builder
    api_key: og_first
`)
		require.NoError(t, f.loader.Apply(ctx, path))

		again := writeSeed(t, `
projects:
  - name: Platform
agents:
  - name: builder
    api_key: og_second
`)
		require.NoError(t, f.loader.Apply(ctx, again))

		projects, err := f.repo.ListProjects(ctx)
		require.NoError(t, err)
		assert.Len(t, projects, 1)

		// The existing agent keeps its original key.
		agent, err := f.agents.GetByName(ctx, "builder")
		require.NoError(t, err)
		assert.Equal(t, apikey.Hash("og_first"), agent.APIKeyHash)
	})

	t.Run("empty path is a no-op", func(t *testing.T) {
		f := newTestLoader(t)
		require.NoError(t, f.loader.Apply(ctx, ""))
	})

	t.Run("missing file fails", func(t *testing.T) {
		f := newTestLoader(t)
		err := f.loader.Apply(ctx, filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestApplyValidation(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name string
		yaml string
	}{
		{"project without name", "projects:\n  - description: anonymous\n"},
		{"agent without name", "agents:\n  - api_key: og_key\n"},
		{"agent without api key", "agents:\n  - name: builder\n"},
		{"unknown seniority", "agents:\n  - name: builder\n    api_key: og_key\n    seniority: principal\n"},
		{"unknown role", "agents:\n  - name: builder\n    api_key: og_key\n    role: manager\n"},
		{"malformed yaml", "projects: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestLoader(t)
			err := f.loader.Apply(ctx, writeSeed(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestApplyPartialFailureKeepsEarlierRows(t *testing.T) {
	ctx := context.Background()
	f := newTestLoader(t)

	// The second agent is invalid; the first is already created when the
	// loader stops. Startup fails loudly either way.
	path := writeSeed(t, `
agents:
  - name: builder
    api_key: og_key
  - name: broken
    api_key: ""
`)
	err := f.loader.Apply(ctx, path)
	require.Error(t, err)

	_, err = f.agents.GetByName(ctx, "builder")
	assert.NoError(t, err)
}
