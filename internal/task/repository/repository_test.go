package repository_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/db"
	"github.com/opengate/opengate/internal/task/models"
	"github.com/opengate/opengate/internal/task/repository"
	"github.com/opengate/opengate/internal/task/repository/sqlite"
)

func createTestSQLiteRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	pool, err := db.OpenSQLitePool(filepath.Join(t.TempDir(), "test.db"), 0)
	if err != nil {
		t.Fatalf("failed to open sqlite pool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	repo, err := sqlite.New(pool)
	if err != nil {
		t.Fatalf("failed to create sqlite repository: %v", err)
	}
	return repo
}

// inTx runs fn inside a committed write transaction, failing the test on
// any error.
func inTx(t *testing.T, repo repository.Repository, fn func(tx *sqlx.Tx) error) {
	t.Helper()
	tx, err := repo.BeginTx(context.Background())
	if err != nil {
		t.Fatalf("failed to begin tx: %v", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		t.Fatalf("tx operation failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit tx: %v", err)
	}
}

func createTestProject(t *testing.T, repo repository.Repository) *models.Project {
	t.Helper()
	project := &models.Project{Name: "Test Project"}
	if err := repo.CreateProject(context.Background(), project); err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	return project
}

func createTestTask(t *testing.T, repo repository.Repository, projectID string, mutate ...func(*models.Task)) *models.Task {
	t.Helper()
	task := &models.Task{
		ProjectID: projectID,
		Title:     "Test Task",
		CreatedBy: models.ActorRef{Type: models.ActorHuman},
	}
	for _, fn := range mutate {
		fn(task)
	}
	if err := repo.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	return task
}

func TestSQLiteRepository_ProjectCRUD(t *testing.T) {
	repo := createTestSQLiteRepo(t)
	ctx := context.Background()

	project := &models.Project{Name: "Platform", Description: "Core services"}
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	if project.ID == "" {
		t.Error("expected project ID to be set")
	}
	if project.Status != models.ProjectActive {
		t.Errorf("expected default status active, got %s", project.Status)
	}

	retrieved, err := repo.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("failed to get project: %v", err)
	}
	if retrieved.Name != "Platform" || retrieved.Description != "Core services" {
		t.Errorf("unexpected project fields: %+v", retrieved)
	}

	project.Name = "Platform Core"
	project.Status = models.ProjectArchived
	if err := repo.UpdateProject(ctx, project); err != nil {
		t.Fatalf("failed to update project: %v", err)
	}
	retrieved, _ = repo.GetProject(ctx, project.ID)
	if retrieved.Name != "Platform Core" {
		t.Errorf("expected updated name, got %s", retrieved.Name)
	}
	if retrieved.Status != models.ProjectArchived {
		t.Errorf("expected archived status, got %s", retrieved.Status)
	}

	if err := repo.DeleteProject(ctx, project.ID); err != nil {
		t.Fatalf("failed to delete project: %v", err)
	}
	if _, err := repo.GetProject(ctx, project.ID); !apperrors.IsNotFound(err) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}

func TestSQLiteRepository_ProjectNotFound(t *testing.T) {
	repo := createTestSQLiteRepo(t)
	ctx := context.Background()

	if _, err := repo.GetProject(ctx, "nonexistent"); !apperrors.IsNotFound(err) {
		t.Errorf("expected not found error, got %v", err)
	}
	if err := repo.UpdateProject(ctx, &models.Project{ID: "nonexistent", Name: "X"}); !apperrors.IsNotFound(err) {
		t.Errorf("expected not found error on update, got %v", err)
	}
	if err := repo.DeleteProject(ctx, "nonexistent"); !apperrors.IsNotFound(err) {
		t.Errorf("expected not found error on delete, got %v", err)
	}
}

func TestSQLiteRepository_ListProjects(t *testing.T) {
	repo := createTestSQLiteRepo(t)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta", "gamma"} {
		if err := repo.CreateProject(ctx, &models.Project{Name: name}); err != nil {
			t.Fatalf("failed to create project %s: %v", name, err)
		}
	}

	projects, err := repo.ListProjects(ctx)
	if err != nil {
		t.Fatalf("failed to list projects: %v", err)
	}
	if len(projects) != 3 {
		t.Fatalf("expected 3 projects, got %d", len(projects))
	}
}

func TestSQLiteRepository_DeleteProjectCascades(t *testing.T) {
	repo := createTestSQLiteRepo(t)
	ctx := context.Background()

	project := createTestProject(t, repo)
	task := createTestTask(t, repo, project.ID)

	if err := repo.DeleteProject(ctx, project.ID); err != nil {
		t.Fatalf("failed to delete project: %v", err)
	}
	if _, err := repo.GetTask(ctx, task.ID); !apperrors.IsNotFound(err) {
		t.Errorf("expected task to be cascade-deleted, got %v", err)
	}
}
