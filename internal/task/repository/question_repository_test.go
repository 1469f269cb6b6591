package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/task/models"
	"github.com/opengate/opengate/internal/task/repository"
)

func createTestQuestion(t *testing.T, repo repository.Repository, taskID string, mutate ...func(*models.Question)) *models.Question {
	t.Helper()
	question := &models.Question{
		TaskID:   taskID,
		Question: "Which auth scheme should the endpoint use?",
		AskedBy:  models.ActorRef{Type: models.ActorAgent, ID: "agent-1"},
		Blocking: true,
	}
	for _, fn := range mutate {
		fn(question)
	}
	inTx(t, repo, func(tx *sqlx.Tx) error {
		return repo.CreateQuestion(context.Background(), tx, question)
	})
	return question
}

func TestSQLiteRepository_QuestionLifecycle(t *testing.T) {
	repo := createTestSQLiteRepo(t)
	ctx := context.Background()
	project := createTestProject(t, repo)
	task := createTestTask(t, repo, project.ID)

	question := createTestQuestion(t, repo, task.ID, func(q *models.Question) {
		q.QuestionType = "decision"
		q.Context = "Bearer tokens vs API keys"
		q.Target = &models.ActorRef{Type: models.ActorAgent, ID: "agent-2"}
	})
	if question.ID == "" {
		t.Error("expected question ID to be set")
	}
	if question.Status != models.QuestionOpen {
		t.Errorf("expected default status open, got %s", question.Status)
	}

	retrieved, err := repo.GetQuestion(ctx, question.ID)
	if err != nil {
		t.Fatalf("failed to get question: %v", err)
	}
	if retrieved.Question != question.Question || retrieved.QuestionType != "decision" {
		t.Errorf("unexpected question fields: %+v", retrieved)
	}
	if retrieved.Target == nil || retrieved.Target.ID != "agent-2" {
		t.Errorf("expected target agent-2, got %+v", retrieved.Target)
	}
	if !retrieved.Blocking {
		t.Error("expected blocking question")
	}

	resolvedAt := time.Now().UTC()
	retrieved.Status = models.QuestionResolved
	retrieved.Resolution = "Use bearer tokens"
	retrieved.ResolvedBy = &models.ActorRef{Type: models.ActorAgent, ID: "agent-2"}
	retrieved.ResolvedAt = &resolvedAt
	inTx(t, repo, func(tx *sqlx.Tx) error {
		return repo.UpdateQuestionTx(ctx, tx, retrieved)
	})

	resolved, _ := repo.GetQuestion(ctx, question.ID)
	if resolved.Status != models.QuestionResolved || resolved.Resolution != "Use bearer tokens" {
		t.Errorf("expected resolved question, got %+v", resolved)
	}
	if resolved.ResolvedBy == nil || resolved.ResolvedBy.ID != "agent-2" {
		t.Errorf("expected resolver recorded, got %+v", resolved.ResolvedBy)
	}
	if resolved.ResolvedAt == nil {
		t.Error("expected resolved_at to be set")
	}
}

func TestSQLiteRepository_QuestionNotFound(t *testing.T) {
	repo := createTestSQLiteRepo(t)
	ctx := context.Background()

	if _, err := repo.GetQuestion(ctx, "nonexistent"); !apperrors.IsNotFound(err) {
		t.Errorf("expected not found error, got %v", err)
	}

	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("failed to begin tx: %v", err)
	}
	err = repo.UpdateQuestionTx(ctx, tx, &models.Question{ID: "nonexistent"})
	_ = tx.Rollback()
	if !apperrors.IsNotFound(err) {
		t.Errorf("expected not found error on update, got %v", err)
	}
}

func TestSQLiteRepository_ListQuestionsByTask(t *testing.T) {
	repo := createTestSQLiteRepo(t)
	ctx := context.Background()
	project := createTestProject(t, repo)
	task := createTestTask(t, repo, project.ID)
	otherTask := createTestTask(t, repo, project.ID)

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	createTestQuestion(t, repo, task.ID, func(q *models.Question) {
		q.Question = "first"
		q.CreatedAt = base
	})
	createTestQuestion(t, repo, task.ID, func(q *models.Question) {
		q.Question = "second"
		q.CreatedAt = base.Add(time.Minute)
	})
	createTestQuestion(t, repo, otherTask.ID)

	questions, err := repo.ListQuestionsByTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("failed to list questions: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	if questions[0].Question != "first" || questions[1].Question != "second" {
		t.Errorf("expected questions oldest first, got %s, %s", questions[0].Question, questions[1].Question)
	}
}

func TestSQLiteRepository_ListOpenQuestionsForAgent(t *testing.T) {
	repo := createTestSQLiteRepo(t)
	ctx := context.Background()
	project := createTestProject(t, repo)
	task := createTestTask(t, repo, project.ID)

	target := &models.ActorRef{Type: models.ActorAgent, ID: "agent-2"}
	open := createTestQuestion(t, repo, task.ID, func(q *models.Question) {
		q.Target = target
	})
	resolved := createTestQuestion(t, repo, task.ID, func(q *models.Question) {
		q.Target = target
	})
	createTestQuestion(t, repo, task.ID) // untargeted

	resolved.Status = models.QuestionResolved
	inTx(t, repo, func(tx *sqlx.Tx) error {
		return repo.UpdateQuestionTx(ctx, tx, resolved)
	})

	questions, err := repo.ListOpenQuestionsForAgent(ctx, "agent-2")
	if err != nil {
		t.Fatalf("failed to list open questions: %v", err)
	}
	if len(questions) != 1 || questions[0].ID != open.ID {
		t.Errorf("expected only the open targeted question, got %d", len(questions))
	}
}

func TestSQLiteRepository_CountOpenBlocking(t *testing.T) {
	repo := createTestSQLiteRepo(t)
	ctx := context.Background()
	project := createTestProject(t, repo)
	task := createTestTask(t, repo, project.ID)

	createTestQuestion(t, repo, task.ID) // blocking, open
	createTestQuestion(t, repo, task.ID, func(q *models.Question) {
		q.Blocking = false
	})
	dismissed := createTestQuestion(t, repo, task.ID)
	dismissed.Status = models.QuestionDismissed
	dismissed.DismissedReason = "no longer relevant"
	inTx(t, repo, func(tx *sqlx.Tx) error {
		return repo.UpdateQuestionTx(ctx, tx, dismissed)
	})

	var count int
	inTx(t, repo, func(tx *sqlx.Tx) error {
		var err error
		count, err = repo.CountOpenBlockingTx(ctx, tx, task.ID)
		return err
	})
	if count != 1 {
		t.Errorf("expected 1 open blocking question, got %d", count)
	}
}

func TestSQLiteRepository_QuestionReplies(t *testing.T) {
	repo := createTestSQLiteRepo(t)
	ctx := context.Background()
	project := createTestProject(t, repo)
	task := createTestTask(t, repo, project.ID)
	question := createTestQuestion(t, repo, task.ID)

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	inTx(t, repo, func(tx *sqlx.Tx) error {
		if err := repo.AddReply(ctx, tx, &models.QuestionReply{
			QuestionID: question.ID,
			Author:     models.ActorRef{Type: models.ActorAgent, ID: "agent-2"},
			Body:       "Need more detail on the token audience.",
			CreatedAt:  base,
		}); err != nil {
			return err
		}
		return repo.AddReply(ctx, tx, &models.QuestionReply{
			QuestionID:   question.ID,
			Author:       models.ActorRef{Type: models.ActorAgent, ID: "agent-1"},
			Body:         "Audience is the public API.",
			IsResolution: true,
			CreatedAt:    base.Add(time.Minute),
		})
	})

	replies, err := repo.ListReplies(ctx, question.ID)
	if err != nil {
		t.Fatalf("failed to list replies: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(replies))
	}
	if replies[0].Author.ID != "agent-2" || replies[1].Author.ID != "agent-1" {
		t.Errorf("expected replies oldest first, got %s, %s", replies[0].Author.ID, replies[1].Author.ID)
	}
	if !replies[1].IsResolution {
		t.Error("expected second reply to be the resolution")
	}
}
