package service

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/opengate/opengate/internal/common/errors"
	"github.com/opengate/opengate/internal/events"
	"github.com/opengate/opengate/internal/task/models"
	"github.com/opengate/opengate/internal/task/repository"
)

func TestCompleteUnblocksDependents(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	project := f.seedProject(t)
	worker := f.seedAgent(t, "worker")
	owner := f.seedAgent(t, "owner")

	upstream := f.createTask(t, project.ID, models.HumanActor(""), func(r *CreateTaskRequest) {
		r.Title = "Build schema"
	})
	downstream := f.createTask(t, project.ID, agentActor(owner), func(r *CreateTaskRequest) {
		r.Title = "Load data"
		r.Status = models.StatusBacklog
		r.Dependencies = []string{upstream.ID}
	})

	if _, err := f.svc.ClaimTask(ctx, upstream.ID, agentActor(worker)); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := f.svc.CompleteTask(ctx, upstream.ID, &CompleteTaskRequest{
		Output: map[string]any{"table": "users"},
	}, agentActor(worker)); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	got, err := f.svc.GetTask(ctx, downstream.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != models.StatusTodo {
		t.Errorf("expected dependent promoted to todo, got %s", got.Status)
	}

	last := got.StatusHistory[len(got.StatusHistory)-1]
	if last.AgentType != models.ActorSystem {
		t.Errorf("expected system actor on auto-unblock, got %+v", last)
	}

	evt := f.lastEvent(t, downstream.ID, events.TaskUnblocked)
	if evt.Payload["completed_task_id"] != upstream.ID || evt.Payload["completed_title"] != "Build schema" {
		t.Errorf("unexpected unblock payload: %v", evt.Payload)
	}

	// The creator agent hears its task is ready.
	if f.unread(t, owner.ID) != 1 {
		t.Errorf("expected one unblock notification for the creator, got %d", f.unread(t, owner.ID))
	}

	outputs, ok := got.Context["upstream_outputs"].(map[string]any)
	if !ok {
		t.Fatalf("expected upstream_outputs in context, got %v", got.Context)
	}
	entry, ok := outputs[upstream.ID].(map[string]any)
	if !ok {
		t.Fatalf("expected entry for %s, got %v", upstream.ID, outputs)
	}
	if entry["task_title"] != "Build schema" || entry["agent"] != "worker" {
		t.Errorf("unexpected upstream entry: %v", entry)
	}
	out, ok := entry["output"].(map[string]any)
	if !ok || out["table"] != "users" {
		t.Errorf("expected completed output propagated, got %v", entry["output"])
	}
}

func TestCompleteKeepsDependentsWithRemainingDeps(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	project := f.seedProject(t)
	worker := f.seedAgent(t, "worker")
	human := models.HumanActor("")

	a := f.createTask(t, project.ID, human)
	b := f.createTask(t, project.ID, human)
	c := f.createTask(t, project.ID, human, func(r *CreateTaskRequest) {
		r.Status = models.StatusBacklog
		r.Dependencies = []string{a.ID, b.ID}
	})

	if _, err := f.svc.ClaimTask(ctx, a.ID, agentActor(worker)); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := f.svc.CompleteTask(ctx, a.ID, nil, agentActor(worker)); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	got, err := f.svc.GetTask(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != models.StatusBacklog {
		t.Errorf("expected backlog while a dependency is pending, got %s", got.Status)
	}
	if hasEvent(f.taskEventTypes(t, c.ID), events.TaskUnblocked) {
		t.Error("must not unblock while dependencies remain")
	}
	// The finished upstream still injects its output.
	if _, ok := got.Context["upstream_outputs"]; !ok {
		t.Error("expected upstream output injected even without unblock")
	}

	if _, err := f.svc.ClaimTask(ctx, b.ID, agentActor(worker)); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := f.svc.CompleteTask(ctx, b.ID, nil, agentActor(worker)); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	got, err = f.svc.GetTask(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != models.StatusTodo {
		t.Errorf("expected todo after the last dependency finished, got %s", got.Status)
	}
}

func TestCompleteUnblocksBlockedDependent(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	project := f.seedProject(t)
	worker := f.seedAgent(t, "worker")
	human := models.HumanActor("")

	dep := f.createTask(t, project.ID, human)
	task := f.createTask(t, project.ID, human)
	if _, err := f.svc.UpdateTaskStatus(ctx, task.ID, models.StatusBlocked, human, "needs schema first"); err != nil {
		t.Fatalf("block failed: %v", err)
	}
	if err := f.svc.AddDependency(ctx, task.ID, dep.ID, human); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}

	if _, err := f.svc.ClaimTask(ctx, dep.ID, agentActor(worker)); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := f.svc.CompleteTask(ctx, dep.ID, nil, agentActor(worker)); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	got, err := f.svc.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != models.StatusTodo {
		t.Errorf("expected blocked dependent released to todo, got %s", got.Status)
	}
}

func TestRecurrenceEmitsNextOccurrence(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	project := f.seedProject(t)
	worker := f.seedAgent(t, "worker")
	sched := time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Second)

	task := f.createTask(t, project.ID, models.HumanActor(""), func(r *CreateTaskRequest) {
		r.Title = "Rotate credentials"
		r.Status = models.StatusTodo
		r.ScheduledAt = &sched
		r.Recurrence = &models.RecurrenceRule{Frequency: models.FrequencyDaily, Interval: 2}
	})
	if _, err := f.svc.ClaimTask(ctx, task.ID, agentActor(worker)); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := f.svc.CompleteTask(ctx, task.ID, nil, agentActor(worker)); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	clone := findRecurrenceClone(t, f, project.ID, task.ID)
	if clone.Status != models.StatusBacklog {
		t.Errorf("expected clone in backlog, got %s", clone.Status)
	}
	if clone.ScheduledAt == nil || !clone.ScheduledAt.Equal(sched.AddDate(0, 0, 2)) {
		t.Errorf("expected clone scheduled at %v, got %v", sched.AddDate(0, 0, 2), clone.ScheduledAt)
	}
	if clone.Title != "Rotate credentials" {
		t.Errorf("expected title carried over, got %q", clone.Title)
	}
	if clone.RecurrenceParentID != task.ID {
		t.Errorf("expected progenitor %s, got %s", task.ID, clone.RecurrenceParentID)
	}
	if !clone.AssignedTo(worker.ID) {
		t.Errorf("expected assignee carried to the next occurrence, got %+v", clone.Assignee)
	}

	evt := f.lastEvent(t, clone.ID, events.TaskCreated)
	if evt.Payload["recurrence_parent_id"] != task.ID {
		t.Errorf("expected recurrence_parent_id in payload, got %v", evt.Payload)
	}
	if evt.Actor.Type != models.ActorSystem {
		t.Errorf("expected system actor, got %+v", evt.Actor)
	}
}

func TestRecurrenceEndAfterStopsChain(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	project := f.seedProject(t)
	worker := f.seedAgent(t, "worker")
	sched := time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Second)

	task := f.createTask(t, project.ID, models.HumanActor(""), func(r *CreateTaskRequest) {
		r.Status = models.StatusTodo
		r.ScheduledAt = &sched
		r.Recurrence = &models.RecurrenceRule{Frequency: models.FrequencyDaily, EndAfter: 2}
	})
	if _, err := f.svc.ClaimTask(ctx, task.ID, agentActor(worker)); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := f.svc.CompleteTask(ctx, task.ID, nil, agentActor(worker)); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	// First completion spawns occurrence two of two.
	clone := findRecurrenceClone(t, f, project.ID, task.ID)

	// The clone keeps the assignee, so it is started rather than claimed.
	// Jump past its scheduled time so the gate lets it through.
	f.freeze(clone.ScheduledAt.Add(time.Hour))
	if _, err := f.svc.UpdateTaskStatus(ctx, clone.ID, models.StatusInProgress, agentActor(worker), ""); err != nil {
		t.Fatalf("start clone failed: %v", err)
	}
	if _, err := f.svc.CompleteTask(ctx, clone.ID, nil, agentActor(worker)); err != nil {
		t.Fatalf("complete clone failed: %v", err)
	}

	tasks, err := f.svc.ListTasks(ctx, repository.TaskFilter{ProjectID: project.ID})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	chain := 0
	for _, tk := range tasks {
		if tk.ID == task.ID || tk.RecurrenceParentID == task.ID {
			chain++
		}
	}
	if chain != 2 {
		t.Errorf("expected the chain capped at 2 occurrences, got %d", chain)
	}
}

func TestRecurrenceEndDateStopsChain(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	project := f.seedProject(t)
	worker := f.seedAgent(t, "worker")
	sched := time.Now().UTC().Add(-25 * time.Hour).Truncate(time.Second)
	end := time.Now().UTC().Add(-2 * time.Hour)

	task := f.createTask(t, project.ID, models.HumanActor(""), func(r *CreateTaskRequest) {
		r.Status = models.StatusTodo
		r.ScheduledAt = &sched
		r.Recurrence = &models.RecurrenceRule{Frequency: models.FrequencyDaily, EndDate: &end}
	})
	if _, err := f.svc.ClaimTask(ctx, task.ID, agentActor(worker)); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := f.svc.CompleteTask(ctx, task.ID, nil, agentActor(worker)); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	tasks, err := f.svc.ListTasks(ctx, repository.TaskFilter{ProjectID: project.ID})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	for _, tk := range tasks {
		if tk.RecurrenceParentID == task.ID {
			t.Errorf("expected no clone past end_date, found %s", tk.ID)
		}
	}
}

func TestRecurrenceInvalidRuleRejectedAtCreate(t *testing.T) {
	f := newTestService(t)
	ctx := context.Background()
	project := f.seedProject(t)

	_, err := f.svc.CreateTask(ctx, &CreateTaskRequest{
		ProjectID:  project.ID,
		Title:      "X",
		Recurrence: &models.RecurrenceRule{Frequency: "fortnightly"},
	}, models.HumanActor(""))
	if !apperrors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}

	_, err = f.svc.CreateTask(ctx, &CreateTaskRequest{
		ProjectID:  project.ID,
		Title:      "X",
		Recurrence: &models.RecurrenceRule{Frequency: models.FrequencyCron, Cron: "not a cron"},
	}, models.HumanActor(""))
	if !apperrors.IsValidation(err) {
		t.Errorf("expected validation error for bad cron, got %v", err)
	}
}

func findRecurrenceClone(t *testing.T, f *fixture, projectID, parentID string) *models.Task {
	t.Helper()
	tasks, err := f.svc.ListTasks(context.Background(), repository.TaskFilter{ProjectID: projectID})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	for _, tk := range tasks {
		if tk.RecurrenceParentID == parentID {
			return tk
		}
	}
	t.Fatalf("no recurrence clone of %s found", parentID)
	return nil
}
