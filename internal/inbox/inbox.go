// Package inbox builds the read-time work summary an agent polls between
// sessions: assigned tasks bucketed by status, reviews waiting on it, open
// questions, unread notifications, and remaining capacity.
package inbox

import (
	"context"
	"fmt"

	agentmodels "github.com/opengate/opengate/internal/agent/models"
	"github.com/opengate/opengate/internal/notifications"
	"github.com/opengate/opengate/internal/task/models"
	"github.com/opengate/opengate/internal/task/repository"
)

const notificationLimit = 20

// Item is one task in the inbox with a suggested next action.
type Item struct {
	Task   *models.Task `json:"task"`
	Action string       `json:"action"`
}

// Buckets partitions the agent's assigned tasks by status.
type Buckets struct {
	Todo       []*Item `json:"todo"`
	InProgress []*Item `json:"in_progress"`
	Blocked    []*Item `json:"blocked"`
	Handoff    []*Item `json:"handoff"`
	Review     []*Item `json:"review"`
}

// Capacity reports how much concurrent work the agent has left.
type Capacity struct {
	Max               int  `json:"max"`
	CurrentInProgress int  `json:"current_in_progress"`
	HasCapacity       bool `json:"has_capacity"`
}

// Inbox is the aggregated view returned by GET /api/agents/me/inbox.
type Inbox struct {
	Summary       string                        `json:"summary"`
	Tasks         Buckets                       `json:"tasks"`
	Reviews       []*Item                       `json:"reviews"`
	Questions     []*models.Question            `json:"questions"`
	Notifications []*notifications.Notification `json:"notifications"`
	Capacity      Capacity                      `json:"capacity"`
}

// Composer assembles inboxes from the task and notification stores.
type Composer struct {
	repo   repository.Repository
	notifs *notifications.Store
}

// NewComposer wires the inbox composer.
func NewComposer(repo repository.Repository, notifs *notifications.Store) *Composer {
	return &Composer{repo: repo, notifs: notifs}
}

// Compose builds the inbox for one agent.
func (c *Composer) Compose(ctx context.Context, agent *agentmodels.Agent) (*Inbox, error) {
	assigned, err := c.repo.ListTasks(ctx, repository.TaskFilter{AssigneeID: agent.ID})
	if err != nil {
		return nil, err
	}
	reviews, err := c.repo.ListTasks(ctx, repository.TaskFilter{
		ReviewerID: agent.ID,
		Statuses:   []models.TaskStatus{models.StatusReview},
	})
	if err != nil {
		return nil, err
	}
	questions, err := c.repo.ListOpenQuestionsForAgent(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	notifs, err := c.notifs.ListByAgent(ctx, agent.ID, true, notificationLimit)
	if err != nil {
		return nil, err
	}

	inbox := &Inbox{
		Questions:     questions,
		Notifications: notifs,
	}
	inProgress := 0
	for _, task := range assigned {
		switch task.Status {
		case models.StatusTodo:
			inbox.Tasks.Todo = append(inbox.Tasks.Todo, &Item{Task: task, Action: c.todoAction(ctx, task)})
		case models.StatusInProgress:
			inProgress++
			action := "continue_work"
			if task.HasOpenQuestions {
				action = "await_answer"
			}
			inbox.Tasks.InProgress = append(inbox.Tasks.InProgress, &Item{Task: task, Action: action})
		case models.StatusBlocked:
			inbox.Tasks.Blocked = append(inbox.Tasks.Blocked, &Item{Task: task, Action: "resolve_blocker"})
		case models.StatusHandoff:
			inbox.Tasks.Handoff = append(inbox.Tasks.Handoff, &Item{Task: task, Action: "pick_up_handoff"})
		case models.StatusReview:
			inbox.Tasks.Review = append(inbox.Tasks.Review, &Item{Task: task, Action: "await_review"})
		}
	}
	for _, task := range reviews {
		action := "start_review"
		if task.StartedReviewAt != nil {
			action = "finish_review"
		}
		inbox.Reviews = append(inbox.Reviews, &Item{Task: task, Action: action})
	}
	inbox.Capacity = Capacity{
		Max:               agent.MaxConcurrentTasks,
		CurrentInProgress: inProgress,
		HasCapacity:       inProgress < agent.MaxConcurrentTasks,
	}
	inbox.Summary = summarize(agent.Name, inbox)
	return inbox, nil
}

// todoAction distinguishes a claimable todo task from one still waiting on
// upstream work.
func (c *Composer) todoAction(ctx context.Context, task *models.Task) string {
	depIDs, err := c.repo.ListDependencyIDs(ctx, task.ID)
	if err != nil || len(depIDs) == 0 {
		return "claim_task"
	}
	deps, err := c.repo.GetTasksByIDs(ctx, depIDs)
	if err != nil {
		return "claim_task"
	}
	for _, dep := range deps {
		if dep.Status != models.StatusDone {
			return "wait_deps"
		}
	}
	return "claim_task"
}

// summarize renders the one-sentence headline at the top of the inbox.
func summarize(name string, in *Inbox) string {
	active := len(in.Tasks.InProgress) + len(in.Tasks.Handoff)
	waiting := len(in.Tasks.Todo)
	parts := fmt.Sprintf("%d active, %d waiting, %d to review, %d open questions, %d unread notifications",
		active, waiting, len(in.Reviews), len(in.Questions), len(in.Notifications))
	if name == "" {
		return parts
	}
	return fmt.Sprintf("%s: %s", name, parts)
}
