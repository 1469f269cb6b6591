// Package dispatch appends events and routes them to notification inboxes,
// webhook envelopes, and the broadcast bus.
package dispatch

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	agentmodels "github.com/opengate/opengate/internal/agent/models"
	"github.com/opengate/opengate/internal/common/logger"
	"github.com/opengate/opengate/internal/events"
	"github.com/opengate/opengate/internal/events/bus"
	"github.com/opengate/opengate/internal/events/store"
	"github.com/opengate/opengate/internal/notifications"
	"github.com/opengate/opengate/internal/task/models"
)

// AgentLookup resolves agent records for webhook targeting.
type AgentLookup interface {
	Get(ctx context.Context, id string) (*agentmodels.Agent, error)
}

// Recorder counts dispatched events and notifications.
type Recorder interface {
	RecordEvent(eventType string)
	RecordNotifications(n int)
}

// Dispatcher is the single path every event takes: append to the log,
// create notification rows, and stage the asynchronous fan-out. Emit runs
// inside the caller's transaction; Dispatch runs after commit.
type Dispatcher struct {
	events    *store.Store
	notifs    *notifications.Store
	agents    AgentLookup
	bus       *bus.Broadcaster
	mirror    *bus.Mirror
	deliverer *notifications.Deliverer
	metrics   Recorder
	log       *logger.Logger
}

// SetMetrics attaches a metrics recorder. Safe to skip in tests.
func (d *Dispatcher) SetMetrics(m Recorder) {
	d.metrics = m
}

// New wires the dispatcher. mirror and deliverer may be nil in tests.
func New(
	eventStore *store.Store,
	notifStore *notifications.Store,
	agents AgentLookup,
	broadcaster *bus.Broadcaster,
	mirror *bus.Mirror,
	deliverer *notifications.Deliverer,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		events:    eventStore,
		notifs:    notifStore,
		agents:    agents,
		bus:       broadcaster,
		mirror:    mirror,
		deliverer: deliverer,
		log:       log,
	}
}

// Pending accumulates the fan-out staged by one or more Emit calls. It is
// dispatched only after the surrounding transaction commits, so observers
// never see uncommitted state.
type Pending struct {
	Events        []*events.Event
	Webhooks      []*notifications.PendingWebhook
	TaskHooks     []*notifications.TaskWebhook
	Notifications int
}

// Merge folds another staged fan-out into p.
func (p *Pending) Merge(other *Pending) {
	if other == nil {
		return
	}
	p.Events = append(p.Events, other.Events...)
	p.Webhooks = append(p.Webhooks, other.Webhooks...)
	p.TaskHooks = append(p.TaskHooks, other.TaskHooks...)
	p.Notifications += other.Notifications
}

// Emit appends the event to the log, writes the notification rows the
// routing table derives from it, and returns the staged asynchronous work.
// The task is the event's subject; nil for project and agent events.
func (d *Dispatcher) Emit(ctx context.Context, tx *sqlx.Tx, evt *events.Event, task *models.Task) (*Pending, error) {
	if task != nil && task.Assignee != nil {
		if _, set := evt.Payload["assignee_id"]; !set {
			evt.Payload["assignee_id"] = task.Assignee.ID
		}
	}
	if err := d.events.Append(ctx, tx, evt); err != nil {
		return nil, err
	}

	pending := &Pending{Events: []*events.Event{evt}}
	targets := route(evt, task)
	for _, t := range targets {
		n := &notifications.Notification{
			AgentID:   t.agentID,
			EventID:   &evt.ID,
			EventType: evt.EventType,
			Title:     t.title,
			Body:      t.body,
			CreatedAt: evt.CreatedAt,
		}
		if err := d.notifs.Insert(ctx, tx, n); err != nil {
			return nil, err
		}
		if hook := d.webhookFor(ctx, n); hook != nil {
			pending.Webhooks = append(pending.Webhooks, hook)
		}
	}
	pending.Notifications = len(targets)

	if hook := d.taskWebhookFor(ctx, evt, task); hook != nil {
		pending.TaskHooks = append(pending.TaskHooks, hook)
	}
	return pending, nil
}

// Dispatch publishes staged events to the in-process bus and the NATS
// mirror, and hands webhooks to the deliverer. Call it after commit.
func (d *Dispatcher) Dispatch(pending *Pending) {
	if pending == nil {
		return
	}
	for _, evt := range pending.Events {
		if d.bus != nil {
			d.bus.Publish(evt)
		}
		if d.mirror != nil {
			d.mirror.Publish(evt)
		}
		if d.metrics != nil {
			d.metrics.RecordEvent(evt.EventType)
		}
	}
	if d.metrics != nil && pending.Notifications > 0 {
		d.metrics.RecordNotifications(pending.Notifications)
	}
	if d.deliverer == nil {
		return
	}
	d.deliverer.Enqueue(pending.Webhooks)
	for _, hook := range pending.TaskHooks {
		d.deliverer.EnqueueTask(hook)
	}
}

// webhookFor stages a notification webhook when the recipient agent has a
// webhook URL and its event filter admits the type.
func (d *Dispatcher) webhookFor(ctx context.Context, n *notifications.Notification) *notifications.PendingWebhook {
	agent, err := d.agents.Get(ctx, n.AgentID)
	if err != nil || agent == nil {
		return nil
	}
	if !agent.WantsWebhook(n.EventType) {
		return nil
	}
	return &notifications.PendingWebhook{
		NotificationID: n.ID,
		AgentID:        n.AgentID,
		WebhookURL:     agent.WebhookURL,
		EventType:      n.EventType,
		Title:          n.Title,
		Body:           n.Body,
		CreatedAt:      n.CreatedAt,
	}
}

// taskWebhookFor stages the per-task webhook carrying the full task object.
// task.unblocked maps onto the task.dependency_ready hook.
func (d *Dispatcher) taskWebhookFor(ctx context.Context, evt *events.Event, task *models.Task) *notifications.TaskWebhook {
	if task == nil {
		return nil
	}

	var hookType string
	var ref *models.ActorRef
	switch evt.EventType {
	case events.TaskAssigned, events.TaskUpdated:
		hookType, ref = evt.EventType, task.Assignee
	case events.TaskReviewRequested:
		hookType, ref = evt.EventType, task.Reviewer
	case events.TaskUnblocked:
		hookType = events.TaskDependencyReady
		ref = task.Assignee
		if ref == nil && task.CreatedBy.Type == models.ActorAgent {
			ref = &task.CreatedBy
		}
	default:
		return nil
	}
	if ref == nil || ref.Type != models.ActorAgent || ref.ID == "" {
		return nil
	}

	agent, err := d.agents.Get(ctx, ref.ID)
	if err != nil || agent == nil {
		return nil
	}
	if !agent.WantsWebhook(hookType) {
		return nil
	}
	d.log.Debug("Staging task webhook",
		zap.String("task_id", task.ID),
		zap.String("agent_id", agent.ID),
		zap.String("event_type", hookType))
	return &notifications.TaskWebhook{
		AgentID:    agent.ID,
		WebhookURL: agent.WebhookURL,
		EventType:  hookType,
		Task:       task,
	}
}
