package dispatch

import (
	"fmt"

	"github.com/opengate/opengate/internal/events"
	"github.com/opengate/opengate/internal/task/models"
)

// Snippet lengths for notification bodies built from free-form text.
const (
	questionSnippetLen = 200
	replySnippetLen    = 150
)

// target is one notification the routing table derives from an event.
type target struct {
	agentID string
	title   string
	body    string
}

// route maps (event, task) to notification targets. Only agents receive
// notifications; human and system references are dropped.
func route(evt *events.Event, task *models.Task) []target {
	if task == nil {
		return nil
	}
	title := task.Title
	actor := actorName(evt)

	var out []target
	add := func(ref *models.ActorRef, body string) {
		if ref == nil || ref.Type != models.ActorAgent || ref.ID == "" {
			return
		}
		out = append(out, target{agentID: ref.ID, title: title, body: body})
	}

	switch evt.EventType {
	case events.TaskAssigned:
		add(task.Assignee, fmt.Sprintf("%s assigned you this task.", actor))

	case events.TaskClaimed:
		if task.CreatedBy.ID != evt.Actor.ID {
			add(&task.CreatedBy, fmt.Sprintf("%s claimed this task.", actor))
		}

	case events.TaskProgress:
		body := snippet(payloadString(evt, "content"), questionSnippetLen)
		if task.Assignee == nil || task.CreatedBy.ID != task.Assignee.ID {
			add(&task.CreatedBy, body)
		}
		if task.Reviewer != nil && task.Reviewer.ID != task.CreatedBy.ID {
			add(task.Reviewer, body)
		}

	case events.TaskBlocked:
		body := "Task is blocked."
		if reason := payloadString(evt, "reason"); reason != "" {
			body = "Task is blocked: " + snippet(reason, questionSnippetLen)
		}
		add(&task.CreatedBy, body)

	case events.TaskCompleted:
		add(reviewerOrCreator(task), "Completed")

	case events.TaskReviewRequested:
		add(reviewerOrCreator(task), "Review needed")

	case events.TaskApproved:
		add(&task.CreatedBy, "Approved")
		if task.Assignee != nil && task.Assignee.ID != task.CreatedBy.ID {
			add(task.Assignee, "Approved")
		}

	case events.TaskReviewStarted:
		add(task.Assignee, fmt.Sprintf("%s started reviewing your task.", actor))

	case events.TaskChangesRequested:
		add(task.Assignee, "Reviewer requested changes.")

	case events.TaskUnblocked:
		completed := payloadString(evt, "completed_title")
		body := fmt.Sprintf("'%s' is now complete — your task is ready to start.", completed)
		ref := task.Assignee
		if ref == nil && task.CreatedBy.Type == models.ActorAgent {
			ref = &task.CreatedBy
		}
		add(ref, body)

	case events.TaskQuestionAsked, events.TaskQuestionAssigned:
		body := snippet(payloadString(evt, "question"), questionSnippetLen)
		for _, id := range payloadStrings(evt, "notify_agent_ids") {
			add(&models.ActorRef{Type: models.ActorAgent, ID: id}, body)
		}

	case events.TaskQuestionReplied:
		body := snippet(payloadString(evt, "reply"), replySnippetLen)
		for _, id := range payloadStrings(evt, "notify_agent_ids") {
			if id == evt.Actor.ID {
				continue
			}
			add(&models.ActorRef{Type: models.ActorAgent, ID: id}, body)
		}

	case events.TaskQuestionResolved:
		body := snippet(payloadString(evt, "resolution"), questionSnippetLen)
		for _, id := range payloadStrings(evt, "notify_agent_ids") {
			add(&models.ActorRef{Type: models.ActorAgent, ID: id}, body)
		}
	}

	return dedupe(out)
}

// reviewerOrCreator picks the review-notification recipient: the reviewer
// when one is set, otherwise the task creator.
func reviewerOrCreator(task *models.Task) *models.ActorRef {
	if task.Reviewer != nil {
		return task.Reviewer
	}
	return &task.CreatedBy
}

func dedupe(targets []target) []target {
	if len(targets) < 2 {
		return targets
	}
	seen := make(map[string]struct{}, len(targets))
	out := targets[:0]
	for _, t := range targets {
		if _, ok := seen[t.agentID]; ok {
			continue
		}
		seen[t.agentID] = struct{}{}
		out = append(out, t)
	}
	return out
}

func actorName(evt *events.Event) string {
	if evt.Actor.Name != "" {
		return evt.Actor.Name
	}
	if evt.Actor.ID != "" {
		return evt.Actor.ID
	}
	return string(evt.Actor.Type)
}

func payloadString(evt *events.Event, key string) string {
	if evt.Payload == nil {
		return ""
	}
	s, _ := evt.Payload[key].(string)
	return s
}

// payloadStrings reads a string list from the payload, tolerating the
// []any shape a JSON round-trip produces.
func payloadStrings(evt *events.Event, key string) []string {
	if evt.Payload == nil {
		return nil
	}
	switch v := evt.Payload[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// snippet returns the first n runes of s.
func snippet(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
