package models

import (
	"time"

	apperrors "github.com/opengate/opengate/internal/common/errors"
)

// allowedTransitions is the task state machine. Missing sources (done,
// cancelled) are terminal. Identity transitions are permitted no-ops and
// checked separately.
var allowedTransitions = map[TaskStatus][]TaskStatus{
	StatusBacklog:    {StatusTodo, StatusInProgress, StatusCancelled},
	StatusTodo:       {StatusInProgress, StatusBlocked, StatusCancelled},
	StatusInProgress: {StatusReview, StatusDone, StatusBlocked, StatusCancelled, StatusHandoff},
	StatusReview:     {StatusDone, StatusInProgress},
	StatusBlocked:    {StatusTodo, StatusInProgress, StatusCancelled},
	StatusHandoff:    {StatusInProgress},
}

// CanTransition reports whether from -> to is allowed by the transition
// table. Identity transitions are allowed (callers treat them as no-ops).
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition applies the first two gates of the state machine:
// the transition table and the scheduling gate. The dependency and
// capacity gates need store state and are applied by the service.
func ValidateTransition(t *Task, to TaskStatus, now time.Time) error {
	if !to.IsValid() {
		return apperrors.Validation("unknown task status '" + string(to) + "'")
	}
	if !CanTransition(t.Status, to) {
		return apperrors.InvalidTransition(string(t.Status), string(to))
	}
	// A scheduled task stays in backlog until its time passes.
	if (to == StatusTodo || to == StatusInProgress) && t.ScheduledInFuture(now) {
		return apperrors.SchedulingGate(t.ID, t.ScheduledAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// HistoryEntry builds the status history record appended on an accepted
// transition.
func HistoryEntry(to TaskStatus, actor Actor, now time.Time) StatusHistoryEntry {
	return StatusHistoryEntry{
		Status:    to,
		AgentType: actor.Type,
		AgentID:   actor.ID,
		Timestamp: now,
	}
}
