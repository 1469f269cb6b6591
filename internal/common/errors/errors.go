// Package errors provides the application error taxonomy for OpenGate.
// Every error surfaced to a caller is an *AppError carrying a stable code
// and the HTTP status the API layer should answer with.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes as constants
const (
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeAuthRequired       = "AUTH_REQUIRED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeSchedulingGate     = "SCHEDULING_GATE"
	ErrCodeDependenciesUnmet  = "DEPENDENCIES_UNMET"
	ErrCodeCapacity           = "CAPACITY"
	ErrCodeCycle              = "CYCLE"
	ErrCodeNoEligibleReviewer = "NO_ELIGIBLE_REVIEWER"
	ErrCodeValidation         = "VALIDATION"
	ErrCodeUnprocessable      = "UNPROCESSABLE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	// Pending carries the unmet upstream task IDs for DEPENDENCIES_UNMET.
	Pending []string `json:"pending,omitempty"`
	Err     error    `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// AuthRequired signals a missing or unusable credential on an action that
// demands one.
func AuthRequired(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return &AppError{
		Code:       ErrCodeAuthRequired,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Forbidden signals that the caller is not the assignee, reviewer, or owner
// the action requires.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:       ErrCodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// InvalidTransition signals a source to target move the state machine forbids.
func InvalidTransition(from, to string) *AppError {
	return &AppError{
		Code:       ErrCodeInvalidTransition,
		Message:    fmt.Sprintf("invalid status transition from '%s' to '%s'", from, to),
		HTTPStatus: http.StatusBadRequest,
	}
}

// SchedulingGate signals an attempt to advance a task before its scheduled_at.
func SchedulingGate(taskID, scheduledAt string) *AppError {
	return &AppError{
		Code:       ErrCodeSchedulingGate,
		Message:    fmt.Sprintf("task '%s' is scheduled for %s and cannot start before then", taskID, scheduledAt),
		HTTPStatus: http.StatusBadRequest,
	}
}

// DependenciesUnmet signals that upstream tasks are not done. The pending
// IDs are listed in the message and carried structurally for callers that
// need them (inbox action hints, batch results).
func DependenciesUnmet(taskID string, pending []string) *AppError {
	return &AppError{
		Code:       ErrCodeDependenciesUnmet,
		Message:    fmt.Sprintf("dependencies not met for task '%s', pending: [%s]", taskID, strings.Join(pending, ", ")),
		HTTPStatus: http.StatusConflict,
		Pending:    pending,
	}
}

// Capacity signals that a claim would exceed the agent's max_concurrent_tasks.
func Capacity(agentName string, max int) *AppError {
	return &AppError{
		Code:       ErrCodeCapacity,
		Message:    fmt.Sprintf("agent '%s' is at capacity (%d concurrent tasks)", agentName, max),
		HTTPStatus: http.StatusConflict,
	}
}

// Cycle signals a dependency edge that would make the graph cyclic.
func Cycle(taskID, dependsOn string) *AppError {
	return &AppError{
		Code:       ErrCodeCycle,
		Message:    fmt.Sprintf("dependency from '%s' on '%s' would create a cycle", taskID, dependsOn),
		HTTPStatus: http.StatusConflict,
	}
}

// NoEligibleReviewer signals that submit-for-review found no usable reviewer.
func NoEligibleReviewer() *AppError {
	return &AppError{
		Code:       ErrCodeNoEligibleReviewer,
		Message:    "no eligible reviewer available",
		HTTPStatus: http.StatusConflict,
	}
}

// Validation creates a new validation error.
func Validation(message string) *AppError {
	return &AppError{
		Code:       ErrCodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Unprocessable signals well-formed input the server cannot act on, such as
// an unknown trigger action type.
func Unprocessable(message string) *AppError {
	return &AppError{
		Code:       ErrCodeUnprocessable,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// InternalError creates a new internal server error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Pending:    appErr.Pending,
			Err:        err,
		}
	}

	// Otherwise, wrap as an internal error
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return GetCode(err) == ErrCodeNotFound
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return GetCode(err) == ErrCodeValidation
}

// GetCode returns the application error code, or empty string for non-AppErrors.
func GetCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
