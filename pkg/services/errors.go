// Package services provides the workflow definition store: validated CRUD
// over workflow templates, kept apart from the instance state machine.
package services

import (
	"errors"
	"fmt"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
)

var (
	// ErrWorkflowNotFound is returned when a workflow template is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

	// Validation errors (400 Bad Request).
	ErrWorkflowNil          = errors.New("workflow cannot be nil")
	ErrWorkflowNameRequired = errors.New("workflow name is required")
	ErrInvalidWorkflowType  = errors.New("invalid workflow type")
	ErrInvalidStatus        = errors.New("invalid workflow status")
	ErrStepsRequired        = errors.New("an active workflow must have at least one step")
	ErrInvalidStepOrder     = errors.New("step orders must start at 1 and increase without gaps")
	ErrStepNameRequired     = errors.New("step name is required")
	ErrInvalidSLA           = errors.New("step sla_hours cannot be negative")
	ErrInvalidAllowedAction = errors.New("step allows an unknown action type")

	// Conflict errors (409 Conflict).
	ErrWorkflowDeleted = errors.New("workflow has been deleted")
)

// ServiceError wraps service-level errors with the failing operation and a
// stable code for API responses.
type ServiceError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrWorkflowNameRequired) ||
		errors.Is(err, ErrInvalidWorkflowType) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrStepsRequired) ||
		errors.Is(err, ErrInvalidStepOrder) ||
		errors.Is(err, ErrStepNameRequired) ||
		errors.Is(err, ErrInvalidSLA) ||
		errors.Is(err, ErrInvalidAllowedAction) ||
		errors.Is(err, models.ErrInvalidAssignmentRule) ||
		errors.Is(err, models.ErrInvalidActionType)
}

// IsConflictError checks if an error should map to HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowDeleted)
}

// NewValidationError creates a validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
