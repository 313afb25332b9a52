// Package engine implements the approval workflow state machine: instance
// creation, action validation and application, step advancement and
// termination.
package engine

import (
	"errors"
	"fmt"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/assignment"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
)

var (
	// ErrDefinitionNotFound indicates the workflow template is missing,
	// inactive, or has no steps.
	ErrDefinitionNotFound = errors.New("workflow definition not found or not instantiable")

	// ErrInvalidTransition indicates a precondition violation: acting on a
	// terminal instance, on a step that is no longer current, with an
	// action the step does not allow, or losing an optimistic commit race.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrUnresolvableAssignment indicates no actor could be resolved for a
	// step's assignment rule.
	ErrUnresolvableAssignment = assignment.ErrUnresolvable

	// ErrValidation indicates a malformed request: missing required
	// comment, missing target id, unknown action type.
	ErrValidation = errors.New("validation failed")
)

// TransitionError reports which precondition an ExecuteAction call
// violated. No partial mutation is visible when it is returned.
type TransitionError struct {
	InstanceID     string
	StepInstanceID string
	ActionType     models.ActionType
	Reason         string
	Err            error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s on instance %s step %s: %s", e.ActionType, e.InstanceID, e.StepInstanceID, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}

	return ErrInvalidTransition
}

func (e *TransitionError) Is(target error) bool {
	return errors.Is(ErrInvalidTransition, target) || (e.Err != nil && errors.Is(e.Err, target))
}

func newTransitionError(instanceID, stepInstanceID string, actionType models.ActionType, reason string) *TransitionError {
	return &TransitionError{
		InstanceID:     instanceID,
		StepInstanceID: stepInstanceID,
		ActionType:     actionType,
		Reason:         reason,
	}
}

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}

	return "validation failed: " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsDefinitionNotFound checks for a missing or non-instantiable template.
func IsDefinitionNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsInvalidTransition checks for a precondition violation.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsUnresolvableAssignment checks for an unresolvable assignment rule.
func IsUnresolvableAssignment(err error) bool {
	return errors.Is(err, ErrUnresolvableAssignment)
}

// IsValidation checks for a malformed request.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
