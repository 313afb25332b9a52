// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow template was not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrInstanceNotFound indicates a workflow instance was not found.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrStepInstanceNotFound indicates a step instance was not found.
	ErrStepInstanceNotFound = errors.New("step instance not found")

	// ErrStaleStep indicates an optimistic commit lost a race: the step
	// instance no longer has the status the caller observed.
	ErrStaleStep = errors.New("step instance state changed since read")

	// ErrInstanceAlreadyExists indicates an instance id collision on create.
	ErrInstanceAlreadyExists = errors.New("workflow instance already exists")
)

// InstanceError wraps instance-related errors with operation context.
type InstanceError struct {
	Op         string // Operation being performed (e.g., "GetByID", "Update")
	InstanceID string
	Err        error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("%s operation failed for instance %s: %v", e.Op, e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

func (e *InstanceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewInstanceError creates a new instance error with context.
func NewInstanceError(op, instanceID string, err error) *InstanceError {
	return &InstanceError{
		Op:         op,
		InstanceID: instanceID,
		Err:        err,
	}
}

// StepError wraps step-instance errors with operation context.
type StepError struct {
	Op             string
	InstanceID     string
	StepInstanceID string
	Err            error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s operation failed for step %s in instance %s: %v", e.Op, e.StepInstanceID, e.InstanceID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsWorkflowNotFound checks if an error indicates a missing workflow template.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsInstanceNotFound checks if an error indicates a missing instance.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsStepInstanceNotFound checks if an error indicates a missing step instance.
func IsStepInstanceNotFound(err error) bool {
	return errors.Is(err, ErrStepInstanceNotFound)
}

// IsStaleStep checks if an error indicates a lost optimistic commit.
func IsStaleStep(err error) bool {
	return errors.Is(err, ErrStaleStep)
}
