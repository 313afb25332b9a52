package models

import (
	"errors"
	"time"
)

// SystemActorID identifies actions performed by the engine itself, such as
// scheduler-driven escalations and the implicit workflow-started record.
const SystemActorID = "system"

// ActionType enumerates everything an actor can do to an instance.
type ActionType string

const (
	ActionTypeApprove            ActionType = "approve"
	ActionTypeReject             ActionType = "reject"
	ActionTypeComment            ActionType = "comment"
	ActionTypeReassign           ActionType = "reassign"
	ActionTypeEscalate           ActionType = "escalate"
	ActionTypeRequestInformation ActionType = "request_information"
	ActionTypeCancel             ActionType = "cancel"
)

// Valid reports whether the action type is part of the enum.
func (a ActionType) Valid() bool {
	switch a {
	case ActionTypeApprove, ActionTypeReject, ActionTypeComment,
		ActionTypeReassign, ActionTypeEscalate, ActionTypeRequestInformation,
		ActionTypeCancel:
		return true
	default:
		return false
	}
}

// RequiresComment reports whether the action type must carry a non-empty
// comment.
func (a ActionType) RequiresComment() bool {
	switch a {
	case ActionTypeReject, ActionTypeEscalate, ActionTypeRequestInformation:
		return true
	default:
		return false
	}
}

// RequiresTarget reports whether the action type must carry a target user
// (reassign_to for reassign, escalate_to for escalate).
func (a ActionType) RequiresTarget() bool {
	return a == ActionTypeReassign || a == ActionTypeEscalate
}

// WorkflowAction is one row of the append-only action log, the single
// source of audit truth. Rows are never updated or deleted; every state
// change has a corresponding action record.
type WorkflowAction struct {
	ID                 string     `json:"id"`
	WorkflowInstanceID string     `json:"workflow_instance_id"`
	StepInstanceID     string     `json:"step_instance_id"`
	ActionType         ActionType `json:"action_type"`
	PerformedByID      string     `json:"performed_by_id"`
	Comment            string     `json:"comment,omitempty"`
	// System marks records written by the engine rather than an actor.
	System      bool      `json:"system,omitempty"`
	PerformedAt time.Time `json:"performed_at"`
}

var (
	// ErrInvalidAssignmentRule is returned when an assignment rule is
	// missing the field its kind requires.
	ErrInvalidAssignmentRule = errors.New("invalid assignment rule")

	// ErrInvalidActionType is returned for action types outside the enum.
	ErrInvalidActionType = errors.New("invalid action type")
)
