// Package events defines the notification events published after workflow
// state changes commit. Delivery is fire-and-forget: a failed publish is
// logged and never rolls back the action that produced it.
package events

import (
	"time"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
)

type EventType string

// Topic is the single bus topic carrying all workflow notifications.
const Topic = "workflow.notifications"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	InstanceCreatedEvent EventType = "instance.created"
	// InstancePendingEvent reports an instance stuck without a resolvable
	// assignee; it is re-emitted by the escalation sweeper until resolved.
	InstancePendingEvent  EventType = "instance.pending"
	ActionExecutedEvent   EventType = "action.executed"
	InstanceFinishedEvent EventType = "instance.finished"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	InstanceID string    `json:"instance_id"`
	WorkflowID string    `json:"workflow_id"`
}

// InstanceCreated is published once per successful CreateInstance.
type InstanceCreated struct {
	BaseEvent

	EntityType      string  `json:"entity_type"`
	EntityID        string  `json:"entity_id"`
	InitiatedBy     string  `json:"initiated_by"`
	AssigneeID      *string `json:"assignee_id,omitempty"`
	CandidateRoleID *string `json:"candidate_role_id,omitempty"`
}

func (e InstanceCreated) GetType() EventType {
	return InstanceCreatedEvent
}

// InstancePending is published when an instance cannot be assigned.
type InstancePending struct {
	BaseEvent

	StepOrder int    `json:"step_order"`
	Reason    string `json:"reason"`
}

func (e InstancePending) GetType() EventType {
	return InstancePendingEvent
}

// ActionExecuted is published after every successful action, including
// system-performed escalations.
type ActionExecuted struct {
	BaseEvent

	ActionID      string            `json:"action_id"`
	ActionType    models.ActionType `json:"action_type"`
	PerformedBy   string            `json:"performed_by"`
	StepOrder     int               `json:"step_order"`
	NewAssigneeID *string           `json:"new_assignee_id,omitempty"`
}

func (e ActionExecuted) GetType() EventType {
	return ActionExecutedEvent
}

// InstanceFinished is published when an instance reaches a terminal status.
type InstanceFinished struct {
	BaseEvent

	Status   models.InstanceStatus `json:"status"`
	Duration time.Duration         `json:"duration"`
}

func (e InstanceFinished) GetType() EventType {
	return InstanceFinishedEvent
}
