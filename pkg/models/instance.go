package models

import "time"

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	// InstanceStatusPending covers the narrow window where the first
	// step's assignee cannot be resolved yet.
	InstanceStatusPending    InstanceStatus = "pending"
	InstanceStatusInProgress InstanceStatus = "in_progress"
	InstanceStatusCompleted  InstanceStatus = "completed"
	InstanceStatusRejected   InstanceStatus = "rejected"
	InstanceStatusCancelled  InstanceStatus = "cancelled"
)

// IsTerminal reports whether the status is absorbing: no further step
// instances are created and no actions except comments are accepted.
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case InstanceStatusCompleted, InstanceStatusRejected, InstanceStatusCancelled:
		return true
	default:
		return false
	}
}

// Priority orders instances for the humans working them; the engine only
// stores and filters on it.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
	PriorityUrgent   Priority = "urgent"
)

// WorkflowInstance is one running execution of a workflow bound to a
// business entity by opaque entity_type/entity_id reference. Instances are
// mutated only through validated actions and never physically deleted.
type WorkflowInstance struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	// StepCount is frozen at instantiation time; later edits to the
	// workflow template do not change it.
	StepCount         int            `json:"step_count"`
	EntityType        string         `json:"entity_type" validate:"required"`
	EntityID          string         `json:"entity_id"   validate:"required"`
	Status            InstanceStatus `json:"status"`
	Priority          Priority       `json:"priority"    validate:"omitempty,oneof=low medium high critical urgent"`
	CurrentStepOrder  int            `json:"current_step_order"`
	CurrentAssigneeID *string        `json:"current_assignee_id,omitempty"`
	// CandidateRoleID is set instead of CurrentAssigneeID when the step's
	// rule fans out to a role: any member may act, first commit wins.
	CandidateRoleID *string `json:"candidate_role_id,omitempty"`
	// EscalationLevel counts successful escalate actions; monotonically
	// non-decreasing.
	EscalationLevel int       `json:"escalation_level"`
	InitiatedBy     string    `json:"initiated_by" validate:"required"`
	InitiatedAt     time.Time `json:"initiated_at"`
	// DueDate derives from the current step's sla_hours; nil while a
	// request_information hold is in effect or the step has no SLA.
	DueDate      *time.Time     `json:"due_date,omitempty"`
	ContextData  map[string]any `json:"context_data,omitempty"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// IsTerminal reports whether the instance reached an absorbing status.
func (i *WorkflowInstance) IsTerminal() bool {
	return i.Status.IsTerminal()
}

// StepStatus represents the state of one runtime step instance.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusRejected   StepStatus = "rejected"
	StepStatusError      StepStatus = "error"
)

// WorkflowStepInstance is the runtime record of one step within one
// instance, created lazily when that step becomes current and closed when
// superseded. At most one per instance is in_progress at any time.
type WorkflowStepInstance struct {
	ID                 string     `json:"id"`
	WorkflowInstanceID string     `json:"workflow_instance_id"`
	StepOrder          int        `json:"step_order"`
	Status             StepStatus `json:"status"`
	AssignedToID       *string    `json:"assigned_to_id,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	DueDate            *time.Time `json:"due_date,omitempty"`
	OutcomeReason      string     `json:"outcome_reason,omitempty"`
}

// Overdue reports whether the step instance has passed its due date.
func (s *WorkflowStepInstance) Overdue(now time.Time) bool {
	return s.Status == StepStatusInProgress && s.DueDate != nil && s.DueDate.Before(now)
}
