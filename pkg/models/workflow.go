// Package models defines the core domain models for the approval workflow engine.
package models

import "time"

// WorkflowType categorizes which business flow a workflow template drives.
type WorkflowType string

const (
	WorkflowTypeRiskApproval       WorkflowType = "risk_approval"
	WorkflowTypeTaskApproval       WorkflowType = "task_approval"
	WorkflowTypeAssessmentApproval WorkflowType = "assessment_approval"
	WorkflowTypeCustom             WorkflowType = "custom"
)

// WorkflowStatus represents the lifecycle state of a workflow template.
type WorkflowStatus string

const (
	WorkflowStatusActive   WorkflowStatus = "active"   // Instantiable
	WorkflowStatusInactive WorkflowStatus = "inactive" // Kept for audit, not instantiable
)

// Workflow is a reusable ordered template of approval steps. Editing an
// active workflow never changes in-flight instances: each instance holds a
// frozen snapshot of the step order and count taken at instantiation time.
type Workflow struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"          validate:"required,min=3"`
	Description  string          `json:"description"`
	WorkflowType WorkflowType    `json:"workflow_type" validate:"required,oneof=risk_approval task_approval assessment_approval custom"`
	Status       WorkflowStatus  `json:"status"        validate:"required,oneof=active inactive"`
	Steps        []*WorkflowStep `json:"steps"`
	// ContextSchema is an optional JSON schema document; when present,
	// instance context_data is validated against it at creation time.
	ContextSchema map[string]any `json:"context_schema,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
}

// IsActive reports whether the workflow may be instantiated.
func (w *Workflow) IsActive() bool {
	return w.Status == WorkflowStatusActive && w.DeletedAt == nil
}

// StepByOrder returns the step with the given order, or nil.
func (w *Workflow) StepByOrder(order int) *WorkflowStep {
	for _, step := range w.Steps {
		if step.Order == order {
			return step
		}
	}

	return nil
}

// WorkflowStep is one step of a workflow template. Orders are unique,
// strictly increasing without gaps, starting at 1.
type WorkflowStep struct {
	ID             string         `json:"id"`
	WorkflowID     string         `json:"workflow_id"`
	Order          int            `json:"order"           validate:"min=1"`
	Name           string         `json:"name"            validate:"required"`
	Assignment     AssignmentRule `json:"assignment_rule" validate:"required"`
	SLAHours       int            `json:"sla_hours"       validate:"min=0"`
	AllowedActions []ActionType   `json:"allowed_action_types"`
}

// AllowsAction reports whether the action type is valid at this step.
// An empty allowlist permits nothing except comments.
func (s *WorkflowStep) AllowsAction(actionType ActionType) bool {
	if actionType == ActionTypeComment {
		return true
	}

	for _, allowed := range s.AllowedActions {
		if allowed == actionType {
			return true
		}
	}

	return false
}

// SLA returns the step's time budget as a duration. Zero means no SLA.
func (s *WorkflowStep) SLA() time.Duration {
	return time.Duration(s.SLAHours) * time.Hour
}
