// Package web provides the HTTP surface of the approval workflow engine:
// template management, instance lifecycle, actions and bulk actions.
package web

import "github.com/iffystrayer/iwillgetthis-sub001/pkg/models"

// StepRequest is one step of a workflow template in a create or update
// request body.
type StepRequest struct {
	Order          int                   `json:"order"                validate:"min=1"`
	Name           string                `json:"name"                 validate:"required"`
	Assignment     models.AssignmentRule `json:"assignment_rule"      validate:"required"`
	SLAHours       int                   `json:"sla_hours"            validate:"min=0"`
	AllowedActions []models.ActionType   `json:"allowed_action_types"`
}

// CreateWorkflowRequest represents the request body for creating a workflow
// template.
type CreateWorkflowRequest struct {
	Name          string              `json:"name"          validate:"required,min=3"`
	Description   string              `json:"description"`
	WorkflowType  models.WorkflowType `json:"workflow_type" validate:"required,oneof=risk_approval task_approval assessment_approval custom"`
	Status        string              `json:"status"        validate:"omitempty,oneof=active inactive"`
	Steps         []StepRequest       `json:"steps"`
	ContextSchema map[string]any      `json:"context_schema,omitempty"`
}

// UpdateWorkflowRequest represents the request body for updating a workflow
// template. All fields are optional to support partial updates; a non-nil
// Steps replaces the whole step list.
type UpdateWorkflowRequest struct {
	Name          *string        `json:"name,omitempty"          validate:"omitempty,min=3"`
	Description   *string        `json:"description,omitempty"`
	Status        *string        `json:"status,omitempty"        validate:"omitempty,oneof=active inactive"`
	Steps         *[]StepRequest `json:"steps,omitempty"`
	ContextSchema map[string]any `json:"context_schema,omitempty"`
}

// CreateInstanceRequest represents the request body for starting a workflow
// instance against a business entity.
type CreateInstanceRequest struct {
	WorkflowID   string         `json:"workflow_id"   validate:"required"`
	EntityType   string         `json:"entity_type"   validate:"required"`
	EntityID     string         `json:"entity_id"     validate:"required"`
	Priority     string         `json:"priority"      validate:"omitempty,oneof=low medium high critical urgent"`
	InitiatedBy  string         `json:"initiated_by"  validate:"required"`
	ContextData  map[string]any `json:"context_data,omitempty"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
}

// ExecuteActionRequest represents the request body for acting on an
// instance. StepInstanceID is optional; when omitted the action targets the
// instance's current step.
type ExecuteActionRequest struct {
	ActionType     models.ActionType `json:"action_type"      validate:"required"`
	PerformedBy    string            `json:"performed_by"     validate:"required"`
	Comment        string            `json:"comment,omitempty"`
	TargetUserID   string            `json:"target_user_id,omitempty"`
	StepInstanceID string            `json:"step_instance_id,omitempty"`
}

// AssignRequest represents the request body for manually assigning a
// pending instance.
type AssignRequest struct {
	AssigneeID  string `json:"assignee_id"  validate:"required"`
	PerformedBy string `json:"performed_by" validate:"required"`
}

// BulkActionRequest represents the request body for applying one action to
// many instances.
type BulkActionRequest struct {
	InstanceIDs  []string          `json:"instance_ids"  validate:"required,min=1"`
	ActionType   models.ActionType `json:"action_type"   validate:"required"`
	PerformedBy  string            `json:"performed_by"  validate:"required"`
	Comment      string            `json:"comment,omitempty"`
	TargetUserID string            `json:"target_user_id,omitempty"`
}
