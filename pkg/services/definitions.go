package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
)

// Definition is the workflow definition store. Templates are validated
// here before they reach persistence; the engine trusts what it loads.
type Definition struct {
	persistence persistence.Persistence
}

// NewDefinition creates a new definition service.
func NewDefinition(persistence persistence.Persistence) *Definition {
	return &Definition{
		persistence: persistence,
	}
}

// HealthCheck checks the health of the persistence layer.
func (d *Definition) HealthCheck(ctx context.Context) (string, bool) {
	if d.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := d.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest filters workflow listings; nil filters match all.
type ListWorkflowsRequest struct {
	Status       *models.WorkflowStatus
	WorkflowType *models.WorkflowType
}

// ListWorkflows retrieves workflow templates, soft-deleted ones excluded.
func (d *Definition) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) ([]*models.Workflow, error) {
	workflows, err := d.persistence.WorkflowRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	filtered := make([]*models.Workflow, 0, len(workflows))

	for _, workflow := range workflows {
		if workflow.DeletedAt != nil {
			continue
		}

		if req.Status != nil && workflow.Status != *req.Status {
			continue
		}

		if req.WorkflowType != nil && workflow.WorkflowType != *req.WorkflowType {
			continue
		}

		filtered = append(filtered, workflow)
	}

	return filtered, nil
}

// GetWorkflow retrieves one workflow template by id.
func (d *Definition) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := d.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow %s: %w", id, err)
	}

	return workflow, nil
}

// CreateWorkflow validates and stores a new workflow template. Missing
// ids are generated; a missing status defaults to inactive so templates
// are not instantiable before someone activates them on purpose.
func (d *Definition) CreateWorkflow(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, NewValidationError("create_workflow", "workflow_nil", "", ErrWorkflowNil)
	}

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusInactive
	}

	if err := validateWorkflow(workflow); err != nil {
		return nil, err
	}

	if workflow.ID == "" {
		workflow.ID = newID()
	}

	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now
	workflow.DeletedAt = nil

	normalizeSteps(workflow)

	if err := d.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return workflow, nil
}

// UpdateWorkflow validates and stores changes to an existing template.
// Editing never touches in-flight instances; they keep the step count
// frozen at instantiation time.
func (d *Definition) UpdateWorkflow(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, NewValidationError("update_workflow", "workflow_nil", "", ErrWorkflowNil)
	}

	existing, err := d.persistence.WorkflowRepository().GetByID(ctx, workflow.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow %s: %w", workflow.ID, err)
	}

	if existing.DeletedAt != nil {
		return nil, &ServiceError{Op: "update_workflow", Code: "workflow_deleted", Err: ErrWorkflowDeleted}
	}

	if workflow.Status == "" {
		workflow.Status = existing.Status
	}

	if err := validateWorkflow(workflow); err != nil {
		return nil, err
	}

	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()
	workflow.DeletedAt = nil

	normalizeSteps(workflow)

	if err := d.persistence.WorkflowRepository().Save(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to update workflow %s: %w", workflow.ID, err)
	}

	return workflow, nil
}

// DeleteWorkflow soft deletes a template. Existing instances keep running
// and keep their audit trail; the template just stops being instantiable.
func (d *Definition) DeleteWorkflow(ctx context.Context, id string) error {
	if err := d.persistence.WorkflowRepository().Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}

func validateWorkflow(workflow *models.Workflow) error {
	if workflow.Name == "" {
		return NewValidationError("validate_workflow", "name_required", "", ErrWorkflowNameRequired)
	}

	switch workflow.WorkflowType {
	case models.WorkflowTypeRiskApproval, models.WorkflowTypeTaskApproval,
		models.WorkflowTypeAssessmentApproval, models.WorkflowTypeCustom:
	default:
		return NewValidationError("validate_workflow", "invalid_type",
			fmt.Sprintf("unknown workflow type %q", workflow.WorkflowType), ErrInvalidWorkflowType)
	}

	switch workflow.Status {
	case models.WorkflowStatusActive, models.WorkflowStatusInactive:
	default:
		return NewValidationError("validate_workflow", "invalid_status",
			fmt.Sprintf("unknown status %q", workflow.Status), ErrInvalidStatus)
	}

	if workflow.Status == models.WorkflowStatusActive && len(workflow.Steps) == 0 {
		return NewValidationError("validate_workflow", "steps_required", "", ErrStepsRequired)
	}

	for i, step := range workflow.Steps {
		if step.Order != i+1 {
			return NewValidationError("validate_workflow", "invalid_step_order",
				fmt.Sprintf("step at position %d has order %d", i, step.Order), ErrInvalidStepOrder)
		}

		if step.Name == "" {
			return NewValidationError("validate_workflow", "step_name_required",
				fmt.Sprintf("step %d has no name", step.Order), ErrStepNameRequired)
		}

		if step.SLAHours < 0 {
			return NewValidationError("validate_workflow", "invalid_sla",
				fmt.Sprintf("step %d has sla_hours %d", step.Order, step.SLAHours), ErrInvalidSLA)
		}

		if err := step.Assignment.Validate(); err != nil {
			return NewValidationError("validate_workflow", "invalid_assignment",
				fmt.Sprintf("step %d: %v", step.Order, err), err)
		}

		for _, actionType := range step.AllowedActions {
			if !actionType.Valid() {
				return NewValidationError("validate_workflow", "invalid_allowed_action",
					fmt.Sprintf("step %d allows %q", step.Order, actionType), ErrInvalidAllowedAction)
			}
		}
	}

	return nil
}

func normalizeSteps(workflow *models.Workflow) {
	for _, step := range workflow.Steps {
		if step.ID == "" {
			step.ID = newID()
		}

		step.WorkflowID = workflow.ID
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
