package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/assignment"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/eventbus"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/events"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
)

// Engine drives workflow instances through their lifecycle. It holds no
// instance state between calls; all state lives in persistence, and
// concurrent mutations are arbitrated by the per-instance lock plus the
// optimistic step commit.
type Engine struct {
	persistence persistence.Persistence
	resolver    *assignment.Resolver
	eventBus    eventbus.EventPublisher
	validator   *validator.Validate
	logger      *slog.Logger
	locks       *instanceLocks
}

// NewEngine creates a workflow engine. The event bus may be nil, in which
// case notifications are dropped.
func NewEngine(p persistence.Persistence, resolver *assignment.Resolver, eventBus eventbus.EventPublisher, logger *slog.Logger) *Engine {
	return &Engine{
		persistence: p,
		resolver:    resolver,
		eventBus:    eventBus,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "engine"),
		locks:       newInstanceLocks(),
	}
}

// CreateInstanceRequest starts one workflow execution against a business
// entity.
type CreateInstanceRequest struct {
	WorkflowID   string          `json:"workflow_id" validate:"required"`
	EntityType   string          `json:"entity_type" validate:"required"`
	EntityID     string          `json:"entity_id"   validate:"required"`
	Priority     models.Priority `json:"priority"    validate:"omitempty,oneof=low medium high critical urgent"`
	InitiatedBy  string          `json:"initiated_by" validate:"required"`
	ContextData  map[string]any  `json:"context_data,omitempty"`
	CustomFields map[string]any  `json:"custom_fields,omitempty"`
}

// CreateInstance instantiates an active workflow: it creates the instance,
// its first step instance, resolves the first assignee and records the
// implicit workflow-started action. When the first assignment cannot be
// resolved the instance is created in status pending instead of failing.
func (e *Engine) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*models.WorkflowInstance, error) {
	if err := e.validator.Struct(req); err != nil {
		return nil, newValidationError("", err.Error())
	}

	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, req.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, fmt.Errorf("workflow %s: %w", req.WorkflowID, ErrDefinitionNotFound)
		}

		return nil, fmt.Errorf("failed to load workflow %s: %w", req.WorkflowID, err)
	}

	if !workflow.IsActive() {
		return nil, fmt.Errorf("workflow %s is not active: %w", req.WorkflowID, ErrDefinitionNotFound)
	}

	if len(workflow.Steps) == 0 {
		return nil, fmt.Errorf("workflow %s has no steps: %w", req.WorkflowID, ErrDefinitionNotFound)
	}

	if workflow.ContextSchema != nil {
		if err := validateContextData(workflow.ContextSchema, req.ContextData); err != nil {
			return nil, err
		}
	}

	firstStepDef := workflow.StepByOrder(1)
	if firstStepDef == nil {
		return nil, fmt.Errorf("workflow %s has no step with order 1: %w", req.WorkflowID, ErrDefinitionNotFound)
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}

	now := time.Now().UTC()
	instance := &models.WorkflowInstance{
		ID:               newID(),
		WorkflowID:       workflow.ID,
		StepCount:        len(workflow.Steps),
		EntityType:       req.EntityType,
		EntityID:         req.EntityID,
		Status:           models.InstanceStatusInProgress,
		Priority:         priority,
		CurrentStepOrder: 1,
		InitiatedBy:      req.InitiatedBy,
		InitiatedAt:      now,
		ContextData:      req.ContextData,
		CustomFields:     req.CustomFields,
		UpdatedAt:        now,
	}

	step := &models.WorkflowStepInstance{
		ID:                 newID(),
		WorkflowInstanceID: instance.ID,
		StepOrder:          1,
		Status:             models.StepStatusInProgress,
		StartedAt:          now,
	}

	if sla := firstStepDef.SLA(); sla > 0 {
		due := now.Add(sla)
		step.DueDate = &due
		instance.DueDate = &due
	}

	pendingReason := ""

	resolution, err := e.resolver.Resolve(ctx, firstStepDef.Assignment, instanceContext(instance))

	switch {
	case err == nil:
		applyResolution(instance, step, resolution)
	case errors.Is(err, assignment.ErrUnresolvable):
		instance.Status = models.InstanceStatusPending
		pendingReason = err.Error()

		e.logger.WarnContext(ctx, "Instance created without resolvable assignee",
			"workflow_id", workflow.ID, "instance_id", instance.ID, "reason", pendingReason)
	default:
		return nil, fmt.Errorf("failed to resolve first step assignment: %w", err)
	}

	if err := e.persistence.InstanceRepository().Create(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	if err := e.persistence.StepInstanceRepository().Create(ctx, step); err != nil {
		return nil, fmt.Errorf("failed to create first step instance: %w", err)
	}

	startAction := &models.WorkflowAction{
		ID:                 newID(),
		WorkflowInstanceID: instance.ID,
		StepInstanceID:     step.ID,
		ActionType:         models.ActionTypeComment,
		PerformedByID:      models.SystemActorID,
		Comment:            "workflow started",
		System:             true,
		PerformedAt:        now,
	}

	if err := e.persistence.ActionRepository().Append(ctx, startAction); err != nil {
		return nil, fmt.Errorf("failed to record workflow start: %w", err)
	}

	e.publish(ctx, instance.ID, events.InstanceCreated{
		BaseEvent:       newBaseEvent(events.InstanceCreatedEvent, instance),
		EntityType:      instance.EntityType,
		EntityID:        instance.EntityID,
		InitiatedBy:     instance.InitiatedBy,
		AssigneeID:      instance.CurrentAssigneeID,
		CandidateRoleID: instance.CandidateRoleID,
	})

	if pendingReason != "" {
		e.publish(ctx, instance.ID, events.InstancePending{
			BaseEvent: newBaseEvent(events.InstancePendingEvent, instance),
			StepOrder: 1,
			Reason:    pendingReason,
		})
	}

	e.logger.InfoContext(ctx, "Workflow instance created",
		"workflow_id", workflow.ID, "instance_id", instance.ID,
		"entity_type", instance.EntityType, "entity_id", instance.EntityID,
		"status", instance.Status)

	return instance, nil
}

// GetInstance returns a single instance by id.
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (*models.WorkflowInstance, error) {
	instance, err := e.persistence.InstanceRepository().GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get instance %s: %w", instanceID, err)
	}

	return instance, nil
}

// InstanceDetail is an instance together with its step instances and its
// full action log, ordered oldest first.
type InstanceDetail struct {
	Instance *models.WorkflowInstance       `json:"instance"`
	Steps    []*models.WorkflowStepInstance `json:"steps"`
	Actions  []*models.WorkflowAction       `json:"actions"`
}

// GetInstanceDetail returns an instance with its steps and action history.
func (e *Engine) GetInstanceDetail(ctx context.Context, instanceID string) (*InstanceDetail, error) {
	instance, err := e.persistence.InstanceRepository().GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get instance %s: %w", instanceID, err)
	}

	steps, err := e.persistence.StepInstanceRepository().ListForInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps of instance %s: %w", instanceID, err)
	}

	actions, err := e.persistence.ActionRepository().ListForInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions of instance %s: %w", instanceID, err)
	}

	return &InstanceDetail{Instance: instance, Steps: steps, Actions: actions}, nil
}

// ListInstances returns instances matching the filter options.
func (e *Engine) ListInstances(ctx context.Context, opts persistence.ListInstancesOptions) ([]*models.WorkflowInstance, error) {
	instances, err := e.persistence.InstanceRepository().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	return instances, nil
}

// ResolvePending retries assignment resolution for a pending instance. It
// returns true when the instance was assigned and moved to in_progress.
// Called by the escalation sweeper and usable from admin tooling.
func (e *Engine) ResolvePending(ctx context.Context, instanceID string) (bool, error) {
	unlock := e.locks.Lock(instanceID)
	defer unlock()

	instance, err := e.persistence.InstanceRepository().GetByID(ctx, instanceID)
	if err != nil {
		return false, fmt.Errorf("failed to get instance %s: %w", instanceID, err)
	}

	if instance.Status != models.InstanceStatusPending {
		return false, nil
	}

	step, err := e.persistence.StepInstanceRepository().CurrentForInstance(ctx, instanceID)
	if err != nil {
		return false, fmt.Errorf("failed to get current step of instance %s: %w", instanceID, err)
	}

	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, instance.WorkflowID)
	if err != nil {
		return false, fmt.Errorf("failed to load workflow %s: %w", instance.WorkflowID, err)
	}

	stepDef := workflow.StepByOrder(step.StepOrder)
	if stepDef == nil {
		return false, fmt.Errorf("workflow %s no longer defines step %d: %w", workflow.ID, step.StepOrder, ErrDefinitionNotFound)
	}

	resolution, err := e.resolver.Resolve(ctx, stepDef.Assignment, instanceContext(instance))
	if err != nil {
		if errors.Is(err, assignment.ErrUnresolvable) {
			e.publish(ctx, instance.ID, events.InstancePending{
				BaseEvent: newBaseEvent(events.InstancePendingEvent, instance),
				StepOrder: step.StepOrder,
				Reason:    err.Error(),
			})

			return false, nil
		}

		return false, fmt.Errorf("failed to resolve assignment of instance %s: %w", instanceID, err)
	}

	now := time.Now().UTC()
	instance.Status = models.InstanceStatusInProgress
	instance.UpdatedAt = now
	applyResolution(instance, step, resolution)

	if err := e.persistence.StepInstanceRepository().UpdateIfStatus(ctx, step, models.StepStatusInProgress); err != nil {
		return false, fmt.Errorf("failed to assign step of instance %s: %w", instanceID, err)
	}

	if err := e.persistence.InstanceRepository().Update(ctx, instance); err != nil {
		return false, fmt.Errorf("failed to update instance %s: %w", instanceID, err)
	}

	action := &models.WorkflowAction{
		ID:                 newID(),
		WorkflowInstanceID: instance.ID,
		StepInstanceID:     step.ID,
		ActionType:         models.ActionTypeReassign,
		PerformedByID:      models.SystemActorID,
		Comment:            "assignee resolved",
		System:             true,
		PerformedAt:        now,
	}

	if err := e.persistence.ActionRepository().Append(ctx, action); err != nil {
		return false, fmt.Errorf("failed to record assignment of instance %s: %w", instanceID, err)
	}

	e.publish(ctx, instance.ID, events.ActionExecuted{
		BaseEvent:     newBaseEvent(events.ActionExecutedEvent, instance),
		ActionID:      action.ID,
		ActionType:    action.ActionType,
		PerformedBy:   action.PerformedByID,
		StepOrder:     step.StepOrder,
		NewAssigneeID: instance.CurrentAssigneeID,
	})

	e.logger.InfoContext(ctx, "Pending instance assigned",
		"instance_id", instance.ID, "step_order", step.StepOrder,
		"assignee_id", instance.CurrentAssigneeID, "candidate_role_id", instance.CandidateRoleID)

	return true, nil
}

func (e *Engine) publish(ctx context.Context, instanceID string, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	if err := e.eventBus.Publish(ctx, instanceID, event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish notification",
			"event_type", event.GetType(), "instance_id", instanceID, "error", err)
	}
}

// applyResolution writes a resolution onto the instance and its current
// step: either a direct assignee or a candidate role fan-out.
func applyResolution(instance *models.WorkflowInstance, step *models.WorkflowStepInstance, resolution assignment.Resolution) {
	instance.CurrentAssigneeID = nil
	instance.CandidateRoleID = nil
	step.AssignedToID = nil

	if resolution.IsRole() {
		roleID := resolution.RoleID
		instance.CandidateRoleID = &roleID

		return
	}

	assigneeID := resolution.AssigneeID
	instance.CurrentAssigneeID = &assigneeID
	step.AssignedToID = &assigneeID
}

func instanceContext(instance *models.WorkflowInstance) assignment.InstanceContext {
	return assignment.InstanceContext{
		InstanceID:  instance.ID,
		WorkflowID:  instance.WorkflowID,
		EntityType:  instance.EntityType,
		EntityID:    instance.EntityID,
		InitiatedBy: instance.InitiatedBy,
		ContextData: instance.ContextData,
	}
}

func validateContextData(schema, data map[string]any) error {
	document := data
	if document == nil {
		document = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(document))
	if err != nil {
		return newValidationError("context_data", fmt.Sprintf("invalid context schema: %v", err))
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return newValidationError("context_data", strings.Join(messages, "; "))
	}

	return nil
}

func newBaseEvent(eventType events.EventType, instance *models.WorkflowInstance) events.BaseEvent {
	return events.BaseEvent{
		ID:         newID(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		InstanceID: instance.ID,
		WorkflowID: instance.WorkflowID,
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
