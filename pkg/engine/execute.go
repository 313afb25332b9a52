package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/events"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
)

// ExecuteActionRequest describes one action against one instance. The step
// instance id pins the action to the step the caller observed; if that step
// is no longer current by commit time the call fails InvalidTransition.
type ExecuteActionRequest struct {
	InstanceID     string            `json:"instance_id"      validate:"required"`
	StepInstanceID string            `json:"step_instance_id" validate:"required"`
	ActionType     models.ActionType `json:"action_type"      validate:"required"`
	PerformedBy    string            `json:"performed_by"     validate:"required"`
	Comment        string            `json:"comment,omitempty"`
	// TargetUserID is the reassignment target for reassign and the
	// escalation target for escalate.
	TargetUserID string `json:"target_user_id,omitempty"`
	// ExpectedDueDate, when set, makes the commit conditional on the step
	// still carrying the due date the caller observed. The escalation
	// sweeper uses it so that two sweeps cannot both escalate the same
	// overdue step.
	ExpectedDueDate *time.Time `json:"expected_due_date,omitempty"`
	// System marks engine-performed actions; they bypass the per-step
	// action allowlist.
	System bool `json:"system,omitempty"`
}

// transition is the computed outcome of applying one action, staged in
// memory and committed in a fixed order: step first (the optimistic gate),
// then the follow-up step, then the instance, then the action log.
type transition struct {
	stepChanged   bool
	nextStep      *models.WorkflowStepInstance
	pendingReason string
}

// ExecuteAction is the single entry point for every instance mutation. It
// validates the request, checks the action's preconditions against current
// state, applies the transition and records one action log row. Either the
// full transition commits and exactly one action row is appended, or the
// call fails with no visible mutation.
func (e *Engine) ExecuteAction(ctx context.Context, req ExecuteActionRequest) (*models.WorkflowAction, error) {
	if err := e.validateActionRequest(req); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(req.InstanceID)
	defer unlock()

	instance, err := e.persistence.InstanceRepository().GetByID(ctx, req.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get instance %s: %w", req.InstanceID, err)
	}

	if instance.IsTerminal() {
		// Terminal instances are absorbing; only comments are still
		// accepted, appended against the step the commenter references.
		if req.ActionType == models.ActionTypeComment {
			return e.commentOnTerminal(ctx, instance, req)
		}

		return nil, newTransitionError(req.InstanceID, req.StepInstanceID, req.ActionType,
			fmt.Sprintf("instance is %s", instance.Status))
	}

	step, err := e.persistence.StepInstanceRepository().CurrentForInstance(ctx, req.InstanceID)
	if err != nil {
		if persistence.IsStepInstanceNotFound(err) {
			return nil, newTransitionError(req.InstanceID, req.StepInstanceID, req.ActionType,
				"instance has no step in progress")
		}

		return nil, fmt.Errorf("failed to get current step of instance %s: %w", req.InstanceID, err)
	}

	if step.ID != req.StepInstanceID {
		return nil, newTransitionError(req.InstanceID, req.StepInstanceID, req.ActionType,
			fmt.Sprintf("step %s is no longer current", req.StepInstanceID))
	}

	if req.ExpectedDueDate != nil && (step.DueDate == nil || !step.DueDate.Equal(*req.ExpectedDueDate)) {
		return nil, newTransitionError(req.InstanceID, req.StepInstanceID, req.ActionType,
			"step due date changed since it was observed")
	}

	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, instance.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return nil, fmt.Errorf("workflow %s: %w", instance.WorkflowID, ErrDefinitionNotFound)
		}

		return nil, fmt.Errorf("failed to load workflow %s: %w", instance.WorkflowID, err)
	}

	stepDef := workflow.StepByOrder(step.StepOrder)
	if stepDef == nil {
		return nil, fmt.Errorf("workflow %s no longer defines step %d: %w", workflow.ID, step.StepOrder, ErrDefinitionNotFound)
	}

	if !req.System && !stepDef.AllowsAction(req.ActionType) {
		return nil, newTransitionError(req.InstanceID, req.StepInstanceID, req.ActionType,
			fmt.Sprintf("action not allowed at step %d", step.StepOrder))
	}

	if instance.Status == models.InstanceStatusPending && !pendingAllows(req.ActionType) {
		return nil, newTransitionError(req.InstanceID, req.StepInstanceID, req.ActionType,
			"instance is pending assignment")
	}

	now := time.Now().UTC()

	var tr transition

	switch req.ActionType {
	case models.ActionTypeApprove:
		tr, err = e.applyApprove(ctx, workflow, instance, step, now)
	case models.ActionTypeReject:
		tr = applyReject(instance, step, req.Comment, now)
	case models.ActionTypeComment:
		tr = applyComment(stepDef, instance, step, now)
	case models.ActionTypeReassign:
		tr = applyReassign(instance, step, req.TargetUserID)
	case models.ActionTypeEscalate:
		tr = applyEscalate(stepDef, instance, step, req.TargetUserID, now)
	case models.ActionTypeRequestInformation:
		tr = applyRequestInformation(instance, step)
	case models.ActionTypeCancel:
		tr = applyCancel(instance, step, now)
	default:
		return nil, newValidationError("action_type", fmt.Sprintf("unknown action type %q", req.ActionType))
	}

	if err != nil {
		return nil, err
	}

	if tr.stepChanged {
		if err := e.persistence.StepInstanceRepository().UpdateIfStatus(ctx, step, models.StepStatusInProgress); err != nil {
			if persistence.IsStaleStep(err) {
				return nil, &TransitionError{
					InstanceID:     req.InstanceID,
					StepInstanceID: req.StepInstanceID,
					ActionType:     req.ActionType,
					Reason:         "step was completed by a concurrent action",
					Err:            err,
				}
			}

			return nil, fmt.Errorf("failed to commit step of instance %s: %w", req.InstanceID, err)
		}
	}

	if tr.nextStep != nil {
		if err := e.persistence.StepInstanceRepository().Create(ctx, tr.nextStep); err != nil {
			return nil, fmt.Errorf("failed to create step %d of instance %s: %w", tr.nextStep.StepOrder, req.InstanceID, err)
		}
	}

	instance.UpdatedAt = now

	if err := e.persistence.InstanceRepository().Update(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to update instance %s: %w", req.InstanceID, err)
	}

	action := &models.WorkflowAction{
		ID:                 newID(),
		WorkflowInstanceID: instance.ID,
		StepInstanceID:     step.ID,
		ActionType:         req.ActionType,
		PerformedByID:      req.PerformedBy,
		Comment:            req.Comment,
		System:             req.System,
		PerformedAt:        now,
	}

	if err := e.persistence.ActionRepository().Append(ctx, action); err != nil {
		return nil, fmt.Errorf("failed to record %s on instance %s: %w", req.ActionType, req.InstanceID, err)
	}

	e.publishActionEvents(ctx, instance, step, action, tr)

	e.logger.InfoContext(ctx, "Action executed",
		"instance_id", instance.ID, "step_order", step.StepOrder,
		"action_type", req.ActionType, "performed_by", req.PerformedBy,
		"instance_status", instance.Status)

	return action, nil
}

func (e *Engine) validateActionRequest(req ExecuteActionRequest) error {
	if err := e.validator.Struct(req); err != nil {
		return newValidationError("", err.Error())
	}

	if !req.ActionType.Valid() {
		return newValidationError("action_type", fmt.Sprintf("unknown action type %q", req.ActionType))
	}

	if req.ActionType.RequiresComment() && strings.TrimSpace(req.Comment) == "" {
		return newValidationError("comment", fmt.Sprintf("%s requires a comment", req.ActionType))
	}

	if req.ActionType.RequiresTarget() && req.TargetUserID == "" {
		return newValidationError("target_user_id", fmt.Sprintf("%s requires a target user", req.ActionType))
	}

	return nil
}

// pendingAllows limits what can happen to an instance that is still
// waiting for an assignee.
func pendingAllows(actionType models.ActionType) bool {
	switch actionType {
	case models.ActionTypeComment, models.ActionTypeReassign, models.ActionTypeCancel:
		return true
	default:
		return false
	}
}

// applyApprove closes the current step and either advances to the next
// step or completes the instance.
func (e *Engine) applyApprove(ctx context.Context, workflow *models.Workflow, instance *models.WorkflowInstance, step *models.WorkflowStepInstance, now time.Time) (transition, error) {
	step.Status = models.StepStatusCompleted
	step.CompletedAt = &now

	if step.StepOrder >= instance.StepCount {
		finishInstance(instance, models.InstanceStatusCompleted)

		return transition{stepChanged: true}, nil
	}

	nextOrder := step.StepOrder + 1

	nextDef := workflow.StepByOrder(nextOrder)
	if nextDef == nil {
		return transition{}, fmt.Errorf("workflow %s no longer defines step %d: %w", workflow.ID, nextOrder, ErrDefinitionNotFound)
	}

	nextStep := &models.WorkflowStepInstance{
		ID:                 newID(),
		WorkflowInstanceID: instance.ID,
		StepOrder:          nextOrder,
		Status:             models.StepStatusInProgress,
		StartedAt:          now,
	}

	instance.CurrentStepOrder = nextOrder
	instance.DueDate = nil

	if sla := nextDef.SLA(); sla > 0 {
		due := now.Add(sla)
		nextStep.DueDate = &due
		instance.DueDate = &due
	}

	tr := transition{stepChanged: true, nextStep: nextStep}

	resolution, err := e.resolver.Resolve(ctx, nextDef.Assignment, instanceContext(instance))
	if err != nil {
		if IsUnresolvableAssignment(err) {
			instance.Status = models.InstanceStatusPending
			instance.CurrentAssigneeID = nil
			instance.CandidateRoleID = nil
			tr.pendingReason = err.Error()

			return tr, nil
		}

		return transition{}, fmt.Errorf("failed to resolve step %d assignment: %w", nextOrder, err)
	}

	applyResolution(instance, nextStep, resolution)

	return tr, nil
}

func applyReject(instance *models.WorkflowInstance, step *models.WorkflowStepInstance, comment string, now time.Time) transition {
	step.Status = models.StepStatusRejected
	step.CompletedAt = &now
	step.OutcomeReason = comment

	finishInstance(instance, models.InstanceStatusRejected)

	return transition{stepChanged: true}
}

// applyComment leaves the state machine alone, except that a comment on a
// step held by request_information lifts the hold and restarts the SLA
// clock.
func applyComment(stepDef *models.WorkflowStep, instance *models.WorkflowInstance, step *models.WorkflowStepInstance, now time.Time) transition {
	if step.DueDate != nil || stepDef.SLAHours == 0 {
		return transition{}
	}

	due := now.Add(stepDef.SLA())
	step.DueDate = &due
	instance.DueDate = &due

	return transition{stepChanged: true}
}

func applyReassign(instance *models.WorkflowInstance, step *models.WorkflowStepInstance, targetUserID string) transition {
	step.AssignedToID = &targetUserID
	instance.CurrentAssigneeID = &targetUserID
	instance.CandidateRoleID = nil

	// Manually assigning a pending instance is what unblocks it.
	if instance.Status == models.InstanceStatusPending {
		instance.Status = models.InstanceStatusInProgress
	}

	return transition{stepChanged: true}
}

// applyEscalate hands the step to the escalation target and extends the
// due date by one more SLA budget, which is what makes a second escalation
// attempt against the same observation fail its precondition.
func applyEscalate(stepDef *models.WorkflowStep, instance *models.WorkflowInstance, step *models.WorkflowStepInstance, targetUserID string, now time.Time) transition {
	step.AssignedToID = &targetUserID
	instance.CurrentAssigneeID = &targetUserID
	instance.CandidateRoleID = nil
	instance.EscalationLevel++

	if sla := stepDef.SLA(); sla > 0 {
		base := now
		if step.DueDate != nil {
			base = *step.DueDate
		}

		due := base.Add(sla)
		step.DueDate = &due
		instance.DueDate = &due
	}

	return transition{stepChanged: true}
}

// applyRequestInformation suspends the SLA clock until the next comment.
func applyRequestInformation(instance *models.WorkflowInstance, step *models.WorkflowStepInstance) transition {
	step.DueDate = nil
	instance.DueDate = nil

	return transition{stepChanged: true}
}

func applyCancel(instance *models.WorkflowInstance, step *models.WorkflowStepInstance, now time.Time) transition {
	step.Status = models.StepStatusCompleted
	step.CompletedAt = &now
	step.OutcomeReason = "cancelled"

	finishInstance(instance, models.InstanceStatusCancelled)

	return transition{stepChanged: true}
}

func finishInstance(instance *models.WorkflowInstance, status models.InstanceStatus) {
	instance.Status = status
	instance.CurrentAssigneeID = nil
	instance.CandidateRoleID = nil
	instance.DueDate = nil
}

func (e *Engine) commentOnTerminal(ctx context.Context, instance *models.WorkflowInstance, req ExecuteActionRequest) (*models.WorkflowAction, error) {
	step, err := e.persistence.StepInstanceRepository().GetByID(ctx, req.StepInstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get step %s: %w", req.StepInstanceID, err)
	}

	if step.WorkflowInstanceID != instance.ID {
		return nil, newTransitionError(req.InstanceID, req.StepInstanceID, req.ActionType,
			"step does not belong to instance")
	}

	action := &models.WorkflowAction{
		ID:                 newID(),
		WorkflowInstanceID: instance.ID,
		StepInstanceID:     step.ID,
		ActionType:         models.ActionTypeComment,
		PerformedByID:      req.PerformedBy,
		Comment:            req.Comment,
		System:             req.System,
		PerformedAt:        time.Now().UTC(),
	}

	if err := e.persistence.ActionRepository().Append(ctx, action); err != nil {
		return nil, fmt.Errorf("failed to record comment on instance %s: %w", req.InstanceID, err)
	}

	e.publish(ctx, instance.ID, events.ActionExecuted{
		BaseEvent:   newBaseEvent(events.ActionExecutedEvent, instance),
		ActionID:    action.ID,
		ActionType:  action.ActionType,
		PerformedBy: action.PerformedByID,
		StepOrder:   step.StepOrder,
	})

	return action, nil
}

func (e *Engine) publishActionEvents(ctx context.Context, instance *models.WorkflowInstance, step *models.WorkflowStepInstance, action *models.WorkflowAction, tr transition) {
	e.publish(ctx, instance.ID, events.ActionExecuted{
		BaseEvent:     newBaseEvent(events.ActionExecutedEvent, instance),
		ActionID:      action.ID,
		ActionType:    action.ActionType,
		PerformedBy:   action.PerformedByID,
		StepOrder:     step.StepOrder,
		NewAssigneeID: instance.CurrentAssigneeID,
	})

	if tr.pendingReason != "" && tr.nextStep != nil {
		e.publish(ctx, instance.ID, events.InstancePending{
			BaseEvent: newBaseEvent(events.InstancePendingEvent, instance),
			StepOrder: tr.nextStep.StepOrder,
			Reason:    tr.pendingReason,
		})
	}

	if instance.IsTerminal() {
		e.publish(ctx, instance.ID, events.InstanceFinished{
			BaseEvent: newBaseEvent(events.InstanceFinishedEvent, instance),
			Status:    instance.Status,
			Duration:  instance.UpdatedAt.Sub(instance.InitiatedAt),
		})
	}
}
