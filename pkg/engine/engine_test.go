package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/assignment"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/directory"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence/memory"
)

type stubDirectory struct {
	mu       sync.Mutex
	roles    map[string][]string
	managers map[string]string
}

func (d *stubDirectory) ResolveRoleMembers(_ context.Context, roleID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.roles[roleID]...), nil
}

func (d *stubDirectory) ResolveManagerOf(_ context.Context, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	manager, ok := d.managers[userID]
	if !ok {
		return "", directory.ErrNoManager
	}

	return manager, nil
}

func (d *stubDirectory) setRole(roleID string, members ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.roles[roleID] = members
}

func riskApprovalWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:           "wf-risk",
		Name:         "High risk acceptance",
		WorkflowType: models.WorkflowTypeRiskApproval,
		Status:       models.WorkflowStatusActive,
		Steps: []*models.WorkflowStep{
			{
				ID:         "step-def-1",
				WorkflowID: "wf-risk",
				Order:      1,
				Name:       "Manager review",
				Assignment: models.AssignmentRule{Kind: models.AssignmentKindUser, UserID: "manager-1"},
				SLAHours:   24,
				AllowedActions: []models.ActionType{
					models.ActionTypeApprove, models.ActionTypeReject,
					models.ActionTypeReassign, models.ActionTypeEscalate,
					models.ActionTypeRequestInformation, models.ActionTypeCancel,
				},
			},
			{
				ID:         "step-def-2",
				WorkflowID: "wf-risk",
				Order:      2,
				Name:       "CISO approval",
				Assignment: models.AssignmentRule{Kind: models.AssignmentKindRole, RoleID: "ciso"},
				SLAHours:   48,
				AllowedActions: []models.ActionType{
					models.ActionTypeApprove, models.ActionTypeReject, models.ActionTypeEscalate,
				},
			},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func newTestEngine(t *testing.T) (*Engine, *memory.Persistence, *stubDirectory) {
	t.Helper()

	p := memory.NewPersistence()
	dir := &stubDirectory{
		roles:    map[string][]string{"ciso": {"ciso-1"}},
		managers: map[string]string{"manager-1": "director-1"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := NewEngine(p, assignment.NewResolver(dir, logger), nil, logger)

	require.NoError(t, p.WorkflowRepository().Save(t.Context(), riskApprovalWorkflow()))

	return eng, p, dir
}

func createTestInstance(t *testing.T, eng *Engine) *models.WorkflowInstance {
	t.Helper()

	instance, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		WorkflowID:  "wf-risk",
		EntityType:  "risk",
		EntityID:    "risk-42",
		Priority:    models.PriorityHigh,
		InitiatedBy: "analyst-1",
	})
	require.NoError(t, err)

	return instance
}

func currentStep(t *testing.T, p *memory.Persistence, instanceID string) *models.WorkflowStepInstance {
	t.Helper()

	step, err := p.StepInstanceRepository().CurrentForInstance(t.Context(), instanceID)
	require.NoError(t, err)

	return step
}

func TestCreateInstance(t *testing.T) {
	eng, p, _ := newTestEngine(t)

	instance := createTestInstance(t, eng)

	assert.Equal(t, models.InstanceStatusInProgress, instance.Status)
	assert.Equal(t, 2, instance.StepCount)
	assert.Equal(t, 1, instance.CurrentStepOrder)
	require.NotNil(t, instance.CurrentAssigneeID)
	assert.Equal(t, "manager-1", *instance.CurrentAssigneeID)
	assert.Nil(t, instance.CandidateRoleID)
	require.NotNil(t, instance.DueDate)
	assert.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), *instance.DueDate, time.Minute)

	step := currentStep(t, p, instance.ID)
	assert.Equal(t, 1, step.StepOrder)
	assert.Equal(t, models.StepStatusInProgress, step.Status)
	require.NotNil(t, step.AssignedToID)
	assert.Equal(t, "manager-1", *step.AssignedToID)

	actions, err := p.ActionRepository().ListForInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionTypeComment, actions[0].ActionType)
	assert.Equal(t, models.SystemActorID, actions[0].PerformedByID)
	assert.True(t, actions[0].System)
}

func TestCreateInstanceDefinitionNotFound(t *testing.T) {
	eng, p, _ := newTestEngine(t)

	_, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		WorkflowID: "missing", EntityType: "risk", EntityID: "r1", InitiatedBy: "analyst-1",
	})
	assert.True(t, IsDefinitionNotFound(err))

	inactive := riskApprovalWorkflow()
	inactive.ID = "wf-inactive"
	inactive.Status = models.WorkflowStatusInactive
	require.NoError(t, p.WorkflowRepository().Save(t.Context(), inactive))

	_, err = eng.CreateInstance(t.Context(), CreateInstanceRequest{
		WorkflowID: "wf-inactive", EntityType: "risk", EntityID: "r1", InitiatedBy: "analyst-1",
	})
	assert.True(t, IsDefinitionNotFound(err))

	empty := riskApprovalWorkflow()
	empty.ID = "wf-empty"
	empty.Steps = nil
	require.NoError(t, p.WorkflowRepository().Save(t.Context(), empty))

	_, err = eng.CreateInstance(t.Context(), CreateInstanceRequest{
		WorkflowID: "wf-empty", EntityType: "risk", EntityID: "r1", InitiatedBy: "analyst-1",
	})
	assert.True(t, IsDefinitionNotFound(err))
}

func TestCreateInstanceValidatesRequest(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	_, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		WorkflowID: "wf-risk", EntityID: "r1", InitiatedBy: "analyst-1",
	})
	assert.True(t, IsValidation(err))
}

func TestCreateInstanceContextSchema(t *testing.T) {
	eng, p, _ := newTestEngine(t)

	workflow := riskApprovalWorkflow()
	workflow.ID = "wf-schema"
	workflow.ContextSchema = map[string]any{
		"type":     "object",
		"required": []any{"amount"},
		"properties": map[string]any{
			"amount": map[string]any{"type": "number"},
		},
	}
	require.NoError(t, p.WorkflowRepository().Save(t.Context(), workflow))

	_, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		WorkflowID: "wf-schema", EntityType: "risk", EntityID: "r1", InitiatedBy: "analyst-1",
	})
	assert.True(t, IsValidation(err))

	_, err = eng.CreateInstance(t.Context(), CreateInstanceRequest{
		WorkflowID: "wf-schema", EntityType: "risk", EntityID: "r1", InitiatedBy: "analyst-1",
		ContextData: map[string]any{"amount": 12500.0},
	})
	assert.NoError(t, err)
}

func TestCreateInstancePendingWhenUnresolvable(t *testing.T) {
	eng, p, _ := newTestEngine(t)

	workflow := riskApprovalWorkflow()
	workflow.ID = "wf-oncall"
	workflow.Steps[0].Assignment = models.AssignmentRule{Kind: models.AssignmentKindRole, RoleID: "oncall"}
	require.NoError(t, p.WorkflowRepository().Save(t.Context(), workflow))

	instance, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		WorkflowID: "wf-oncall", EntityType: "risk", EntityID: "r1", InitiatedBy: "analyst-1",
	})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusPending, instance.Status)
	assert.Nil(t, instance.CurrentAssigneeID)
	assert.Nil(t, instance.CandidateRoleID)

	// The first step instance exists so the sweeper can find and retry it.
	step := currentStep(t, p, instance.ID)
	assert.Equal(t, 1, step.StepOrder)
	assert.Nil(t, step.AssignedToID)
}

func TestApproveThroughCompletion(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	instance := createTestInstance(t, eng)

	step1 := currentStep(t, p, instance.ID)

	_, err := eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step1.ID,
		ActionType: models.ActionTypeApprove, PerformedBy: "manager-1",
	})
	require.NoError(t, err)

	updated, err := eng.GetInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusInProgress, updated.Status)
	assert.Equal(t, 2, updated.CurrentStepOrder)
	// Single-member role collapses to a direct assignment.
	require.NotNil(t, updated.CurrentAssigneeID)
	assert.Equal(t, "ciso-1", *updated.CurrentAssigneeID)
	require.NotNil(t, updated.DueDate)
	assert.WithinDuration(t, time.Now().UTC().Add(48*time.Hour), *updated.DueDate, time.Minute)

	step2 := currentStep(t, p, instance.ID)
	assert.Equal(t, 2, step2.StepOrder)

	_, err = eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step2.ID,
		ActionType: models.ActionTypeApprove, PerformedBy: "ciso-1",
	})
	require.NoError(t, err)

	detail, err := eng.GetInstanceDetail(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, detail.Instance.Status)
	assert.Nil(t, detail.Instance.CurrentAssigneeID)
	assert.Nil(t, detail.Instance.DueDate)

	require.Len(t, detail.Steps, 2)
	for _, step := range detail.Steps {
		assert.Equal(t, models.StepStatusCompleted, step.Status)
		assert.NotNil(t, step.CompletedAt)
	}

	// Start comment plus two approvals, oldest first.
	require.Len(t, detail.Actions, 3)
	assert.Equal(t, models.ActionTypeComment, detail.Actions[0].ActionType)
	assert.Equal(t, models.ActionTypeApprove, detail.Actions[1].ActionType)
	assert.Equal(t, models.ActionTypeApprove, detail.Actions[2].ActionType)
}

func TestRoleFanOut(t *testing.T) {
	eng, p, dir := newTestEngine(t)
	dir.setRole("ciso", "ciso-1", "ciso-2")

	instance := createTestInstance(t, eng)
	step1 := currentStep(t, p, instance.ID)

	_, err := eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step1.ID,
		ActionType: models.ActionTypeApprove, PerformedBy: "manager-1",
	})
	require.NoError(t, err)

	updated, err := eng.GetInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Nil(t, updated.CurrentAssigneeID)
	require.NotNil(t, updated.CandidateRoleID)
	assert.Equal(t, "ciso", *updated.CandidateRoleID)
}

func TestRejectIsTerminal(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	instance := createTestInstance(t, eng)
	step1 := currentStep(t, p, instance.ID)

	_, err := eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step1.ID,
		ActionType: models.ActionTypeReject, PerformedBy: "manager-1",
		Comment: "risk mitigation plan missing",
	})
	require.NoError(t, err)

	updated, err := eng.GetInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusRejected, updated.Status)

	rejected, err := p.StepInstanceRepository().GetByID(t.Context(), step1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusRejected, rejected.Status)
	assert.Equal(t, "risk mitigation plan missing", rejected.OutcomeReason)

	// No step instance for order 2 is ever created.
	steps, err := p.StepInstanceRepository().ListForInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 1)

	_, err = eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step1.ID,
		ActionType: models.ActionTypeApprove, PerformedBy: "manager-1",
	})
	assert.True(t, IsInvalidTransition(err))

	// Comments stay possible on terminal instances.
	_, err = eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step1.ID,
		ActionType: models.ActionTypeComment, PerformedBy: "analyst-1",
		Comment: "will resubmit with a plan",
	})
	assert.NoError(t, err)
}

func TestRejectRequiresComment(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	instance := createTestInstance(t, eng)
	step1 := currentStep(t, p, instance.ID)

	_, err := eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step1.ID,
		ActionType: models.ActionTypeReject, PerformedBy: "manager-1",
	})
	assert.True(t, IsValidation(err))

	// The failed call must leave no trace in the action log.
	actions, err := p.ActionRepository().ListForInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestReassign(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	instance := createTestInstance(t, eng)
	step1 := currentStep(t, p, instance.ID)

	_, err := eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step1.ID,
		ActionType: models.ActionTypeReassign, PerformedBy: "manager-1",
		TargetUserID: "manager-2",
	})
	require.NoError(t, err)

	updated, err := eng.GetInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.CurrentAssigneeID)
	assert.Equal(t, "manager-2", *updated.CurrentAssigneeID)
	assert.Equal(t, models.InstanceStatusInProgress, updated.Status)
	assert.Equal(t, 1, updated.CurrentStepOrder)
}

func TestEscalateExtendsDueDateAndCountsLevel(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	instance := createTestInstance(t, eng)
	step1 := currentStep(t, p, instance.ID)
	originalDue := *step1.DueDate

	_, err := eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step1.ID,
		ActionType: models.ActionTypeEscalate, PerformedBy: models.SystemActorID,
		TargetUserID: "director-1", Comment: "sla breached", System: true,
	})
	require.NoError(t, err)

	updated, err := eng.GetInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.EscalationLevel)
	require.NotNil(t, updated.CurrentAssigneeID)
	assert.Equal(t, "director-1", *updated.CurrentAssigneeID)
	require.NotNil(t, updated.DueDate)
	assert.True(t, updated.DueDate.Equal(originalDue.Add(24*time.Hour)))
}

func TestExpectedDueDateGuard(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	instance := createTestInstance(t, eng)
	step1 := currentStep(t, p, instance.ID)

	stale := step1.DueDate.Add(-time.Hour)

	_, err := eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step1.ID,
		ActionType: models.ActionTypeEscalate, PerformedBy: models.SystemActorID,
		TargetUserID: "director-1", Comment: "sla breached", System: true,
		ExpectedDueDate: &stale,
	})
	assert.True(t, IsInvalidTransition(err))
}

func TestRequestInformationHoldAndResume(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	instance := createTestInstance(t, eng)
	step1 := currentStep(t, p, instance.ID)

	_, err := eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step1.ID,
		ActionType: models.ActionTypeRequestInformation, PerformedBy: "manager-1",
		Comment: "need the vendor contract",
	})
	require.NoError(t, err)

	held, err := eng.GetInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Nil(t, held.DueDate)

	// A held step never shows up as overdue.
	overdue, err := p.StepInstanceRepository().FindOverdue(t.Context(), time.Now().UTC().Add(1000*time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, overdue)

	_, err = eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step1.ID,
		ActionType: models.ActionTypeComment, PerformedBy: "analyst-1",
		Comment: "contract attached",
	})
	require.NoError(t, err)

	resumed, err := eng.GetInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	require.NotNil(t, resumed.DueDate)
	assert.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), *resumed.DueDate, time.Minute)
}

func TestCancel(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	instance := createTestInstance(t, eng)
	step1 := currentStep(t, p, instance.ID)

	_, err := eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step1.ID,
		ActionType: models.ActionTypeCancel, PerformedBy: "analyst-1",
	})
	require.NoError(t, err)

	updated, err := eng.GetInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, updated.Status)

	cancelled, err := p.StepInstanceRepository().GetByID(t.Context(), step1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, cancelled.Status)
	assert.Equal(t, "cancelled", cancelled.OutcomeReason)
}

func TestActionNotAllowedAtStep(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	instance := createTestInstance(t, eng)

	// Advance to step 2, whose allowlist has no reassign.
	step1 := currentStep(t, p, instance.ID)
	_, err := eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step1.ID,
		ActionType: models.ActionTypeApprove, PerformedBy: "manager-1",
	})
	require.NoError(t, err)

	step2 := currentStep(t, p, instance.ID)

	_, err = eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step2.ID,
		ActionType: models.ActionTypeReassign, PerformedBy: "ciso-1",
		TargetUserID: "ciso-2",
	})
	assert.True(t, IsInvalidTransition(err))

	// System-performed actions bypass the allowlist.
	_, err = eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step2.ID,
		ActionType: models.ActionTypeReassign, PerformedBy: models.SystemActorID,
		TargetUserID: "ciso-2", System: true,
	})
	assert.NoError(t, err)
}

func TestStaleStepRejected(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	instance := createTestInstance(t, eng)
	step1 := currentStep(t, p, instance.ID)

	_, err := eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step1.ID,
		ActionType: models.ActionTypeApprove, PerformedBy: "manager-1",
	})
	require.NoError(t, err)

	// Acting again against the already-closed step fails.
	_, err = eng.ExecuteAction(t.Context(), ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step1.ID,
		ActionType: models.ActionTypeApprove, PerformedBy: "manager-2",
	})
	assert.True(t, IsInvalidTransition(err))
}

func TestConcurrentApproveSingleWinner(t *testing.T) {
	eng, p, _ := newTestEngine(t)
	instance := createTestInstance(t, eng)
	step1 := currentStep(t, p, instance.ID)

	const actors = 8

	errs := make([]error, actors)

	var wg sync.WaitGroup
	for i := range actors {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = eng.ExecuteAction(context.Background(), ExecuteActionRequest{
				InstanceID: instance.ID, StepInstanceID: step1.ID,
				ActionType: models.ActionTypeApprove, PerformedBy: "manager-1",
			})
		}()
	}
	wg.Wait()

	succeeded := 0

	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, IsInvalidTransition(err))
		}
	}
	assert.Equal(t, 1, succeeded)

	detail, err := eng.GetInstanceDetail(t.Context(), instance.ID)
	require.NoError(t, err)

	approvals := 0

	for _, action := range detail.Actions {
		if action.ActionType == models.ActionTypeApprove {
			approvals++
		}
	}
	assert.Equal(t, 1, approvals)
	assert.Equal(t, 2, detail.Instance.CurrentStepOrder)
}

func TestManagerAssignment(t *testing.T) {
	eng, p, _ := newTestEngine(t)

	workflow := riskApprovalWorkflow()
	workflow.ID = "wf-manager"
	workflow.Steps[0].Assignment = models.AssignmentRule{Kind: models.AssignmentKindManager}
	require.NoError(t, p.WorkflowRepository().Save(t.Context(), workflow))

	instance, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		WorkflowID: "wf-manager", EntityType: "risk", EntityID: "r1", InitiatedBy: "manager-1",
	})
	require.NoError(t, err)

	require.NotNil(t, instance.CurrentAssigneeID)
	assert.Equal(t, "director-1", *instance.CurrentAssigneeID)
}

func TestResolvePending(t *testing.T) {
	eng, p, dir := newTestEngine(t)

	workflow := riskApprovalWorkflow()
	workflow.ID = "wf-oncall"
	workflow.Steps[0].Assignment = models.AssignmentRule{Kind: models.AssignmentKindRole, RoleID: "oncall"}
	require.NoError(t, p.WorkflowRepository().Save(t.Context(), workflow))

	instance, err := eng.CreateInstance(t.Context(), CreateInstanceRequest{
		WorkflowID: "wf-oncall", EntityType: "risk", EntityID: "r1", InitiatedBy: "analyst-1",
	})
	require.NoError(t, err)
	require.Equal(t, models.InstanceStatusPending, instance.Status)

	resolved, err := eng.ResolvePending(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.False(t, resolved)

	dir.setRole("oncall", "oncall-1")

	resolved, err = eng.ResolvePending(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.True(t, resolved)

	updated, err := eng.GetInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusInProgress, updated.Status)
	require.NotNil(t, updated.CurrentAssigneeID)
	assert.Equal(t, "oncall-1", *updated.CurrentAssigneeID)
}
