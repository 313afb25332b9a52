package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceStatus_IsTerminal(t *testing.T) {
	terminal := []InstanceStatus{InstanceStatusCompleted, InstanceStatusRejected, InstanceStatusCancelled}
	for _, status := range terminal {
		assert.True(t, status.IsTerminal(), "expected %s to be terminal", status)
	}

	open := []InstanceStatus{InstanceStatusPending, InstanceStatusInProgress}
	for _, status := range open {
		assert.False(t, status.IsTerminal(), "expected %s to be open", status)
	}
}

func TestActionType_RequiresComment(t *testing.T) {
	assert.True(t, ActionTypeReject.RequiresComment())
	assert.True(t, ActionTypeEscalate.RequiresComment())
	assert.True(t, ActionTypeRequestInformation.RequiresComment())
	assert.False(t, ActionTypeApprove.RequiresComment())
	assert.False(t, ActionTypeComment.RequiresComment())
}

func TestActionType_RequiresTarget(t *testing.T) {
	assert.True(t, ActionTypeReassign.RequiresTarget())
	assert.True(t, ActionTypeEscalate.RequiresTarget())
	assert.False(t, ActionTypeApprove.RequiresTarget())
	assert.False(t, ActionTypeCancel.RequiresTarget())
}

func TestAssignmentRule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rule    AssignmentRule
		wantErr bool
	}{
		{"fixed user", AssignmentRule{Kind: AssignmentKindUser, UserID: "u-1"}, false},
		{"fixed user missing id", AssignmentRule{Kind: AssignmentKindUser}, true},
		{"role", AssignmentRule{Kind: AssignmentKindRole, RoleID: "r-1"}, false},
		{"role missing id", AssignmentRule{Kind: AssignmentKindRole}, true},
		{"manager", AssignmentRule{Kind: AssignmentKindManager}, false},
		{"dynamic", AssignmentRule{Kind: AssignmentKindDynamic, Tag: "risk-owner"}, false},
		{"dynamic missing tag", AssignmentRule{Kind: AssignmentKindDynamic}, true},
		{"unknown kind", AssignmentRule{Kind: "nope"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAssignmentRule)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWorkflowStep_AllowsAction(t *testing.T) {
	step := &WorkflowStep{
		Order:          1,
		Name:           "Analyst Review",
		AllowedActions: []ActionType{ActionTypeApprove, ActionTypeReject},
	}

	assert.True(t, step.AllowsAction(ActionTypeApprove))
	assert.True(t, step.AllowsAction(ActionTypeReject))
	assert.False(t, step.AllowsAction(ActionTypeCancel))

	// Comments are always allowed regardless of the allowlist.
	assert.True(t, step.AllowsAction(ActionTypeComment))
}

func TestWorkflow_StepByOrder(t *testing.T) {
	workflow := &Workflow{
		Steps: []*WorkflowStep{
			{Order: 1, Name: "Analyst Review"},
			{Order: 2, Name: "Manager Approval"},
		},
	}

	step := workflow.StepByOrder(2)
	require.NotNil(t, step)
	assert.Equal(t, "Manager Approval", step.Name)

	assert.Nil(t, workflow.StepByOrder(3))
}

func TestWorkflowStepInstance_Overdue(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	overdue := &WorkflowStepInstance{Status: StepStatusInProgress, DueDate: &past}
	assert.True(t, overdue.Overdue(now))

	notDue := &WorkflowStepInstance{Status: StepStatusInProgress, DueDate: &future}
	assert.False(t, notDue.Overdue(now))

	held := &WorkflowStepInstance{Status: StepStatusInProgress}
	assert.False(t, held.Overdue(now), "no due date means no SLA breach")

	closed := &WorkflowStepInstance{Status: StepStatusCompleted, DueDate: &past}
	assert.False(t, closed.Overdue(now))
}
