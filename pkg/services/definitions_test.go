package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence/memory"
)

func validWorkflow() *models.Workflow {
	return &models.Workflow{
		Name:         "Task approval",
		WorkflowType: models.WorkflowTypeTaskApproval,
		Status:       models.WorkflowStatusActive,
		Steps: []*models.WorkflowStep{
			{
				Order:          1,
				Name:           "Review",
				Assignment:     models.AssignmentRule{Kind: models.AssignmentKindRole, RoleID: "reviewers"},
				SLAHours:       24,
				AllowedActions: []models.ActionType{models.ActionTypeApprove, models.ActionTypeReject},
			},
			{
				Order:          2,
				Name:           "Sign-off",
				Assignment:     models.AssignmentRule{Kind: models.AssignmentKindManager},
				SLAHours:       48,
				AllowedActions: []models.ActionType{models.ActionTypeApprove, models.ActionTypeReject},
			},
		},
	}
}

func TestCreateWorkflow(t *testing.T) {
	service := NewDefinition(memory.NewPersistence())

	created, err := service.CreateWorkflow(t.Context(), validWorkflow())
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	for _, step := range created.Steps {
		assert.NotEmpty(t, step.ID)
		assert.Equal(t, created.ID, step.WorkflowID)
	}

	loaded, err := service.GetWorkflow(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, loaded.Name)
	assert.Len(t, loaded.Steps, 2)
}

func TestCreateWorkflowDefaultsToInactive(t *testing.T) {
	service := NewDefinition(memory.NewPersistence())

	workflow := validWorkflow()
	workflow.Status = ""

	created, err := service.CreateWorkflow(t.Context(), workflow)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusInactive, created.Status)
}

func TestCreateWorkflowValidation(t *testing.T) {
	service := NewDefinition(memory.NewPersistence())

	tests := []struct {
		name   string
		mutate func(*models.Workflow)
	}{
		{"missing name", func(w *models.Workflow) { w.Name = "" }},
		{"unknown type", func(w *models.Workflow) { w.WorkflowType = "payroll" }},
		{"unknown status", func(w *models.Workflow) { w.Status = "archived" }},
		{"active without steps", func(w *models.Workflow) { w.Steps = nil }},
		{"order gap", func(w *models.Workflow) { w.Steps[1].Order = 3 }},
		{"order not starting at 1", func(w *models.Workflow) { w.Steps[0].Order = 0 }},
		{"missing step name", func(w *models.Workflow) { w.Steps[0].Name = "" }},
		{"negative sla", func(w *models.Workflow) { w.Steps[0].SLAHours = -1 }},
		{"role rule without role", func(w *models.Workflow) { w.Steps[0].Assignment.RoleID = "" }},
		{"unknown allowed action", func(w *models.Workflow) {
			w.Steps[0].AllowedActions = []models.ActionType{"defer"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workflow := validWorkflow()
			tt.mutate(workflow)

			_, err := service.CreateWorkflow(t.Context(), workflow)
			assert.True(t, IsValidationError(err), "expected validation error, got %v", err)
		})
	}
}

func TestInactiveWorkflowMayHaveNoSteps(t *testing.T) {
	service := NewDefinition(memory.NewPersistence())

	workflow := validWorkflow()
	workflow.Status = models.WorkflowStatusInactive
	workflow.Steps = nil

	_, err := service.CreateWorkflow(t.Context(), workflow)
	assert.NoError(t, err)
}

func TestUpdateWorkflow(t *testing.T) {
	service := NewDefinition(memory.NewPersistence())

	created, err := service.CreateWorkflow(t.Context(), validWorkflow())
	require.NoError(t, err)

	created.Name = "Task approval v2"

	updated, err := service.UpdateWorkflow(t.Context(), created)
	require.NoError(t, err)
	assert.Equal(t, "Task approval v2", updated.Name)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt) || updated.UpdatedAt.Equal(updated.CreatedAt))
}

func TestUpdateMissingWorkflow(t *testing.T) {
	service := NewDefinition(memory.NewPersistence())

	workflow := validWorkflow()
	workflow.ID = "missing"

	_, err := service.UpdateWorkflow(t.Context(), workflow)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestDeleteWorkflow(t *testing.T) {
	service := NewDefinition(memory.NewPersistence())

	created, err := service.CreateWorkflow(t.Context(), validWorkflow())
	require.NoError(t, err)

	require.NoError(t, service.DeleteWorkflow(t.Context(), created.ID))

	// Deleted templates disappear from listings and refuse updates.
	listed, err := service.ListWorkflows(t.Context(), ListWorkflowsRequest{})
	require.NoError(t, err)
	assert.Empty(t, listed)

	_, err = service.UpdateWorkflow(t.Context(), created)
	assert.True(t, IsConflictError(err))
}

func TestListWorkflowsFilters(t *testing.T) {
	service := NewDefinition(memory.NewPersistence())

	first, err := service.CreateWorkflow(t.Context(), validWorkflow())
	require.NoError(t, err)

	second := validWorkflow()
	second.Name = "Risk acceptance"
	second.WorkflowType = models.WorkflowTypeRiskApproval
	second.Status = models.WorkflowStatusInactive

	_, err = service.CreateWorkflow(t.Context(), second)
	require.NoError(t, err)

	active := models.WorkflowStatusActive

	listed, err := service.ListWorkflows(t.Context(), ListWorkflowsRequest{Status: &active})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, first.ID, listed[0].ID)

	riskType := models.WorkflowTypeRiskApproval

	listed, err = service.ListWorkflows(t.Context(), ListWorkflowsRequest{WorkflowType: &riskType})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "Risk acceptance", listed[0].Name)
}
