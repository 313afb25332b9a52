package memory

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
)

func newTestInstance(status models.InstanceStatus) *models.WorkflowInstance {
	return &models.WorkflowInstance{
		ID:          uuid.New().String(),
		WorkflowID:  "wf-1",
		StepCount:   2,
		EntityType:  "risk",
		EntityID:    "risk-42",
		Status:      status,
		Priority:    models.PriorityMedium,
		InitiatedBy: "user-1",
		InitiatedAt: time.Now().UTC(),
	}
}

func TestWorkflowRepository_SaveAndGet(t *testing.T) {
	p := NewPersistence()

	workflow := &models.Workflow{
		ID:           "wf-1",
		Name:         "Risk Approval",
		WorkflowType: models.WorkflowTypeRiskApproval,
		Status:       models.WorkflowStatusActive,
		Steps: []*models.WorkflowStep{
			{ID: "s-1", WorkflowID: "wf-1", Order: 1, Name: "Analyst Review"},
		},
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, p.WorkflowRepository().Save(t.Context(), workflow))

	fetched, err := p.WorkflowRepository().GetByID(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Risk Approval", fetched.Name)
	require.Len(t, fetched.Steps, 1)

	// Mutating the returned copy must not leak into the store.
	fetched.Steps[0].Name = "changed"
	again, err := p.WorkflowRepository().GetByID(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Analyst Review", again.Steps[0].Name)
}

func TestWorkflowRepository_Delete(t *testing.T) {
	p := NewPersistence()

	workflow := &models.Workflow{ID: "wf-1", Name: "Risk Approval", Status: models.WorkflowStatusActive}
	require.NoError(t, p.WorkflowRepository().Save(t.Context(), workflow))
	require.NoError(t, p.WorkflowRepository().Delete(t.Context(), "wf-1"))

	// The row survives for in-flight instances, but is no longer active
	// and no longer listed.
	fetched, err := p.WorkflowRepository().GetByID(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.NotNil(t, fetched.DeletedAt)
	assert.False(t, fetched.IsActive())

	all, err := p.WorkflowRepository().GetAll(t.Context())
	require.NoError(t, err)
	assert.Empty(t, all)

	// Deleting again is not an error.
	assert.NoError(t, p.WorkflowRepository().Delete(t.Context(), "wf-1"))
}

func TestInstanceRepository_CreateConflict(t *testing.T) {
	p := NewPersistence()

	instance := newTestInstance(models.InstanceStatusInProgress)
	require.NoError(t, p.InstanceRepository().Create(t.Context(), instance))

	err := p.InstanceRepository().Create(t.Context(), instance)
	assert.ErrorIs(t, err, persistence.ErrInstanceAlreadyExists)
}

func TestInstanceRepository_ListFilters(t *testing.T) {
	p := NewPersistence()

	inProgress := newTestInstance(models.InstanceStatusInProgress)
	completed := newTestInstance(models.InstanceStatusCompleted)
	completed.EntityType = "task"

	require.NoError(t, p.InstanceRepository().Create(t.Context(), inProgress))
	require.NoError(t, p.InstanceRepository().Create(t.Context(), completed))

	status := models.InstanceStatusInProgress
	listed, err := p.InstanceRepository().List(t.Context(), persistence.ListInstancesOptions{Status: &status})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, inProgress.ID, listed[0].ID)

	listed, err = p.InstanceRepository().List(t.Context(), persistence.ListInstancesOptions{EntityType: "task"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, completed.ID, listed[0].ID)

	listed, err = p.InstanceRepository().List(t.Context(), persistence.ListInstancesOptions{Limit: 1, Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestStepInstanceRepository_UpdateIfStatus(t *testing.T) {
	p := NewPersistence()

	step := &models.WorkflowStepInstance{
		ID:                 uuid.New().String(),
		WorkflowInstanceID: "inst-1",
		StepOrder:          1,
		Status:             models.StepStatusInProgress,
		StartedAt:          time.Now().UTC(),
	}
	require.NoError(t, p.StepInstanceRepository().Create(t.Context(), step))

	// First commit against the observed status wins.
	step.Status = models.StepStatusCompleted
	require.NoError(t, p.StepInstanceRepository().UpdateIfStatus(t.Context(), step, models.StepStatusInProgress))

	// Second commit against the stale observation loses.
	step.Status = models.StepStatusRejected
	err := p.StepInstanceRepository().UpdateIfStatus(t.Context(), step, models.StepStatusInProgress)
	assert.ErrorIs(t, err, persistence.ErrStaleStep)

	stored, err := p.StepInstanceRepository().GetByID(t.Context(), step.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, stored.Status)
}

func TestStepInstanceRepository_CurrentForInstance(t *testing.T) {
	p := NewPersistence()

	done := &models.WorkflowStepInstance{
		ID:                 "step-1",
		WorkflowInstanceID: "inst-1",
		StepOrder:          1,
		Status:             models.StepStatusCompleted,
	}
	current := &models.WorkflowStepInstance{
		ID:                 "step-2",
		WorkflowInstanceID: "inst-1",
		StepOrder:          2,
		Status:             models.StepStatusInProgress,
	}

	require.NoError(t, p.StepInstanceRepository().Create(t.Context(), done))
	require.NoError(t, p.StepInstanceRepository().Create(t.Context(), current))

	found, err := p.StepInstanceRepository().CurrentForInstance(t.Context(), "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "step-2", found.ID)

	_, err = p.StepInstanceRepository().CurrentForInstance(t.Context(), "inst-2")
	assert.ErrorIs(t, err, persistence.ErrStepInstanceNotFound)
}

func TestStepInstanceRepository_FindOverdue(t *testing.T) {
	p := NewPersistence()
	now := time.Now().UTC()

	older := now.Add(-2 * time.Hour)
	newer := now.Add(-1 * time.Hour)
	future := now.Add(1 * time.Hour)

	for i, due := range []time.Time{newer, older, future} {
		step := &models.WorkflowStepInstance{
			ID:                 uuid.New().String(),
			WorkflowInstanceID: "inst-1",
			StepOrder:          i + 1,
			Status:             models.StepStatusInProgress,
			DueDate:            &due,
		}
		require.NoError(t, p.StepInstanceRepository().Create(t.Context(), step))
	}

	overdue, err := p.StepInstanceRepository().FindOverdue(t.Context(), now, 0)
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	assert.True(t, overdue[0].DueDate.Before(*overdue[1].DueDate), "oldest due date first")

	limited, err := p.StepInstanceRepository().FindOverdue(t.Context(), now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestActionRepository_AppendOnly(t *testing.T) {
	p := NewPersistence()

	for i := range 3 {
		action := &models.WorkflowAction{
			ID:                 uuid.New().String(),
			WorkflowInstanceID: "inst-1",
			StepInstanceID:     "step-1",
			ActionType:         models.ActionTypeComment,
			PerformedByID:      "user-1",
			PerformedAt:        time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, p.ActionRepository().Append(t.Context(), action))
	}

	actions, err := p.ActionRepository().ListForInstance(t.Context(), "inst-1")
	require.NoError(t, err)
	assert.Len(t, actions, 3)

	other, err := p.ActionRepository().ListForInstance(t.Context(), "inst-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}
