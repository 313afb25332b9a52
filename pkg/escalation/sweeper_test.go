package escalation

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
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/engine"
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

type fixture struct {
	engine      *engine.Engine
	persistence *memory.Persistence
	directory   *stubDirectory
	sweeper     *Sweeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	p := memory.NewPersistence()
	dir := &stubDirectory{
		roles:    map[string][]string{},
		managers: map[string]string{"manager-1": "director-1"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.NewEngine(p, assignment.NewResolver(dir, logger), nil, logger)

	sweeper, err := NewSweeper(eng, p, dir, nil, logger, Config{})
	require.NoError(t, err)

	workflow := &models.Workflow{
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
					models.ActionTypeApprove, models.ActionTypeReject, models.ActionTypeEscalate,
				},
			},
		},
	}
	require.NoError(t, p.WorkflowRepository().Save(t.Context(), workflow))

	return &fixture{engine: eng, persistence: p, directory: dir, sweeper: sweeper}
}

func (f *fixture) createInstance(t *testing.T, workflowID string) *models.WorkflowInstance {
	t.Helper()

	instance, err := f.engine.CreateInstance(t.Context(), engine.CreateInstanceRequest{
		WorkflowID:  workflowID,
		EntityType:  "risk",
		EntityID:    "risk-42",
		InitiatedBy: "analyst-1",
	})
	require.NoError(t, err)

	return instance
}

// backdate rewrites the current step's due date into the past so the next
// sweep sees it as overdue.
func (f *fixture) backdate(t *testing.T, instanceID string, by time.Duration) {
	t.Helper()

	step, err := f.persistence.StepInstanceRepository().CurrentForInstance(t.Context(), instanceID)
	require.NoError(t, err)

	overdue := time.Now().UTC().Add(-by)
	step.DueDate = &overdue
	require.NoError(t, f.persistence.StepInstanceRepository().UpdateIfStatus(t.Context(), step, models.StepStatusInProgress))
}

func TestSweepEscalatesOverdueStep(t *testing.T) {
	f := newFixture(t)
	instance := f.createInstance(t, "wf-risk")
	f.backdate(t, instance.ID, time.Hour)

	stats := f.sweeper.Sweep(t.Context())
	assert.Equal(t, 1, stats.Overdue)
	assert.Equal(t, 1, stats.Escalated)
	assert.Zero(t, stats.Errors)

	updated, err := f.engine.GetInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.EscalationLevel)
	require.NotNil(t, updated.CurrentAssigneeID)
	assert.Equal(t, "director-1", *updated.CurrentAssigneeID)
	// The escalation pushed the due date forward.
	require.NotNil(t, updated.DueDate)
	assert.True(t, updated.DueDate.After(time.Now().UTC()))

	actions, err := f.persistence.ActionRepository().ListForInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	last := actions[len(actions)-1]
	assert.Equal(t, models.ActionTypeEscalate, last.ActionType)
	assert.Equal(t, models.SystemActorID, last.PerformedByID)
	assert.True(t, last.System)
}

func TestSecondSweepIsNoOp(t *testing.T) {
	f := newFixture(t)
	instance := f.createInstance(t, "wf-risk")
	f.backdate(t, instance.ID, time.Hour)

	first := f.sweeper.Sweep(t.Context())
	require.Equal(t, 1, first.Escalated)

	second := f.sweeper.Sweep(t.Context())
	assert.Zero(t, second.Overdue)
	assert.Zero(t, second.Escalated)

	updated, err := f.engine.GetInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.EscalationLevel)
}

func TestSweepSkipsAssigneeWithoutManager(t *testing.T) {
	f := newFixture(t)
	instance := f.createInstance(t, "wf-risk")

	// Reassign to someone the directory has no manager for.
	step, err := f.persistence.StepInstanceRepository().CurrentForInstance(t.Context(), instance.ID)
	require.NoError(t, err)

	_, err = f.engine.ExecuteAction(t.Context(), engine.ExecuteActionRequest{
		InstanceID: instance.ID, StepInstanceID: step.ID,
		ActionType: models.ActionTypeReassign, PerformedBy: models.SystemActorID,
		TargetUserID: "orphan-1", System: true,
	})
	require.NoError(t, err)

	f.backdate(t, instance.ID, time.Hour)

	stats := f.sweeper.Sweep(t.Context())
	assert.Equal(t, 1, stats.Overdue)
	assert.Zero(t, stats.Escalated)
	assert.Equal(t, 1, stats.Skipped)

	updated, err := f.engine.GetInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Zero(t, updated.EscalationLevel)
}

func TestSweepResolvesPendingInstances(t *testing.T) {
	f := newFixture(t)

	workflow := &models.Workflow{
		ID:           "wf-oncall",
		Name:         "Oncall approval",
		WorkflowType: models.WorkflowTypeCustom,
		Status:       models.WorkflowStatusActive,
		Steps: []*models.WorkflowStep{
			{
				ID:             "step-def-1",
				WorkflowID:     "wf-oncall",
				Order:          1,
				Name:           "Oncall review",
				Assignment:     models.AssignmentRule{Kind: models.AssignmentKindRole, RoleID: "oncall"},
				SLAHours:       24,
				AllowedActions: []models.ActionType{models.ActionTypeApprove, models.ActionTypeReject},
			},
		},
	}
	require.NoError(t, f.persistence.WorkflowRepository().Save(t.Context(), workflow))

	instance := f.createInstance(t, "wf-oncall")
	require.Equal(t, models.InstanceStatusPending, instance.Status)

	stats := f.sweeper.Sweep(t.Context())
	assert.Zero(t, stats.Assigned)

	f.directory.setRole("oncall", "oncall-1")

	stats = f.sweeper.Sweep(t.Context())
	assert.Equal(t, 1, stats.Assigned)

	updated, err := f.engine.GetInstance(t.Context(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusInProgress, updated.Status)
}

func TestNewSweeperRejectsInvalidSchedule(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewSweeper(f.engine, f.persistence, f.directory, nil, logger, Config{Schedule: "not a cron"})
	assert.Error(t, err)
}
