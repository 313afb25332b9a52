package memory

import (
	"context"
	"sort"
	"time"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
)

// StepInstanceRepository stores runtime step instances in memory.
type StepInstanceRepository struct {
	p *Persistence
}

func (r *StepInstanceRepository) Create(_ context.Context, step *models.WorkflowStepInstance) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.steps[step.ID] = cloneStep(step)

	return nil
}

func (r *StepInstanceRepository) GetByID(_ context.Context, id string) (*models.WorkflowStepInstance, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	step, ok := r.p.steps[id]
	if !ok {
		return nil, persistence.ErrStepInstanceNotFound
	}

	return cloneStep(step), nil
}

// CurrentForInstance returns the unique in_progress step instance of the
// given instance.
func (r *StepInstanceRepository) CurrentForInstance(_ context.Context, instanceID string) (*models.WorkflowStepInstance, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	for _, step := range r.p.steps {
		if step.WorkflowInstanceID == instanceID && step.Status == models.StepStatusInProgress {
			return cloneStep(step), nil
		}
	}

	return nil, persistence.ErrStepInstanceNotFound
}

func (r *StepInstanceRepository) ListForInstance(_ context.Context, instanceID string) ([]*models.WorkflowStepInstance, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	steps := make([]*models.WorkflowStepInstance, 0)

	for _, step := range r.p.steps {
		if step.WorkflowInstanceID == instanceID {
			steps = append(steps, cloneStep(step))
		}
	}

	sort.Slice(steps, func(i, j int) bool {
		return steps[i].StepOrder < steps[j].StepOrder
	})

	return steps, nil
}

// UpdateIfStatus commits the step only if the stored row still carries the
// expected status. The status check and the write happen under one lock,
// which is the memory equivalent of UPDATE ... WHERE status = $expected.
func (r *StepInstanceRepository) UpdateIfStatus(_ context.Context, step *models.WorkflowStepInstance, expected models.StepStatus) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored, ok := r.p.steps[step.ID]
	if !ok {
		return persistence.ErrStepInstanceNotFound
	}

	if stored.Status != expected {
		return &persistence.StepError{
			Op:             "UpdateIfStatus",
			InstanceID:     step.WorkflowInstanceID,
			StepInstanceID: step.ID,
			Err:            persistence.ErrStaleStep,
		}
	}

	r.p.steps[step.ID] = cloneStep(step)

	return nil
}

// FindOverdue returns in_progress step instances past their due date,
// oldest due date first.
func (r *StepInstanceRepository) FindOverdue(_ context.Context, now time.Time, limit int) ([]*models.WorkflowStepInstance, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	overdue := make([]*models.WorkflowStepInstance, 0)

	for _, step := range r.p.steps {
		if step.Overdue(now) {
			overdue = append(overdue, cloneStep(step))
		}
	}

	sort.Slice(overdue, func(i, j int) bool {
		return overdue[i].DueDate.Before(*overdue[j].DueDate)
	})

	if limit > 0 && len(overdue) > limit {
		overdue = overdue[:limit]
	}

	return overdue, nil
}
