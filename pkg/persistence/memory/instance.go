package memory

import (
	"context"
	"sort"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
)

// InstanceRepository stores workflow instances in memory.
type InstanceRepository struct {
	p *Persistence
}

func (r *InstanceRepository) Create(_ context.Context, instance *models.WorkflowInstance) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, exists := r.p.instances[instance.ID]; exists {
		return persistence.NewInstanceError("Create", instance.ID, persistence.ErrInstanceAlreadyExists)
	}

	r.p.instances[instance.ID] = cloneInstance(instance)

	return nil
}

func (r *InstanceRepository) GetByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	instance, ok := r.p.instances[id]
	if !ok {
		return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
	}

	return cloneInstance(instance), nil
}

func (r *InstanceRepository) Update(_ context.Context, instance *models.WorkflowInstance) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.instances[instance.ID]; !ok {
		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrInstanceNotFound)
	}

	r.p.instances[instance.ID] = cloneInstance(instance)

	return nil
}

// List returns instances matching the options, newest first.
func (r *InstanceRepository) List(_ context.Context, opts persistence.ListInstancesOptions) ([]*models.WorkflowInstance, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	matched := make([]*models.WorkflowInstance, 0)

	for _, instance := range r.p.instances {
		if !matches(instance, opts) {
			continue
		}

		matched = append(matched, cloneInstance(instance))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].InitiatedAt.After(matched[j].InitiatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return []*models.WorkflowInstance{}, nil
		}

		matched = matched[opts.Offset:]
	}

	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	return matched, nil
}

func matches(instance *models.WorkflowInstance, opts persistence.ListInstancesOptions) bool {
	if opts.WorkflowID != "" && instance.WorkflowID != opts.WorkflowID {
		return false
	}

	if opts.EntityType != "" && instance.EntityType != opts.EntityType {
		return false
	}

	if opts.EntityID != "" && instance.EntityID != opts.EntityID {
		return false
	}

	if opts.AssigneeID != "" {
		if instance.CurrentAssigneeID == nil || *instance.CurrentAssigneeID != opts.AssigneeID {
			return false
		}
	}

	if opts.Status != nil && instance.Status != *opts.Status {
		return false
	}

	if opts.Priority != nil && instance.Priority != *opts.Priority {
		return false
	}

	return true
}
