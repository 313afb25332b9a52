package memory

import (
	"context"
	"sort"
	"time"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
)

// WorkflowRepository stores workflow templates in memory.
type WorkflowRepository struct {
	p *Persistence
}

// GetAll returns all non-deleted workflow templates, newest first.
func (r *WorkflowRepository) GetAll(_ context.Context) ([]*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(r.p.workflows))

	for _, workflow := range r.p.workflows {
		if workflow.DeletedAt != nil {
			continue
		}

		workflows = append(workflows, cloneWorkflow(workflow))
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

func (r *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	// Soft-deleted templates are still returned: in-flight instances keep
	// resolving their steps from them. Callers check DeletedAt/IsActive.
	workflow, ok := r.p.workflows[id]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	return cloneWorkflow(workflow), nil
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	r.p.workflows[workflow.ID] = cloneWorkflow(workflow)

	return nil
}

// Delete soft deletes a workflow template. Deleting a missing or already
// deleted workflow is not an error.
func (r *WorkflowRepository) Delete(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	workflow, ok := r.p.workflows[id]
	if !ok || workflow.DeletedAt != nil {
		return nil
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now

	return nil
}
