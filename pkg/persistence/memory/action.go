package memory

import (
	"context"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
)

// ActionRepository stores the append-only action log in memory. There is
// deliberately no update or delete path.
type ActionRepository struct {
	p *Persistence
}

func (r *ActionRepository) Append(_ context.Context, action *models.WorkflowAction) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	record := *action
	r.p.actions = append(r.p.actions, &record)

	return nil
}

// ListForInstance returns the actions of an instance in append order.
func (r *ActionRepository) ListForInstance(_ context.Context, instanceID string) ([]*models.WorkflowAction, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	actions := make([]*models.WorkflowAction, 0)

	for _, action := range r.p.actions {
		if action.WorkflowInstanceID == instanceID {
			record := *action
			actions = append(actions, &record)
		}
	}

	return actions, nil
}
