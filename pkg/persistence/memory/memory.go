// Package memory provides an in-memory persistence implementation for
// tests and single-process development mode. It honors the same optimistic
// commit contract as the SQL implementation.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
)

// Persistence implements persistence.Persistence backed by process memory.
// All repositories share one mutex; reads return deep copies so callers
// never alias stored state.
type Persistence struct {
	mu sync.RWMutex

	workflows map[string]*models.Workflow
	instances map[string]*models.WorkflowInstance
	steps     map[string]*models.WorkflowStepInstance
	actions   []*models.WorkflowAction

	workflowRepo *WorkflowRepository
	instanceRepo *InstanceRepository
	stepRepo     *StepInstanceRepository
	actionRepo   *ActionRepository
}

// NewPersistence creates an empty in-memory persistence layer.
func NewPersistence() *Persistence {
	p := &Persistence{
		workflows: make(map[string]*models.Workflow),
		instances: make(map[string]*models.WorkflowInstance),
		steps:     make(map[string]*models.WorkflowStepInstance),
	}
	p.workflowRepo = &WorkflowRepository{p: p}
	p.instanceRepo = &InstanceRepository{p: p}
	p.stepRepo = &StepInstanceRepository{p: p}
	p.actionRepo = &ActionRepository{p: p}

	return p
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) InstanceRepository() persistence.InstanceRepository {
	return p.instanceRepo
}

func (p *Persistence) StepInstanceRepository() persistence.StepInstanceRepository {
	return p.stepRepo
}

func (p *Persistence) ActionRepository() persistence.ActionRepository {
	return p.actionRepo
}

// HealthCheck always succeeds for memory persistence.
func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

// Close discards nothing; memory persistence has no resources to release.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func cloneWorkflow(w *models.Workflow) *models.Workflow {
	if w == nil {
		return nil
	}

	clone := *w
	clone.ContextSchema = maps.Clone(w.ContextSchema)
	clone.Steps = make([]*models.WorkflowStep, len(w.Steps))

	for i, step := range w.Steps {
		stepCopy := *step
		stepCopy.AllowedActions = append([]models.ActionType(nil), step.AllowedActions...)
		clone.Steps[i] = &stepCopy
	}

	return &clone
}

func cloneInstance(i *models.WorkflowInstance) *models.WorkflowInstance {
	if i == nil {
		return nil
	}

	clone := *i
	clone.ContextData = maps.Clone(i.ContextData)
	clone.CustomFields = maps.Clone(i.CustomFields)
	clone.CurrentAssigneeID = cloneString(i.CurrentAssigneeID)
	clone.CandidateRoleID = cloneString(i.CandidateRoleID)
	clone.DueDate = cloneTime(i.DueDate)

	return &clone
}

func cloneStep(s *models.WorkflowStepInstance) *models.WorkflowStepInstance {
	if s == nil {
		return nil
	}

	clone := *s
	clone.AssignedToID = cloneString(s.AssignedToID)
	clone.CompletedAt = cloneTime(s.CompletedAt)
	clone.DueDate = cloneTime(s.DueDate)

	return &clone
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}

	v := *s

	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := *t

	return &v
}
