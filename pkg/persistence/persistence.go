// Package persistence provides the data storage abstraction layer for
// workflow templates, running instances, step instances and the action log.
package persistence

import (
	"context"
	"time"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
)

// Persistence is the single shared mutable resource of the engine. The
// engine holds no in-memory state across calls; every guarantee about
// concurrent actors reduces to the optimistic commit contract on
// StepInstanceRepository.UpdateIfStatus.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	InstanceRepository() InstanceRepository
	StepInstanceRepository() StepInstanceRepository
	ActionRepository() ActionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow templates.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	// Delete soft deletes; templates referenced by instances are never
	// physically removed.
	Delete(ctx context.Context, id string) error
}

// ListInstancesOptions filters instance listings. Zero values mean
// "match everything". Listings are snapshot reads and never block writers.
type ListInstancesOptions struct {
	WorkflowID string
	EntityType string
	EntityID   string
	AssigneeID string
	Status     *models.InstanceStatus
	Priority   *models.Priority

	Limit  int
	Offset int
}

// InstanceRepository stores workflow instances.
type InstanceRepository interface {
	Create(ctx context.Context, instance *models.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)
	Update(ctx context.Context, instance *models.WorkflowInstance) error
	List(ctx context.Context, opts ListInstancesOptions) ([]*models.WorkflowInstance, error)
}

// StepInstanceRepository stores runtime step instances.
type StepInstanceRepository interface {
	Create(ctx context.Context, step *models.WorkflowStepInstance) error
	GetByID(ctx context.Context, id string) (*models.WorkflowStepInstance, error)
	// CurrentForInstance returns the unique in_progress step instance of
	// the given instance, or ErrStepInstanceNotFound.
	CurrentForInstance(ctx context.Context, instanceID string) (*models.WorkflowStepInstance, error)
	ListForInstance(ctx context.Context, instanceID string) ([]*models.WorkflowStepInstance, error)
	// UpdateIfStatus commits the step only if the stored row's status still
	// equals expected at the moment of commit; it fails with ErrStaleStep
	// otherwise. This is the check-then-commit primitive that makes the
	// loser of a race against the same step observable.
	UpdateIfStatus(ctx context.Context, step *models.WorkflowStepInstance, expected models.StepStatus) error
	// FindOverdue returns in_progress step instances whose due_date has
	// passed, oldest first. A limit of 0 means no limit.
	FindOverdue(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowStepInstance, error)
}

// ActionRepository stores the append-only action log. Implementations
// must not expose any mutation beyond Append.
type ActionRepository interface {
	Append(ctx context.Context, action *models.WorkflowAction) error
	ListForInstance(ctx context.Context, instanceID string) ([]*models.WorkflowAction, error)
}
