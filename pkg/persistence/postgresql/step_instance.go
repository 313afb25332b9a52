package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
)

// StepInstanceRepository handles runtime step instance database operations.
type StepInstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const stepColumns = `
	id
  , workflow_instance_id
  , step_order
  , status
  , assigned_to_id
  , started_at
  , completed_at
  , due_date
  , outcome_reason
`

func (r *StepInstanceRepository) Create(ctx context.Context, step *models.WorkflowStepInstance) error {
	query := `
		INSERT INTO workflow_step_instances (id, workflow_instance_id, step_order, status, assigned_to_id, started_at, completed_at, due_date, outcome_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		step.ID,
		step.WorkflowInstanceID,
		step.StepOrder,
		step.Status,
		step.AssignedToID,
		step.StartedAt,
		step.CompletedAt,
		step.DueDate,
		step.OutcomeReason,
	)
	if err != nil {
		return &persistence.StepError{Op: "Create", InstanceID: step.WorkflowInstanceID, StepInstanceID: step.ID, Err: err}
	}

	return nil
}

func (r *StepInstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowStepInstance, error) {
	query := `SELECT ` + stepColumns + ` FROM workflow_step_instances WHERE id = $1`

	step, err := r.scanStep(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrStepInstanceNotFound
		}

		return nil, fmt.Errorf("failed to scan step instance: %w", err)
	}

	return step, nil
}

// CurrentForInstance returns the unique in_progress step instance of the
// given instance.
func (r *StepInstanceRepository) CurrentForInstance(ctx context.Context, instanceID string) (*models.WorkflowStepInstance, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM workflow_step_instances
		WHERE workflow_instance_id = $1 AND status = $2
	`

	step, err := r.scanStep(r.db.QueryRowContext(ctx, query, instanceID, models.StepStatusInProgress))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrStepInstanceNotFound
		}

		return nil, fmt.Errorf("failed to scan step instance: %w", err)
	}

	return step, nil
}

func (r *StepInstanceRepository) ListForInstance(ctx context.Context, instanceID string) ([]*models.WorkflowStepInstance, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM workflow_step_instances
		WHERE workflow_instance_id = $1
		ORDER BY step_order
	`

	return r.queryRows(ctx, query, instanceID)
}

// UpdateIfStatus commits the step only if the stored row still has the
// expected status. The WHERE clause carries the optimistic predicate: the
// loser of a race sees zero affected rows and gets ErrStaleStep.
func (r *StepInstanceRepository) UpdateIfStatus(ctx context.Context, step *models.WorkflowStepInstance, expected models.StepStatus) error {
	query := `
		UPDATE workflow_step_instances SET
			status = $3,
			assigned_to_id = $4,
			completed_at = $5,
			due_date = $6,
			outcome_reason = $7
		WHERE id = $1 AND status = $2
	`

	result, err := r.db.ExecContext(ctx, query,
		step.ID,
		expected,
		step.Status,
		step.AssignedToID,
		step.CompletedAt,
		step.DueDate,
		step.OutcomeReason,
	)
	if err != nil {
		return &persistence.StepError{Op: "UpdateIfStatus", InstanceID: step.WorkflowInstanceID, StepInstanceID: step.ID, Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return &persistence.StepError{Op: "UpdateIfStatus", InstanceID: step.WorkflowInstanceID, StepInstanceID: step.ID, Err: err}
	}

	if affected == 0 {
		var exists bool

		err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM workflow_step_instances WHERE id = $1)", step.ID).Scan(&exists)
		if err != nil {
			return &persistence.StepError{Op: "UpdateIfStatus", InstanceID: step.WorkflowInstanceID, StepInstanceID: step.ID, Err: err}
		}

		if !exists {
			return persistence.ErrStepInstanceNotFound
		}

		return &persistence.StepError{
			Op:             "UpdateIfStatus",
			InstanceID:     step.WorkflowInstanceID,
			StepInstanceID: step.ID,
			Err:            persistence.ErrStaleStep,
		}
	}

	return nil
}

// FindOverdue returns in_progress step instances past their due date,
// oldest due date first.
func (r *StepInstanceRepository) FindOverdue(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowStepInstance, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM workflow_step_instances
		WHERE status = $1 AND due_date IS NOT NULL AND due_date < $2
		ORDER BY due_date
	`
	args := []any{models.StepStatusInProgress, now}

	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	return r.queryRows(ctx, query, args...)
}

func (r *StepInstanceRepository) queryRows(ctx context.Context, query string, args ...any) ([]*models.WorkflowStepInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query step instances: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	steps := make([]*models.WorkflowStepInstance, 0)

	for rows.Next() {
		step, err := r.scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step instance: %w", err)
		}

		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step instances: %w", err)
	}

	return steps, nil
}

func (r *StepInstanceRepository) scanStep(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowStepInstance, error) {
	var step models.WorkflowStepInstance

	err := scanner.Scan(
		&step.ID,
		&step.WorkflowInstanceID,
		&step.StepOrder,
		&step.Status,
		&step.AssignedToID,
		&step.StartedAt,
		&step.CompletedAt,
		&step.DueDate,
		&step.OutcomeReason,
	)
	if err != nil {
		return nil, err
	}

	return &step, nil
}
