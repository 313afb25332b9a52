package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
)

// InstanceRepository handles workflow instance database operations.
type InstanceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const instanceColumns = `
	id
  , workflow_id
  , step_count
  , entity_type
  , entity_id
  , status
  , priority
  , current_step_order
  , current_assignee_id
  , candidate_role_id
  , escalation_level
  , initiated_by
  , initiated_at
  , due_date
  , context_data
  , custom_fields
  , updated_at
`

func (r *InstanceRepository) Create(ctx context.Context, instance *models.WorkflowInstance) error {
	contextJSON, customJSON, err := marshalInstancePayloads(instance)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_instances (id, workflow_id, step_count, entity_type, entity_id, status, priority,
			current_step_order, current_assignee_id, candidate_role_id, escalation_level, initiated_by, initiated_at,
			due_date, context_data, custom_fields, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = r.db.ExecContext(ctx, query,
		instance.ID,
		instance.WorkflowID,
		instance.StepCount,
		instance.EntityType,
		instance.EntityID,
		instance.Status,
		instance.Priority,
		instance.CurrentStepOrder,
		instance.CurrentAssigneeID,
		instance.CandidateRoleID,
		instance.EscalationLevel,
		instance.InitiatedBy,
		instance.InitiatedAt,
		instance.DueDate,
		contextJSON,
		customJSON,
		instance.UpdatedAt,
	)
	if err != nil {
		return persistence.NewInstanceError("Create", instance.ID, err)
	}

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = $1`

	instance, err := r.scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	return instance, nil
}

func (r *InstanceRepository) Update(ctx context.Context, instance *models.WorkflowInstance) error {
	contextJSON, customJSON, err := marshalInstancePayloads(instance)
	if err != nil {
		return err
	}

	instance.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE workflow_instances SET
			status = $2,
			priority = $3,
			current_step_order = $4,
			current_assignee_id = $5,
			candidate_role_id = $6,
			escalation_level = $7,
			due_date = $8,
			context_data = $9,
			custom_fields = $10,
			updated_at = $11
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		instance.ID,
		instance.Status,
		instance.Priority,
		instance.CurrentStepOrder,
		instance.CurrentAssigneeID,
		instance.CandidateRoleID,
		instance.EscalationLevel,
		instance.DueDate,
		contextJSON,
		customJSON,
		instance.UpdatedAt,
	)
	if err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewInstanceError("Update", instance.ID, err)
	}

	if affected == 0 {
		return persistence.NewInstanceError("Update", instance.ID, persistence.ErrInstanceNotFound)
	}

	return nil
}

// List returns instances matching the options, newest first. Filters are
// combined with AND; zero values are ignored.
func (r *InstanceRepository) List(ctx context.Context, opts persistence.ListInstancesOptions) ([]*models.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE 1=1`
	args := make([]any, 0, 8)

	addFilter := func(clause string, value any) {
		args = append(args, value)
		query += " AND " + clause + " = $" + strconv.Itoa(len(args))
	}

	if opts.WorkflowID != "" {
		addFilter("workflow_id", opts.WorkflowID)
	}

	if opts.EntityType != "" {
		addFilter("entity_type", opts.EntityType)
	}

	if opts.EntityID != "" {
		addFilter("entity_id", opts.EntityID)
	}

	if opts.AssigneeID != "" {
		addFilter("current_assignee_id", opts.AssigneeID)
	}

	if opts.Status != nil {
		addFilter("status", *opts.Status)
	}

	if opts.Priority != nil {
		addFilter("priority", *opts.Priority)
	}

	query += " ORDER BY initiated_at DESC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		instance, err := r.scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}

		instances = append(instances, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}

	return instances, nil
}

func (r *InstanceRepository) scanInstance(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowInstance, error) {
	var (
		instance                models.WorkflowInstance
		contextJSON, customJSON []byte
	)

	err := scanner.Scan(
		&instance.ID,
		&instance.WorkflowID,
		&instance.StepCount,
		&instance.EntityType,
		&instance.EntityID,
		&instance.Status,
		&instance.Priority,
		&instance.CurrentStepOrder,
		&instance.CurrentAssigneeID,
		&instance.CandidateRoleID,
		&instance.EscalationLevel,
		&instance.InitiatedBy,
		&instance.InitiatedAt,
		&instance.DueDate,
		&contextJSON,
		&customJSON,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if contextJSON != nil {
		err := json.Unmarshal(contextJSON, &instance.ContextData)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal context data: %w", err)
		}
	}

	if customJSON != nil {
		err := json.Unmarshal(customJSON, &instance.CustomFields)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal custom fields: %w", err)
		}
	}

	return &instance, nil
}

func marshalInstancePayloads(instance *models.WorkflowInstance) ([]byte, []byte, error) {
	var (
		contextJSON, customJSON []byte
		err                     error
	)

	if instance.ContextData != nil {
		contextJSON, err = json.Marshal(instance.ContextData)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal context data: %w", err)
		}
	}

	if instance.CustomFields != nil {
		customJSON, err = json.Marshal(instance.CustomFields)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal custom fields: %w", err)
		}
	}

	return contextJSON, customJSON, nil
}
