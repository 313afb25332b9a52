package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
	"github.com/iffystrayer/iwillgetthis-sub001/pkg/persistence"
)

// WorkflowRepository handles workflow template database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const workflowColumns = `
	id
  , name
  , description
  , workflow_type
  , status
  , context_schema
  , created_at
  , updated_at
  , deleted_at
`

// GetAll returns all non-deleted workflow templates with their steps.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		err = r.loadSteps(ctx, workflow)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// GetByID returns the template even when soft-deleted: in-flight
// instances keep resolving their steps from it. Callers check DeletedAt.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE id = $1
	`

	row := r.db.QueryRowContext(ctx, query, id)

	workflow, err := r.scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	if err := r.loadSteps(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

// Save upserts a workflow template and replaces its step set atomically.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var schemaJSON []byte
	if workflow.ContextSchema != nil {
		schemaJSON, err = json.Marshal(workflow.ContextSchema)
		if err != nil {
			return fmt.Errorf("failed to marshal context schema: %w", err)
		}
	}

	workflowQuery := `
		INSERT INTO workflows (id, name, description, workflow_type, status, context_schema, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			workflow_type = EXCLUDED.workflow_type,
			status = EXCLUDED.status,
			context_schema = EXCLUDED.context_schema,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = tx.ExecContext(ctx, workflowQuery,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.WorkflowType,
		workflow.Status,
		schemaJSON,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow base: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_steps WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing steps: %w", err)
	}

	err = r.saveSteps(ctx, tx, workflow)
	if err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Delete soft deletes a workflow by setting deleted_at. Templates with
// in-flight instances stay queryable through their instances' frozen
// snapshots, never through the template itself.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE workflows SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) saveSteps(ctx context.Context, tx *sql.Tx, workflow *models.Workflow) error {
	for _, step := range workflow.Steps {
		if step.ID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("failed to generate step ID: %w", err)
			}

			step.ID = id.String()
		}

		step.WorkflowID = workflow.ID

		allowedJSON, err := json.Marshal(step.AllowedActions)
		if err != nil {
			return fmt.Errorf("failed to marshal allowed actions: %w", err)
		}

		query := `
			INSERT INTO workflow_steps (id, workflow_id, step_order, name, assignment_kind, assignment_user_id, assignment_role_id, assignment_tag, sla_hours, allowed_actions)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`

		_, err = tx.ExecContext(ctx, query,
			step.ID,
			workflow.ID,
			step.Order,
			step.Name,
			step.Assignment.Kind,
			nullable(step.Assignment.UserID),
			nullable(step.Assignment.RoleID),
			nullable(step.Assignment.Tag),
			step.SLAHours,
			allowedJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to save step: %w", err)
		}
	}

	return nil
}

func (r *WorkflowRepository) loadSteps(ctx context.Context, workflow *models.Workflow) error {
	query := `
		SELECT id, step_order, name, assignment_kind, assignment_user_id, assignment_role_id, assignment_tag, sla_hours, allowed_actions
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY step_order
	`

	rows, err := r.db.QueryContext(ctx, query, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow steps: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	var steps []*models.WorkflowStep

	for rows.Next() {
		var (
			step                models.WorkflowStep
			userID, roleID, tag sql.NullString
			allowedJSON         []byte
		)

		err := rows.Scan(
			&step.ID,
			&step.Order,
			&step.Name,
			&step.Assignment.Kind,
			&userID,
			&roleID,
			&tag,
			&step.SLAHours,
			&allowedJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}

		step.WorkflowID = workflow.ID
		step.Assignment.UserID = userID.String
		step.Assignment.RoleID = roleID.String
		step.Assignment.Tag = tag.String

		if allowedJSON != nil {
			err := json.Unmarshal(allowedJSON, &step.AllowedActions)
			if err != nil {
				return fmt.Errorf("failed to unmarshal allowed actions: %w", err)
			}
		}

		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating steps: %w", err)
	}

	workflow.Steps = steps

	return nil
}

func (r *WorkflowRepository) scanWorkflow(scanner interface {
	Scan(dest ...any) error
}) (*models.Workflow, error) {
	var (
		workflow   models.Workflow
		schemaJSON []byte
	)

	err := scanner.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.WorkflowType,
		&workflow.Status,
		&schemaJSON,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&workflow.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if schemaJSON != nil {
		err := json.Unmarshal(schemaJSON, &workflow.ContextSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal context schema: %w", err)
		}
	}

	return &workflow, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}

	return s
}
