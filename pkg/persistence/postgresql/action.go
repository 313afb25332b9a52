package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/iffystrayer/iwillgetthis-sub001/pkg/models"
)

// ActionRepository handles the append-only action log. No update or delete
// statement exists in this file on purpose.
type ActionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *ActionRepository) Append(ctx context.Context, action *models.WorkflowAction) error {
	query := `
		INSERT INTO workflow_actions (id, workflow_instance_id, step_instance_id, action_type, performed_by_id, comment, is_system, performed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		action.ID,
		action.WorkflowInstanceID,
		action.StepInstanceID,
		action.ActionType,
		action.PerformedByID,
		action.Comment,
		action.System,
		action.PerformedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append action: %w", err)
	}

	return nil
}

// ListForInstance returns the actions of an instance in the order they
// were performed.
func (r *ActionRepository) ListForInstance(ctx context.Context, instanceID string) ([]*models.WorkflowAction, error) {
	query := `
		SELECT id, workflow_instance_id, step_instance_id, action_type, performed_by_id, comment, is_system, performed_at
		FROM workflow_actions
		WHERE workflow_instance_id = $1
		ORDER BY performed_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	actions := make([]*models.WorkflowAction, 0)

	for rows.Next() {
		var action models.WorkflowAction

		err := rows.Scan(
			&action.ID,
			&action.WorkflowInstanceID,
			&action.StepInstanceID,
			&action.ActionType,
			&action.PerformedByID,
			&action.Comment,
			&action.System,
			&action.PerformedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}

		actions = append(actions, &action)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating actions: %w", err)
	}

	return actions, nil
}
