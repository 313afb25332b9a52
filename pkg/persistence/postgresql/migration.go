package postgresql

// migrations returns the ordered schema migrations for the workflow engine.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				workflow_type VARCHAR(50) NOT NULL,
				status VARCHAR(20) NOT NULL,
				context_schema JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE TABLE IF NOT EXISTS workflow_steps (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				step_order INTEGER NOT NULL,
				name VARCHAR(255) NOT NULL,
				assignment_kind VARCHAR(20) NOT NULL,
				assignment_user_id VARCHAR(255),
				assignment_role_id VARCHAR(255),
				assignment_tag VARCHAR(255),
				sla_hours INTEGER NOT NULL DEFAULT 0,
				allowed_actions JSONB NOT NULL DEFAULT '[]',
				UNIQUE (workflow_id, step_order)
			);

			CREATE TABLE IF NOT EXISTS workflow_instances (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				step_count INTEGER NOT NULL,
				entity_type VARCHAR(100) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL,
				priority VARCHAR(20) NOT NULL DEFAULT 'medium',
				current_step_order INTEGER NOT NULL DEFAULT 1,
				current_assignee_id VARCHAR(255),
				candidate_role_id VARCHAR(255),
				escalation_level INTEGER NOT NULL DEFAULT 0,
				initiated_by VARCHAR(255) NOT NULL,
				initiated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				due_date TIMESTAMP WITH TIME ZONE,
				context_data JSONB,
				custom_fields JSONB,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_instances_entity
				ON workflow_instances (entity_type, entity_id);
			CREATE INDEX IF NOT EXISTS idx_workflow_instances_status
				ON workflow_instances (status);
			CREATE INDEX IF NOT EXISTS idx_workflow_instances_assignee
				ON workflow_instances (current_assignee_id);

			CREATE TABLE IF NOT EXISTS workflow_step_instances (
				id UUID PRIMARY KEY,
				workflow_instance_id UUID NOT NULL REFERENCES workflow_instances(id),
				step_order INTEGER NOT NULL,
				status VARCHAR(20) NOT NULL,
				assigned_to_id VARCHAR(255),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				due_date TIMESTAMP WITH TIME ZONE,
				outcome_reason TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX IF NOT EXISTS idx_step_instances_instance
				ON workflow_step_instances (workflow_instance_id);
			CREATE INDEX IF NOT EXISTS idx_step_instances_overdue
				ON workflow_step_instances (status, due_date);

			CREATE TABLE IF NOT EXISTS workflow_actions (
				id UUID PRIMARY KEY,
				workflow_instance_id UUID NOT NULL REFERENCES workflow_instances(id),
				step_instance_id UUID NOT NULL REFERENCES workflow_step_instances(id),
				action_type VARCHAR(30) NOT NULL,
				performed_by_id VARCHAR(255) NOT NULL,
				comment TEXT NOT NULL DEFAULT '',
				is_system BOOLEAN NOT NULL DEFAULT FALSE,
				performed_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_actions_instance
				ON workflow_actions (workflow_instance_id);
		`,
	}
}
