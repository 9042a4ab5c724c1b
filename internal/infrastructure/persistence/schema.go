package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// Table names
const (
	TableWorkflowDefinition = "workflow_definitions"
	TableWorkflowStage      = "workflow_stages"
	TableWorkflowTransition = "workflow_transitions"
	TableWorkflowRun        = "workflow_runs"
	TableRunHistory         = "workflow_run_history"
	TableTicket             = "tickets"
	TableOperation          = "operations"
)

// Schema is the DDL applied by `migrate`, in dependency order.
// tickets and operations are owned by the ticket service; only the columns
// the engine reads or writes are declared here.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS ` + TableWorkflowDefinition + ` (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		version INT NOT NULL DEFAULT 1,
		is_template BOOLEAN NOT NULL DEFAULT FALSE,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_by VARCHAR(36) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		KEY idx_workflow_definitions_default (is_default)
	) DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS ` + TableWorkflowStage + ` (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		workflow_id VARCHAR(36) NOT NULL,
		name VARCHAR(255) NOT NULL,
		stage_order INT NOT NULL,
		stage_type VARCHAR(32) NOT NULL,
		config JSON NULL,
		UNIQUE KEY uq_workflow_stages_order (workflow_id, stage_order),
		CONSTRAINT fk_workflow_stages_definition FOREIGN KEY (workflow_id)
			REFERENCES ` + TableWorkflowDefinition + ` (id) ON DELETE CASCADE
	) DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS ` + TableWorkflowTransition + ` (
		seq BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(36) NOT NULL,
		workflow_id VARCHAR(36) NOT NULL,
		from_stage_id VARCHAR(36) NOT NULL,
		to_stage_id VARCHAR(36) NOT NULL,
		` + "`trigger`" + ` VARCHAR(32) NOT NULL,
		condition_expr TEXT NULL,
		label VARCHAR(255) NULL,
		UNIQUE KEY uq_workflow_transitions_id (id),
		KEY idx_workflow_transitions_lookup (workflow_id, from_stage_id),
		CONSTRAINT fk_workflow_transitions_definition FOREIGN KEY (workflow_id)
			REFERENCES ` + TableWorkflowDefinition + ` (id) ON DELETE CASCADE
	) DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS ` + TableWorkflowRun + ` (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		workflow_id VARCHAR(36) NOT NULL,
		ticket_id VARCHAR(36) NULL,
		current_stage_id VARCHAR(36) NULL,
		status VARCHAR(16) NOT NULL,
		context JSON NULL,
		started_at DATETIME(6) NOT NULL,
		completed_at DATETIME(6) NULL,
		version INT NOT NULL DEFAULT 1,
		KEY idx_workflow_runs_workflow_status (workflow_id, status),
		KEY idx_workflow_runs_ticket (ticket_id)
	) DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS ` + TableRunHistory + ` (
		seq BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		id VARCHAR(36) NOT NULL,
		run_id VARCHAR(36) NOT NULL,
		stage_id VARCHAR(36) NULL,
		stage_name VARCHAR(255) NOT NULL,
		action VARCHAR(32) NOT NULL,
		actor_id VARCHAR(36) NULL,
		comment TEXT NULL,
		metadata JSON NULL,
		occurred_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_workflow_run_history_id (id),
		KEY idx_workflow_run_history_run (run_id, occurred_at)
	) DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS ` + TableOperation + ` (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		workflow_id VARCHAR(36) NULL
	) DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS ` + TableTicket + ` (
		id VARCHAR(36) NOT NULL PRIMARY KEY,
		status VARCHAR(32) NOT NULL,
		ticket_type VARCHAR(64) NOT NULL DEFAULT '',
		operation_id VARCHAR(36) NULL,
		risk_level INT NULL,
		workflow_run_id VARCHAR(36) NULL,
		current_stage_id VARCHAR(36) NULL,
		updated_at DATETIME(6) NULL,
		KEY idx_tickets_run (workflow_run_id)
	) DEFAULT CHARSET=utf8mb4`,
}

// Migrate applies Schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
