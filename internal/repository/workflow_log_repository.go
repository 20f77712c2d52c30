package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/trainflow-renewal/internal/models"
)

// WorkflowLogRepository stores the audit trail of workflow state changes.
type WorkflowLogRepository struct {
	db *sqlx.DB
}

// NewWorkflowLogRepository constructs the repository.
func NewWorkflowLogRepository(db *sqlx.DB) *WorkflowLogRepository {
	return &WorkflowLogRepository{db: db}
}

// Create stores a workflow log entry.
func (r *WorkflowLogRepository) Create(ctx context.Context, log *models.WorkflowLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO workflow_logs (id, tenant_id, entity_type, entity_id, action, actor_id, old_value, new_value, created_at)
	VALUES (:id, :tenant_id, :entity_type, :entity_id, :action, :actor_id, :old_value, :new_value, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, log); err != nil {
		return fmt.Errorf("create workflow log: %w", err)
	}
	return nil
}

// ListByEntity returns the entity's log entries oldest first.
func (r *WorkflowLogRepository) ListByEntity(ctx context.Context, tenantID, entityType, entityID string) ([]models.WorkflowLog, error) {
	const query = `SELECT id, tenant_id, entity_type, entity_id, action, actor_id, old_value, new_value, created_at
	FROM workflow_logs WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3 ORDER BY created_at`
	var logs []models.WorkflowLog
	if err := r.db.SelectContext(ctx, &logs, query, tenantID, entityType, entityID); err != nil {
		return nil, fmt.Errorf("list workflow logs: %w", err)
	}
	return logs, nil
}
