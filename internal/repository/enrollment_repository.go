package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/trainflow-renewal/internal/models"
)

const (
	defaultEnrollmentBatch = 200
	maxEnrollmentBatch     = 1000
)

// EnrollmentRepository handles enrollment reads and status cache refreshes
// outside the renewal workflow transaction.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// ListActiveTenantIDs returns ids of tenants that are still active.
func (r *EnrollmentRepository) ListActiveTenantIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT id FROM tenants WHERE is_active = TRUE ORDER BY id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	return ids, nil
}

// ListBatch pages through a tenant's enrollments ordered by id, starting after filter.AfterID.
func (r *EnrollmentRepository) ListBatch(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEnrollmentBatch
	}
	if limit > maxEnrollmentBatch {
		limit = maxEnrollmentBatch
	}
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments
	WHERE tenant_id = $1 AND id > $2 ORDER BY id LIMIT $3`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, filter.TenantID, filter.AfterID, limit); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return enrollments, nil
}

// UpdateStatusParams describes a cached status refresh. ReadAt is the
// updated_at of the row the new status was computed from.
type UpdateStatusParams struct {
	TenantID  string
	ID        string
	From      models.EnrollmentStatus
	To        models.EnrollmentStatus
	ReadAt    time.Time
	UpdatedAt time.Time
}

// UpdateStatus rewrites the cached status only if the row is unchanged since
// it was read, so a concurrent renewal completion is never overwritten.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, params UpdateStatusParams) error {
	const query = `UPDATE enrollments SET status = $1, updated_at = $2
	WHERE tenant_id = $3 AND id = $4 AND status = $5 AND updated_at = $6`
	result, err := r.db.ExecContext(ctx, query, params.To, params.UpdatedAt, params.TenantID, params.ID, params.From, params.ReadAt)
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check enrollment status rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
