package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/trainflow-renewal/internal/models"
)

// ErrVersionConflict reports that a concurrent transaction changed the row
// between read and write. Callers re-read and re-validate.
var ErrVersionConflict = errors.New("renewal row version conflict")

const uniqueViolation = "23505"

const (
	renewalRequestColumns = `id, tenant_id, user_id, enrollment_id, status, requested_by, requested_date,
       decided_date, approver_id, reason, decision_comment, version`
	workflowStepColumns = `id, tenant_id, renewal_id, step_order, actor_role, decision, actor_id, acted_at, comment`
	enrollmentColumns   = `id, tenant_id, user_id, course_id, status, start_date, completion_date, expiry_date, updated_at`
)

// RenewalStoreRepository persists renewal workflows in Postgres.
type RenewalStoreRepository struct {
	db *sqlx.DB
}

// NewRenewalStoreRepository constructs the repository.
func NewRenewalStoreRepository(db *sqlx.DB) *RenewalStoreRepository {
	return &RenewalStoreRepository{db: db}
}

// RunInTx executes fn inside a transaction and commits when fn returns nil.
// The transaction is rolled back on error or panic; after a commit the
// deferred rollback is a no-op.
func (r *RenewalStoreRepository) RunInTx(ctx context.Context, fn func(tx *RenewalTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin renewal transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&RenewalTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit renewal transaction: %w", err)
	}
	return nil
}

// RenewalTx is a tenant-scoped handle on an open transaction.
type RenewalTx struct {
	tx *sqlx.Tx
}

// LoadTenant fetches a tenant by id.
func (t *RenewalTx) LoadTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	const query = `SELECT id, name, slug, is_active, created_at FROM tenants WHERE id = $1`
	var tenant models.Tenant
	if err := t.tx.GetContext(ctx, &tenant, query, tenantID); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// LoadWorker fetches a tenant member.
func (t *RenewalTx) LoadWorker(ctx context.Context, tenantID, workerID string) (*models.Worker, error) {
	const query = `SELECT id, tenant_id, email, full_name, role, department_id, is_active, created_at
	FROM users WHERE tenant_id = $1 AND id = $2`
	var worker models.Worker
	if err := t.tx.GetContext(ctx, &worker, query, tenantID, workerID); err != nil {
		return nil, err
	}
	return &worker, nil
}

// LoadCourse fetches a tenant course.
func (t *RenewalTx) LoadCourse(ctx context.Context, tenantID, courseID string) (*models.Course, error) {
	const query = `SELECT id, tenant_id, name, category, validity_days, is_mandatory
	FROM courses WHERE tenant_id = $1 AND id = $2`
	var course models.Course
	if err := t.tx.GetContext(ctx, &course, query, tenantID, courseID); err != nil {
		return nil, err
	}
	return &course, nil
}

// LoadEnrollment fetches a tenant enrollment.
func (t *RenewalTx) LoadEnrollment(ctx context.Context, tenantID, enrollmentID string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE tenant_id = $1 AND id = $2`
	var enrollment models.Enrollment
	if err := t.tx.GetContext(ctx, &enrollment, query, tenantID, enrollmentID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// LoadRequest fetches and row-locks a renewal request.
func (t *RenewalTx) LoadRequest(ctx context.Context, tenantID, requestID string) (*models.RenewalRequest, error) {
	query := `SELECT ` + renewalRequestColumns + ` FROM renewal_requests WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	var request models.RenewalRequest
	if err := t.tx.GetContext(ctx, &request, query, tenantID, requestID); err != nil {
		return nil, err
	}
	return &request, nil
}

// LoadSteps returns the request's steps ordered by step order.
func (t *RenewalTx) LoadSteps(ctx context.Context, tenantID, requestID string) ([]models.WorkflowStep, error) {
	query := `SELECT ` + workflowStepColumns + ` FROM workflow_steps WHERE tenant_id = $1 AND renewal_id = $2 ORDER BY step_order`
	var steps []models.WorkflowStep
	if err := t.tx.SelectContext(ctx, &steps, query, tenantID, requestID); err != nil {
		return nil, fmt.Errorf("list workflow steps: %w", err)
	}
	return steps, nil
}

// LoadOpenRequestForEnrollment returns the pending or in-review request for an enrollment.
func (t *RenewalTx) LoadOpenRequestForEnrollment(ctx context.Context, tenantID, enrollmentID string) (*models.RenewalRequest, error) {
	query := `SELECT ` + renewalRequestColumns + ` FROM renewal_requests
	WHERE tenant_id = $1 AND enrollment_id = $2 AND status IN ('pending', 'in_review') LIMIT 1`
	var request models.RenewalRequest
	if err := t.tx.GetContext(ctx, &request, query, tenantID, enrollmentID); err != nil {
		return nil, err
	}
	return &request, nil
}

// SaveRequest inserts a new request with its steps when Version is zero.
// Otherwise it updates the request only at the expected version and each step
// only while it is still waiting. Version is bumped on success.
func (t *RenewalTx) SaveRequest(ctx context.Context, request *models.RenewalRequest, steps []models.WorkflowStep) error {
	if request.Version == 0 {
		return t.insertRequest(ctx, request, steps)
	}

	const updateRequest = `UPDATE renewal_requests SET status = :status, decided_date = :decided_date,
	approver_id = :approver_id, decision_comment = :decision_comment, version = version + 1
	WHERE tenant_id = :tenant_id AND id = :id AND version = :version`
	result, err := t.tx.NamedExecContext(ctx, updateRequest, request)
	if err != nil {
		return fmt.Errorf("update renewal request: %w", err)
	}
	if err := expectOneRow(result, "renewal request"); err != nil {
		return err
	}

	const updateStep = `UPDATE workflow_steps SET decision = :decision, actor_id = :actor_id, acted_at = :acted_at, comment = :comment
	WHERE tenant_id = :tenant_id AND id = :id AND decision = 'waiting'`
	for i := range steps {
		result, err := t.tx.NamedExecContext(ctx, updateStep, &steps[i])
		if err != nil {
			return fmt.Errorf("update workflow step %d: %w", steps[i].StepOrder, err)
		}
		if err := expectOneRow(result, "workflow step"); err != nil {
			return err
		}
	}
	request.Version++
	return nil
}

func (t *RenewalTx) insertRequest(ctx context.Context, request *models.RenewalRequest, steps []models.WorkflowStep) error {
	row := *request
	row.Version = 1
	const insertRequest = `INSERT INTO renewal_requests
	(id, tenant_id, user_id, enrollment_id, status, requested_by, requested_date, decided_date, approver_id, reason, decision_comment, version)
	VALUES (:id, :tenant_id, :user_id, :enrollment_id, :status, :requested_by, :requested_date, :decided_date, :approver_id, :reason, :decision_comment, :version)`
	if _, err := t.tx.NamedExecContext(ctx, insertRequest, &row); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert renewal request: %w", ErrVersionConflict)
		}
		return fmt.Errorf("insert renewal request: %w", err)
	}

	const insertStep = `INSERT INTO workflow_steps
	(id, tenant_id, renewal_id, step_order, actor_role, decision, actor_id, acted_at, comment)
	VALUES (:id, :tenant_id, :renewal_id, :step_order, :actor_role, :decision, :actor_id, :acted_at, :comment)`
	for i := range steps {
		if _, err := t.tx.NamedExecContext(ctx, insertStep, &steps[i]); err != nil {
			return fmt.Errorf("insert workflow step %d: %w", steps[i].StepOrder, err)
		}
	}
	request.Version = row.Version
	return nil
}

// SaveEnrollment writes the enrollment cycle fields.
func (t *RenewalTx) SaveEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	const query = `UPDATE enrollments SET status = :status, start_date = :start_date, completion_date = :completion_date,
	expiry_date = :expiry_date, updated_at = :updated_at
	WHERE tenant_id = :tenant_id AND id = :id`
	result, err := t.tx.NamedExecContext(ctx, query, enrollment)
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check enrollment update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func expectOneRow(result sql.Result, entity string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s update rows: %w", entity, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s changed concurrently: %w", entity, ErrVersionConflict)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
