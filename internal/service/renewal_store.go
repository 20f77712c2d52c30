package service

import (
	"context"

	"github.com/noah-isme/trainflow-renewal/internal/models"
	"github.com/noah-isme/trainflow-renewal/internal/repository"
)

// WorkflowTx is the tenant-scoped view of the store inside one transaction.
// Loads return sql.ErrNoRows when the row is absent for the given tenant.
type WorkflowTx interface {
	LoadTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	LoadWorker(ctx context.Context, tenantID, workerID string) (*models.Worker, error)
	LoadCourse(ctx context.Context, tenantID, courseID string) (*models.Course, error)
	LoadEnrollment(ctx context.Context, tenantID, enrollmentID string) (*models.Enrollment, error)
	// LoadRequest locks the request row until the transaction ends.
	LoadRequest(ctx context.Context, tenantID, requestID string) (*models.RenewalRequest, error)
	LoadSteps(ctx context.Context, tenantID, requestID string) ([]models.WorkflowStep, error)
	LoadOpenRequestForEnrollment(ctx context.Context, tenantID, enrollmentID string) (*models.RenewalRequest, error)
	// SaveRequest inserts a request with Version 0, otherwise compare-and-sets on
	// Version and only touches steps still waiting. Version is bumped on success.
	SaveRequest(ctx context.Context, request *models.RenewalRequest, steps []models.WorkflowStep) error
	SaveEnrollment(ctx context.Context, enrollment *models.Enrollment) error
}

// WorkflowStore runs fn in a single transaction, committing only when fn returns nil.
type WorkflowStore interface {
	RunInTx(ctx context.Context, fn func(tx WorkflowTx) error) error
}

// WorkflowStoreFunc allows using plain functions as a WorkflowStore.
type WorkflowStoreFunc func(ctx context.Context, fn func(tx WorkflowTx) error) error

// RunInTx implements WorkflowStore.
func (f WorkflowStoreFunc) RunInTx(ctx context.Context, fn func(tx WorkflowTx) error) error {
	return f(ctx, fn)
}

var _ WorkflowTx = (*repository.RenewalTx)(nil)

// NewPostgresWorkflowStore exposes the Postgres renewal repository as a WorkflowStore.
func NewPostgresWorkflowStore(repo *repository.RenewalStoreRepository) WorkflowStore {
	return WorkflowStoreFunc(func(ctx context.Context, fn func(tx WorkflowTx) error) error {
		return repo.RunInTx(ctx, func(tx *repository.RenewalTx) error {
			return fn(tx)
		})
	})
}

// EventSink receives renewal events after the transition has committed.
type EventSink interface {
	Publish(ctx context.Context, event models.RenewalEvent) error
}

// EventSinkFunc helper to use functions as sinks.
type EventSinkFunc func(ctx context.Context, event models.RenewalEvent) error

// Publish implements EventSink.
func (f EventSinkFunc) Publish(ctx context.Context, event models.RenewalEvent) error {
	return f(ctx, event)
}
