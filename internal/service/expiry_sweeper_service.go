package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/trainflow-renewal/internal/models"
	"github.com/noah-isme/trainflow-renewal/internal/repository"
)

type sweepEnrollmentStore interface {
	ListActiveTenantIDs(ctx context.Context) ([]string, error)
	ListBatch(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error)
	UpdateStatus(ctx context.Context, params repository.UpdateStatusParams) error
}

type sweepNotificationStore interface {
	notificationWriter
	ExistsForReference(ctx context.Context, tenantID, notificationType, referenceID string) (bool, error)
}

type sweepMetrics interface {
	RecordSweep(outcome string, refreshed map[models.EnrollmentStatus]int)
	ObserveDBQuery(label string, duration time.Duration)
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Tenants   int
	Scanned   int
	Refreshed map[models.EnrollmentStatus]int
	Warned    int
}

// ExpirySweeperService refreshes cached enrollment statuses and warns workers
// whose training is about to lapse.
type ExpirySweeperService struct {
	enrollments   sweepEnrollmentStore
	notifications sweepNotificationStore
	logs          workflowLogWriter
	tracker       *EnrollmentTracker
	metrics       sweepMetrics
	logger        *zap.Logger
	warningDays   int
	batchSize     int
}

// ExpirySweeperConfig carries the sweep tuning.
type ExpirySweeperConfig struct {
	WarningWindowDays int
	BatchSize         int
}

// NewExpirySweeperService constructs the sweeper.
func NewExpirySweeperService(
	enrollments sweepEnrollmentStore,
	notifications sweepNotificationStore,
	logs workflowLogWriter,
	tracker *EnrollmentTracker,
	metrics sweepMetrics,
	cfg ExpirySweeperConfig,
	logger *zap.Logger,
) *ExpirySweeperService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = NewEnrollmentTracker()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.WarningWindowDays < 0 {
		cfg.WarningWindowDays = 0
	}
	return &ExpirySweeperService{
		enrollments:   enrollments,
		notifications: notifications,
		logs:          logs,
		tracker:       tracker,
		metrics:       metrics,
		logger:        logger,
		warningDays:   cfg.WarningWindowDays,
		batchSize:     cfg.BatchSize,
	}
}

// Run sweeps every active tenant. A failing tenant is logged and skipped; the
// joined error reports every failure.
func (s *ExpirySweeperService) Run(ctx context.Context) (SweepResult, error) {
	result := SweepResult{Refreshed: make(map[models.EnrollmentStatus]int)}

	tenants, err := s.enrollments.ListActiveTenantIDs(ctx)
	if err != nil {
		s.record("failed", result)
		return result, fmt.Errorf("sweep: %w", err)
	}

	var errs []error
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		result.Tenants++
		if err := s.sweepTenant(ctx, tenantID, &result); err != nil {
			s.logger.Warn("enrollment sweep failed for tenant", zap.String("tenant_id", tenantID), zap.Error(err))
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
		}
	}

	outcome := "ok"
	if len(errs) > 0 {
		outcome = "partial"
	}
	s.record(outcome, result)
	s.logger.Info("enrollment sweep finished",
		zap.Int("tenants", result.Tenants),
		zap.Int("scanned", result.Scanned),
		zap.Int("warned", result.Warned),
		zap.String("outcome", outcome),
	)
	return result, errors.Join(errs...)
}

func (s *ExpirySweeperService) sweepTenant(ctx context.Context, tenantID string, result *SweepResult) error {
	afterID := ""
	for {
		started := time.Now()
		batch, err := s.enrollments.ListBatch(ctx, models.EnrollmentFilter{TenantID: tenantID, AfterID: afterID, Limit: s.batchSize})
		if s.metrics != nil {
			s.metrics.ObserveDBQuery("enrollment_batch", time.Since(started))
		}
		if err != nil {
			return err
		}
		for _, enrollment := range batch {
			result.Scanned++
			if err := s.refresh(ctx, enrollment, result); err != nil {
				return err
			}
			if err := s.warn(ctx, enrollment, result); err != nil {
				return err
			}
		}
		if len(batch) < s.batchSize {
			return nil
		}
		afterID = batch[len(batch)-1].ID
	}
}

func (s *ExpirySweeperService) refresh(ctx context.Context, enrollment models.Enrollment, result *SweepResult) error {
	refreshed, changed := s.tracker.Refresh(enrollment)
	if !changed {
		return nil
	}
	err := s.enrollments.UpdateStatus(ctx, repository.UpdateStatusParams{
		TenantID:  enrollment.TenantID,
		ID:        enrollment.ID,
		From:      enrollment.Status,
		To:        refreshed.Status,
		ReadAt:    enrollment.UpdatedAt,
		UpdatedAt: refreshed.UpdatedAt,
	})
	if errors.Is(err, sql.ErrNoRows) {
		// changed underneath us, the next sweep sees the new row
		return nil
	}
	if err != nil {
		return err
	}
	result.Refreshed[refreshed.Status]++

	if s.logs == nil {
		return nil
	}
	oldValue, _ := json.Marshal(map[string]models.EnrollmentStatus{"status": enrollment.Status})
	newValue, _ := json.Marshal(map[string]models.EnrollmentStatus{"status": refreshed.Status})
	return s.logs.Create(ctx, &models.WorkflowLog{
		TenantID:   enrollment.TenantID,
		EntityType: models.EntityEnrollment,
		EntityID:   enrollment.ID,
		Action:     models.WorkflowActionStatusRefreshed,
		OldValue:   oldValue,
		NewValue:   newValue,
		CreatedAt:  refreshed.UpdatedAt,
	})
}

func (s *ExpirySweeperService) warn(ctx context.Context, enrollment models.Enrollment, result *SweepResult) error {
	if s.notifications == nil || enrollment.ExpiryDate == nil {
		return nil
	}
	if !s.tracker.IsRenewalCandidate(enrollment, s.warningDays) {
		return nil
	}
	reference := expiryWarningReference(enrollment)
	sent, err := s.notifications.ExistsForReference(ctx, enrollment.TenantID, models.NotificationExpiryWarning, reference)
	if err != nil {
		return err
	}
	if sent {
		return nil
	}

	message := fmt.Sprintf("Your training expires on %s. Ask your supervisor to start a renewal.", enrollment.ExpiryDate.Format("2006-01-02"))
	if EvaluateEnrollmentAt(s.tracker.Now(), enrollment) == models.EnrollmentStatusExpired {
		message = fmt.Sprintf("Your training expired on %s. Ask your supervisor to start a renewal.", enrollment.ExpiryDate.Format("2006-01-02"))
	}
	if err := s.notifications.Create(ctx, &models.Notification{
		TenantID:    enrollment.TenantID,
		UserID:      enrollment.WorkerID,
		Type:        models.NotificationExpiryWarning,
		Title:       "Training renewal due",
		Message:     message,
		ReferenceID: &reference,
		CreatedAt:   s.tracker.Now(),
	}); err != nil {
		return err
	}
	result.Warned++
	return nil
}

func (s *ExpirySweeperService) record(outcome string, result SweepResult) {
	if s.metrics != nil {
		s.metrics.RecordSweep(outcome, result.Refreshed)
	}
}

// expiryWarningReference keys the warning by validity cycle so a renewed
// enrollment is warned again before its next expiry.
func expiryWarningReference(enrollment models.Enrollment) string {
	return enrollment.ID + "@" + enrollment.ExpiryDate.UTC().Format("2006-01-02")
}
