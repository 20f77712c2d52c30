package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainflow-renewal/internal/models"
	"github.com/noah-isme/trainflow-renewal/internal/repository"
)

type sweepEnrollmentStub struct {
	tenants     []string
	enrollments map[string][]models.Enrollment
	updates     []repository.UpdateStatusParams
	stale       map[string]bool
	failTenant  string
	batches     int
}

func (s *sweepEnrollmentStub) ListActiveTenantIDs(ctx context.Context) ([]string, error) {
	return s.tenants, nil
}

func (s *sweepEnrollmentStub) ListBatch(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error) {
	s.batches++
	if filter.TenantID == s.failTenant {
		return nil, errors.New("connection reset")
	}
	all := append([]models.Enrollment(nil), s.enrollments[filter.TenantID]...)
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	var batch []models.Enrollment
	for _, e := range all {
		if e.ID > filter.AfterID && len(batch) < filter.Limit {
			batch = append(batch, e)
		}
	}
	return batch, nil
}

func (s *sweepEnrollmentStub) UpdateStatus(ctx context.Context, params repository.UpdateStatusParams) error {
	if s.stale[params.ID] {
		return sql.ErrNoRows
	}
	s.updates = append(s.updates, params)
	return nil
}

type sweepNotificationStub struct {
	notificationStub
	sent map[string]bool
}

func (s *sweepNotificationStub) ExistsForReference(ctx context.Context, tenantID, notificationType, referenceID string) (bool, error) {
	return s.sent[tenantID+"/"+notificationType+"/"+referenceID], nil
}

type sweepMetricsStub struct {
	outcome   string
	refreshed map[models.EnrollmentStatus]int
	queries   int
}

func (m *sweepMetricsStub) RecordSweep(outcome string, refreshed map[models.EnrollmentStatus]int) {
	m.outcome = outcome
	m.refreshed = refreshed
}

func (m *sweepMetricsStub) ObserveDBQuery(label string, duration time.Duration) {
	m.queries++
}

func sweepEnrollment(id string, completedDaysAgo, validityDays int, cached models.EnrollmentStatus) models.Enrollment {
	e := completedEnrollment(completedDaysAgo, validityDays)
	e.ID = id
	e.WorkerID = "worker-" + id
	e.Status = cached
	e.UpdatedAt = trackerNow.Add(-time.Duration(completedDaysAgo) * day)
	return e
}

func TestExpirySweeperRefreshesAndWarns(t *testing.T) {
	store := &sweepEnrollmentStub{
		tenants: []string{"tenant-1"},
		enrollments: map[string][]models.Enrollment{
			"tenant-1": {
				sweepEnrollment("a", 400, 365, models.EnrollmentStatusCompleted),
				sweepEnrollment("b", 10, 365, models.EnrollmentStatusCompleted),
				sweepEnrollment("c", 350, 365, models.EnrollmentStatusActive),
				{ID: "d", TenantID: "tenant-1", WorkerID: "worker-d", Status: models.EnrollmentStatusActive, StartDate: trackerNow},
				sweepEnrollment("e", 500, 365, models.EnrollmentStatusExpired),
			},
		},
	}
	notifications := &sweepNotificationStub{sent: map[string]bool{}}
	notifications.sent["tenant-1/expiry_warning/"+expiryWarningReference(store.enrollments["tenant-1"][4])] = true
	logs := &workflowLogStub{}
	metrics := &sweepMetricsStub{}
	tracker := NewEnrollmentTracker(WithTrackerClock(fixedClock(trackerNow)))
	sweeper := NewExpirySweeperService(store, notifications, logs, tracker, metrics, ExpirySweeperConfig{WarningWindowDays: 30, BatchSize: 2}, nil)

	result, err := sweeper.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Tenants)
	assert.Equal(t, 5, result.Scanned)
	assert.Equal(t, 3, store.batches)
	assert.Equal(t, 3, metrics.queries)
	assert.Equal(t, "ok", metrics.outcome)

	require.Len(t, store.updates, 2)
	assert.Equal(t, "a", store.updates[0].ID)
	assert.Equal(t, models.EnrollmentStatusCompleted, store.updates[0].From)
	assert.Equal(t, models.EnrollmentStatusExpired, store.updates[0].To)
	assert.Equal(t, trackerNow.Add(-400*day), store.updates[0].ReadAt)
	assert.Equal(t, trackerNow, store.updates[0].UpdatedAt)
	assert.Equal(t, "c", store.updates[1].ID)
	assert.Equal(t, models.EnrollmentStatusCompleted, store.updates[1].To)
	assert.Equal(t, map[models.EnrollmentStatus]int{models.EnrollmentStatusExpired: 1, models.EnrollmentStatusCompleted: 1}, result.Refreshed)

	require.Len(t, logs.logs, 2)
	assert.Equal(t, models.EntityEnrollment, logs.logs[0].EntityType)
	assert.Equal(t, models.WorkflowActionStatusRefreshed, logs.logs[0].Action)
	assert.JSONEq(t, `{"status":"expired"}`, string(logs.logs[0].NewValue))

	assert.Equal(t, 2, result.Warned)
	require.Len(t, notifications.notifications, 2)
	assert.Equal(t, "worker-a", notifications.notifications[0].UserID)
	assert.Contains(t, notifications.notifications[0].Message, "expired")
	assert.Equal(t, "worker-c", notifications.notifications[1].UserID)
	assert.Contains(t, notifications.notifications[1].Message, "expires")
	for _, n := range notifications.notifications {
		assert.Equal(t, models.NotificationExpiryWarning, n.Type)
		require.NotNil(t, n.ReferenceID)
	}
}

func TestExpirySweeperSkipsStaleRows(t *testing.T) {
	store := &sweepEnrollmentStub{
		tenants: []string{"tenant-1"},
		enrollments: map[string][]models.Enrollment{
			"tenant-1": {sweepEnrollment("a", 400, 365, models.EnrollmentStatusCompleted)},
		},
		stale: map[string]bool{"a": true},
	}
	logs := &workflowLogStub{}
	tracker := NewEnrollmentTracker(WithTrackerClock(fixedClock(trackerNow)))
	sweeper := NewExpirySweeperService(store, nil, logs, tracker, nil, ExpirySweeperConfig{WarningWindowDays: 30}, nil)

	result, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Refreshed)
	assert.Empty(t, logs.logs)
	assert.Equal(t, 0, result.Warned)
}

func TestExpirySweeperContinuesPastFailingTenant(t *testing.T) {
	store := &sweepEnrollmentStub{
		tenants:    []string{"tenant-1", "tenant-2"},
		failTenant: "tenant-1",
		enrollments: map[string][]models.Enrollment{
			"tenant-2": {func() models.Enrollment {
				e := sweepEnrollment("z", 400, 365, models.EnrollmentStatusCompleted)
				e.TenantID = "tenant-2"
				return e
			}()},
		},
	}
	metrics := &sweepMetricsStub{}
	tracker := NewEnrollmentTracker(WithTrackerClock(fixedClock(trackerNow)))
	sweeper := NewExpirySweeperService(store, nil, nil, tracker, metrics, ExpirySweeperConfig{}, nil)

	result, err := sweeper.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant tenant-1")
	assert.Equal(t, 2, result.Tenants)
	require.Len(t, store.updates, 1)
	assert.Equal(t, "tenant-2", store.updates[0].TenantID)
	assert.Equal(t, "partial", metrics.outcome)
}

func TestExpiryWarningReferenceFollowsCycle(t *testing.T) {
	tracker := NewEnrollmentTracker(WithTrackerClock(fixedClock(trackerNow)))
	first := completedEnrollment(400, 365)
	renewed := tracker.CompleteRenewal(first, models.Course{ValidityDays: 365})
	assert.NotEqual(t, expiryWarningReference(first), expiryWarningReference(renewed))
	assert.Equal(t, "enr-1@2027-03-01", expiryWarningReference(renewed))
}
