package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainflow-renewal/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var enrollmentRowColumns = []string{"id", "tenant_id", "user_id", "course_id", "status", "start_date", "completion_date", "expiry_date", "updated_at"}

func TestEnrollmentRepositoryListBatch(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(enrollmentRowColumns).
		AddRow("enr-2", "tenant-1", "worker-1", "course-1", "completed", now, now, now.Add(24*time.Hour), now).
		AddRow("enr-3", "tenant-1", "worker-2", "course-1", "active", now, nil, nil, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments")).
		WithArgs("tenant-1", "enr-1", 1000).
		WillReturnRows(rows)

	enrollments, err := repo.ListBatch(context.Background(), models.EnrollmentFilter{TenantID: "tenant-1", AfterID: "enr-1", Limit: 5000})
	require.NoError(t, err)
	require.Len(t, enrollments, 2)
	require.Equal(t, models.EnrollmentStatusCompleted, enrollments[0].Status)
	require.Nil(t, enrollments[1].CompletionDate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListActiveTenantIDs(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM tenants WHERE is_active = TRUE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("tenant-1").AddRow("tenant-2"))

	ids, err := repo.ListActiveTenantIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"tenant-1", "tenant-2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryUpdateStatus(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	readAt := now.Add(-time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $1, updated_at = $2")).
		WithArgs(models.EnrollmentStatusExpired, now, "tenant-1", "enr-1", models.EnrollmentStatusCompleted, readAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $1, updated_at = $2")).
		WithArgs(models.EnrollmentStatusExpired, now, "tenant-1", "enr-2", models.EnrollmentStatusCompleted, readAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	params := UpdateStatusParams{
		TenantID:  "tenant-1",
		ID:        "enr-1",
		From:      models.EnrollmentStatusCompleted,
		To:        models.EnrollmentStatusExpired,
		ReadAt:    readAt,
		UpdatedAt: now,
	}
	require.NoError(t, repo.UpdateStatus(context.Background(), params))

	params.ID = "enr-2"
	require.ErrorIs(t, repo.UpdateStatus(context.Background(), params), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A renewal completed after the sweep read the row keeps status active but
// moves updated_at, so the stale expired write must not match.
func TestEnrollmentRepositoryUpdateStatusSkipsRenewedCycle(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now().UTC()
	readAt := now.Add(-48 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("AND status = $5 AND updated_at = $6")).
		WithArgs(models.EnrollmentStatusExpired, now, "tenant-1", "enr-1", models.EnrollmentStatusActive, readAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), UpdateStatusParams{
		TenantID:  "tenant-1",
		ID:        "enr-1",
		From:      models.EnrollmentStatusActive,
		To:        models.EnrollmentStatusExpired,
		ReadAt:    readAt,
		UpdatedAt: now,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
