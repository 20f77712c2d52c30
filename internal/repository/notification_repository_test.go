package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainflow-renewal/internal/models"
)

func newNotificationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestNotificationRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	ref := "req-1"
	notification := &models.Notification{
		TenantID:    "tenant-1",
		UserID:      "worker-1",
		Type:        models.NotificationRenewalOpened,
		Title:       "Renewal requested",
		Message:     "Your renewal request is awaiting approval.",
		ReferenceID: &ref,
	}
	require.NoError(t, repo.Create(context.Background(), notification))
	assert.NotEmpty(t, notification.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryExistsForReference(t *testing.T) {
	db, mock, cleanup := newNotificationRepoMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM notifications")).
		WithArgs("tenant-1", models.NotificationExpiryWarning, "enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.ExistsForReference(context.Background(), "tenant-1", models.NotificationExpiryWarning, "enr-1")
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}
