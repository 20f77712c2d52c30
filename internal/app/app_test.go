package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainflow-renewal/internal/models"
	"github.com/noah-isme/trainflow-renewal/internal/service"
	"github.com/noah-isme/trainflow-renewal/pkg/config"
	appErrors "github.com/noah-isme/trainflow-renewal/pkg/errors"
	"github.com/noah-isme/trainflow-renewal/pkg/jobs"
)

func testConfig() *config.Config {
	return &config.Config{
		Env: config.EnvDevelopment,
		Renewal: config.RenewalConfig{
			WarningWindowDays: 30,
			DefaultChain:      []string{"line_supervisor", "department_manager"},
			ConflictRetries:   3,
		},
		Events:  config.EventsConfig{Workers: 1, BufferSize: 8},
		Sweeper: config.SweeperConfig{BatchSize: 50},
	}
}

func TestNewWiresOpsServer(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	application, err := New(testConfig(), sqlxDB, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, application.Renewals)
	require.NotNil(t, application.Sweeper)

	application.Start(context.Background())
	defer func() { require.NoError(t, application.Close()) }()

	mock.ExpectPing()
	rec := httptest.NewRecorder()
	application.Ops.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "redis")

	rec = httptest.NewRecorder()
	application.Ops.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRejectsInvalidChainPolicy(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig()
	cfg.Renewal.DefaultChain = []string{"worker"}
	_, err = New(cfg, sqlx.NewDb(db, "sqlmock"), nil, nil)
	require.Error(t, err)
}

func TestRenewalsValidatesBeforeTouchingStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	application, err := New(testConfig(), sqlx.NewDb(db, "sqlmock"), nil, nil)
	require.NoError(t, err)

	_, err = application.Renewals.OpenRequest(context.Background(), service.OpenRenewalParams{TenantID: "tenant-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseDeliversQueuedEventsAfterShutdownSignal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	application, err := New(testConfig(), sqlx.NewDb(db, "sqlmock"), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	application.Start(ctx)
	cancel()

	mock.ExpectExec("INSERT INTO workflow_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))

	event := models.RenewalEvent{
		ID:           "evt-1",
		Kind:         models.EventRequestOpened,
		TenantID:     "tenant-1",
		RequestID:    "req-1",
		EnrollmentID: "enr-1",
		WorkerID:     "worker-1",
		ActorID:      "worker-1",
		Status:       models.RenewalStatusPending,
		OccurredAt:   time.Now().UTC(),
	}
	require.NoError(t, application.events.TryEnqueue(jobs.Job{ID: event.ID, Payload: event}))
	require.NoError(t, application.Close())

	require.NoError(t, mock.ExpectationsWereMet())
	processed, dropped := application.events.Stats()
	assert.Equal(t, uint64(1), processed)
	assert.Equal(t, uint64(0), dropped)
}
