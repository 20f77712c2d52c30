package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/trainflow-renewal/internal/handler"
	"github.com/noah-isme/trainflow-renewal/internal/middleware"
	"github.com/noah-isme/trainflow-renewal/internal/repository"
	"github.com/noah-isme/trainflow-renewal/internal/service"
	"github.com/noah-isme/trainflow-renewal/pkg/config"
	"github.com/noah-isme/trainflow-renewal/pkg/jobs"
	"github.com/noah-isme/trainflow-renewal/pkg/logger"
	reqidmiddleware "github.com/noah-isme/trainflow-renewal/pkg/middleware/requestid"
)

const eventQueueName = "renewal-events"

// App wires the renewal engine and its collaborators on top of open connections.
// Host code drives the workflow through Renewals.
type App struct {
	Renewals *service.RenewalWorkflowService
	Sweeper  *service.ExpirySweeperService
	Metrics  *service.MetricsService
	Ops      *gin.Engine

	events *jobs.Queue
	stream *repository.EventStreamRepository
}

// New builds the application. A nil redisClient disables the event stream and
// the redis readiness check.
func New(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, logr *zap.Logger) (*App, error) {
	if logr == nil {
		logr = zap.NewNop()
	}

	metrics := service.NewMetricsService()
	tracker := service.NewEnrollmentTracker()

	workflowLogs := repository.NewWorkflowLogRepository(db)
	notifications := repository.NewNotificationRepository(db)
	enrollments := repository.NewEnrollmentRepository(db)
	stream := repository.NewEventStreamRepository(redisClient, cfg.Events.RedisChannel, logr.Named("stream"))

	sinks := service.MultiEventSink{
		service.NewAuditEventSink(workflowLogs),
		service.NewNotificationEventSink(notifications),
	}
	if redisClient != nil {
		sinks = append(sinks, stream)
	}
	events := jobs.NewQueue(eventQueueName, service.NewEventDispatchHandler(sinks, metrics), jobs.QueueConfig{
		Workers:    cfg.Events.Workers,
		BufferSize: cfg.Events.BufferSize,
		MaxRetries: cfg.Events.MaxRetries,
		RetryDelay: cfg.Events.RetryDelay,
		Logger:     logr.Named("events"),
		OnDrop: func(job jobs.Job, err error) {
			logr.Warn("renewal event discarded", zap.String("event_id", job.ID), zap.Error(err))
		},
	})

	policy, err := service.NewApprovalChainPolicy(cfg.Renewal)
	if err != nil {
		return nil, fmt.Errorf("approval chain policy: %w", err)
	}
	renewals := service.NewRenewalWorkflowService(
		service.NewPostgresWorkflowStore(repository.NewRenewalStoreRepository(db)),
		tracker,
		validator.New(),
		logr.Named("renewal"),
		service.WithRenewalEventSink(service.NewAsyncEventSink(events, metrics, logr)),
		service.WithApprovalChainPolicy(policy),
		service.WithRenewalMetrics(metrics),
		service.WithRenewalStoreTimeout(cfg.Renewal.StoreTimeout),
		service.WithRenewalConflictRetries(cfg.Renewal.ConflictRetries),
	)

	sweeper := service.NewExpirySweeperService(
		enrollments,
		notifications,
		workflowLogs,
		tracker,
		metrics,
		service.ExpirySweeperConfig{WarningWindowDays: cfg.Renewal.WarningWindowDays, BatchSize: cfg.Sweeper.BatchSize},
		logr.Named("sweeper"),
	)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	ops := gin.New()
	ops.Use(gin.Recovery())
	ops.Use(reqidmiddleware.Middleware())
	ops.Use(logger.GinMiddleware(logr))
	ops.Use(middleware.Metrics(metrics))
	handler.NewMetricsHandler(metrics, readinessChecks(db, redisClient)).Register(ops)

	return &App{
		Renewals: renewals,
		Sweeper:  sweeper,
		Metrics:  metrics,
		Ops:      ops,
		events:   events,
		stream:   stream,
	}, nil
}

// Start launches event delivery. Events published before Start are dropped.
// Delivery outlives ctx cancellation and ends only in Close.
func (a *App) Start(ctx context.Context) {
	a.events.Start(context.WithoutCancel(ctx))
}

// Close stops accepting events, delivers every queued one and releases the
// event stream.
func (a *App) Close() error {
	a.events.Stop()
	return a.stream.Close()
}

func readinessChecks(db *sqlx.DB, redisClient *redis.Client) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}
