package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/trainflow-renewal/internal/models"
	"github.com/noah-isme/trainflow-renewal/pkg/jobs"
)

const renewalEventJobType = "renewal_event"

type workflowLogWriter interface {
	Create(ctx context.Context, log *models.WorkflowLog) error
}

type notificationWriter interface {
	Create(ctx context.Context, notification *models.Notification) error
}

type eventMetrics interface {
	RecordEventDispatch(kind, outcome string)
}

var workflowActions = map[models.RenewalEventKind]string{
	models.EventRequestOpened:    models.WorkflowActionRequestOpened,
	models.EventStepDecided:      models.WorkflowActionStepDecided,
	models.EventRequestRejected:  models.WorkflowActionRequestRejected,
	models.EventRequestCompleted: models.WorkflowActionRequestCompleted,
}

// AuditEventSink records every renewal event in the workflow log.
type AuditEventSink struct {
	logs workflowLogWriter
}

// NewAuditEventSink constructs the sink.
func NewAuditEventSink(logs workflowLogWriter) *AuditEventSink {
	return &AuditEventSink{logs: logs}
}

// Publish implements EventSink.
func (s *AuditEventSink) Publish(ctx context.Context, event models.RenewalEvent) error {
	action, ok := workflowActions[event.Kind]
	if !ok {
		return fmt.Errorf("unknown renewal event kind %q", event.Kind)
	}
	log := &models.WorkflowLog{
		TenantID:   event.TenantID,
		EntityType: models.EntityRenewalRequest,
		EntityID:   event.RequestID,
		Action:     action,
		ActorID:    optionalString(event.ActorID),
		OldValue:   []byte(event.Before),
		NewValue:   []byte(event.After),
		CreatedAt:  event.OccurredAt,
	}
	if err := s.logs.Create(ctx, log); err != nil {
		return fmt.Errorf("record %s: %w", event.Kind, err)
	}
	return nil
}

// NotificationEventSink tells the enrolled worker when a renewal opens, is
// rejected or completes. Intermediate step decisions are not announced.
type NotificationEventSink struct {
	notifications notificationWriter
}

// NewNotificationEventSink constructs the sink.
func NewNotificationEventSink(notifications notificationWriter) *NotificationEventSink {
	return &NotificationEventSink{notifications: notifications}
}

// Publish implements EventSink.
func (s *NotificationEventSink) Publish(ctx context.Context, event models.RenewalEvent) error {
	var notification *models.Notification
	switch event.Kind {
	case models.EventRequestOpened:
		notification = &models.Notification{
			Type:    models.NotificationRenewalOpened,
			Title:   "Renewal requested",
			Message: "A renewal request for your training has been opened and is awaiting approval.",
		}
	case models.EventRequestRejected:
		notification = &models.Notification{
			Type:    models.NotificationRenewalRejected,
			Title:   "Renewal rejected",
			Message: fmt.Sprintf("Your renewal request was rejected at approval step %d.", event.StepOrder),
		}
	case models.EventRequestCompleted:
		notification = &models.Notification{
			Type:    models.NotificationRenewalCompleted,
			Title:   "Renewal completed",
			Message: "Your training renewal has been approved and a new validity period has started.",
		}
	default:
		return nil
	}
	requestID := event.RequestID
	notification.TenantID = event.TenantID
	notification.UserID = event.WorkerID
	notification.ReferenceID = &requestID
	notification.CreatedAt = event.OccurredAt
	if err := s.notifications.Create(ctx, notification); err != nil {
		return fmt.Errorf("notify %s: %w", event.Kind, err)
	}
	return nil
}

// MultiEventSink fans an event out to every sink and joins their failures.
type MultiEventSink []EventSink

// Publish implements EventSink.
func (m MultiEventSink) Publish(ctx context.Context, event models.RenewalEvent) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AsyncEventSink hands events to a job queue so the engine never waits on
// delivery. Events are dropped when the queue is saturated.
type AsyncEventSink struct {
	queue   *jobs.Queue
	metrics eventMetrics
	logger  *zap.Logger
}

// NewAsyncEventSink constructs the sink around a started queue.
func NewAsyncEventSink(queue *jobs.Queue, metrics eventMetrics, logger *zap.Logger) *AsyncEventSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncEventSink{queue: queue, metrics: metrics, logger: logger}
}

// Publish implements EventSink.
func (s *AsyncEventSink) Publish(ctx context.Context, event models.RenewalEvent) error {
	err := s.queue.TryEnqueue(jobs.Job{
		ID:      event.ID,
		Type:    renewalEventJobType,
		Payload: event,
	})
	if err != nil {
		s.record(event.Kind, "dropped")
		return fmt.Errorf("enqueue %s: %w", event.Kind, err)
	}
	s.record(event.Kind, "enqueued")
	return nil
}

func (s *AsyncEventSink) record(kind models.RenewalEventKind, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordEventDispatch(string(kind), outcome)
	}
}

// NewEventDispatchHandler delivers queued renewal events to sink. Failed
// deliveries are retried by the queue.
func NewEventDispatchHandler(sink EventSink, metrics eventMetrics) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(models.RenewalEvent)
		if !ok {
			return fmt.Errorf("job %s: unexpected payload %T", job.ID, job.Payload)
		}
		err := sink.Publish(ctx, event)
		if metrics != nil {
			outcome := "delivered"
			if err != nil {
				outcome = "failed"
			}
			metrics.RecordEventDispatch(string(event.Kind), outcome)
		}
		return err
	}
}
