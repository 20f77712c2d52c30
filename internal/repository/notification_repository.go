package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/trainflow-renewal/internal/models"
)

// NotificationRepository persists in-app notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification.
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, tenant_id, user_id, type, title, message, reference_id, is_read, created_at)
	VALUES (:id, :tenant_id, :user_id, :type, :title, :message, :reference_id, :is_read, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, notification); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ExistsForReference reports whether a notification of the given type was already sent about referenceID.
func (r *NotificationRepository) ExistsForReference(ctx context.Context, tenantID, notificationType, referenceID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM notifications WHERE tenant_id = $1 AND type = $2 AND reference_id = $3)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, tenantID, notificationType, referenceID); err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	return exists, nil
}
