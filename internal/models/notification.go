package models

import "time"

// Notification types delivered to workers.
const (
	NotificationExpiryWarning    = "expiry_warning"
	NotificationRenewalOpened    = "renewal_opened"
	NotificationRenewalRejected  = "renewal_rejected"
	NotificationRenewalCompleted = "renewal_completed"
)

// Notification is an in-app message for a worker. ReferenceID points at the
// enrollment or renewal request it is about.
type Notification struct {
	ID          string     `db:"id" json:"id"`
	TenantID    string     `db:"tenant_id" json:"tenant_id"`
	UserID      string     `db:"user_id" json:"user_id"`
	Type        string     `db:"type" json:"type"`
	Title       string     `db:"title" json:"title"`
	Message     string     `db:"message" json:"message"`
	ReferenceID *string    `db:"reference_id" json:"reference_id,omitempty"`
	Read        bool       `db:"is_read" json:"is_read"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ReadAt      *time.Time `db:"read_at" json:"read_at,omitempty"`
}
